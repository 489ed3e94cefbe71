// Package ui is the operator console: a chat tab on top of the chat
// controller and a post tab that walks the generation workflow.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/postpilot/pkg/chat"
	"github.com/go-go-golems/postpilot/pkg/composer"
	"github.com/go-go-golems/postpilot/pkg/events"
	"github.com/go-go-golems/postpilot/pkg/workflow"
)

type ChatController interface {
	SendMessage(text string) error
	Snapshot() chat.Snapshot
}

// Workflow is the subset of *workflow.Controller the console drives.
type Workflow interface {
	SubmitPrompt(ctx context.Context, prompt string) error
	SelectAndContinue(ctx context.Context, s string) error
	Reset()
	Draft() (composer.Draft, error)
	Publish(ctx context.Context, pub workflow.Publisher, d composer.Draft) error
	ApplyOutcome(out composer.Outcome)
	Snapshot() workflow.Snapshot
}

type Options struct {
	// Events re-renders the console whenever a controller changes.
	Events   <-chan events.Event
	Identity string
	// Render formats markdown. Defaults to glamour.
	Render func(string) string
	// Copy writes to the system clipboard. Defaults to atotto/clipboard.
	Copy func(string) error
}

type tab int

const (
	tabChat tab = iota
	tabPost
)

type Model struct {
	ctx    context.Context
	chat   ChatController
	wf     Workflow
	pub    workflow.Publisher
	events <-chan events.Event
	opts   Options

	renderer *glamour.TermRenderer

	tab         tab
	width       int
	height      int
	chatInput   textinput.Model
	promptInput textinput.Model
	captionEdit textarea.Model
	viewport    viewport.Model
	spinner     spinner.Model
	progress    progress.Model

	chatSnap chat.Snapshot
	wfSnap   workflow.Snapshot
	draft    composer.Draft
	editing  bool
	cursor   int
	flash    string
}

func New(ctx context.Context, c ChatController, wf Workflow, pub workflow.Publisher, opts Options) Model {
	ci := textinput.New()
	ci.Placeholder = "Type a message"
	ci.Prompt = "> "
	ci.Focus()

	pi := textinput.New()
	pi.Placeholder = "Describe the property or campaign"
	pi.Prompt = "prompt> "
	pi.CharLimit = 500

	ta := textarea.New()
	ta.ShowLineNumbers = false
	ta.SetHeight(5)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))

	if opts.Copy == nil {
		opts.Copy = clipboard.WriteAll
	}

	m := Model{
		ctx:         ctx,
		chat:        c,
		wf:          wf,
		pub:         pub,
		events:      opts.Events,
		opts:        opts,
		chatInput:   ci,
		promptInput: pi,
		captionEdit: ta,
		viewport:    viewport.New(80, 10),
		spinner:     sp,
		progress:    progress.New(progress.WithDefaultGradient()),
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case eventMsg:
		m.refresh()
		return m, waitForEvent(m.events)

	case busClosedMsg:
		log.Debug().Str("component", "ui").Msg("event bus closed")
		return m, nil

	case opDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, workflow.ErrStaleResponse) {
			log.Debug().Str("component", "ui").Str("op", msg.op).Err(msg.err).Msg("workflow call returned an error")
		}
		m.refresh()
		return m, nil

	case clipboardMsg:
		if msg.err != nil {
			m.flash = "Could not copy caption: " + msg.err.Error()
		} else {
			m.flash = "Caption copied to clipboard."
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			if !m.editing {
				m.switchTab()
				return m, nil
			}
		}
		if m.tab == tabChat {
			return m.updateChat(msg)
		}
		return m.updatePost(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) switchTab() {
	if m.tab == tabChat {
		m.tab = tabPost
		m.chatInput.Blur()
		m.promptInput.Focus()
	} else {
		m.tab = tabChat
		m.promptInput.Blur()
		m.chatInput.Focus()
	}
	m.flash = ""
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	m.viewport.Width = w
	m.viewport.Height = max(h-8, 3)
	m.chatInput.Width = max(w-4, 10)
	m.promptInput.Width = max(w-10, 10)
	m.captionEdit.SetWidth(max(w-4, 10))
	m.progress.Width = max(w-4, 10)
	if m.opts.Render == nil {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(max(w-4, 20)))
		if err != nil {
			log.Warn().Err(err).Str("component", "ui").Msg("markdown renderer unavailable")
		} else {
			m.renderer = r
		}
	}
	m.syncViewport()
}

// refresh re-reads both controllers. Entering a stage resets the widgets that
// belong to it.
func (m *Model) refresh() {
	m.chatSnap = m.chat.Snapshot()
	prev := m.wfSnap.Session
	m.wfSnap = m.wf.Snapshot()

	if prev == nil || prev.Stage() != m.wfSnap.Stage() {
		m.editing = false
		m.flash = ""
		switch m.wfSnap.Stage() {
		case workflow.StageInitial:
			m.promptInput.Reset()
			m.draft = composer.Draft{}
		case workflow.StageBrandingSuggestions:
			m.cursor = 0
		case workflow.StagePostGeneration:
			if d, err := m.wf.Draft(); err == nil {
				m.draft = d
			}
		}
	}
	m.syncViewport()
}

func (m *Model) syncViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderChat())
	if atBottom || m.chatSnap.Loading {
		m.viewport.GotoBottom()
	}
}

func (m Model) renderMarkdown(s string) string {
	if m.opts.Render != nil {
		return m.opts.Render(s)
	}
	if m.renderer != nil {
		if out, err := m.renderer.Render(s); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return s
}

func (m Model) renderChat() string {
	var b strings.Builder
	for _, msg := range m.chatSnap.Messages {
		switch msg.Role {
		case chat.RoleUser:
			b.WriteString(userStyle.Render("you") + "\n" + msg.Content + "\n\n")
		default:
			b.WriteString(assistantStyle.Render("assistant") + "\n" + m.renderMarkdown(msg.Content) + "\n\n")
		}
	}
	return b.String()
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "enter" {
		if err := m.chat.SendMessage(m.chatInput.Value()); err == nil {
			m.chatInput.Reset()
		}
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil
	}
	switch msg.String() {
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

func (m Model) updatePost(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx, wf := m.ctx, m.wf
	key := msg.String()

	switch m.wfSnap.Stage() {
	case workflow.StageInitial:
		if key == "enter" {
			if m.wfSnap.Loading {
				return m, nil
			}
			prompt := m.promptInput.Value()
			return m, func() tea.Msg {
				return opDoneMsg{op: "submit", err: wf.SubmitPrompt(ctx, prompt)}
			}
		}
		var cmd tea.Cmd
		m.promptInput, cmd = m.promptInput.Update(msg)
		return m, cmd

	case workflow.StageBrandingSuggestions:
		b, _ := m.wfSnap.Session.(workflow.BrandingSuggestions)
		switch key {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(b.Suggestions)-1 {
				m.cursor++
			}
		case "enter":
			if m.wfSnap.Loading || m.cursor >= len(b.Suggestions) {
				return m, nil
			}
			pick := b.Suggestions[m.cursor]
			return m, func() tea.Msg {
				return opDoneMsg{op: "continue", err: wf.SelectAndContinue(ctx, pick)}
			}
		case "ctrl+r":
			wf.Reset()
			m.refresh()
		}
		return m, nil

	case workflow.StagePostGeneration:
		if m.editing {
			if key == "esc" {
				m.draft.Caption = m.captionEdit.Value()
				m.captionEdit.Blur()
				m.editing = false
				return m, nil
			}
			var cmd tea.Cmd
			m.captionEdit, cmd = m.captionEdit.Update(msg)
			return m, cmd
		}
		switch key {
		case "e":
			m.editing = true
			m.captionEdit.SetValue(m.draft.Caption)
			return m, m.captionEdit.Focus()
		case "p":
			if m.wfSnap.Loading {
				return m, nil
			}
			d, pub := m.draft, m.pub
			return m, func() tea.Msg {
				return opDoneMsg{op: "publish", err: wf.Publish(ctx, pub, d)}
			}
		case "c":
			caption, cp := m.draft.Caption, m.opts.Copy
			return m, func() tea.Msg { return clipboardMsg{err: cp(caption)} }
		case "x":
			wf.ApplyOutcome(composer.Cancelled())
			m.refresh()
		case "ctrl+r":
			wf.Reset()
			m.refresh()
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("postpilot") + " ")
	for _, t := range []struct {
		id    tab
		label string
	}{{tabChat, "Chat"}, {tabPost, "Post"}} {
		if t.id == m.tab {
			b.WriteString(activeTabStyle.Render(t.label))
		} else {
			b.WriteString(tabStyle.Render(t.label))
		}
	}
	b.WriteString("\n\n")

	if m.tab == tabChat {
		b.WriteString(m.chatView())
	} else {
		b.WriteString(m.postView())
	}
	b.WriteString("\n" + helpStyle.Render("tab: switch view · ctrl+c: quit"))
	return b.String()
}

func (m Model) chatView() string {
	var b strings.Builder
	if m.chatSnap.Banner != "" {
		b.WriteString(bannerStyle.Render(m.chatSnap.Banner) + "\n")
	}
	identity := m.opts.Identity
	if identity == "" {
		identity = "anonymous_user"
	}
	b.WriteString(stateStyle.Render(fmt.Sprintf("%s as %s", m.chatSnap.State, identity)) + "\n")
	b.WriteString(m.viewport.View() + "\n")
	if m.chatSnap.Loading {
		b.WriteString(m.spinner.View() + " waiting for a reply\n")
	}
	b.WriteString(m.chatInput.View())
	return b.String()
}

func (m Model) postView() string {
	var b strings.Builder
	s := m.wfSnap
	if s.Progress > 0 || s.Loading {
		b.WriteString(m.progress.ViewAs(float64(s.Progress)/100) + "\n")
	}
	if s.Loading {
		b.WriteString(m.spinner.View() + " working...\n")
	}
	if s.Error != "" {
		b.WriteString(errorStyle.Render(s.Error) + "\n")
	}
	if s.Notice != "" {
		b.WriteString(noticeStyle.Render(s.Notice) + "\n")
	}
	if m.flash != "" {
		b.WriteString(noticeStyle.Render(m.flash) + "\n")
	}
	b.WriteString("\n")

	switch v := s.Session.(type) {
	case workflow.BrandingSuggestions:
		b.WriteString("Pick a brand:\n")
		for i, sug := range v.Suggestions {
			if i == m.cursor {
				b.WriteString(cursorStyle.Render("> "+sug) + "\n")
			} else {
				b.WriteString("  " + sug + "\n")
			}
		}
		b.WriteString("\n" + helpStyle.Render("up/down: choose · enter: generate post · ctrl+r: start over"))
	case workflow.PostGeneration:
		b.WriteString(fmt.Sprintf("Brand: %s\n\nCaption:\n", v.SelectedSuggestion))
		if m.editing {
			b.WriteString(m.captionEdit.View() + "\n")
			b.WriteString(helpStyle.Render("esc: done editing"))
			break
		}
		b.WriteString(m.renderMarkdown(m.draft.Caption) + "\n\n")
		b.WriteString("Image: " + m.draft.ImageRef + "\n\n")
		b.WriteString(helpStyle.Render("p: publish · e: edit caption · c: copy caption · x: discard · ctrl+r: start over"))
	default:
		b.WriteString("Describe the post you want:\n")
		b.WriteString(m.promptInput.View() + "\n\n")
		b.WriteString(helpStyle.Render("enter: generate brand suggestions"))
	}
	return b.String()
}
