package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/postpilot/pkg/events"
)

// eventMsg wraps a bus event. The model re-reads the controller snapshots on
// every one of them.
type eventMsg struct{ events.Event }

// busClosedMsg is delivered once the event channel is closed.
type busClosedMsg struct{}

// opDoneMsg carries the result of a blocking workflow call that ran as a
// tea.Cmd.
type opDoneMsg struct {
	op  string
	err error
}

// clipboardMsg reports the result of copying the caption.
type clipboardMsg struct{ err error }

// waitForEvent turns the bus channel into a command delivering one event.
func waitForEvent(ch <-chan events.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg{e}
	}
}
