// Package workflow drives the two-stage post generation session: a prompt
// produces brand suggestions, a chosen suggestion produces a caption and image,
// and the finished post is handed to the composer.
//
// All requests run on the caller's goroutine without holding the controller
// lock. The loading flag is claimed under the lock before dispatch, so a second
// caller gets ErrBusy instead of a concurrent request. Each dispatch remembers
// the session generation; Reset bumps it and late answers are dropped.
package workflow

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/postpilot/pkg/backend"
	"github.com/go-go-golems/postpilot/pkg/composer"
	"github.com/go-go-golems/postpilot/pkg/events"
)

const (
	MsgEmptyPrompt        = "Please enter a prompt."
	MsgSuggestionsFailed  = "Failed to generate brand suggestions."
	MsgContentFailed      = "Failed to generate post content."
	MsgSuggestionsReady   = "Brand suggestions generated successfully! Please select one to continue."
	MsgContentReady       = "Post content generated successfully! Ready for review and posting."
	MsgPublished          = "Post successfully published to Facebook!"
	publishFailurePrefix  = "Error publishing post: "
	progressStartDispatch = 20
	progressSuggestions   = 50
	progressContinue      = 70
	progressContent       = 100
)

// Backend is the stateless request/response side of the workflow.
type Backend interface {
	StartWorkflow(ctx context.Context, req backend.StartRequest) (backend.StartResponse, error)
	ContinueWorkflow(ctx context.Context, req backend.ContinueRequest) (backend.ContinueResponse, error)
}

// Publisher is satisfied by *composer.Handoff.
type Publisher interface {
	Publish(ctx context.Context, d composer.Draft) composer.Outcome
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	Session    Session
	Generation uint64
	Loading    bool
	// Progress is a coarse 0-100 indicator, not a measurement.
	Progress int
	Error    string
	Notice   string
}

func (s Snapshot) Stage() Stage   { return s.Session.Stage() }
func (s Snapshot) Fields() Fields { return FieldsOf(s.Session) }

type Controller struct {
	agentID  string
	backend  Backend
	notifier events.Notifier

	mu         sync.Mutex
	session    Session
	generation uint64
	loading    bool
	progress   int
	errText    string
	notice     string
}

type Option func(*Controller)

func WithNotifier(n events.Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

func NewController(agentID string, b Backend, opts ...Option) *Controller {
	c := &Controller{
		agentID:  agentID,
		backend:  b,
		notifier: events.Discard,
		session:  Initial{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) AgentID() string { return c.agentID }

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Session:    cloneSession(c.session),
		Generation: c.generation,
		Loading:    c.loading,
		Progress:   c.progress,
		Error:      c.errText,
		Notice:     c.notice,
	}
}

// SubmitPrompt runs the first stage. On success the session moves to
// BrandingSuggestions; on failure it stays Initial with the error recorded.
func (c *Controller) SubmitPrompt(ctx context.Context, prompt string) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	if _, ok := c.session.(Initial); !ok {
		stage := c.session.Stage()
		c.mu.Unlock()
		return &PreconditionError{Op: "submit prompt", Stage: stage, Need: "session must be initial"}
	}
	if strings.TrimSpace(prompt) == "" {
		c.errText = MsgEmptyPrompt
		c.notice = ""
		c.mu.Unlock()
		c.emit(events.KindWorkflowError, map[string]any{"error": MsgEmptyPrompt})
		return &ValidationError{Field: "prompt", Message: "must not be empty"}
	}
	gen := c.beginLocked(progressStartDispatch)
	c.mu.Unlock()
	c.emit(events.KindWorkflowLoading, map[string]any{"loading": true, "stage": string(StageInitial)})

	logger := c.logger(gen)
	logger.Debug().Msg("requesting brand suggestions")
	resp, err := c.backend.StartWorkflow(ctx, backend.StartRequest{AgentID: c.agentID, Prompt: prompt})

	var suggestions []string
	if err == nil {
		suggestions = ParseSuggestions(resp.BrandSuggestions)
		switch {
		case strings.TrimSpace(resp.SessionID) == "":
			err = errors.Wrap(backend.ErrMalformedResponse, "missing session_id")
		case len(suggestions) == 0:
			err = errors.Wrap(backend.ErrMalformedResponse, "no brand suggestions")
		}
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		logger.Debug().Msg("dropping brand suggestions for a reset session")
		return ErrStaleResponse
	}
	c.loading = false
	if err != nil {
		f := c.failLocked(StageInitial, err, MsgSuggestionsFailed)
		c.mu.Unlock()
		logger.Warn().Err(err).Msg("brand suggestion request failed")
		c.emit(events.KindWorkflowError, map[string]any{"error": f.Detail})
		return f
	}
	c.session = BrandingSuggestions{
		SessionID:      resp.SessionID,
		RawSuggestions: resp.BrandSuggestions,
		Suggestions:    suggestions,
	}
	c.progress = progressSuggestions
	c.notice = MsgSuggestionsReady
	c.mu.Unlock()

	logger.Info().Str("session_id", resp.SessionID).Int("suggestions", len(suggestions)).Msg("brand suggestions received")
	c.emit(events.KindWorkflowStage, map[string]any{"stage": string(StageBrandingSuggestions)})
	return nil
}

// Select records s as the chosen suggestion. It fails without changing
// anything unless s is one of the current suggestions.
func (c *Controller) Select(s string) error {
	c.mu.Lock()
	b, ok := c.session.(BrandingSuggestions)
	switch {
	case !ok:
		stage := c.session.Stage()
		c.mu.Unlock()
		return &PreconditionError{Op: "select", Stage: stage, Need: "no suggestions to choose from"}
	case c.loading:
		c.mu.Unlock()
		return ErrBusy
	case !b.Contains(s):
		c.mu.Unlock()
		return &PreconditionError{Op: "select", Stage: StageBrandingSuggestions, Need: "selection is not a suggestion"}
	}
	b.Selected = s
	c.session = b
	c.mu.Unlock()
	c.emit(events.KindWorkflowStage, map[string]any{"stage": string(StageBrandingSuggestions), "selected": s})
	return nil
}

// Continue runs the second stage with the selected suggestion. A failure
// keeps the suggestions and session id so the user can retry.
func (c *Controller) Continue(ctx context.Context) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	b, ok := c.session.(BrandingSuggestions)
	if !ok || b.SessionID == "" || b.Selected == "" || !b.Contains(b.Selected) {
		stage := c.session.Stage()
		c.mu.Unlock()
		return &PreconditionError{Op: "continue", Stage: stage, Need: "a session id and a selected suggestion"}
	}
	gen := c.beginLocked(progressContinue)
	c.mu.Unlock()
	c.emit(events.KindWorkflowLoading, map[string]any{"loading": true, "stage": string(StageBrandingSuggestions)})

	logger := c.logger(gen).With().Str("session_id", b.SessionID).Logger()
	logger.Debug().Str("selected", b.Selected).Msg("requesting post content")
	resp, err := c.backend.ContinueWorkflow(ctx, backend.ContinueRequest{SessionID: b.SessionID, SelectedBrand: b.Selected})
	if err == nil && (strings.TrimSpace(resp.Caption) == "" || strings.TrimSpace(resp.ImagePath) == "") {
		err = errors.Wrap(backend.ErrMalformedResponse, "missing caption or image_path")
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		logger.Debug().Msg("dropping post content for a reset session")
		return ErrStaleResponse
	}
	c.loading = false
	if err != nil {
		f := c.failLocked(StageBrandingSuggestions, err, MsgContentFailed)
		c.mu.Unlock()
		logger.Warn().Err(err).Msg("post content request failed")
		c.emit(events.KindWorkflowError, map[string]any{"error": f.Detail})
		return f
	}
	c.session = PostGeneration{
		SessionID:          b.SessionID,
		Suggestions:        b.Suggestions,
		SelectedSuggestion: b.Selected,
		Caption:            resp.Caption,
		ImageRef:           resp.ImagePath,
	}
	c.progress = progressContent
	c.notice = MsgContentReady
	c.mu.Unlock()

	logger.Info().Str("image", resp.ImagePath).Msg("post content received")
	c.emit(events.KindWorkflowStage, map[string]any{"stage": string(StagePostGeneration)})
	return nil
}

func (c *Controller) SelectAndContinue(ctx context.Context, s string) error {
	if err := c.Select(s); err != nil {
		return err
	}
	return c.Continue(ctx)
}

// Reset returns to Initial from any stage. An in-flight request is not
// cancelled, its answer is discarded when it arrives.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.resetLocked()
	c.notice = ""
	gen := c.generation
	c.mu.Unlock()
	logger := c.logger(gen)
	logger.Debug().Msg("workflow reset")
	c.emit(events.KindWorkflowStage, map[string]any{"stage": string(StageInitial)})
}

func (c *Controller) resetLocked() {
	c.generation++
	c.session = Initial{}
	c.loading = false
	c.progress = 0
	c.errText = ""
}

// Draft builds the composer input from the generated content. The caller may
// edit the caption on the returned value; the session is not touched.
func (c *Controller) Draft() (composer.Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.session.(PostGeneration)
	if !ok {
		return composer.Draft{}, &PreconditionError{Op: "draft", Stage: c.session.Stage(), Need: "post content must be generated"}
	}
	return composer.Draft{AgentID: c.agentID, Caption: p.Caption, ImageRef: p.ImageRef}, nil
}

// Publish hands d to pub and applies the outcome. A failed publish returns a
// *RequestFailure and leaves the session in PostGeneration.
func (c *Controller) Publish(ctx context.Context, pub Publisher, d composer.Draft) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	if _, ok := c.session.(PostGeneration); !ok {
		stage := c.session.Stage()
		c.mu.Unlock()
		return &PreconditionError{Op: "publish", Stage: stage, Need: "post content must be generated"}
	}
	gen := c.beginLocked(c.progress)
	c.mu.Unlock()
	c.emit(events.KindWorkflowLoading, map[string]any{"loading": true, "stage": string(StagePostGeneration)})

	out := pub.Publish(ctx, d)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrStaleResponse
	}
	c.loading = false
	c.mu.Unlock()

	logger := c.logger(gen)
	logger.Info().Str("outcome", out.String()).Msg("publish finished")
	c.ApplyOutcome(out)
	if out.Kind == composer.OutcomeFailed {
		return &RequestFailure{Stage: StagePostGeneration, Detail: out.Message}
	}
	return nil
}

// ApplyOutcome resumes the session after a composer handoff.
func (c *Controller) ApplyOutcome(out composer.Outcome) {
	c.mu.Lock()
	var kind string
	var data map[string]any
	switch out.Kind {
	case composer.OutcomePublished:
		c.resetLocked()
		c.notice = MsgPublished
		kind, data = events.KindWorkflowNotice, map[string]any{"notice": MsgPublished}
	case composer.OutcomeFailed:
		c.loading = false
		c.errText = publishFailurePrefix + out.Message
		c.notice = ""
		kind, data = events.KindWorkflowError, map[string]any{"error": c.errText}
	default:
		c.resetLocked()
		c.notice = ""
		kind, data = events.KindWorkflowStage, map[string]any{"stage": string(StageInitial)}
	}
	c.mu.Unlock()
	c.emit(kind, data)
}

// beginLocked claims the loading flag and returns the generation the
// response has to match.
func (c *Controller) beginLocked(progress int) uint64 {
	c.loading = true
	c.errText = ""
	c.notice = ""
	c.progress = progress
	return c.generation
}

func (c *Controller) failLocked(stage Stage, err error, fallback string) *RequestFailure {
	detail, ok := backend.Detail(err)
	if !ok {
		detail = fallback
	}
	c.progress = 0
	c.errText = detail
	return &RequestFailure{Stage: stage, Detail: detail, Err: err}
}

func (c *Controller) emit(kind string, data map[string]any) {
	c.notifier.Notify(events.New(events.SourceWorkflow, kind, data))
}

func (c *Controller) logger(gen uint64) zerolog.Logger {
	return log.With().
		Str("component", "workflow").
		Str("agent_id", c.agentID).
		Uint64("generation", gen).
		Logger()
}

func cloneSession(s Session) Session {
	switch v := s.(type) {
	case BrandingSuggestions:
		v.Suggestions = clone(v.Suggestions)
		return v
	case PostGeneration:
		v.Suggestions = clone(v.Suggestions)
		return v
	default:
		return s
	}
}
