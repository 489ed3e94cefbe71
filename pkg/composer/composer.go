// Package composer hands a generated post to the publishing endpoint and
// reports the result as a single Outcome.
package composer

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/postpilot/pkg/backend"
	"github.com/go-go-golems/postpilot/pkg/status"
)

// Draft is a fully generated post ready for review.
type Draft struct {
	AgentID  string `json:"agent_id" yaml:"agent_id"`
	Caption  string `json:"caption" yaml:"caption"`
	ImageRef string `json:"image_ref" yaml:"image_ref"`
}

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Caption) == "" {
		return errors.New("draft has no caption")
	}
	if strings.TrimSpace(d.ImageRef) == "" {
		return errors.New("draft has no image")
	}
	return nil
}

type OutcomeKind int

const (
	OutcomePublished OutcomeKind = iota
	OutcomeFailed
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePublished:
		return "published"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome ends one handoff. Message is set for failures.
type Outcome struct {
	Kind    OutcomeKind
	Message string
}

func Published() Outcome         { return Outcome{Kind: OutcomePublished} }
func Cancelled() Outcome         { return Outcome{Kind: OutcomeCancelled} }
func Failed(msg string) Outcome  { return Outcome{Kind: OutcomeFailed, Message: msg} }
func (o Outcome) String() string { return o.Kind.String() }

const (
	msgNotConnected = "Facebook page is not connected"
	msgStatusFailed = "Could not check the Facebook connection status"
)

type Publisher interface {
	PublishPost(ctx context.Context, req backend.PublishRequest) (backend.PublishResponse, error)
}

type StatusChecker interface {
	Check(ctx context.Context, agentID string) (status.Status, error)
}

type Handoff struct {
	pub  Publisher
	gate StatusChecker
}

type Option func(*Handoff)

// WithStatusGate refuses to publish while the page is disconnected.
func WithStatusGate(sc StatusChecker) Option {
	return func(h *Handoff) { h.gate = sc }
}

func NewHandoff(pub Publisher, opts ...Option) *Handoff {
	h := &Handoff{pub: pub}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish always returns exactly one Outcome.
func (h *Handoff) Publish(ctx context.Context, d Draft) Outcome {
	logger := log.With().Str("component", "composer").Str("agent_id", d.AgentID).Logger()

	if err := d.Validate(); err != nil {
		return Failed(err.Error())
	}
	if h.gate != nil {
		st, err := h.gate.Check(ctx, d.AgentID)
		if err != nil {
			if ctx.Err() != nil {
				return Cancelled()
			}
			logger.Warn().Err(err).Msg("status check failed")
			if detail, ok := backend.Detail(err); ok {
				return Failed(msgStatusFailed + ": " + detail)
			}
			return Failed(msgStatusFailed + ": " + err.Error())
		}
		if !st.Connected() {
			return Failed(msgNotConnected)
		}
	}

	resp, err := h.pub.PublishPost(ctx, backend.PublishRequest{
		AgentID: d.AgentID,
		Caption: d.Caption,
		Images:  []string{d.ImageRef},
	})
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
		return Cancelled()
	case err != nil:
		logger.Warn().Err(err).Msg("publish failed")
		if detail, ok := backend.Detail(err); ok {
			return Failed(detail)
		}
		return Failed(err.Error())
	case !resp.Succeeded():
		msg := resp.Message
		if msg == "" {
			msg = "publish was rejected"
		}
		return Failed(msg)
	}
	logger.Info().Msg("post published")
	return Published()
}
