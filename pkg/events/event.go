// Package events carries UI notifications from the chat and workflow controllers
// to whatever renders them.
//
// Controllers only see the Notifier interface. The Bus implementation publishes
// events on a watermill topic, backed by an in-memory gochannel by default or by
// Redis Streams when configured, so an external observer can follow an operator
// session as well.
package events

import "time"

// Source identifies the controller that emitted an event.
type Source string

const (
	SourceChat     Source = "chat"
	SourceWorkflow Source = "workflow"
)

// Event kinds emitted by the controllers.
const (
	KindChatMessage     = "chat.message"
	KindChatState       = "chat.state"
	KindChatError       = "chat.error"
	KindWorkflowStage   = "workflow.stage"
	KindWorkflowLoading = "workflow.loading"
	KindWorkflowError   = "workflow.error"
	KindWorkflowNotice  = "workflow.notice"
)

// Event is a state-change signal. Renderers re-read controller snapshots on
// receipt; Data is informational only.
type Event struct {
	Source Source         `json:"source"`
	Kind   string         `json:"kind"`
	Data   map[string]any `json:"data,omitempty"`
	At     time.Time      `json:"at"`
}

// Notifier receives events. Implementations must not block for long: controllers
// call Notify right after releasing their lock.
type Notifier interface {
	Notify(e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(e Event)

func (f NotifierFunc) Notify(e Event) {
	if f != nil {
		f(e)
	}
}

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})

// New stamps an event with the current time.
func New(source Source, kind string, data map[string]any) Event {
	return Event{Source: source, Kind: kind, Data: data, At: time.Now()}
}
