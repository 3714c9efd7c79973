package assistantapi

import (
	"strings"

	openaigo "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/sashabaranov/go-openai"
)

// EventKind is the closed set of streamed run events the drivers understand.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventRunCreated
	EventRunQueued
	EventRunInProgress
	EventRunRequiresAction
	EventRunCompleted
	EventRunFailed
	EventRunCancelled
	EventRunExpired
	EventRunIncomplete
	EventMessageCreated
	EventMessageInProgress
	EventMessageDelta
	EventMessageCompleted
	EventError
	// EventRedirect is a control event: the consumer switched to a continuation stream.
	EventRedirect
)

var eventNames = map[string]EventKind{
	"thread.run.created":         EventRunCreated,
	"thread.run.queued":          EventRunQueued,
	"thread.run.in_progress":     EventRunInProgress,
	"thread.run.requires_action": EventRunRequiresAction,
	"thread.run.completed":       EventRunCompleted,
	"thread.run.failed":          EventRunFailed,
	"thread.run.cancelled":       EventRunCancelled,
	"thread.run.expired":         EventRunExpired,
	"thread.run.incomplete":      EventRunIncomplete,
	"thread.message.created":     EventMessageCreated,
	"thread.message.in_progress": EventMessageInProgress,
	"thread.message.delta":       EventMessageDelta,
	"thread.message.completed":   EventMessageCompleted,
	"error":                      EventError,
}

// ParseEventKind maps a wire event name to its kind. Unlisted names map to EventUnknown.
func ParseEventKind(name string) EventKind {
	return eventNames[name]
}

func (k EventKind) String() string {
	if k == EventRedirect {
		return "redirect"
	}
	for name, kind := range eventNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// Event is a decoded streamed run event.
type Event struct {
	Kind      EventKind
	Name      string
	RunID     string
	ThreadID  string
	MessageID string
	Status    string
	// Delta holds the text fragments of a message.delta event.
	Delta string
	// Text holds the full text of a message.completed event.
	Text      string
	ToolCalls []openai.ToolCall
	Error     string
}

// EventStream yields events in arrival order.
type EventStream interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
}

type sseStream struct {
	stream *ssestream.Stream[openaigo.AssistantStreamEventUnion]
	cur    Event
}

func newSSEStream(s *ssestream.Stream[openaigo.AssistantStreamEventUnion]) *sseStream {
	return &sseStream{stream: s}
}

func (s *sseStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	s.cur = decodeEvent(s.stream.Current())
	return true
}

func (s *sseStream) Current() Event { return s.cur }
func (s *sseStream) Err() error     { return s.stream.Err() }
func (s *sseStream) Close() error   { return s.stream.Close() }

func decodeEvent(u openaigo.AssistantStreamEventUnion) Event {
	e := Event{Kind: ParseEventKind(u.Event), Name: u.Event}
	d := u.Data

	switch {
	case strings.HasPrefix(u.Event, "thread.run.step."):
		e.Kind = EventUnknown
		e.RunID = d.RunID
	case strings.HasPrefix(u.Event, "thread.run."):
		e.RunID = d.ID
		e.ThreadID = d.ThreadID
		e.Status = d.Status
		e.Error = d.LastError.Message
		for _, call := range d.RequiredAction.SubmitToolOutputs.ToolCalls {
			e.ToolCalls = append(e.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
	case strings.HasPrefix(u.Event, "thread.message."):
		e.MessageID = d.ID
		e.RunID = d.RunID
		e.ThreadID = d.ThreadID
		e.Status = d.Status
		var b strings.Builder
		for _, part := range d.Delta.Content {
			if part.Type == "text" {
				b.WriteString(part.Text.Value)
			}
		}
		e.Delta = b.String()
		b.Reset()
		for _, part := range d.Content {
			if part.Type == "text" {
				b.WriteString(part.Text.Value)
			}
		}
		e.Text = b.String()
	case u.Event == "error":
		e.Error = d.Message
	}
	return e
}
