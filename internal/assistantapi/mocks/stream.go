package mocks

import "github.com/da-sie/openai-assistant/internal/assistantapi"

// EventStream replays a fixed event sequence, then reports Err.
type EventStream struct {
	Events []assistantapi.Event
	Fail   error
	Closed bool
	pos    int
}

func NewEventStream(events ...assistantapi.Event) *EventStream {
	return &EventStream{Events: events, pos: -1}
}

func (s *EventStream) Next() bool {
	if s.pos+1 >= len(s.Events) {
		return false
	}
	s.pos++
	return true
}

func (s *EventStream) Current() assistantapi.Event {
	if s.pos < 0 || s.pos >= len(s.Events) {
		return assistantapi.Event{}
	}
	return s.Events[s.pos]
}

func (s *EventStream) Err() error {
	if s.pos+1 >= len(s.Events) {
		return s.Fail
	}
	return nil
}

func (s *EventStream) Close() error {
	s.Closed = true
	return nil
}
