package run

import "github.com/da-sie/openai-assistant/internal/assistantapi"

// cursor reads one logical run across stream swaps. After Redirect, the next call
// to Next closes the current source and yields an EventRedirect before any event
// of the continuation stream.
type cursor struct {
	current assistantapi.EventStream
	pending assistantapi.EventStream
	event   assistantapi.Event
}

func newCursor(s assistantapi.EventStream) *cursor {
	return &cursor{current: s}
}

func (c *cursor) Redirect(next assistantapi.EventStream) {
	c.pending = next
}

func (c *cursor) Next() bool {
	if c.pending != nil {
		_ = c.current.Close()
		c.current, c.pending = c.pending, nil
		c.event = assistantapi.Event{Kind: assistantapi.EventRedirect, Name: assistantapi.EventRedirect.String()}
		return true
	}
	if !c.current.Next() {
		return false
	}
	c.event = c.current.Current()
	return true
}

func (c *cursor) Current() assistantapi.Event { return c.event }

func (c *cursor) Err() error { return c.current.Err() }

func (c *cursor) Close() error {
	if c.pending != nil {
		_ = c.pending.Close()
	}
	return c.current.Close()
}
