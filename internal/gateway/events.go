package gateway

import (
	"encoding/json"

	"github.com/clawline/clawline/internal/protocol"
)

// EventHandler receives one server-pushed event. Handlers run on the read
// loop goroutine; long work should be handed off to another goroutine.
type EventHandler func(event string, payload json.RawMessage)

// On subscribes h to a named event and returns a function that removes the
// subscription. Multiple handlers may subscribe to the same event; delivery
// order between them is unspecified.
func (c *Client) On(event string, h EventHandler) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	m, ok := c.handlers[event]
	if !ok {
		m = make(map[int]EventHandler)
		c.handlers[event] = m
	}
	m[id] = h
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		if m, ok := c.handlers[event]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(c.handlers, event)
			}
		}
		c.subMu.Unlock()
	}
}

// OnConnectionStateChange subscribes to connection state transitions and
// returns an unsubscribe function. The handler is invoked after each
// transition with the new state.
func (c *Client) OnConnectionStateChange(h func(ConnState)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = h
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.stateSubs, id)
		c.subMu.Unlock()
	}
}

// OnChatEvent subscribes to chat stream events, decoding the payload.
// Malformed payloads are logged and dropped.
func (c *Client) OnChatEvent(h func(*protocol.ChatEventPayload)) func() {
	return c.On(protocol.EventChat, func(_ string, payload json.RawMessage) {
		p, err := protocol.ParseChatEvent(payload)
		if err != nil {
			c.log.Warn("dropping malformed chat event", "error", err)
			return
		}
		h(p)
	})
}

// OnAgentEvent subscribes to raw agent lifecycle events.
func (c *Client) OnAgentEvent(h func(json.RawMessage)) func() {
	return c.On(protocol.EventAgent, func(_ string, payload json.RawMessage) {
		h(payload)
	})
}

// OnHealthEvent subscribes to gateway health broadcasts.
func (c *Client) OnHealthEvent(h func(json.RawMessage)) func() {
	return c.On(protocol.EventHealth, func(_ string, payload json.RawMessage) {
		h(payload)
	})
}

// dispatch fans an event out to its subscribers. A panicking handler is
// contained so it cannot kill the read loop.
func (c *Client) dispatch(event string, payload json.RawMessage) {
	c.subMu.RLock()
	hs := make([]EventHandler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.subMu.RUnlock()

	for _, h := range hs {
		c.safeCall(event, h, payload)
	}
}

func (c *Client) safeCall(event string, h EventHandler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	h(event, payload)
}

// notifyState informs state subscribers of a transition.
func (c *Client) notifyState(s ConnState) {
	c.subMu.RLock()
	subs := make([]func(ConnState), 0, len(c.stateSubs))
	for _, h := range c.stateSubs {
		subs = append(subs, h)
	}
	c.subMu.RUnlock()

	for _, h := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("state handler panicked", "state", s, "panic", r)
				}
			}()
			h(s)
		}()
	}
}
