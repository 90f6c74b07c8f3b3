package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clawline/clawline/internal/protocol"
)

// GenerateIdempotencyKey returns a unique key suitable for deduplicating
// retried chat sends on the gateway side.
func GenerateIdempotencyKey() string {
	return "idem-" + uuid.NewString()
}

// Request sends a request frame and waits for the correlated response. It
// fails immediately with ErrNotConnected unless the client is connected, and
// with ErrRequestTimeout if no response arrives within the request timeout.
// A typed *protocol.GatewayError is returned when the gateway answers with
// an error frame.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("%w: cannot send %s", ErrNotConnected, method)
	}
	return c.roundTrip(ctx, method, params, c.requestTimeout)
}

// roundTrip registers a pending entry, writes the request, and blocks until
// a response, timeout, or context cancellation. It is used by both Request
// and the connect handshake (which runs before the state is connected).
func (c *Client) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	env, err := protocol.NewRequest(uuid.NewString(), method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	pr := &pendingRequest{
		id:        env.ID,
		method:    method,
		createdAt: time.Now(),
		done:      make(chan response, 1),
	}
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.pending[env.ID] = pr
	}
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.writeEnvelope(conn, env); err != nil {
		c.removePending(env.ID)
		return nil, &ConnectionError{Op: "write " + method, URL: c.cfg.URL, Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-pr.done:
		return resp.result, resp.err
	case <-timer.C:
		c.removePending(env.ID)
		c.log.Warn("request timed out", "method", method, "timeout", timeout)
		return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, timeout)
	case <-ctx.Done():
		c.removePending(env.ID)
		return nil, ctx.Err()
	}
}

// SendEvent emits a fire-and-forget event frame. It silently no-ops while
// disconnected: subscription and telemetry traffic is best effort, not RPC.
// Sends are rate limited; frames over the limit are dropped with a warning
// rather than queued.
func (c *Client) SendEvent(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		c.log.Debug("event skipped while disconnected", "event", event)
		return nil
	}

	if !c.eventLimiter.Allow() {
		c.log.Warn("event dropped by rate limit", "event", event)
		return nil
	}

	env, err := protocol.NewEvent(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	if err := c.writeEnvelope(conn, env); err != nil {
		return &ConnectionError{Op: "write " + event, URL: c.cfg.URL, Err: err}
	}
	return nil
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
