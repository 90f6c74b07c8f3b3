package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawline/clawline/internal/protocol"
)

// ChatSubscribe registers interest in chat events for a session. The gateway
// treats subscription as an event, not a request, so there is no response.
func (c *Client) ChatSubscribe(sessionKey string) error {
	return c.SendEvent(protocol.EventChatSubscribe, protocol.ChatSubscribeParams{
		SessionKey: sessionKey,
	})
}

// ChatSend submits user content to a session and returns the run identifier
// the gateway will stamp on the resulting stream of chat events.
func (c *Client) ChatSend(ctx context.Context, params protocol.ChatSendParams) (*protocol.ChatSendResult, error) {
	if params.IdempotencyKey == "" {
		params.IdempotencyKey = GenerateIdempotencyKey()
	}
	var res protocol.ChatSendResult
	if err := c.call(ctx, protocol.MethodChatSend, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ChatAbort asks the gateway to stop an in-flight run. With an empty runID
// the gateway aborts whatever is currently running for the session.
func (c *Client) ChatAbort(ctx context.Context, sessionKey, runID string) error {
	params := protocol.ChatAbortParams{SessionKey: sessionKey, RunID: runID}
	return c.call(ctx, protocol.MethodChatAbort, params, nil)
}

// ChatHistory fetches the persisted transcript of a session.
func (c *Client) ChatHistory(ctx context.Context, sessionKey string, limit int) (*protocol.ChatHistoryResult, error) {
	params := protocol.ChatHistoryParams{SessionKey: sessionKey, Limit: limit}
	var res protocol.ChatHistoryResult
	if err := c.call(ctx, protocol.MethodChatHistory, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SessionsList enumerates sessions known to the gateway.
func (c *Client) SessionsList(ctx context.Context) (*protocol.SessionsListResult, error) {
	var res protocol.SessionsListResult
	if err := c.call(ctx, protocol.MethodSessionsList, struct{}{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ModelsList enumerates models the gateway can route chat to.
func (c *Client) ModelsList(ctx context.Context) (*protocol.ModelsListResult, error) {
	var res protocol.ModelsListResult
	if err := c.call(ctx, protocol.MethodModelsList, struct{}{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health reports whether the gateway answers its health probe. Any failure,
// including not being connected, reads as unhealthy.
func (c *Client) Health(ctx context.Context) bool {
	_, err := c.Request(ctx, protocol.MethodHealth, struct{}{})
	return err == nil
}

// call runs one request and decodes its result into out when out is non-nil.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	raw, err := c.Request(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
