package gateway

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Config identifies this client to the gateway.
type Config struct {
	// URL is the gateway WebSocket endpoint (ws:// or wss://).
	URL string
	// ClientID identifies the client installation.
	ClientID string
	// ClientMode is the declared client mode (e.g., "ui").
	ClientMode string
	// Role is the requested role (e.g., "operator").
	Role string
	// Scopes are the requested permission scopes.
	Scopes []string
	// AuthToken is an optional bearer token included in the handshake.
	AuthToken string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

// WithRequestTimeout sets the default per-request timeout.
// Default: 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithHandshakeTimeout sets how long Connect waits for the gateway to accept
// the connect request. Default: 15s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.handshakeTimeout = d
	}
}

// WithChallengeWait sets how long the client waits after the socket opens
// for a connect.challenge event before sending a v1 connect payload.
// Default: 500ms.
func WithChallengeWait(d time.Duration) Option {
	return func(c *Client) {
		c.challengeWait = d
	}
}

// WithAutoReconnect enables or disables automatic reconnection after an
// unexpected socket closure. Default: enabled.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Client) {
		c.autoReconnect = enabled
	}
}

// WithBackoff sets the initial and maximum reconnect delays. The delay
// doubles per failed attempt (with jitter), is capped at max, and resets
// after a successful handshake. Defaults: 1s initial, 30s max.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.backoffInitial = initial
		c.backoffMax = max
	}
}

// WithEventRate bounds outbound fire-and-forget SendEvent traffic.
// Default: 20 events/s with a burst of 40.
func WithEventRate(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.eventLimiter = rate.NewLimiter(limit, burst)
	}
}

// WithDialer sets a custom WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}
