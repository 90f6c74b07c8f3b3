// Package gateway implements the WebSocket protocol client for the chat
// gateway: one authenticated connection per Client, with request/response
// multiplexing, server-pushed event fan-out, and automatic reconnection.
//
// The connection state machine is:
//
//	disconnected --Connect()--> connecting --handshake accepted--> connected
//	connected --unexpected close--> reconnecting --backoff--> connecting
//
// Disconnect() reaches disconnected from any state and suppresses
// auto-reconnect until the next Connect(). Reconnect attempts are unbounded
// in count; the delay between them doubles per failure with ±20% jitter and
// is capped (30s by default), resetting after a successful handshake.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/clawline/clawline/internal/identity"
	"github.com/clawline/clawline/internal/logging"
	"github.com/clawline/clawline/internal/protocol"
)

// ConnState is the client's connection state.
type ConnState string

// Connection states.
const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// response carries the outcome of one request back to its waiter.
type response struct {
	result json.RawMessage
	err    error
}

// pendingRequest tracks one in-flight request.
type pendingRequest struct {
	id        string
	method    string
	createdAt time.Time
	done      chan response
}

// Client is a gateway protocol client. It is safe for concurrent use.
type Client struct {
	cfg Config
	idp *identity.Provider

	dialer           *websocket.Dialer
	log              *slog.Logger
	eventLimiter     *rate.Limiter
	requestTimeout   time.Duration
	handshakeTimeout time.Duration
	challengeWait    time.Duration
	backoffInitial   time.Duration
	backoffMax       time.Duration
	autoReconnect    bool

	mu             sync.Mutex
	state          ConnState
	conn           *websocket.Conn
	epoch          int // bumped per connection; stale read loops are ignored
	pending        map[string]*pendingRequest
	serverInfo     *protocol.ServerInfo
	challengeCh    chan string
	reconnectTimer *time.Timer
	backoffDelay   time.Duration
	manualClose    bool

	// writeMu serializes socket writes (gorilla allows one writer at a time).
	writeMu sync.Mutex

	subMu     sync.RWMutex
	handlers  map[string]map[int]EventHandler
	stateSubs map[int]func(ConnState)
	nextSub   int
}

// New creates a Client for the gateway at cfg.URL, authenticating with the
// device identity from idp. The client starts disconnected; call Connect.
func New(cfg Config, idp *identity.Provider, opts ...Option) *Client {
	c := &Client{
		cfg:              cfg,
		idp:              idp,
		dialer:           websocket.DefaultDialer,
		log:              logging.Gateway(),
		eventLimiter:     rate.NewLimiter(20, 40),
		requestTimeout:   30 * time.Second,
		handshakeTimeout: 15 * time.Second,
		challengeWait:    500 * time.Millisecond,
		backoffInitial:   time.Second,
		backoffMax:       30 * time.Second,
		autoReconnect:    true,
		state:            StateDisconnected,
		pending:          make(map[string]*pendingRequest),
		handlers:         make(map[string]map[int]EventHandler),
		stateSubs:        make(map[int]func(ConnState)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the server metadata from the last accepted handshake,
// or nil before the first successful connect.
func (c *Client) ServerInfo() *protocol.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverInfo == nil {
		return nil
	}
	info := *c.serverInfo
	return &info
}

// Connect opens the transport and performs the auth handshake. It returns
// ErrAlreadyConnecting if a connect or reconnect attempt is already in
// flight, and nil immediately if already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	case StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.manualClose = false
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	if err := c.dialAndHandshake(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.notifyState(StateDisconnected)
		return err
	}
	return nil
}

// Disconnect closes the transport, cancels any pending reconnection, fails
// all outstanding requests with ErrConnectionClosed, and suppresses
// auto-reconnect until Connect is called again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.epoch++ // orphan the read loop so it cannot double-transition
	prs := c.drainPendingLocked()
	already := c.state == StateDisconnected
	c.state = StateDisconnected
	c.backoffDelay = 0
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	failAll(prs, ErrConnectionClosed)
	if !already {
		c.notifyState(StateDisconnected)
	}
	c.log.Info("disconnected")
}

// dialAndHandshake opens the socket, waits briefly for an optional
// connect.challenge, then sends the signed connect request.
func (c *Client) dialAndHandshake(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return &ConnectionError{Op: "dial", URL: c.cfg.URL, Err: err}
	}

	challenge := make(chan string, 1)
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrConnectionClosed
	}
	c.conn = conn
	c.epoch++
	epoch := c.epoch
	c.challengeCh = challenge
	c.mu.Unlock()

	go c.readLoop(conn, epoch)

	// The gateway emits connect.challenge right after the socket opens when
	// it wants a nonce folded into the signature. Absence of a challenge
	// within the wait window means a v1 payload is acceptable.
	var nonce string
	select {
	case nonce = <-challenge:
	case <-time.After(c.challengeWait):
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
	c.mu.Lock()
	c.challengeCh = nil
	c.mu.Unlock()

	params, err := c.buildConnectParams(nonce)
	if err != nil {
		_ = conn.Close()
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()
	raw, err := c.roundTrip(hctx, protocol.MethodConnect, params, c.handshakeTimeout)
	if err != nil {
		_ = conn.Close()
		return &HandshakeError{Reason: "connect rejected", Err: err}
	}

	var hello protocol.HelloResult
	if err := json.Unmarshal(raw, &hello); err != nil {
		_ = conn.Close()
		return &HandshakeError{Reason: "malformed hello result", Err: err}
	}

	c.mu.Lock()
	// Disconnect may have raced the handshake. Its epoch bump makes this
	// attempt stale; committing connected here would resurrect a connection
	// the caller just tore down.
	if c.manualClose || epoch != c.epoch {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrConnectionClosed
	}
	c.serverInfo = &hello.Server
	c.state = StateConnected
	c.backoffDelay = 0
	c.mu.Unlock()
	c.notifyState(StateConnected)
	c.log.Info("connected", "url", c.cfg.URL, "server_version", hello.Server.Version, "conn_id", hello.Server.ConnID)
	return nil
}

// buildConnectParams assembles the signed connect request.
func (c *Client) buildConnectParams(nonce string) (*protocol.ConnectParams, error) {
	id, err := c.idp.LoadOrCreate()
	if err != nil {
		return nil, &HandshakeError{Reason: "load device identity", Err: err}
	}

	signedAt := time.Now().UnixMilli()
	payload := identity.BuildSignaturePayload(identity.SignatureParams{
		DeviceID:   id.DeviceID,
		ClientID:   c.cfg.ClientID,
		ClientMode: c.cfg.ClientMode,
		Role:       c.cfg.Role,
		Scopes:     c.cfg.Scopes,
		SignedAtMs: signedAt,
		AuthToken:  c.cfg.AuthToken,
		Nonce:      nonce,
	})

	params := &protocol.ConnectParams{
		MinProtocol: protocol.Version,
		MaxProtocol: protocol.Version,
		Client: protocol.ClientInfo{
			ID:   c.cfg.ClientID,
			Mode: c.cfg.ClientMode,
		},
		Role:   c.cfg.Role,
		Scopes: c.cfg.Scopes,
		Device: &protocol.DevicePayload{
			ID:        id.DeviceID,
			PublicKey: identity.PublicKeyEncoded(id),
			Signature: identity.Sign(id, payload),
			SignedAt:  signedAt,
			Nonce:     nonce,
		},
	}
	if c.cfg.AuthToken != "" {
		params.Auth = &protocol.ConnectAuth{Token: c.cfg.AuthToken}
	}
	return params, nil
}

// readLoop reads frames until the socket errors, then hands off to
// handleClosed. A loop whose epoch is stale (superseded connection) exits
// without touching client state.
func (c *Client) readLoop(conn *websocket.Conn, epoch int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(epoch, err)
			return
		}
		env, perr := protocol.ParseEnvelope(data)
		if perr != nil {
			c.log.Warn("dropping malformed frame", "error", perr)
			continue
		}
		switch env.Kind() {
		case protocol.KindResponse:
			c.deliverResponse(env)
		case protocol.KindEvent:
			c.handleServerEvent(env)
		default:
			c.log.Debug("ignoring unclassifiable frame")
		}
	}
}

// handleServerEvent routes one pushed event: challenges additionally unblock
// an in-flight handshake, everything is fanned out to subscribers.
func (c *Client) handleServerEvent(env *protocol.Envelope) {
	if env.Event == protocol.EventConnectChallenge {
		var ch protocol.ChallengePayload
		if err := json.Unmarshal(env.Payload, &ch); err == nil && ch.Nonce != "" {
			c.mu.Lock()
			waiting := c.challengeCh
			c.mu.Unlock()
			if waiting != nil {
				select {
				case waiting <- ch.Nonce:
				default:
				}
			}
		}
	}
	c.dispatch(env.Event, env.Payload)
}

// deliverResponse completes the matching pending request, if any.
func (c *Client) deliverResponse(env *protocol.Envelope) {
	c.mu.Lock()
	pr, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("response for unknown request", "id", env.ID)
		return
	}
	if env.Error != nil {
		pr.done <- response{err: protocol.NewGatewayError(env.Error)}
		return
	}
	pr.done <- response{result: env.Result}
}

// handleClosed reacts to the socket dropping underneath a live read loop.
func (c *Client) handleClosed(epoch int, cause error) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	prs := c.drainPendingLocked()

	// A drop during the handshake is surfaced through the failed connect
	// round trip; the connect path owns the state transition.
	if c.state == StateConnecting {
		c.mu.Unlock()
		failAll(prs, ErrConnectionClosed)
		return
	}

	next := StateDisconnected
	if c.autoReconnect && !c.manualClose {
		next = StateReconnecting
	}
	c.state = next
	c.mu.Unlock()

	failAll(prs, ErrConnectionClosed)
	c.log.Warn("connection lost", "error", cause)
	c.notifyState(next)
	if next == StateReconnecting {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the backoff timer for the next attempt.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manualClose || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	if c.backoffDelay == 0 {
		c.backoffDelay = c.backoffInitial
	} else {
		c.backoffDelay *= 2
		if c.backoffDelay > c.backoffMax {
			c.backoffDelay = c.backoffMax
		}
	}
	delay := jitter(c.backoffDelay)
	c.reconnectTimer = time.AfterFunc(delay, c.reconnectAttempt)
	c.mu.Unlock()
	c.log.Info("reconnect scheduled", "delay", delay)
}

// reconnectAttempt runs one backoff-elapsed connect attempt.
func (c *Client) reconnectAttempt() {
	c.mu.Lock()
	if c.manualClose || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), c.handshakeTimeout+c.challengeWait)
	defer cancel()
	if err := c.dialAndHandshake(ctx); err != nil {
		c.log.Warn("reconnect attempt failed", "error", err)
		c.mu.Lock()
		if c.manualClose {
			c.mu.Unlock()
			return
		}
		c.state = StateReconnecting
		c.mu.Unlock()
		c.notifyState(StateReconnecting)
		c.scheduleReconnect()
	}
}

// drainPendingLocked empties the pending map. Callers must hold c.mu.
func (c *Client) drainPendingLocked() []*pendingRequest {
	prs := make([]*pendingRequest, 0, len(c.pending))
	for _, pr := range c.pending {
		prs = append(prs, pr)
	}
	c.pending = make(map[string]*pendingRequest)
	return prs
}

// failAll completes requests with a synthetic failure.
func failAll(prs []*pendingRequest, err error) {
	for _, pr := range prs {
		pr.done <- response{err: err}
	}
}

// writeEnvelope serializes one frame to the socket.
func (c *Client) writeEnvelope(conn *websocket.Conn, env *protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

// jitter spreads a delay by ±20% to avoid thundering-herd reconnects.
func jitter(d time.Duration) time.Duration {
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * f)
}
