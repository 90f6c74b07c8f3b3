package gateway

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawline/clawline/internal/identity"
	"github.com/clawline/clawline/internal/protocol"
	"github.com/clawline/clawline/internal/secrets"
	"github.com/clawline/clawline/internal/store"
)

var upgrader = websocket.Upgrader{}

// fakeConn serializes writes to one server-side socket.
type fakeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *fakeConn) write(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteJSON(v)
}

func (c *fakeConn) respond(id string, result any) {
	raw, _ := json.Marshal(result)
	c.write(protocol.Envelope{ID: id, Result: raw})
}

func (c *fakeConn) respondErr(id string, shape *protocol.ErrorShape) {
	c.write(protocol.Envelope{ID: id, Error: shape})
}

// fakeGateway is an in-process gateway: it accepts WebSocket upgrades,
// answers connect with a canned hello, and routes other methods to
// registered handlers. Unhandled requests get an empty result.
type fakeGateway struct {
	url       string
	challenge string // nonce pushed right after upgrade; "" disables
	silent    bool   // accept the socket but never answer anything

	// onConnect, when set, replaces the default hello response.
	onConnect func(conn *fakeConn, env *protocol.Envelope)

	mu       sync.Mutex
	handlers map[string]func(conn *fakeConn, env *protocol.Envelope)
	connects []protocol.ConnectParams
	conns    []*websocket.Conn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	f := &fakeGateway{handlers: make(map[string]func(*fakeConn, *protocol.Envelope))}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return f
}

func (f *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, ws)
	f.mu.Unlock()
	conn := &fakeConn{ws: ws}

	if f.silent {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}

	if f.challenge != "" {
		conn.write(protocol.Envelope{
			Event:   protocol.EventConnectChallenge,
			Payload: json.RawMessage(`{"nonce":"` + f.challenge + `"}`),
		})
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		env, perr := protocol.ParseEnvelope(data)
		if perr != nil {
			continue
		}
		if env.Method == protocol.MethodConnect {
			var params protocol.ConnectParams
			_ = json.Unmarshal(env.Params, &params)
			f.mu.Lock()
			f.connects = append(f.connects, params)
			f.mu.Unlock()
			if f.onConnect != nil {
				f.onConnect(conn, env)
				continue
			}
			conn.respond(env.ID, protocol.HelloResult{
				Protocol: protocol.Version,
				Server:   protocol.ServerInfo{Version: "1.2.3", ConnID: "conn-1"},
			})
			continue
		}
		f.mu.Lock()
		h := f.handlers[env.Method]
		f.mu.Unlock()
		if h != nil {
			h(conn, env)
			continue
		}
		if env.Method != "" {
			conn.respond(env.ID, map[string]any{})
		}
	}
}

func (f *fakeGateway) on(method string, h func(conn *fakeConn, env *protocol.Envelope)) {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
}

func (f *fakeGateway) connectParams(t *testing.T, i int) protocol.ConnectParams {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connects) <= i {
		t.Fatalf("expected at least %d connect requests, saw %d", i+1, len(f.connects))
	}
	return f.connects[i]
}

func (f *fakeGateway) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

// dropConns closes every accepted socket server-side.
func (f *fakeGateway) dropConns() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func newTestClient(t *testing.T, f *fakeGateway, opts ...Option) *Client {
	t.Helper()
	idp := identity.NewProvider(&secrets.NoopStore{}, store.NewMemoryStore())
	base := []Option{
		WithChallengeWait(100 * time.Millisecond),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond),
	}
	client := New(Config{
		URL:        f.url,
		ClientID:   "test-client",
		ClientMode: "cli",
		Role:       "operator",
		Scopes:     []string{"read"},
	}, idp, append(base, opts...)...)
	t.Cleanup(client.Disconnect)
	return client
}

func connectOrFail(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func waitForState(t *testing.T, c *Client, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.ConnectionState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s (currently %s)", want, c.ConnectionState())
}

func TestRequestWhileDisconnected(t *testing.T) {
	f := newFakeGateway(t)
	client := newTestClient(t, f)

	_, err := client.Request(context.Background(), "anything", struct{}{})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if f.connectCount() != 0 {
		t.Error("transport was touched while disconnected")
	}
}

func TestConnectPerformsSignedHandshake(t *testing.T) {
	f := newFakeGateway(t)
	client := newTestClient(t, f)
	connectOrFail(t, client)

	if got := client.ConnectionState(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	info := client.ServerInfo()
	if info == nil || info.Version != "1.2.3" || info.ConnID != "conn-1" {
		t.Errorf("server info not cached: %+v", info)
	}

	params := f.connectParams(t, 0)
	if params.MinProtocol != protocol.Version || params.MaxProtocol != protocol.Version {
		t.Errorf("protocol range = %d..%d", params.MinProtocol, params.MaxProtocol)
	}
	if params.Client.ID != "test-client" || params.Client.Mode != "cli" {
		t.Errorf("client info mismatch: %+v", params.Client)
	}
	if params.Device == nil {
		t.Fatal("no device payload in handshake")
	}
	if len(params.Device.ID) != 64 {
		t.Errorf("device id should be 64 hex chars: %q", params.Device.ID)
	}
	if params.Device.Nonce != "" {
		t.Errorf("unexpected nonce without a challenge: %q", params.Device.Nonce)
	}
	verifyDeviceSignature(t, params)
}

func TestConnectSignsChallengeNonce(t *testing.T) {
	f := newFakeGateway(t)
	f.challenge = "nonce-42"
	client := newTestClient(t, f)
	connectOrFail(t, client)

	params := f.connectParams(t, 0)
	if params.Device.Nonce != "nonce-42" {
		t.Errorf("nonce = %q, want nonce-42", params.Device.Nonce)
	}
	verifyDeviceSignature(t, params)
}

// verifyDeviceSignature recomputes the canonical payload from the handshake
// fields and checks the Ed25519 signature against the presented public key.
func verifyDeviceSignature(t *testing.T, params protocol.ConnectParams) {
	t.Helper()
	var token string
	if params.Auth != nil {
		token = params.Auth.Token
	}
	payload := identity.BuildSignaturePayload(identity.SignatureParams{
		DeviceID:   params.Device.ID,
		ClientID:   params.Client.ID,
		ClientMode: params.Client.Mode,
		Role:       params.Role,
		Scopes:     params.Scopes,
		SignedAtMs: params.Device.SignedAt,
		AuthToken:  token,
		Nonce:      params.Device.Nonce,
	})
	pub, err := base64.RawURLEncoding.DecodeString(params.Device.PublicKey)
	if err != nil {
		t.Fatalf("public key is not base64url: %v", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(params.Device.Signature)
	if err != nil {
		t.Fatalf("signature is not base64url: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(payload), sig) {
		t.Errorf("handshake signature does not verify over %q", payload)
	}
}

func TestConnectWhenConnectedIsNoop(t *testing.T) {
	f := newFakeGateway(t)
	client := newTestClient(t, f)
	connectOrFail(t, client)

	if err := client.Connect(context.Background()); err != nil {
		t.Errorf("Connect while connected should return nil, got %v", err)
	}
	if f.connectCount() != 1 {
		t.Errorf("expected a single handshake, saw %d", f.connectCount())
	}
}

func TestConnectWhileConnectingRejected(t *testing.T) {
	f := newFakeGateway(t)
	f.silent = true
	client := newTestClient(t, f,
		WithChallengeWait(300*time.Millisecond),
		WithHandshakeTimeout(500*time.Millisecond),
		WithAutoReconnect(false),
	)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- client.Connect(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnecting) {
		t.Errorf("expected ErrAlreadyConnecting, got %v", err)
	}

	select {
	case err := <-firstDone:
		if err == nil {
			t.Error("first connect against a silent gateway should fail")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("first connect never returned")
	}
}

func TestResponsesCorrelateOutOfOrder(t *testing.T) {
	f := newFakeGateway(t)

	// Hold the first request and answer both in reverse arrival order.
	var held []*protocol.Envelope
	var heldMu sync.Mutex
	f.on("echo", func(conn *fakeConn, env *protocol.Envelope) {
		heldMu.Lock()
		held = append(held, env)
		ready := len(held) == 2
		var batch []*protocol.Envelope
		if ready {
			batch = held
		}
		heldMu.Unlock()
		if !ready {
			return
		}
		for i := len(batch) - 1; i >= 0; i-- {
			conn.respond(batch[i].ID, json.RawMessage(batch[i].Params))
		}
	})

	client := newTestClient(t, f)
	connectOrFail(t, client)

	type result struct {
		sent string
		raw  json.RawMessage
		err  error
	}
	results := make(chan result, 2)
	for _, v := range []string{"one", "two"} {
		go func(v string) {
			raw, err := client.Request(context.Background(), "echo", map[string]string{"v": v})
			results <- result{sent: v, raw: raw, err: err}
		}(v)
	}

	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			t.Fatalf("request %q: %v", res.sent, res.err)
		}
		var got map[string]string
		if err := json.Unmarshal(res.raw, &got); err != nil {
			t.Fatalf("bad result for %q: %v", res.sent, err)
		}
		if got["v"] != res.sent {
			t.Errorf("request %q received response %q", res.sent, got["v"])
		}
	}
}

func TestRequestSurfacesGatewayError(t *testing.T) {
	f := newFakeGateway(t)
	f.on("chat.send", func(conn *fakeConn, env *protocol.Envelope) {
		conn.respondErr(env.ID, &protocol.ErrorShape{
			Code:      protocol.CodeNotPaired,
			Message:   "pair this device first",
			Retryable: false,
		})
	})

	client := newTestClient(t, f)
	connectOrFail(t, client)

	_, err := client.ChatSend(context.Background(), protocol.ChatSendParams{SessionKey: "s1"})
	var gerr *protocol.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *protocol.GatewayError, got %v", err)
	}
	if gerr.Code != protocol.CodeNotPaired {
		t.Errorf("code = %q", gerr.Code)
	}
}

func TestRequestTimeout(t *testing.T) {
	f := newFakeGateway(t)
	f.on("slow.op", func(conn *fakeConn, env *protocol.Envelope) {
		// never responds
	})

	client := newTestClient(t, f, WithRequestTimeout(100*time.Millisecond))
	connectOrFail(t, client)

	_, err := client.Request(context.Background(), "slow.op", struct{}{})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Errorf("expected ErrRequestTimeout, got %v", err)
	}
}

func TestDisconnectFailsPendingRequests(t *testing.T) {
	f := newFakeGateway(t)
	f.on("slow.op", func(conn *fakeConn, env *protocol.Envelope) {})

	client := newTestClient(t, f, WithRequestTimeout(5*time.Second))
	connectOrFail(t, client)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Request(context.Background(), "slow.op", struct{}{})
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	client.Disconnect()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pending request never failed")
	}
}

func TestIdempotencyKeysAreUnique(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		k := GenerateIdempotencyKey()
		if !strings.HasPrefix(k, "idem-") {
			t.Fatalf("key %q missing idem- prefix", k)
		}
		if seen[k] {
			t.Fatalf("duplicate key %q", k)
		}
		seen[k] = true
	}
}

func TestHealth(t *testing.T) {
	f := newFakeGateway(t)
	client := newTestClient(t, f)

	if client.Health(context.Background()) {
		t.Error("Health should be false while disconnected")
	}

	connectOrFail(t, client)
	if !client.Health(context.Background()) {
		t.Error("Health should be true against a responsive gateway")
	}

	client.Disconnect()
	if client.Health(context.Background()) {
		t.Error("Health should be false after disconnect")
	}
}

func TestEventSubscriptionAndUnsubscribe(t *testing.T) {
	f := newFakeGateway(t)
	f.on("push.please", func(conn *fakeConn, env *protocol.Envelope) {
		conn.respond(env.ID, map[string]any{})
		conn.write(protocol.Envelope{Event: protocol.EventAgent, Payload: json.RawMessage(`{"kind":"started"}`)})
	})

	client := newTestClient(t, f)
	connectOrFail(t, client)

	got := make(chan json.RawMessage, 4)
	off := client.OnAgentEvent(func(payload json.RawMessage) {
		got <- payload
	})

	if _, err := client.Request(context.Background(), "push.please", struct{}{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	select {
	case payload := <-got:
		if !strings.Contains(string(payload), "started") {
			t.Errorf("unexpected payload %s", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("agent event never delivered")
	}

	off()
	if _, err := client.Request(context.Background(), "push.please", struct{}{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	select {
	case payload := <-got:
		t.Errorf("event delivered after unsubscribe: %s", payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPanickingHandlerDoesNotBreakDispatch(t *testing.T) {
	f := newFakeGateway(t)
	f.on("push.please", func(conn *fakeConn, env *protocol.Envelope) {
		conn.respond(env.ID, map[string]any{})
		conn.write(protocol.Envelope{Event: protocol.EventAgent, Payload: json.RawMessage(`{}`)})
	})

	client := newTestClient(t, f)
	connectOrFail(t, client)

	client.OnAgentEvent(func(json.RawMessage) { panic("boom") })
	delivered := make(chan struct{}, 1)
	client.OnAgentEvent(func(json.RawMessage) { delivered <- struct{}{} })

	if _, err := client.Request(context.Background(), "push.please", struct{}{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	select {
	case <-delivered:
	case <-time.After(3 * time.Second):
		t.Fatal("second handler was not reached after the first panicked")
	}
}

func TestAutoReconnect(t *testing.T) {
	f := newFakeGateway(t)
	client := newTestClient(t, f)
	connectOrFail(t, client)

	var transitions []ConnState
	var tmu sync.Mutex
	client.OnConnectionStateChange(func(s ConnState) {
		tmu.Lock()
		transitions = append(transitions, s)
		tmu.Unlock()
	})

	f.dropConns()
	waitForState(t, client, StateReconnecting)
	waitForState(t, client, StateConnected)

	if f.connectCount() < 2 {
		t.Errorf("expected a second handshake after reconnect, saw %d", f.connectCount())
	}
	tmu.Lock()
	defer tmu.Unlock()
	sawReconnecting := false
	for _, s := range transitions {
		if s == StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Errorf("never observed reconnecting state in %v", transitions)
	}
}

func TestManualDisconnectSuppressesReconnect(t *testing.T) {
	f := newFakeGateway(t)
	client := newTestClient(t, f)
	connectOrFail(t, client)

	client.Disconnect()
	time.Sleep(200 * time.Millisecond)

	if got := client.ConnectionState(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
	if f.connectCount() != 1 {
		t.Errorf("client reconnected after manual disconnect: %d handshakes", f.connectCount())
	}
}

func TestDisconnectDuringHandshakeStaysDisconnected(t *testing.T) {
	f := newFakeGateway(t)
	client := newTestClient(t, f, WithAutoReconnect(false))

	for i := 0; i < 25; i++ {
		done := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			done <- client.Connect(ctx)
		}()

		// Let the attempt actually start, then tear it down mid-flight.
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && client.ConnectionState() == StateDisconnected {
			time.Sleep(100 * time.Microsecond)
		}
		client.Disconnect()
		<-done

		client.mu.Lock()
		state, conn := client.state, client.conn
		client.mu.Unlock()
		if state != StateDisconnected {
			t.Fatalf("state after Disconnect = %s, want disconnected", state)
		}
		if conn != nil {
			t.Fatal("connection lingering after Disconnect")
		}
	}

	// A torn-down client must still accept a fresh Connect.
	connectOrFail(t, client)
	waitForState(t, client, StateConnected)
}

func TestPairingRequiredDispatchedWhileHandshakeParked(t *testing.T) {
	f := newFakeGateway(t)
	// The gateway parks the handshake behind device pairing: it pushes
	// pairing.required and never answers connect.
	f.onConnect = func(conn *fakeConn, env *protocol.Envelope) {
		conn.write(protocol.Envelope{
			Event:   protocol.EventPairingRequired,
			Payload: json.RawMessage(`{"deviceId":"dev-1","message":"approve this device"}`),
		})
	}
	client := newTestClient(t, f, WithHandshakeTimeout(400*time.Millisecond))

	paired := make(chan protocol.PairingRequiredPayload, 1)
	client.On(protocol.EventPairingRequired, func(event string, payload json.RawMessage) {
		var p protocol.PairingRequiredPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			t.Errorf("bad pairing payload: %v", err)
			return
		}
		select {
		case paired <- p:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Connect(ctx)

	select {
	case p := <-paired:
		if p.DeviceID != "dev-1" {
			t.Errorf("deviceId = %q, want dev-1", p.DeviceID)
		}
	default:
		t.Error("pairing.required never reached the subscriber")
	}
	// The parked handshake times out; that is a handshake error, not a crash,
	// and the client ends up cleanly disconnected.
	var herr *HandshakeError
	if !errors.As(err, &herr) {
		t.Errorf("Connect = %v, want a handshake error", err)
	}
	if got := client.ConnectionState(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestSendEventSilentWhileDisconnected(t *testing.T) {
	f := newFakeGateway(t)
	client := newTestClient(t, f)

	if err := client.SendEvent(protocol.EventChatSubscribe, protocol.ChatSubscribeParams{SessionKey: "s1"}); err != nil {
		t.Errorf("SendEvent while disconnected must be a silent no-op, got %v", err)
	}
}

func TestChatSendFillsIdempotencyKey(t *testing.T) {
	f := newFakeGateway(t)
	var gotParams protocol.ChatSendParams
	var gmu sync.Mutex
	f.on(protocol.MethodChatSend, func(conn *fakeConn, env *protocol.Envelope) {
		gmu.Lock()
		_ = json.Unmarshal(env.Params, &gotParams)
		gmu.Unlock()
		conn.respond(env.ID, protocol.ChatSendResult{RunID: "run-7"})
	})

	client := newTestClient(t, f)
	connectOrFail(t, client)

	res, err := client.ChatSend(context.Background(), protocol.ChatSendParams{
		SessionKey: "s1",
		Content:    []protocol.ContentBlock{protocol.TextBlock("hi")},
	})
	if err != nil {
		t.Fatalf("ChatSend: %v", err)
	}
	if res.RunID != "run-7" {
		t.Errorf("RunID = %q", res.RunID)
	}
	gmu.Lock()
	defer gmu.Unlock()
	if !strings.HasPrefix(gotParams.IdempotencyKey, "idem-") {
		t.Errorf("idempotency key not generated: %q", gotParams.IdempotencyKey)
	}
}

func TestDomainMethods(t *testing.T) {
	f := newFakeGateway(t)
	f.on(protocol.MethodSessionsList, func(conn *fakeConn, env *protocol.Envelope) {
		conn.respond(env.ID, protocol.SessionsListResult{
			Sessions: []protocol.SessionSummary{{SessionKey: "s1", Title: "First"}},
		})
	})
	f.on(protocol.MethodModelsList, func(conn *fakeConn, env *protocol.Envelope) {
		conn.respond(env.ID, protocol.ModelsListResult{
			Models: []protocol.ModelInfo{{ID: "m1", Provider: "acme"}},
		})
	})
	f.on(protocol.MethodChatHistory, func(conn *fakeConn, env *protocol.Envelope) {
		var params protocol.ChatHistoryParams
		_ = json.Unmarshal(env.Params, &params)
		if params.SessionKey != "s1" || params.Limit != 10 {
			conn.respondErr(env.ID, &protocol.ErrorShape{Code: protocol.CodeInvalidRequest, Message: "bad params"})
			return
		}
		conn.respond(env.ID, protocol.ChatHistoryResult{
			Messages: []protocol.ChatMessage{{Role: "user", Content: []protocol.ContentBlock{protocol.TextBlock("hey")}}},
		})
	})

	client := newTestClient(t, f)
	connectOrFail(t, client)
	ctx := context.Background()

	sessions, err := client.SessionsList(ctx)
	if err != nil || len(sessions.Sessions) != 1 || sessions.Sessions[0].SessionKey != "s1" {
		t.Errorf("SessionsList = %+v, %v", sessions, err)
	}

	models, err := client.ModelsList(ctx)
	if err != nil || len(models.Models) != 1 || models.Models[0].ID != "m1" {
		t.Errorf("ModelsList = %+v, %v", models, err)
	}

	history, err := client.ChatHistory(ctx, "s1", 10)
	if err != nil || len(history.Messages) != 1 {
		t.Errorf("ChatHistory = %+v, %v", history, err)
	}

	if err := client.ChatAbort(ctx, "s1", "run-1"); err != nil {
		t.Errorf("ChatAbort: %v", err)
	}
}
