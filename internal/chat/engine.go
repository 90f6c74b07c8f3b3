// Package chat maintains one session's conversation transcript on top of a
// gateway client: it turns the raw chat event stream into an ordered message
// list with streaming-aware buffering and silent-reply filtering.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clawline/clawline/internal/gateway"
	"github.com/clawline/clawline/internal/logging"
	"github.com/clawline/clawline/internal/protocol"
)

// ErrNotConnected is recorded when Send is called while the gateway client
// is offline. It is reported through the error channel, never returned.
var ErrNotConnected = errors.New("chat: not connected")

// Gateway is the slice of the gateway client the engine depends on.
type Gateway interface {
	ConnectionState() gateway.ConnState
	ChatSubscribe(sessionKey string) error
	ChatSend(ctx context.Context, params protocol.ChatSendParams) (*protocol.ChatSendResult, error)
	ChatAbort(ctx context.Context, sessionKey, runID string) error
	OnChatEvent(func(*protocol.ChatEventPayload)) func()
	OnConnectionStateChange(func(gateway.ConnState)) func()
}

// Channel names an engine notification stream.
type Channel string

// Notification channels.
const (
	ChannelUpdate     Channel = "update"
	ChannelConnect    Channel = "connect"
	ChannelDisconnect Channel = "disconnect"
	ChannelError      Channel = "error"
)

// Engine drives one session's transcript. It is safe for concurrent use.
type Engine struct {
	gw         Gateway
	sessionKey string
	model      string
	log        *slog.Logger
	flushEvery time.Duration

	mu          sync.Mutex
	messages    []UIMessage
	staged      []UIMessage // non-nil while a flush is pending
	streaming   bool
	activeRunID string
	finishedRun string // last run to reach a terminal state
	connected   bool
	lastErr     error
	flushTimer  *time.Timer
	destroyed   bool
	unsubs      []func()

	subMu   sync.Mutex
	subs    map[Channel]map[int]func()
	nextSub int
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineLogger replaces the engine's logger.
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithModel sets the model requested for every send from this engine.
func WithModel(model string) EngineOption {
	return func(e *Engine) { e.model = model }
}

// WithFlushInterval changes the streaming flush cadence.
func WithFlushInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.flushEvery = d
		}
	}
}

// NewEngine creates an engine bound to one session and wires it to the
// gateway client's chat event stream and connection transitions.
func NewEngine(gw Gateway, sessionKey string, opts ...EngineOption) *Engine {
	e := &Engine{
		gw:         gw,
		sessionKey: sessionKey,
		log:        logging.WithSession(logging.Chat(), sessionKey),
		flushEvery: 250 * time.Millisecond,
		subs:       make(map[Channel]map[int]func()),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.connected = gw.ConnectionState() == gateway.StateConnected
	e.unsubs = append(e.unsubs,
		gw.OnChatEvent(e.handleChatEvent),
		gw.OnConnectionStateChange(e.handleConnState),
	)
	if e.connected {
		e.subscribeSession()
	}
	return e
}

// SessionKey returns the session this engine is bound to.
func (e *Engine) SessionKey() string { return e.sessionKey }

// Messages returns a copy of the published transcript.
func (e *Engine) Messages() []UIMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.messages)
}

// IsStreaming reports whether an assistant response is in flight.
func (e *Engine) IsStreaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaming
}

// IsConnected mirrors the underlying client's connection state.
func (e *Engine) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Err returns the last recorded error, or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// On subscribes to a notification channel and returns an unsubscribe
// function. Panicking listeners are contained.
func (e *Engine) On(ch Channel, fn func()) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	m, ok := e.subs[ch]
	if !ok {
		m = make(map[int]func())
		e.subs[ch] = m
	}
	m[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		if m, ok := e.subs[ch]; ok {
			delete(m, id)
		}
		e.subMu.Unlock()
	}
}

// Send submits user text and attachments to the session. It deliberately
// never returns an error: being disconnected records ErrNotConnected and
// notifies the error channel, blank input is silently ignored, and a
// rejected chat.send records the rejection. The user message stays in the
// transcript even when the send fails.
func (e *Engine) Send(ctx context.Context, text string, attachments ...Attachment) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" && len(attachments) == 0 {
		return
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	if !e.connected {
		e.lastErr = ErrNotConnected
		e.mu.Unlock()
		e.notify(ChannelError)
		return
	}

	content := make([]protocol.ContentBlock, 0, len(attachments)+1)
	for _, a := range attachments {
		content = append(content, protocol.ImageBlock(a.MediaType, a.Data))
	}
	if trimmed != "" {
		content = append(content, protocol.TextBlock(trimmed))
	}

	user := newMessage(RoleUser)
	user.Content = content
	e.appendLocked(user)
	e.mu.Unlock()
	e.notify(ChannelUpdate)

	res, err := e.gw.ChatSend(ctx, protocol.ChatSendParams{
		SessionKey:     e.sessionKey,
		Content:        content,
		IdempotencyKey: gateway.GenerateIdempotencyKey(),
		Model:          e.model,
	})
	if err != nil {
		e.log.Warn("send rejected", "error", err)
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		e.notify(ChannelError)
		return
	}

	e.mu.Lock()
	// The run's first event can beat this resume: the read loop may already
	// have created (or even finalized) the assistant message for this run.
	// Appending another placeholder would leave two messages racing for the
	// same run, so adopt the existing one instead. A run that already reached
	// a terminal state (including a suppressed silent reply) gets nothing.
	if res.RunID != e.finishedRun &&
		lastAssistantForRun(e.staged, res.RunID) < 0 &&
		lastAssistantForRun(e.messages, res.RunID) < 0 {
		placeholder := newMessage(RoleAssistant)
		placeholder.RunID = res.RunID
		placeholder.Streaming = true
		e.activeRunID = res.RunID
		e.streaming = true
		e.appendLocked(placeholder)
	}
	e.mu.Unlock()
	e.notify(ChannelUpdate)
}

// Abort cancels the active run, if any. It no-ops while disconnected or
// when nothing is streaming.
func (e *Engine) Abort(ctx context.Context) error {
	e.mu.Lock()
	runID := e.activeRunID
	connected := e.connected
	e.mu.Unlock()
	if runID == "" || !connected {
		return nil
	}
	return e.gw.ChatAbort(ctx, e.sessionKey, runID)
}

// Clear resets the transcript, streaming state, active run, and last error
// in one step, then notifies.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.messages = nil
	e.staged = nil
	e.streaming = false
	e.activeRunID = ""
	e.finishedRun = ""
	e.lastErr = nil
	e.stopFlushTimerLocked()
	e.mu.Unlock()
	e.notify(ChannelUpdate)
}

// Destroy detaches the engine from the gateway client, cancels the flush
// timer, and drops all listeners. Safe to call more than once.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	unsubs := e.unsubs
	e.unsubs = nil
	e.stopFlushTimerLocked()
	e.mu.Unlock()

	for _, off := range unsubs {
		off()
	}

	e.subMu.Lock()
	e.subs = make(map[Channel]map[int]func())
	e.subMu.Unlock()
}

// appendLocked adds a message to the published list and, mid-flush-window,
// to the staging buffer too so the pending flush does not drop it.
func (e *Engine) appendLocked(m UIMessage) {
	e.messages = append(e.messages, m)
	if e.staged != nil {
		e.staged = append(e.staged, m)
	}
}

func (e *Engine) handleConnState(s gateway.ConnState) {
	connected := s == gateway.StateConnected
	e.mu.Lock()
	if e.destroyed || e.connected == connected {
		e.mu.Unlock()
		return
	}
	e.connected = connected
	e.mu.Unlock()

	if connected {
		e.subscribeSession()
		e.notify(ChannelConnect)
	} else {
		e.notify(ChannelDisconnect)
	}
}

func (e *Engine) subscribeSession() {
	if err := e.gw.ChatSubscribe(e.sessionKey); err != nil {
		e.log.Warn("chat subscribe failed", "error", err)
	}
}

// notify fans a channel event out to its listeners.
func (e *Engine) notify(ch Channel) {
	e.subMu.Lock()
	fns := make([]func(), 0, len(e.subs[ch]))
	for _, fn := range e.subs[ch] {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("listener panicked", "channel", ch, "panic", r)
				}
			}()
			fn()
		}()
	}
}
