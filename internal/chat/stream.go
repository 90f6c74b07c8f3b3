package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/clawline/clawline/internal/protocol"
)

// silentReplies are assistant outputs that must never reach the transcript:
// the "no natural-language reply" marker and the keepalive acknowledgement.
var silentReplies = []string{"NO_REPLY", "HEARTBEAT_OK"}

// isSilentReply reports an exact sentinel match.
func isSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, s := range silentReplies {
		if trimmed == s {
			return true
		}
	}
	return false
}

// isSilentPrefix reports whether text is a sentinel cut short, as happens
// when a flush boundary lands mid-sentinel. Empty text never matches, so a
// fresh placeholder is not mistaken for a truncated sentinel.
func isSilentPrefix(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, s := range silentReplies {
		if strings.HasPrefix(s, trimmed) {
			return true
		}
	}
	return false
}

// handleChatEvent is the engine's gateway subscription callback. Events for
// other sessions are ignored; everything else is dispatched by state.
func (e *Engine) handleChatEvent(p *protocol.ChatEventPayload) {
	if p.SessionKey != e.sessionKey {
		return
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}

	var channels []Channel
	switch p.State {
	case protocol.ChatStateDelta:
		e.applyDeltaLocked(p)
	case protocol.ChatStateComplete, protocol.ChatStateDone, protocol.ChatStateFinal:
		e.finishRunLocked(p)
		channels = append(channels, ChannelUpdate)
	case protocol.ChatStateError:
		e.failRunLocked(p)
		channels = append(channels, ChannelUpdate, ChannelError)
	case protocol.ChatStateAborted:
		e.abortRunLocked(p)
		channels = append(channels, ChannelUpdate)
	default:
		// Unknown states that still carry content stream like deltas, so a
		// newer gateway does not silently drop text on older clients.
		if p.Message != nil {
			e.applyDeltaLocked(p)
		}
	}
	e.mu.Unlock()

	for _, ch := range channels {
		e.notify(ch)
	}
}

// applyDeltaLocked replaces the run's assistant content in the staging
// buffer and arms the flush timer. Publication happens at flush time.
func (e *Engine) applyDeltaLocked(p *protocol.ChatEventPayload) {
	e.streaming = true
	if p.RunID != "" {
		e.activeRunID = p.RunID
	}
	if e.staged == nil {
		e.staged = cloneMessages(e.messages)
	}

	var content []protocol.ContentBlock
	if p.Message != nil {
		content = append([]protocol.ContentBlock(nil), p.Message.Content...)
	}

	if idx := lastAssistantForRun(e.staged, p.RunID); idx >= 0 {
		e.staged[idx].Content = content
		e.staged[idx].Streaming = true
	} else {
		m := newMessage(RoleAssistant)
		m.RunID = p.RunID
		m.Streaming = true
		m.Content = content
		e.staged = append(e.staged, m)
	}
	e.scheduleFlushLocked()
}

// finishRunLocked handles the complete/done/final states.
func (e *Engine) finishRunLocked(p *protocol.ChatEventPayload) {
	e.flushLocked()
	e.streaming = false
	e.activeRunID = ""
	e.finishedRun = p.RunID

	if p.Message == nil {
		e.markRunFinishedLocked(p.RunID)
		return
	}

	var text strings.Builder
	for _, b := range p.Message.Content {
		if b.Type == protocol.BlockText {
			text.WriteString(b.Text)
		}
	}
	if isSilentReply(text.String()) {
		e.removeRunLocked(p.RunID)
		return
	}

	final := stripToolBlocks(p.Message.Content)
	if idx := lastAssistantForRun(e.messages, p.RunID); idx >= 0 {
		e.messages[idx].Content = final
		e.messages[idx].Streaming = false
		e.messages[idx].Usage = p.Usage
	} else {
		m := newMessage(RoleAssistant)
		m.RunID = p.RunID
		m.Content = final
		m.Usage = p.Usage
		e.messages = append(e.messages, m)
	}
}

// failRunLocked handles the error state: the run's assistant message (made
// on the spot when the run never produced one) becomes an error message.
func (e *Engine) failRunLocked(p *protocol.ChatEventPayload) {
	e.flushLocked()
	e.streaming = false
	e.activeRunID = ""
	e.finishedRun = p.RunID
	e.lastErr = fmt.Errorf("chat: run failed: %s", p.ErrorMessage)

	if idx := lastAssistantForRun(e.messages, p.RunID); idx >= 0 {
		e.messages[idx].Streaming = false
		e.messages[idx].Failed = true
		e.messages[idx].ErrorText = p.ErrorMessage
		return
	}
	m := newMessage(RoleAssistant)
	m.RunID = p.RunID
	m.Failed = true
	m.ErrorText = p.ErrorMessage
	e.messages = append(e.messages, m)
}

// abortRunLocked handles the aborted state: partial content stays.
func (e *Engine) abortRunLocked(p *protocol.ChatEventPayload) {
	e.flushLocked()
	e.streaming = false
	e.activeRunID = ""
	e.finishedRun = p.RunID
	e.markRunFinishedLocked(p.RunID)
}

func (e *Engine) markRunFinishedLocked(runID string) {
	for i := range e.messages {
		if e.messages[i].RunID == runID && e.messages[i].Streaming {
			e.messages[i].Streaming = false
		}
	}
}

func (e *Engine) removeRunLocked(runID string) {
	kept := e.messages[:0]
	for _, m := range e.messages {
		if m.Role == RoleAssistant && m.RunID == runID {
			continue
		}
		kept = append(kept, m)
	}
	e.messages = kept
}

// scheduleFlushLocked arms the flush timer unless one is already pending.
func (e *Engine) scheduleFlushLocked() {
	if e.flushTimer != nil {
		return
	}
	e.flushTimer = time.AfterFunc(e.flushEvery, e.flushTimerFired)
}

func (e *Engine) stopFlushTimerLocked() {
	if e.flushTimer != nil {
		e.flushTimer.Stop()
		e.flushTimer = nil
	}
}

func (e *Engine) flushTimerFired() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.flushTimer = nil
	changed := e.flushLocked()
	e.mu.Unlock()

	if changed {
		e.notify(ChannelUpdate)
	}
}

// flushLocked publishes the staging buffer, suppressing streaming assistant
// messages whose accumulated text reads as a silent reply (exact sentinel or
// a sentinel truncated by the flush boundary). Sentinel filtering happens
// here and only here, never per delta.
func (e *Engine) flushLocked() bool {
	e.stopFlushTimerLocked()
	if e.staged == nil {
		return false
	}

	kept := e.staged[:0]
	for _, m := range e.staged {
		if m.Role == RoleAssistant && m.Streaming {
			text := m.Text()
			if isSilentReply(text) || isSilentPrefix(text) {
				continue
			}
		}
		kept = append(kept, m)
	}
	e.messages = kept
	e.staged = nil
	return true
}

// lastAssistantForRun finds the most recent assistant message for a run.
func lastAssistantForRun(msgs []UIMessage, runID string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant && msgs[i].RunID == runID {
			return i
		}
	}
	return -1
}
