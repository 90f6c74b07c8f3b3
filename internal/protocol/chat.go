package protocol

import (
	"encoding/json"
	"fmt"
)

// ChatState is the lifecycle state carried by a chat event.
type ChatState string

// Chat event states. Delta frames stream partial assistant content;
// Complete/Done/Final all terminate a run successfully; Error and Aborted
// terminate it otherwise.
const (
	ChatStateDelta    ChatState = "delta"
	ChatStateComplete ChatState = "complete"
	ChatStateDone     ChatState = "done"
	ChatStateFinal    ChatState = "final"
	ChatStateError    ChatState = "error"
	ChatStateAborted  ChatState = "aborted"
)

// Terminal reports whether the state ends a run.
func (s ChatState) Terminal() bool {
	switch s {
	case ChatStateComplete, ChatStateDone, ChatStateFinal, ChatStateError, ChatStateAborted:
		return true
	}
	return false
}

// BlockType discriminates the ContentBlock union.
type BlockType string

// Content block types.
const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockThinking   BlockType = "thinking"
	BlockToolCall   BlockType = "toolCall"
	BlockToolResult BlockType = "toolResult"
)

// ContentBlock is one element of a message's content. Exactly the fields for
// its Type are populated; everything else stays zero.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text is set for text and thinking blocks.
	Text string `json:"text,omitempty"`

	// MediaType and Data are set for image blocks. Data is base64-encoded.
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"`

	// ToolCallID and Name are set for toolCall blocks; Input carries the
	// call arguments. ToolCallID is also set for toolResult blocks, whose
	// payload lands in Result.
	ToolCallID string          `json:"toolCallId,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Validate checks the block's type tag is part of the closed union.
func (b *ContentBlock) Validate() error {
	switch b.Type {
	case BlockText, BlockImage, BlockThinking, BlockToolCall, BlockToolResult:
		return nil
	default:
		return fmt.Errorf("protocol: unknown content block type %q", b.Type)
	}
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock builds an image content block from base64 data.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, Data: data}
}

// ChatMessage is a role-tagged sequence of content blocks.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Usage reports token accounting for a completed run.
type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
}

// ChatEventPayload is the payload of a chat event.
type ChatEventPayload struct {
	RunID        string       `json:"runId"`
	SessionKey   string       `json:"sessionKey"`
	State        ChatState    `json:"state"`
	Message      *ChatMessage `json:"message,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}

// ParseChatEvent decodes a chat event payload.
func ParseChatEvent(raw json.RawMessage) (*ChatEventPayload, error) {
	var p ChatEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("protocol: malformed chat event: %w", err)
	}
	if p.Message != nil {
		for i := range p.Message.Content {
			if err := p.Message.Content[i].Validate(); err != nil {
				return nil, err
			}
		}
	}
	return &p, nil
}

// ChatSendParams is the params object of chat.send.
type ChatSendParams struct {
	SessionKey     string         `json:"sessionKey"`
	Content        []ContentBlock `json:"content"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Model          string         `json:"model,omitempty"`
}

// ChatSendResult is the result of chat.send.
type ChatSendResult struct {
	RunID string `json:"runId"`
}

// ChatAbortParams is the params object of chat.abort.
type ChatAbortParams struct {
	SessionKey string `json:"sessionKey"`
	RunID      string `json:"runId"`
}

// ChatSubscribeParams registers interest in a session's chat events.
type ChatSubscribeParams struct {
	SessionKey string `json:"sessionKey"`
}

// ChatHistoryParams is the params object of chat.history.
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

// ChatHistoryResult is the result of chat.history.
type ChatHistoryResult struct {
	Messages []ChatMessage `json:"messages"`
}

// SessionSummary describes one conversation in sessions.list.
type SessionSummary struct {
	SessionKey string `json:"sessionKey"`
	Title      string `json:"title,omitempty"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
}

// SessionsListResult is the result of sessions.list.
type SessionsListResult struct {
	Sessions []SessionSummary `json:"sessions"`
}

// ModelInfo describes one model in models.list.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// ModelsListResult is the result of models.list.
type ModelsListResult struct {
	Models []ModelInfo `json:"models"`
}
