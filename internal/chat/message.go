package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clawline/clawline/internal/protocol"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UIMessage is one entry in the engine's transcript. It is a value type;
// the engine hands out copies, never aliases into its internal list.
type UIMessage struct {
	ID        string
	Role      string
	Content   []protocol.ContentBlock
	RunID     string
	Streaming bool
	Failed    bool
	ErrorText string
	Usage     *protocol.Usage
	CreatedAt time.Time
}

// Text concatenates the message's text blocks.
func (m *UIMessage) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == protocol.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Attachment is an image the user sends alongside (or instead of) text.
// Data is base64-encoded.
type Attachment struct {
	MediaType string
	Data      string
}

func newMessage(role string) UIMessage {
	return UIMessage{
		ID:        uuid.NewString(),
		Role:      role,
		CreatedAt: time.Now(),
	}
}

// cloneMessages deep-copies a transcript slice so staged mutations never
// leak into the published list.
func cloneMessages(in []UIMessage) []UIMessage {
	out := make([]UIMessage, len(in))
	copy(out, in)
	for i := range out {
		if len(in[i].Content) > 0 {
			out[i].Content = append([]protocol.ContentBlock(nil), in[i].Content...)
		}
		if in[i].Usage != nil {
			u := *in[i].Usage
			out[i].Usage = &u
		}
	}
	return out
}

// stripToolBlocks drops toolCall/toolResult blocks, preserving the relative
// order of the text, thinking, and image blocks around them.
func stripToolBlocks(in []protocol.ContentBlock) []protocol.ContentBlock {
	out := make([]protocol.ContentBlock, 0, len(in))
	for _, b := range in {
		switch b.Type {
		case protocol.BlockToolCall, protocol.BlockToolResult:
			continue
		default:
			out = append(out, b)
		}
	}
	return out
}
