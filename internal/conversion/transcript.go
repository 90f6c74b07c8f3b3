package conversion

import (
	"fmt"
	"strings"
	"time"

	"github.com/clawline/clawline/internal/chat"
	"github.com/clawline/clawline/internal/protocol"
)

// transcriptTemplate is the wrapper document for exported conversations.
const transcriptTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8"/>
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.message { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 8px; }
.user { background: #eef2ff; }
.assistant { background: #f6f6f6; }
.thinking { color: #777; font-style: italic; }
.error { background: #fdecea; color: #b71c1c; }
.meta { font-size: 0.75rem; color: #999; margin-bottom: 0.25rem; }
img { max-width: 100%%; }
</style>
</head>
<body>
<h1>%s</h1>
%s
</body>
</html>
`

// RenderTranscript renders a conversation to a standalone HTML document.
// Assistant text is rendered as markdown; user text is escaped verbatim.
func RenderTranscript(title string, messages []chat.UIMessage, conv *Converter) string {
	if conv == nil {
		conv = DefaultConverter()
	}

	var body strings.Builder
	for i := range messages {
		renderMessage(&body, &messages[i], conv)
	}

	escaped := EscapeHTML(title)
	return fmt.Sprintf(transcriptTemplate, escaped, escaped, body.String())
}

func renderMessage(sb *strings.Builder, m *chat.UIMessage, conv *Converter) {
	class := m.Role
	if m.Failed {
		class += " error"
	}
	fmt.Fprintf(sb, "<div class=\"message %s\">\n", EscapeHTML(class))
	fmt.Fprintf(sb, "<div class=\"meta\">%s · %s</div>\n",
		EscapeHTML(m.Role), m.CreatedAt.Format(time.RFC3339))

	if m.Failed && m.ErrorText != "" {
		fmt.Fprintf(sb, "<p>%s</p>\n", EscapeHTML(m.ErrorText))
	}

	for _, b := range m.Content {
		switch b.Type {
		case protocol.BlockText:
			if m.Role == chat.RoleAssistant {
				sb.WriteString(conv.ConvertToSafeHTML(b.Text))
			} else {
				fmt.Fprintf(sb, "<p>%s</p>\n", EscapeHTML(b.Text))
			}
		case protocol.BlockThinking:
			fmt.Fprintf(sb, "<div class=\"thinking\">%s</div>\n", EscapeHTML(b.Text))
		case protocol.BlockImage:
			fmt.Fprintf(sb, "<img src=\"data:%s;base64,%s\" alt=\"attachment\"/>\n",
				EscapeHTML(b.MediaType), b.Data)
		}
	}
	sb.WriteString("</div>\n")
}
