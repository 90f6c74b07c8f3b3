package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/clawline/clawline/internal/chat"
	"github.com/clawline/clawline/internal/conversion"
)

var (
	// chat-specific flags
	oncePrompt string
	sessionKey string
	modelFlag  string
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session over the gateway",
	Long: `Connect to the configured gateway and chat interactively.

Use --once to send a single message and exit:
  clawline chat --once "What changed in the last deploy?"

Commands (interactive mode only):
  /quit, /exit     - Exit the chat
  /abort           - Abort the in-flight response
  /clear           - Clear the local transcript
  /export <file>   - Export the transcript as HTML
  /help            - Show available commands`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&oncePrompt, "once", "", "Send a single message and exit (non-interactive mode)")
	chatCmd.Flags().StringVar(&sessionKey, "session", "", "Session key to bind to (default from config)")
	chatCmd.Flags().StringVar(&modelFlag, "model", "", "Model to request for sends (default from config)")
}

func runChat(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	isOnceMode := oncePrompt != ""

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		if !isOnceMode {
			fmt.Println("\n\nShutting down...")
		}
		cancel()
	}()

	if err := connectClient(ctx, client); err != nil {
		return err
	}
	defer client.Disconnect()

	session := sessionKey
	if session == "" {
		session = cfg.Session
	}
	model := modelFlag
	if model == "" {
		model = cfg.Model
	}

	engine := chat.NewEngine(client, session, chat.WithModel(model))
	defer engine.Destroy()

	// Buffered signal channels: a notification that arrives while we are
	// already going to re-check state can be dropped safely.
	updates := make(chan struct{}, 1)
	errs := make(chan struct{}, 1)
	engine.On(chat.ChannelUpdate, func() { signalOne(updates) })
	engine.On(chat.ChannelError, func() { signalOne(errs) })
	engine.On(chat.ChannelDisconnect, func() {
		fmt.Println("\n! connection lost, reconnecting...")
	})
	engine.On(chat.ChannelConnect, func() {
		fmt.Println("* reconnected")
	})

	if isOnceMode {
		engine.Send(ctx, oncePrompt)
		return waitForReply(ctx, engine, updates, errs)
	}

	// Interactive sessions run for a long time; pick up rc file edits live.
	if w := watchConfig(); w != nil {
		defer w.Close()
	}
	return runInteractiveLoop(ctx, engine, updates, errs)
}

func signalOne(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// waitForReply prints the assistant's response as it streams, returning once
// the run finishes (or fails, or never starts).
func waitForReply(ctx context.Context, engine *chat.Engine, updates, errs chan struct{}) error {
	var printed string
	started := false
	startWait := time.NewTimer(10 * time.Second)
	defer startWait.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-errs:
			if err := engine.Err(); err != nil {
				fmt.Printf("\nError: %v\n", err)
			}
			return nil
		case <-startWait.C:
			if !started {
				return nil // run never started
			}
		case <-updates:
			streaming := engine.IsStreaming()
			if streaming {
				started = true
				startWait.Stop()
			}

			if idx := lastAssistantIndex(engine); idx >= 0 {
				msgs := engine.Messages()
				m := msgs[idx]
				text := m.Text()
				if strings.HasPrefix(text, printed) {
					fmt.Print(text[len(printed):])
				} else {
					fmt.Print("\n" + text)
				}
				printed = text
				if m.Failed && m.ErrorText != "" {
					fmt.Printf("\nError: %s\n", m.ErrorText)
				}
			}

			if started && !streaming {
				fmt.Println()
				return nil
			}
		}
	}
}

func lastAssistantIndex(engine *chat.Engine) int {
	msgs := engine.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant {
			return i
		}
	}
	return -1
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/help", "Show available commands"},
	{"/h", "Show available commands (alias)"},
	{"/?", "Show available commands (alias)"},
	{"/quit", "Exit the chat"},
	{"/exit", "Exit the chat (alias)"},
	{"/q", "Exit the chat (alias)"},
	{"/abort", "Abort the in-flight response"},
	{"/clear", "Clear the local transcript"},
	{"/export", "Export the transcript as HTML: /export <file>"},
}

func runInteractiveLoop(ctx context.Context, engine *chat.Engine, updates, errs chan struct{}) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "clawline> " })

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Println("\nType your message and press Enter. Use /help for commands. Tab completes commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done := handleCommand(ctx, engine, line); done {
				return nil
			}
			continue
		}

		fmt.Println()
		engine.Send(ctx, line)
		if err := waitForReply(ctx, engine, updates, errs); err != nil {
			return err
		}
		fmt.Println()
	}
}

// handleCommand runs one slash command; it returns true when the loop
// should exit.
func handleCommand(ctx context.Context, engine *chat.Engine, line string) bool {
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Println("Goodbye!")
		return true
	case "abort":
		if err := engine.Abort(ctx); err != nil {
			fmt.Printf("Abort error: %v\n", err)
		} else {
			fmt.Println("Aborted")
		}
	case "clear":
		engine.Clear()
		fmt.Println("Transcript cleared")
	case "export":
		if len(parts) < 2 {
			fmt.Println("Usage: /export <file>")
			break
		}
		if err := exportTranscript(engine, parts[1]); err != nil {
			fmt.Printf("Export error: %v\n", err)
		} else {
			fmt.Printf("Transcript written to %s\n", parts[1])
		}
	case "help", "h", "?":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s (use /help for available commands)\n", parts[0])
	}
	return false
}

func exportTranscript(engine *chat.Engine, path string) error {
	title := "Clawline - " + engine.SessionKey()
	doc := conversion.RenderTranscript(title, engine.Messages(), nil)
	return os.WriteFile(path, []byte(doc), 0o644)
}

func printHelp() {
	fmt.Println(`
Available commands:
  /quit, /exit, /q  - Exit the chat
  /abort            - Abort the in-flight response
  /clear            - Clear the local transcript
  /export <file>    - Export the transcript as HTML
  /help, /h, /?     - Show this help message

Tips:
  - Type your message and press Enter to send it to the gateway
  - Use Ctrl+C to exit gracefully
  - Use up/down arrows for input history
  - Use Tab to autocomplete slash commands`)
}

// completeInput provides tab completion for slash commands.
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	var matches []string
	var descriptions []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, text) {
			matches = append(matches, cmd.name)
			descriptions = append(descriptions, cmd.description)
		}
	}
	if len(matches) == 0 {
		return readline.Completions{}
	}

	pairs := make([]string, 0, len(matches)*2)
	for i, match := range matches {
		pairs = append(pairs, match, descriptions[i])
	}
	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
