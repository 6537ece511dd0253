// Package chatcmd runs the relay against the local terminal: each line typed
// becomes a turn in a console thread, and replies are printed the way they
// would be posted to Slack.
package chatcmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/quailyquaily/slackrelay/agent"
	"github.com/quailyquaily/slackrelay/integration"
	"github.com/quailyquaily/slackrelay/internal/configutil"
	"github.com/quailyquaily/slackrelay/internal/router"
	"github.com/quailyquaily/slackrelay/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const consoleChannel = "console"

type Dependencies struct {
	LoggerFromViper func() (*slog.Logger, error)
	PrepareRelay    func(ctx context.Context, opts integration.RelayOptions) (*integration.PreparedRelay, error)
}

func NewCommand(d Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the relay from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if d.LoggerFromViper == nil || d.PrepareRelay == nil {
				return fmt.Errorf("chat dependencies missing")
			}
			logger, err := d.LoggerFromViper()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			interactive := isTerminal(cmd.InOrStdin()) && isTerminal(out)
			preview := configutil.FlagOrViperBool(cmd, "preview", "")
			console := &consoleIO{out: out, errOut: cmd.ErrOrStderr(), width: terminalWidth(out), preview: preview}

			prepared, err := d.PrepareRelay(cmd.Context(), integration.RelayOptions{
				Delivery: console,
				Sinks:    func(router.ChatRequest) agent.OutputSink { return console },
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer func() { _ = prepared.Cleanup() }()

			threadID := strings.TrimSpace(configutil.FlagOrViperString(cmd, "session", ""))
			if threadID == "" {
				threadID = newThreadID()
			}
			turn := func(prompt string) error {
				key := session.Key{ChannelID: consoleChannel, ThreadID: threadID}
				req := prepared.Router.NewRequest(key, prompt, router.Meta{UserID: "console", Target: consoleChannel})
				if err := prepared.Relay.Handle(cmd.Context(), req); err != nil {
					return err
				}
				console.endTurn()
				return cmd.Context().Err()
			}

			if msg := strings.TrimSpace(configutil.FlagOrViperString(cmd, "message", "")); msg != "" {
				return turn(msg)
			}

			if interactive {
				_, _ = fmt.Fprintf(out, "console thread %s/%s (/reset for a new thread, /exit to quit)\n", consoleChannel, threadID)
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for {
				if interactive {
					_, _ = fmt.Fprint(out, "> ")
				}
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				case "/reset":
					threadID = newThreadID()
					_, _ = fmt.Fprintf(out, "new thread %s/%s\n", consoleChannel, threadID)
					continue
				}
				if err := turn(line); err != nil {
					return err
				}
			}
		},
	}

	cmd.Flags().String("session", "", "Console thread id to use (default: a new random id).")
	cmd.Flags().StringP("message", "m", "", "Send one message, print the reply and exit.")
	cmd.Flags().Bool("preview", false, "Also print the reply as it would be posted to Slack (mrkdwn chunks).")
	return cmd
}

func newThreadID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// consoleIO is both the live sink and the delivery target for console turns.
type consoleIO struct {
	out     io.Writer
	errOut  io.Writer
	width   int
	preview bool
	dirty   bool
}

func (c *consoleIO) Markdown(text string) {
	if text == "" {
		return
	}
	_, _ = io.WriteString(c.out, text)
	c.dirty = !strings.HasSuffix(text, "\n")
}

func (c *consoleIO) Progress(text string) {
	c.breakLine()
	_, _ = fmt.Fprintf(c.errOut, "  · %s\n", strings.TrimSpace(text))
}

func (c *consoleIO) Deliver(_ context.Context, _ router.ChatRequest, chunks []string) error {
	if !c.preview {
		return nil
	}
	c.breakLine()
	for i, chunk := range chunks {
		label := fmt.Sprintf(" slack %d/%d ", i+1, len(chunks))
		_, _ = fmt.Fprintln(c.out, rule(label, c.width))
		_, _ = fmt.Fprintln(c.out, chunk)
	}
	_, _ = fmt.Fprintln(c.out, rule("", c.width))
	return nil
}

func (c *consoleIO) endTurn() {
	c.breakLine()
}

func (c *consoleIO) breakLine() {
	if c.dirty {
		_, _ = io.WriteString(c.out, "\n")
		c.dirty = false
	}
}

func rule(label string, width int) string {
	if width <= 0 {
		width = 60
	}
	pad := width - len([]rune(label)) - 2
	if pad < 2 {
		pad = 2
	}
	return "──" + label + strings.Repeat("─", pad)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(v any) int {
	f, ok := v.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 0
	}
	if w > 100 {
		w = 100
	}
	return w
}
