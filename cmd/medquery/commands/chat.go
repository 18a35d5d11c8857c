package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/medquery-go/internal/chat"
	"github.com/54b3r/medquery-go/internal/logging"
	"github.com/54b3r/medquery-go/internal/store"
)

const chatHelp = `Commands:
  /feedback up|down [comment]   rate the last answer
  /history                      show this conversation
  /reset                        start a new conversation
  /quit                         leave
`

// replVerdicts maps the REPL's shorthand onto feedback verdicts.
var replVerdicts = map[string]string{
	"up":       string(store.VerdictPositive),
	"down":     string(store.VerdictNegative),
	"positive": string(store.VerdictPositive),
	"negative": string(store.VerdictNegative),
}

// NewChatCmd constructs the `medquery chat` command, an interactive
// conversation on stdin/stdout.
func NewChatCmd() *cobra.Command {
	var sessionFlag string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive medical Q&A conversation",
		Long: `Start an interactive conversation with MedQuery. Follow-up questions are
answered in the context of the earlier ones, e.g.

  > How is diabetes treated?
  > What about blood pressure?

Type /help for the in-chat commands. Pass --session with an earlier id to
continue that session's long-term memory and turn numbering.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := newRuntime(ctx, log, runtimeOptions{Chat: true})
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer rt.Close()

			session, err := rt.sessionFactory(nil)(ctx, resolveSessionID(sessionFlag))
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer session.Close(ctx) //nolint:errcheck

			return runREPL(ctx, session, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "Session id to continue (default: a new session)")
	return cmd
}

// resolveSessionID returns the trimmed --session value, or a fresh id when
// it is blank.
func resolveSessionID(flag string) string {
	if id := strings.TrimSpace(flag); id != "" {
		return id
	}
	return chat.NewSessionID()
}

// runREPL reads questions line by line until EOF or /quit.
func runREPL(ctx context.Context, session *chat.Session, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "MedQuery (session %s). Ask a medical question, or /help.\n", session.ID())

	lastTurn := -1
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := replCommand(ctx, session, line, lastTurn, out); quit {
				return nil
			}
			if line == "/reset" {
				lastTurn = -1
			}
			continue
		}

		res, err := session.Answer(ctx, line)
		if res == nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printResult(out, res)
		if !res.Failed {
			lastTurn = res.Turn
		}
	}
}

// replCommand executes one slash command and reports whether to quit.
func replCommand(ctx context.Context, session *chat.Session, line string, lastTurn int, out io.Writer) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprint(out, chatHelp)
	case "/reset":
		session.Reset()
		fmt.Fprintln(out, "Conversation cleared.")
	case "/history":
		history := session.History()
		if len(history) == 0 {
			fmt.Fprintln(out, "No turns yet.")
		}
		first := session.FirstTurn()
		for i, t := range history {
			fmt.Fprintf(out, "[%d] Q: %s\n    A: %s\n", first+i, t.Question, t.Answer)
		}
	case "/feedback":
		if lastTurn < 0 {
			fmt.Fprintln(out, "Nothing to rate yet.")
			return false
		}
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: /feedback up|down [comment]")
			return false
		}
		v, ok := replVerdicts[fields[1]]
		if !ok {
			v = fields[1]
		}
		verdict, err := store.ParseVerdict(v)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		comment := strings.Join(fields[2:], " ")
		if err := session.RecordFeedback(ctx, lastTurn, verdict, comment); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "Thanks for your feedback.")
	default:
		fmt.Fprintf(out, "unknown command %s, type /help\n", fields[0])
	}
	return false
}
