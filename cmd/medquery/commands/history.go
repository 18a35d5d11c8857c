package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/medquery-go/internal/config"
	"github.com/54b3r/medquery-go/internal/logging"
	"github.com/54b3r/medquery-go/internal/store"
)

// NewHistoryCmd constructs the `medquery history` command, which reads the
// transcript store.
func NewHistoryCmd() *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "history [session]",
		Short: "List recorded conversations or show one transcript",
		Long: `Without arguments, list every session recorded in the transcript store,
most recent first. With a session id, print its turns and any feedback.

The store lives at MEDQUERY_HISTORY_DB (default: ~/.medquery/history.db).

Examples:
  medquery history
  medquery history 3f2a9c1e-... --last 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			settings, err := config.SettingsFromEnv()
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if settings.HistoryDisabled() {
				return fmt.Errorf("history: transcript store is disabled (MEDQUERY_HISTORY_DB=disabled)")
			}
			st := openTranscripts(settings, log)
			if st == nil {
				return fmt.Errorf("history: transcript store unavailable")
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				sessions, err := st.Sessions(ctx)
				if err != nil {
					return fmt.Errorf("history: %w", err)
				}
				return printSessions(out, sessions)
			}

			turns, err := st.Turns(ctx, args[0], last)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(turns) == 0 {
				return fmt.Errorf("history: no turns recorded for session %s", args[0])
			}
			feedback, err := st.Feedback(ctx, args[0])
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			printTranscript(out, turns, feedback)
			return nil
		},
	}

	cmd.Flags().IntVarP(&last, "last", "n", 0, "Show only the most recent N turns (0 = all)")

	return cmd
}

func printSessions(w io.Writer, sessions []store.SessionSummary) error {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No conversations recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tTURNS\tLAST TURN")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Session, s.Turns, s.LastTurn.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printTranscript(w io.Writer, turns []store.TurnRecord, feedback []store.FeedbackRecord) {
	byTurn := make(map[int][]store.FeedbackRecord)
	for _, f := range feedback {
		byTurn[f.TurnIndex] = append(byTurn[f.TurnIndex], f)
	}
	for _, t := range turns {
		fmt.Fprintf(w, "[%d] %s\nQ: %s\nA: %s\n", t.Index, t.CreatedAt.Local().Format(time.DateTime), t.Question, t.Answer)
		if len(t.Sources) > 0 {
			fmt.Fprintf(w, "Sources: %s\n", strings.Join(t.Sources, ", "))
		}
		for _, f := range byTurn[t.Index] {
			line := "Feedback: " + string(f.Verdict)
			if f.Comment != "" {
				line += " (" + f.Comment + ")"
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}
}
