package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/medquery-go/internal/chat"
	"github.com/54b3r/medquery-go/internal/logging"
)

// NewAskCmd constructs the `medquery ask` command, which answers a single
// question and prints the answer with its sources.
func NewAskCmd() *cobra.Command {
	var sessionFlag string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single medical question",
		Long: `Ask MedQuery one question. The answer is grounded in the indexed document
library and followed by the source files it was drawn from.

Examples:
  medquery ask "How is diabetes treated?"
  medquery ask --session alice "What about blood pressure?"
  MODEL_PROVIDER=openai medquery ask "What are the side effects of ACE inhibitors?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := newRuntime(ctx, log, runtimeOptions{Chat: true})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rt.Close()

			session, err := rt.sessionFactory(nil)(ctx, resolveSessionID(sessionFlag))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer session.Close(ctx) //nolint:errcheck

			res, err := session.Answer(ctx, strings.Join(args, " "))
			if res == nil {
				return fmt.Errorf("ask: %w", err)
			}
			printResult(cmd.OutOrStdout(), res)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "Session id to continue (default: a new session)")
	return cmd
}

// printResult writes an answer followed by its sources.
func printResult(w io.Writer, res *chat.Result) {
	fmt.Fprintln(w, res.Answer)
	if len(res.Sources) > 0 {
		fmt.Fprintf(w, "\nSources: %s\n", strings.Join(res.Sources, ", "))
	}
}
