// Package commands defines all Cobra CLI commands for the medquery binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/medquery-go/internal/audit"
	"github.com/54b3r/medquery-go/internal/config"
	"github.com/54b3r/medquery-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "medquery",
		Short: "MedQuery — answers medical questions from your own document library",
		Long: `MedQuery is a conversational assistant that answers medical questions
grounded in a local library of medical documents.

Documents in CORPUS_DIR are chunked, embedded and indexed once; every
question retrieves the most relevant passages, reranks them and asks the
configured model to answer from them, citing the source files. Follow-up
questions are understood in the context of the conversation.

MedQuery provides general information only and is not a substitute for
professional medical advice.

Settings come from environment variables, a .env file in the working
directory, or a YAML config file (~/.medquery/config.yaml).
See 'medquery --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env never overrides the real environment; YAML fills what is
			// still unset.
			if err := config.LoadDotEnv(); err != nil {
				return err
			}

			log := logging.New()

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.medquery/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
