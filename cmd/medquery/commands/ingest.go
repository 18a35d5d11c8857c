package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/medquery-go/internal/logging"
)

// NewIngestCmd constructs the `medquery ingest` command, which builds the
// corpus index from CORPUS_DIR, or loads it when it already exists.
func NewIngestCmd() *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the vector index from the medical document library",
		Long: `Chunk, embed and index every document in CORPUS_DIR.

With the local backend the index is persisted to INDEX_PATH; an existing
index is loaded instead of rebuilt unless --rebuild is given. With
INDEX_BACKEND=qdrant the chunks are upserted into QDRANT_COLLECTION.
Plain text, Markdown and PDF files are supported.

Relevant environment variables:
  CORPUS_DIR           Document directory (default: ./medical_documents)
  INDEX_PATH           Local index directory (default: ./medquery_index)
  INDEX_BACKEND        local or qdrant (default: local)
  CHUNK_SIZE           Characters per chunk (default: 500)
  CHUNK_OVERLAP        Characters shared by adjacent chunks (default: 50)
  EMBEDDING_PROVIDER   ollama, openai, azure or hash (default: inherited)

Examples:
  medquery ingest
  CORPUS_DIR=./docs medquery ingest --rebuild
  INDEX_BACKEND=qdrant medquery ingest`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := newRuntime(ctx, log, runtimeOptions{Rebuild: rebuild})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer rt.Close()

			n, err := rt.corpus.Index.Len(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			out := cmd.OutOrStdout()
			if !rt.corpus.Built {
				fmt.Fprintf(out, "Index already present with %d chunks (use --rebuild to re-ingest).\n", n)
				return nil
			}
			st := rt.corpus.Stats
			fmt.Fprintf(out, "Indexed %d chunks from %d documents in %s.\n", st.Chunks, st.Documents, st.Elapsed.Round(time.Millisecond))
			log.Info("ingest: complete", slog.Int("chunks", n))
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Re-ingest the corpus even if an index already exists")

	return cmd
}
