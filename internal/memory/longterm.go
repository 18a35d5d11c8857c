package memory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/medquery-go/internal/rag"
)

// DefaultRecallK is how many prior exchanges Recall returns by default.
const DefaultRecallK = 2

// Record renders a turn as the text stored in long-term memory.
func Record(t Turn) string {
	return fmt.Sprintf("User: %s\nBot: %s", t.Question, t.Answer)
}

// LongTerm accumulates one embedded record per completed turn in its own
// vector index, separate from the corpus, and recalls the records most
// similar to a new question.
type LongTerm struct {
	embedder rag.Embedder
	index    rag.VectorIndex
	recall   *rag.SimilarityRetriever

	// maxChars truncates the text that is embedded; the stored record is
	// always complete.
	maxChars int
}

// LongTermConfig configures a LongTerm memory.
type LongTermConfig struct {
	// Embedder embeds records and recall queries.
	Embedder rag.Embedder

	// Index stores the records. It must be owned by a single session.
	Index rag.VectorIndex

	// RecallK is the default number of records returned by Recall.
	RecallK int

	// MaxEmbedChars truncates records before embedding so that long
	// answers never exceed the embedder input limit. Zero disables it.
	MaxEmbedChars int
}

// NewLongTerm constructs the memory from cfg.
func NewLongTerm(cfg *LongTermConfig) (*LongTerm, error) {
	if cfg.RecallK <= 0 {
		cfg.RecallK = DefaultRecallK
	}
	recall, err := rag.NewSimilarityRetriever(cfg.Embedder, cfg.Index, cfg.RecallK)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	return &LongTerm{
		embedder: cfg.Embedder,
		index:    cfg.Index,
		recall:   recall,
		maxChars: cfg.MaxEmbedChars,
	}, nil
}

// Remember embeds the record of t and appends it to the index. turnIndex is
// stored as metadata. On error the index is unchanged.
func (l *LongTerm) Remember(ctx context.Context, t Turn, turnIndex int) error {
	record := Record(t)

	text := record
	if r := []rune(text); l.maxChars > 0 && len(r) > l.maxChars {
		text = string(r[:l.maxChars])
	}

	vec, err := rag.EmbedText(ctx, l.embedder, text)
	if err != nil {
		return fmt.Errorf("memory: embed record: %w", err)
	}

	doc := rag.Document{
		ID:      uuid.NewString(),
		Content: record,
		Source:  "conversation",
		Metadata: map[string]string{
			"kind":       "memory",
			"turn_index": strconv.Itoa(turnIndex),
			"created_at": t.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
	if err := l.index.Add(ctx, []rag.Document{doc}, [][]float32{vec}); err != nil {
		return fmt.Errorf("memory: add record: %w", err)
	}
	return nil
}

// Recall returns up to k stored records most similar to query. k <= 0 uses
// the configured default. An empty memory yields an empty result.
func (l *LongTerm) Recall(ctx context.Context, query string, k int) ([]rag.Document, error) {
	if k <= 0 {
		return l.recall.Retrieve(ctx, query)
	}
	return l.recall.RetrieveK(ctx, query, k)
}

// Len reports the number of stored records.
func (l *LongTerm) Len(ctx context.Context) (int, error) {
	return l.index.Len(ctx)
}

// Index exposes the backing index, e.g. for persistence at shutdown.
func (l *LongTerm) Index() rag.VectorIndex {
	return l.index
}
