// Package ingestion builds the corpus index. It loads medical documents from
// a directory, chunks them, embeds every chunk and adds the results to a
// vector index. It also decides at startup whether a persisted index can be
// loaded or the corpus must be ingested again.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/medquery-go/internal/chunker"
	"github.com/54b3r/medquery-go/internal/logging"
	"github.com/54b3r/medquery-go/internal/rag"
)

const (
	// DefaultChunkSize is the chunk length in characters.
	DefaultChunkSize = 500
	// DefaultChunkOverlap is the overlap between consecutive chunks.
	DefaultChunkOverlap = 50

	defaultBatchSize   = 32
	defaultConcurrency = 4
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 500 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Must be smaller than ChunkSize.
	ChunkOverlap int

	// BatchSize is the number of chunks sent to the embedder per call.
	// Defaults to 32 if zero.
	BatchSize int

	// Concurrency bounds the number of embedding calls in flight.
	// Defaults to 4 if zero.
	Concurrency int
}

// Stats summarises one ingestion run.
type Stats struct {
	Documents int
	Chunks    int
	Elapsed   time.Duration
}

// Pipeline orchestrates the chunk → embed → add flow for a set of documents.
type Pipeline struct {
	// embedder converts chunk text into dense vectors.
	embedder rag.Embedder

	// index receives the embedded chunks.
	index rag.VectorIndex

	// cfg holds the resolved pipeline configuration.
	cfg Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// Invalid chunking parameters fail with rag.ErrIngestion.
func NewPipeline(embedder rag.Embedder, index rag.VectorIndex, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if err := chunker.Validate(c.ChunkSize, c.ChunkOverlap); err != nil {
		return nil, err
	}
	return &Pipeline{embedder: embedder, index: index, cfg: c}, nil
}

// Ingest chunks, embeds and indexes docs. Chunks are added to the index in
// document order with a single Add call, so a failure part-way leaves the
// index unchanged. A corpus that yields no chunks fails with
// rag.ErrIngestion. progress may be called from several goroutines.
func (p *Pipeline) Ingest(ctx context.Context, docs []rag.SourceDocument, progress func(msg string)) (*Stats, error) {
	if progress == nil {
		progress = func(string) {}
	}
	start := time.Now()

	var chunks []chunker.Chunk
	for _, doc := range docs {
		cs, err := chunker.Split(doc, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		if err != nil {
			return nil, fmt.Errorf("ingestion: chunk %s: %w", doc.Source, err)
		}
		progress(fmt.Sprintf("chunked %s into %d chunks", doc.Source, len(cs)))
		for _, c := range cs {
			// Whitespace-only chunks carry nothing to retrieve and are
			// rejected by the embedder guard.
			if strings.TrimSpace(c.Text) != "" {
				chunks = append(chunks, c)
			}
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ingestion: corpus produced no chunks: %w", rag.ErrIngestion)
	}

	vectors, err := p.embed(ctx, chunks, progress)
	if err != nil {
		return nil, err
	}

	if err := p.index.Add(ctx, chunker.Documents(chunks), vectors); err != nil {
		return nil, fmt.Errorf("ingestion: add to index: %w", err)
	}

	stats := &Stats{Documents: len(docs), Chunks: len(chunks), Elapsed: time.Since(start)}
	logging.FromContext(ctx).Info("ingestion: corpus indexed",
		slog.Int("documents", stats.Documents),
		slog.Int("chunks", stats.Chunks),
		slog.String("embedding_model", p.embedder.ModelName()),
		slog.Duration("elapsed", stats.Elapsed),
	)
	return stats, nil
}

// embed embeds chunks in batches with bounded parallelism. vectors[i]
// always belongs to chunks[i].
func (p *Pipeline) embed(ctx context.Context, chunks []chunker.Chunk, progress func(string)) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for lo := 0; lo < len(chunks); lo += p.cfg.BatchSize {
		hi := min(lo+p.cfg.BatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i := range texts {
				texts[i] = chunks[lo+i].Text
			}
			vecs, err := p.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("ingestion: embed chunks %d-%d: %w", lo, hi-1, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("ingestion: embedder returned %d vectors for %d chunks: %w", len(vecs), len(texts), rag.ErrEmbedding)
			}
			copy(vectors[lo:hi], vecs)
			progress(fmt.Sprintf("embedded chunks %d-%d of %d", lo+1, hi, len(chunks)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
