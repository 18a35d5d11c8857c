package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/medquery-go/internal/logging"
	"github.com/54b3r/medquery-go/internal/rag"
	"github.com/54b3r/medquery-go/internal/vectorindex"
)

// Index backends.
const (
	BackendLocal  = "local"
	BackendQdrant = "qdrant"
)

// CorpusConfig configures OpenCorpus.
type CorpusConfig struct {
	// Backend is BackendLocal (flat index persisted under IndexPath) or
	// BackendQdrant.
	Backend string

	// CorpusDir is the directory of medical documents.
	CorpusDir string

	// IndexPath is the directory of the persisted local index. Its
	// existence decides between load and build.
	IndexPath string

	// Metric is the index similarity metric, for either backend.
	Metric vectorindex.Metric

	// Qdrant configures the Qdrant backend. VectorSize is taken from the
	// embedder.
	Qdrant vectorindex.QdrantConfig

	// Pipeline configures chunking and embedding when a build is needed.
	Pipeline Config

	// Rebuild forces ingestion even when a persisted index exists.
	Rebuild bool
}

// Corpus is the opened corpus index.
type Corpus struct {
	// Index is the shared, read-only corpus index.
	Index rag.VectorIndex

	// Built is true when the corpus was ingested during this call.
	Built bool

	// Stats describes the ingestion run when Built is true.
	Stats *Stats

	// Qdrant is set when the Qdrant backend is in use, for readiness probes.
	Qdrant *vectorindex.Qdrant
}

// OpenCorpus returns the corpus index, loading its persisted form when
// present and ingesting CorpusDir otherwise. The decision is taken once;
// any failure is fatal for the caller and no partial index is returned.
func OpenCorpus(ctx context.Context, emb rag.Embedder, cfg *CorpusConfig, progress func(string)) (*Corpus, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return openLocal(ctx, emb, cfg, progress)
	case BackendQdrant:
		return openQdrant(ctx, emb, cfg, progress)
	default:
		return nil, fmt.Errorf("ingestion: unknown INDEX_BACKEND %q — valid values: local, qdrant", cfg.Backend)
	}
}

func openLocal(ctx context.Context, emb rag.Embedder, cfg *CorpusConfig, progress func(string)) (*Corpus, error) {
	log := logging.FromContext(ctx)

	if !cfg.Rebuild && vectorindex.Exists(cfg.IndexPath) {
		idx, err := vectorindex.Load(ctx, cfg.IndexPath, emb.Dimensions())
		if err != nil {
			return nil, err
		}
		if m := idx.Model(); m != "" && m != emb.ModelName() {
			log.Warn("ingestion: index was built with a different embedding model of the same dimension",
				slog.String("index_model", m),
				slog.String("embedding_model", emb.ModelName()),
			)
		}
		n, _ := idx.Len(ctx)
		log.Info("ingestion: loaded persisted index",
			slog.String("path", cfg.IndexPath),
			slog.Int("entries", n),
		)
		return &Corpus{Index: idx}, nil
	}

	metric := cfg.Metric
	if metric == "" {
		metric = vectorindex.Cosine
	}
	idx, err := vectorindex.NewFlat(emb.Dimensions(), metric)
	if err != nil {
		return nil, err
	}
	stats, err := ingestDir(ctx, emb, idx, cfg, progress)
	if err != nil {
		return nil, err
	}
	idx.SetModel(emb.ModelName())
	if err := idx.Persist(ctx, cfg.IndexPath); err != nil {
		return nil, err
	}
	log.Info("ingestion: index persisted", slog.String("path", cfg.IndexPath))
	return &Corpus{Index: idx, Built: true, Stats: stats}, nil
}

func openQdrant(ctx context.Context, emb rag.Embedder, cfg *CorpusConfig, progress func(string)) (*Corpus, error) {
	qcfg := cfg.Qdrant
	qcfg.VectorSize = uint64(emb.Dimensions())
	qcfg.Metric = cfg.Metric
	q, err := vectorindex.OpenQdrant(ctx, &qcfg)
	if err != nil {
		return nil, err
	}

	n, err := q.Len(ctx)
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	if !cfg.Rebuild && !q.Created() && n > 0 {
		logging.FromContext(ctx).Info("ingestion: using existing qdrant collection",
			slog.String("collection", qcfg.Collection),
			slog.Int("entries", n),
		)
		return &Corpus{Index: q, Qdrant: q}, nil
	}

	// Point ids derive from chunk ids, so re-ingesting overwrites rather
	// than duplicates.
	stats, err := ingestDir(ctx, emb, q, cfg, progress)
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	return &Corpus{Index: q, Built: true, Stats: stats, Qdrant: q}, nil
}

func ingestDir(ctx context.Context, emb rag.Embedder, idx rag.VectorIndex, cfg *CorpusConfig, progress func(string)) (*Stats, error) {
	docs, err := LoadDirectory(ctx, cfg.CorpusDir)
	if err != nil {
		return nil, err
	}
	p, err := NewPipeline(emb, idx, &cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	return p.Ingest(ctx, docs, progress)
}
