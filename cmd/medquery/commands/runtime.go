package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"

	"github.com/54b3r/medquery-go/internal/chat"
	"github.com/54b3r/medquery-go/internal/config"
	"github.com/54b3r/medquery-go/internal/embedder"
	"github.com/54b3r/medquery-go/internal/generator"
	"github.com/54b3r/medquery-go/internal/ingestion"
	"github.com/54b3r/medquery-go/internal/memory"
	"github.com/54b3r/medquery-go/internal/provider"
	"github.com/54b3r/medquery-go/internal/rag"
	"github.com/54b3r/medquery-go/internal/rerank"
	"github.com/54b3r/medquery-go/internal/server"
	"github.com/54b3r/medquery-go/internal/store"
	"github.com/54b3r/medquery-go/internal/tracing"
	"github.com/54b3r/medquery-go/internal/vectorindex"
)

// runtimeOptions selects which parts of the pipeline a command needs.
type runtimeOptions struct {
	// Rebuild forces re-ingestion of the corpus.
	Rebuild bool
	// Chat builds the model, retriever and generator. Ingest-only commands
	// leave it false and never contact the chat backend.
	Chat bool
}

// runtime is the assembled pipeline shared by the ask, chat and serve
// commands. The corpus index is built or loaded exactly once, before any
// question is answered.
type runtime struct {
	log      *slog.Logger
	settings *config.Settings

	embedder *embedder.Guard
	corpus   *ingestion.Corpus

	providerCfg *provider.Config
	chatModel   model.BaseChatModel
	retriever   *rag.CompressionRetriever
	generator   *generator.Generator
	rewriter    *generator.Rewriter
	window      memory.Window

	// transcripts is nil when MEDQUERY_HISTORY_DB=disabled or the store
	// could not be opened.
	transcripts *store.SQLiteStore

	flushTraces func()
}

// newRuntime resolves settings and builds the pipeline. Any error here is
// a startup failure and is returned to Cobra.
func newRuntime(ctx context.Context, log *slog.Logger, opts runtimeOptions) (*runtime, error) {
	settings, err := config.SettingsFromEnv()
	if err != nil {
		return nil, err
	}
	rt := &runtime{log: log, settings: settings, flushTraces: func() {}}

	if err := embedder.Validate(log, settings.ChunkSize); err != nil {
		return nil, err
	}
	rt.embedder, err = embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", embedder.Backend()),
		slog.String("model", rt.embedder.ModelName()),
		slog.Int("dimensions", rt.embedder.Dimensions()),
	)

	metric, err := vectorindex.ParseMetric(settings.IndexMetric)
	if err != nil {
		return nil, err
	}
	rt.corpus, err = ingestion.OpenCorpus(ctx, rt.embedder, &ingestion.CorpusConfig{
		Backend:   settings.IndexBackend,
		CorpusDir: settings.CorpusDir,
		IndexPath: settings.IndexPath,
		Metric:    metric,
		Qdrant: vectorindex.QdrantConfig{
			Host:       settings.QdrantHost,
			Port:       settings.QdrantPort,
			Collection: settings.QdrantCollection,
			APIKey:     settings.QdrantAPIKey,
			UseTLS:     settings.QdrantTLS,
		},
		Pipeline: ingestion.Config{
			ChunkSize:    settings.ChunkSize,
			ChunkOverlap: settings.ChunkOverlap,
		},
		Rebuild: opts.Rebuild,
	}, func(msg string) { log.Info(msg) })
	if err != nil {
		return nil, err
	}

	if !opts.Chat {
		return rt, nil
	}
	if err := rt.buildChat(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// buildChat wires the model-facing half of the pipeline.
func (rt *runtime) buildChat(ctx context.Context) error {
	s := rt.settings
	log := rt.log

	rt.flushTraces = tracing.Setup(tracing.ConfigFromEnv(), log)

	var err error
	rt.chatModel, rt.providerCfg, err = provider.NewFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(rt.providerCfg.Backend)),
		slog.String("model", rt.providerCfg.ModelName()),
	)

	reranker, err := rerank.NewFromEnv(rt.chatModel)
	if err != nil {
		return err
	}
	rt.retriever, err = rag.NewCompressionRetriever(&rag.CompressionConfig{
		Embedder: rt.embedder,
		Index:    rt.corpus.Index,
		Reranker: reranker,
		KInitial: s.KInitial,
		KFinal:   s.KFinal,
	})
	if err != nil {
		return err
	}
	log.Info("retriever initialised",
		slog.String("reranker", reranker.Name()),
		slog.Int("k_initial", s.KInitial),
		slog.Int("k_final", s.KFinal),
	)

	tuning := rt.providerCfg.Tuning
	rt.generator, err = generator.New(&generator.Config{
		ChatModel: rt.chatModel,
		Decoding: generator.Decoding{
			Temperature: tuning.Temperature,
			TopP:        tuning.TopP,
			MaxTokens:   tuning.MaxTokens,
		},
		Timeout:          s.GenerationTimeout,
		MaxContextTokens: s.MaxContextTokens,
	})
	if err != nil {
		return err
	}
	if s.QueryRewrite {
		rt.rewriter = generator.NewRewriter(rt.chatModel)
	}

	rt.window, err = memory.ParseWindow(s.HistoryWindow, s.HistoryTurns)
	if err != nil {
		return err
	}

	rt.transcripts = openTranscripts(s, log)
	return nil
}

// openTranscripts opens the transcript store. Persistence is a side
// channel: failure to open it disables it with a warning.
func openTranscripts(s *config.Settings, log *slog.Logger) *store.SQLiteStore {
	if s.HistoryDisabled() {
		log.Info("history: disabled via MEDQUERY_HISTORY_DB=disabled")
		return nil
	}
	path := s.HistoryDB
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	st, err := store.Open(path)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", path))
	return st
}

// sessionFactory returns a chat.Factory building sessions that share the
// corpus retriever and own a fresh long-term memory. With MEMORY_INDEX_DIR
// set, a session's memory is loaded from and saved to its own directory.
func (rt *runtime) sessionFactory(observer chat.Observer) chat.Factory {
	return func(ctx context.Context, id string) (*chat.Session, error) {
		idx, dir, err := rt.memoryIndex(ctx, id)
		if err != nil {
			return nil, err
		}
		lt, err := memory.NewLongTerm(&memory.LongTermConfig{
			Embedder:      rt.embedder,
			Index:         idx,
			RecallK:       rt.settings.RecallK,
			MaxEmbedChars: rt.embedder.MaxInputChars(),
		})
		if err != nil {
			return nil, err
		}

		cfg := &chat.Config{
			ID:        id,
			Retriever: rt.retriever,
			Generator: rt.generator,
			LongTerm:  lt,
			Rewriter:  rt.rewriter,
			Window:    rt.window,
			RecallK:   rt.settings.RecallK,
			Observer:  observer,
		}
		if rt.transcripts != nil {
			cfg.Transcript = rt.transcripts
			cfg.FirstTurn = rt.nextTurn(ctx, id)
		}
		if dir != "" {
			cfg.OnClose = func(ctx context.Context) error {
				return idx.Persist(ctx, dir)
			}
		}
		return chat.NewSession(cfg)
	}
}

// nextTurn returns the index following the last stored turn of session
// id, so a resumed session keeps numbering where it stopped.
func (rt *runtime) nextTurn(ctx context.Context, id string) int {
	recs, err := rt.transcripts.Turns(ctx, id, 1)
	if err != nil {
		rt.log.Warn("history: could not read last turn, numbering from 0",
			slog.String("session", id), slog.Any("error", err))
		return 0
	}
	if len(recs) == 0 {
		return 0
	}
	return recs[len(recs)-1].Index + 1
}

// memoryIndex returns the long-term index for session id and, when memory
// persistence is on, the directory it lives in.
func (rt *runtime) memoryIndex(ctx context.Context, id string) (*vectorindex.Flat, string, error) {
	base := rt.settings.MemoryIndexDir
	if base == "" {
		idx, err := vectorindex.NewFlat(rt.embedder.Dimensions(), vectorindex.Cosine)
		return idx, "", err
	}

	dir := filepath.Join(base, sessionDirName(id))
	if vectorindex.Exists(dir) {
		idx, err := vectorindex.Load(ctx, dir, rt.embedder.Dimensions())
		if err == nil {
			return idx, dir, nil
		}
		rt.log.Warn("memory: persisted session memory unreadable, starting empty",
			slog.String("session", id),
			slog.Any("error", err),
		)
	}
	idx, err := vectorindex.NewFlat(rt.embedder.Dimensions(), vectorindex.Cosine)
	if err != nil {
		return nil, "", err
	}
	idx.SetModel(rt.embedder.ModelName())
	return idx, dir, nil
}

// sessionNamespace scopes the directory names derived from session ids.
var sessionNamespace = uuid.MustParse("0c6b7d1e-52f4-4a8e-9d3b-6a1f2e7c8b90")

// sessionDirName maps a client-supplied session id onto a safe directory
// name. The name is a UUIDv5 of the id, so distinct ids never share a
// directory; a sanitised prefix keeps it recognisable on disk.
func sessionDirName(id string) string {
	prefix := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if len(prefix) > 24 {
		prefix = prefix[:24]
	}
	if prefix == "" {
		prefix = "_"
	}
	return prefix + "." + uuid.NewSHA1(sessionNamespace, []byte(id)).String()
}

// closeErr releases the shared resources and joins their errors.
func (rt *runtime) closeErr() error {
	var errs []error
	if rt.corpus != nil {
		errs = append(errs, rt.corpus.Index.Close())
	}
	if rt.transcripts != nil {
		errs = append(errs, rt.transcripts.Close())
	}
	return errors.Join(errs...)
}

// Close flushes traces and releases the corpus index and transcript store.
func (rt *runtime) Close() {
	rt.flushTraces()
	if err := rt.closeErr(); err != nil {
		rt.log.Warn("shutdown: failed to release resources", slog.Any("error", err))
	}
}

// pingers returns the readiness probes for the configured backends.
func (rt *runtime) pingers() []server.Pinger {
	ps := []server.Pinger{
		server.NewEmbedderPinger(rt.embedder),
		server.NewLLMPinger(rt.chatModel, string(rt.providerCfg.Backend)),
	}
	if rt.corpus.Qdrant != nil {
		ps = append(ps, server.NewIndexPinger(rt.corpus.Qdrant, "qdrant"))
	}
	return ps
}
