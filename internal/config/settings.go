package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads ./.env (or the given files) into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("config: load %s: %w", strings.Join(present, ", "), err)
	}
	return nil
}

// Settings are the typed runtime settings of the RAG pipeline, resolved
// from the environment after Load has applied the YAML layer. Provider,
// embedding and rerank backends read their own variables.
type Settings struct {
	CorpusDir    string
	IndexPath    string
	IndexBackend string
	IndexMetric  string
	ChunkSize    int
	ChunkOverlap int

	KInitial     int
	KFinal       int
	QueryRewrite bool

	RecallK          int
	MemoryIndexDir   string
	HistoryWindow    string
	HistoryTurns     int
	MaxContextTokens int

	GenerationTimeout time.Duration

	// SessionIdleTTL and MaxSessions bound the live sessions of a server.
	// Zero disables either limit.
	SessionIdleTTL time.Duration
	MaxSessions    int

	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTLS        bool

	// HistoryDB is the transcript database path, "" for the default
	// location, or "disabled".
	HistoryDB string
}

// SettingsFromEnv resolves Settings from environment variables, applying
// defaults and rejecting malformed or inconsistent values.
func SettingsFromEnv() (*Settings, error) {
	p := &envParser{}
	s := &Settings{
		CorpusDir:    envOr("CORPUS_DIR", "./medical_documents"),
		IndexPath:    envOr("INDEX_PATH", "./medquery_index"),
		IndexBackend: strings.ToLower(envOr("INDEX_BACKEND", "local")),
		IndexMetric:  strings.ToLower(envOr("INDEX_METRIC", "cosine")),
		ChunkSize:    p.intVar("CHUNK_SIZE", 500),
		ChunkOverlap: p.intVar("CHUNK_OVERLAP", 50),

		KInitial:     p.intVar("RETRIEVAL_K_INITIAL", 8),
		KFinal:       p.intVar("RETRIEVAL_K_FINAL", 4),
		QueryRewrite: p.boolVar("QUERY_REWRITE", false),

		RecallK:          p.intVar("MEMORY_RECALL_K", 2),
		MemoryIndexDir:   os.Getenv("MEMORY_INDEX_DIR"),
		HistoryWindow:    strings.ToLower(envOr("HISTORY_WINDOW", "full")),
		HistoryTurns:     p.intVar("HISTORY_TURNS", 6),
		MaxContextTokens: p.intVar("MAX_CONTEXT_TOKENS", 6000),

		GenerationTimeout: p.durationVar("GENERATION_TIMEOUT", 2*time.Minute),

		SessionIdleTTL: p.durationVar("SESSION_IDLE_TTL", 30*time.Minute),
		MaxSessions:    p.intVar("MAX_SESSIONS", 1000),

		QdrantHost:       envOr("QDRANT_HOST", "localhost"),
		QdrantPort:       p.intVar("QDRANT_PORT", 6334),
		QdrantCollection: envOr("QDRANT_COLLECTION", "medquery-corpus"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:        p.boolVar("QDRANT_TLS", false),

		HistoryDB: os.Getenv("MEDQUERY_HISTORY_DB"),
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	var errs []error
	if s.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", s.ChunkSize))
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", s.ChunkOverlap))
	}
	if s.KInitial <= 0 || s.KFinal <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_K_INITIAL and RETRIEVAL_K_FINAL must be positive, got %d and %d", s.KInitial, s.KFinal))
	} else if s.KFinal > s.KInitial {
		errs = append(errs, fmt.Errorf("RETRIEVAL_K_FINAL (%d) must not exceed RETRIEVAL_K_INITIAL (%d)", s.KFinal, s.KInitial))
	}
	if s.RecallK < 0 {
		errs = append(errs, fmt.Errorf("MEMORY_RECALL_K must not be negative, got %d", s.RecallK))
	}
	if s.MaxContextTokens <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONTEXT_TOKENS must be positive, got %d", s.MaxContextTokens))
	}
	if s.GenerationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GENERATION_TIMEOUT must be positive, got %s", s.GenerationTimeout))
	}
	if s.SessionIdleTTL < 0 || s.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("SESSION_IDLE_TTL and MAX_SESSIONS must not be negative, got %s and %d", s.SessionIdleTTL, s.MaxSessions))
	}
	switch s.IndexBackend {
	case "local", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("INDEX_BACKEND %q — valid values: local, qdrant", s.IndexBackend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid settings: %w", errors.Join(errs...))
	}
	return nil
}

// HistoryDisabled reports whether transcript persistence is off.
func (s *Settings) HistoryDisabled() bool {
	return strings.EqualFold(s.HistoryDB, "disabled")
}

// envOr returns the named variable or fallback when unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envParser parses typed variables and collects every malformed one.
type envParser struct {
	errs []error
}

func (p *envParser) intVar(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return i
}

func (p *envParser) boolVar(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

func (p *envParser) durationVar(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}

func (p *envParser) err() error {
	if len(p.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: malformed environment: %w", errors.Join(p.errs...))
}
