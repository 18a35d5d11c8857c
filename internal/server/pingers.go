package server

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/medquery-go/internal/rag"
)

// LLMPinger probes the chat backend with a single-token generate request.
// It satisfies the Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// model is the chat model to probe.
	model model.BaseChatModel
	// name identifies the backend in readiness responses (e.g. "llm:ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
func NewLLMPinger(m model.BaseChatModel, backend string) *LLMPinger {
	return &LLMPinger{model: m, name: "llm:" + backend}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping asks the model for one token. This consumes a token per probe, so
// orchestrators should poll /api/ready sparingly.
func (p *LLMPinger) Ping(ctx context.Context) error {
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")}, model.WithMaxTokens(1))
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// EmbedderPinger probes the embedding backend by embedding a short text
// and checking the vector dimension.
type EmbedderPinger struct {
	// embedder is the backend to probe.
	embedder rag.Embedder
}

// NewEmbedderPinger constructs an EmbedderPinger.
func NewEmbedderPinger(e rag.Embedder) *EmbedderPinger {
	return &EmbedderPinger{embedder: e}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return "embedder" }

// Ping embeds one probe text.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vecs, err := p.embedder.Embed(ctx, []string{"ping"})
	if err != nil {
		return err
	}
	if len(vecs) != 1 || len(vecs[0]) != p.embedder.Dimensions() {
		return fmt.Errorf("unexpected embedding shape")
	}
	return nil
}

// healthChecker is implemented by index backends with a native health probe.
type healthChecker interface {
	Ping(ctx context.Context) error
}

// IndexPinger probes a remote vector index (Qdrant) using its native
// HealthCheck RPC.
type IndexPinger struct {
	// index is the backend to probe.
	index healthChecker
	// name is the dependency label.
	name string
}

// NewIndexPinger constructs an IndexPinger labelled name.
func NewIndexPinger(index healthChecker, name string) *IndexPinger {
	return &IndexPinger{index: index, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return p.name }

// Ping calls the backend health check.
func (p *IndexPinger) Ping(ctx context.Context) error {
	return p.index.Ping(ctx)
}
