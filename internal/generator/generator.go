// Package generator turns a question, the retrieved passages and the
// conversation history into a grounded answer using a chat model. The prompt
// template and decoding configuration are fixed when the Generator is built
// and applied identically to every call.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/medquery-go/internal/budget"
	"github.com/54b3r/medquery-go/internal/logging"
	"github.com/54b3r/medquery-go/internal/memory"
	"github.com/54b3r/medquery-go/internal/rag"
)

// Disclaimer closes every answer.
const Disclaimer = "Please remember, I am an AI assistant and not a medical professional. " +
	"Always consult with a qualified healthcare professional for any medical advice or diagnosis."

// systemPrompt establishes the assistant persona and its safety rules.
const systemPrompt = `You are MedQuery, a conversational healthcare information assistant. You answer questions about symptoms, conditions, treatments and wellness using a curated library of medical documents.

Rules:
1. Grounding: base your answer on the reference passages supplied with each question. If they do not cover the question, say so plainly and answer only with widely accepted general information.
2. Accuracy and safety: never state anything you cannot support. Do not recommend doses or stopping a medication.
3. Sources: when you use a passage, mention its source file name in square brackets, e.g. [diabetes.txt].
4. Scope: you provide information, not diagnoses. Never tell the user what condition they have.
5. Tone: professional, empathetic and clear. Explain technical terms simply.
6. At the end of every answer, include this disclaimer exactly as written: "` + Disclaimer + `"`

// finishReasonLength is reported by backends when MaxTokens cut the answer.
const finishReasonLength = "length"

// Decoding is the sampling configuration of the model.
type Decoding struct {
	// Temperature controls randomness. Default 0.3.
	Temperature float32

	// TopP is the nucleus sampling mass. Default 0.95.
	TopP float32

	// MaxTokens bounds the answer length. Default 512.
	MaxTokens int
}

// DefaultDecoding is the low-temperature configuration used for medical
// answers.
func DefaultDecoding() Decoding {
	return Decoding{Temperature: 0.3, TopP: 0.95, MaxTokens: 512}
}

// options renders d as eino call options.
func (d Decoding) options() []model.Option {
	return []model.Option{
		model.WithTemperature(d.Temperature),
		model.WithTopP(d.TopP),
		model.WithMaxTokens(d.MaxTokens),
	}
}

// Config holds the dependencies and fixed settings of a Generator.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// Decoding is applied to every call. A zero Decoding takes the
	// defaults; otherwise temperature 0 means greedy decoding and only
	// invalid fields are replaced.
	Decoding Decoding

	// Timeout bounds one generation. Defaults to 2 minutes.
	Timeout time.Duration

	// MaxContextTokens is the estimated input budget. History is trimmed
	// oldest-first to fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Generator produces answers from a fixed prompt template.
type Generator struct {
	model            model.BaseChatModel
	decoding         Decoding
	timeout          time.Duration
	maxContextTokens int
}

// New constructs a Generator from cfg.
func New(cfg *Config) (*Generator, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("generator: ChatModel must not be nil")
	}

	d := cfg.Decoding
	def := DefaultDecoding()
	if d == (Decoding{}) {
		d = def
	}
	if d.Temperature < 0 {
		d.Temperature = def.Temperature
	}
	if d.TopP <= 0 || d.TopP > 1 {
		d.TopP = def.TopP
	}
	if d.MaxTokens <= 0 {
		d.MaxTokens = def.MaxTokens
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Generator{
		model:            cfg.ChatModel,
		decoding:         d,
		timeout:          timeout,
		maxContextTokens: maxCtx,
	}, nil
}

// Decoding reports the fixed sampling configuration.
func (g *Generator) Decoding() Decoding { return g.decoding }

// Request is the input of one generation.
type Request struct {
	// Question is the user's message.
	Question string

	// Passages are the retrieved corpus passages, best first. May be empty.
	Passages []rag.Document

	// History is the windowed conversation, oldest first.
	History []memory.Turn

	// Summary condenses turns older than History. May be empty.
	Summary string

	// Recalled are long-term memory records related to the question.
	Recalled []rag.Document
}

// Generate answers req. Backend failures, timeouts, empty output and
// answers cut off by the token limit all fail with rag.ErrGeneration; no
// retry is attempted.
func (g *Generator) Generate(ctx context.Context, req *Request) (string, error) {
	msgs := g.buildMessages(ctx, req)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.model.Generate(ctx, msgs, g.decoding.options()...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("generator: timed out after %s: %w: %w", g.timeout, rag.ErrGeneration, err)
		}
		return "", fmt.Errorf("generator: model call failed: %w: %w", rag.ErrGeneration, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("generator: model returned an empty answer: %w", rag.ErrGeneration)
	}
	if resp.ResponseMeta != nil && resp.ResponseMeta.FinishReason == finishReasonLength {
		return "", fmt.Errorf("generator: answer truncated at %d tokens: %w", g.decoding.MaxTokens, rag.ErrGeneration)
	}

	logging.FromContext(ctx).Debug("generator: answer complete",
		slog.Int("prompt_messages", len(msgs)),
		slog.Int("answer_chars", len(resp.Content)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return strings.TrimSpace(resp.Content), nil
}

// buildMessages renders the prompt template:
// [system, ...history, summary?, context, memories?, question].
func (g *Generator) buildMessages(ctx context.Context, req *Request) []*schema.Message {
	system := schema.SystemMessage(systemPrompt)

	var middle []*schema.Message
	if req.Summary != "" {
		middle = append(middle, schema.SystemMessage("## Earlier in this conversation\n\n"+req.Summary))
	}
	middle = append(middle, schema.SystemMessage(buildContext(req.Passages)))
	if len(req.Recalled) > 0 {
		middle = append(middle, schema.SystemMessage(buildRecall(req.Recalled)))
	}
	question := schema.UserMessage(req.Question)

	fixed := append([]*schema.Message{system}, middle...)
	fixed = append(fixed, question)

	turns := make([][]*schema.Message, len(req.History))
	for i, t := range req.History {
		turns[i] = []*schema.Message{
			schema.UserMessage(t.Question),
			schema.AssistantMessage(t.Answer, nil),
		}
	}
	kept, dropped := budget.TrimTurns(fixed, turns, g.maxContextTokens)
	if dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history turns to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(kept)),
			slog.Int("max_tokens", g.maxContextTokens),
		)
	}

	out := make([]*schema.Message, 0, len(fixed)+2*len(kept))
	out = append(out, system)
	out = append(out, budget.Flatten(kept)...)
	out = append(out, middle...)
	out = append(out, question)
	return out
}

// buildContext formats the retrieved passages, each tagged with its source.
func buildContext(docs []rag.Document) string {
	if len(docs) == 0 {
		return "## Reference Passages\n\nNo passages in the medical library matched this question. " +
			"Say that the library does not cover it before giving any general information."
	}

	var sb strings.Builder
	sb.WriteString("## Reference Passages\n\n")
	sb.WriteString("Answer using these excerpts from the medical library.\n\n")
	for i, doc := range docs {
		fmt.Fprintf(&sb, "### Passage %d [%s]\n%s\n\n", i+1, doc.Source, doc.Content)
	}
	return sb.String()
}

// buildRecall formats long-term memory records.
func buildRecall(docs []rag.Document) string {
	var sb strings.Builder
	sb.WriteString("## Related Earlier Exchanges\n\n")
	sb.WriteString("The user discussed these topics before; use them only for continuity, not as medical sources.\n\n")
	for _, doc := range docs {
		fmt.Fprintf(&sb, "%s\n\n", doc.Content)
	}
	return sb.String()
}
