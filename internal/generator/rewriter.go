package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/medquery-go/internal/memory"
	"github.com/54b3r/medquery-go/internal/rag"
)

const condensePrompt = `Rewrite the user's follow-up message as a single standalone question about health or medicine that can be understood without the conversation. Keep the user's wording where possible. Reply with the question only.`

// rewriteTurns bounds how much history the rewriter sees.
const rewriteTurns = 3

// Rewriter condenses a follow-up question and the recent conversation into a
// standalone retrieval query.
type Rewriter struct {
	model model.BaseChatModel
}

// NewRewriter returns a Rewriter backed by chat.
func NewRewriter(chat model.BaseChatModel) *Rewriter {
	return &Rewriter{model: chat}
}

// Condense returns the standalone form of question. With no history the
// question is returned unchanged and the model is not called.
func (r *Rewriter) Condense(ctx context.Context, question string, history []memory.Turn) (string, error) {
	if len(history) == 0 {
		return question, nil
	}
	if len(history) > rewriteTurns {
		history = history[len(history)-rewriteTurns:]
	}

	var sb strings.Builder
	sb.WriteString("Conversation:\n")
	for _, t := range history {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	fmt.Fprintf(&sb, "\nFollow-up message: %s", question)

	msgs := []*schema.Message{
		schema.SystemMessage(condensePrompt),
		schema.UserMessage(sb.String()),
	}
	resp, err := r.model.Generate(ctx, msgs, model.WithTemperature(0), model.WithMaxTokens(128))
	if err != nil {
		return "", fmt.Errorf("generator: condense question: %w: %w", rag.ErrGeneration, err)
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("generator: condense question: empty rewrite: %w", rag.ErrGeneration)
	}
	return out, nil
}
