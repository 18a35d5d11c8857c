package rerank

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// judgePrompt asks the chat model for a single relevance grade.
const judgePrompt = `You grade search results for a medical question-answering system.
Rate how useful the passage is for answering the question on a scale from 0 (unrelated) to 10 (directly answers it).
Reply with the number only.`

// gradePattern extracts the first number of the model reply, sign
// included.
var gradePattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// LLMJudge scores a pair by asking a chat model to grade the passage. It
// is slower than a dedicated cross-encoder and is meant for deployments
// that only have a chat model available.
type LLMJudge struct {
	model model.BaseChatModel
}

// NewLLMJudge constructs the scorer around m.
func NewLLMJudge(m model.BaseChatModel) (*LLMJudge, error) {
	if m == nil {
		return nil, fmt.Errorf("rerank: chat model must not be nil")
	}
	return &LLMJudge{model: m}, nil
}

// Name identifies the scorer.
func (*LLMJudge) Name() string { return "llm-judge" }

// Score asks the model for a 0-10 grade and normalises it to [0, 1].
func (j *LLMJudge) Score(ctx context.Context, query, candidate string) (float64, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(judgePrompt),
		schema.UserMessage(fmt.Sprintf("Question: %s\n\nPassage:\n%s", query, candidate)),
	}

	resp, err := j.model.Generate(ctx, msgs, model.WithTemperature(0), model.WithMaxTokens(8))
	if err != nil {
		return 0, fmt.Errorf("llm-judge: generate: %w", err)
	}
	if resp == nil {
		return 0, fmt.Errorf("llm-judge: empty response")
	}
	return parseGrade(resp.Content)
}

// parseGrade reads the first number of reply, clamped to [0, 10] and scaled
// to [0, 1].
func parseGrade(reply string) (float64, error) {
	m := gradePattern.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("llm-judge: no grade in reply %q", reply)
	}
	g, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, fmt.Errorf("llm-judge: parse grade %q: %w", m, err)
	}
	return min(max(g, 0), 10) / 10, nil
}
