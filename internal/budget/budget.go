// Package budget estimates prompt size and trims conversation history to fit
// the model's input context. Because the supported backends use different
// tokenizers, it relies on a conservative character heuristic:
// 1 token ≈ 4 characters of English prose.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role and framing tokens most chat
	// APIs add around every message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default input budget. It fits 8k-context
	// models while leaving room for a 512-token answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := utf8.RuneCountInString(s)
	t := n / charsPerToken
	if t == 0 && n > 0 {
		return 1
	}
	return t
}

// EstimateMessages returns the estimated total token count of msgs.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimTurns drops whole conversation turns, oldest first, until fixed plus
// the remaining turns fit within maxTokens. Each element of turns is the
// message group of one turn (question and answer), so a question is never
// kept without its answer. fixed (system prompt, retrieved context, current
// question) is never trimmed.
//
// It returns the kept turns and how many were dropped. When fixed alone
// exceeds the budget every turn is dropped; callers should warn separately.
func TrimTurns(fixed []*schema.Message, turns [][]*schema.Message, maxTokens int) ([][]*schema.Message, int) {
	remaining := maxTokens - EstimateMessages(fixed)

	// Walk newest to oldest, keeping turns while they fit.
	keepFrom := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := EstimateMessages(turns[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		keepFrom = i
	}

	return turns[keepFrom:], keepFrom
}

// Flatten concatenates turn message groups into one message slice.
func Flatten(turns [][]*schema.Message) []*schema.Message {
	var out []*schema.Message
	for _, t := range turns {
		out = append(out, t...)
	}
	return out
}
