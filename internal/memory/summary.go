package memory

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/54b3r/medquery-go/internal/tokenize"
)

// sentencePattern splits text into sentences ending in ., ! or ?; a
// trailing fragment without terminal punctuation is kept as well.
var sentencePattern = regexp.MustCompile(`[^.!?\n]+(?:[.!?]+|$)`)

// DefaultSummarySentences bounds the summary of older turns.
const DefaultSummarySentences = 4

// Summarize condenses turns into at most maxSentences sentences. Sentences
// are ranked by the normalised frequency of their content words across all
// turns and emitted in their original order, so the summary reads as a
// compressed version of the conversation.
func Summarize(turns []Turn, maxSentences int) string {
	if len(turns) == 0 {
		return ""
	}
	if maxSentences <= 0 {
		maxSentences = DefaultSummarySentences
	}

	var sentences []string
	for _, t := range turns {
		for _, text := range []string{t.Question, t.Answer} {
			for _, s := range sentencePattern.FindAllString(text, -1) {
				if s = strings.TrimSpace(s); s != "" {
					sentences = append(sentences, s)
				}
			}
		}
	}
	if len(sentences) == 0 {
		return ""
	}

	freq := map[string]float64{}
	maxF := 0.0
	for _, s := range sentences {
		for _, w := range tokenize.Words(s) {
			freq[w]++
			maxF = max(maxF, freq[w])
		}
	}

	type ranked struct {
		idx   int
		score float64
	}
	scores := make([]ranked, len(sentences))
	for i, s := range sentences {
		words := tokenize.Words(s)
		var score float64
		for _, w := range words {
			score += freq[w] / maxF
		}
		if len(words) > 0 {
			score /= math.Sqrt(float64(len(words)))
		}
		scores[i] = ranked{i, score}
	}
	sort.SliceStable(scores, func(a, b int) bool { return scores[a].score > scores[b].score })

	n := min(maxSentences, len(scores))
	picked := make([]int, n)
	for i := range picked {
		picked[i] = scores[i].idx
	}
	sort.Ints(picked)

	out := make([]string, n)
	for i, idx := range picked {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}
