package rerank

import (
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/model"
)

// NewFromEnv selects the scorer named by RERANK_PROVIDER:
//
//	lexical      — token-overlap scorer, no model (default)
//	llm          — the chat model grades each candidate
//	crossencoder — RERANK_ENDPOINT serving POST /rerank, RERANK_MODEL optional
//
// chat is only used by the llm scorer and may be nil otherwise.
func NewFromEnv(chat model.BaseChatModel) (*Reranker, error) {
	var (
		scorer Scorer
		err    error
	)

	switch p := os.Getenv("RERANK_PROVIDER"); p {
	case "", "lexical":
		scorer = NewLexical()
	case "llm":
		scorer, err = NewLLMJudge(chat)
	case "crossencoder":
		scorer, err = NewCrossEncoder(&CrossEncoderConfig{
			Endpoint: os.Getenv("RERANK_ENDPOINT"),
			Model:    os.Getenv("RERANK_MODEL"),
		})
	default:
		return nil, fmt.Errorf("rerank: unknown RERANK_PROVIDER %q — valid values: lexical, llm, crossencoder", p)
	}
	if err != nil {
		return nil, err
	}

	return New(scorer)
}
