package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/medquery-go/internal/llmtest"
	"github.com/54b3r/medquery-go/internal/memory"
	"github.com/54b3r/medquery-go/internal/rag"
)

func newGen(t *testing.T, m *llmtest.ChatModel, cfg Config) *Generator {
	t.Helper()
	cfg.ChatModel = m
	g, err := New(&cfg)
	require.NoError(t, err)
	return g
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	g := newGen(t, llmtest.Text("ok"), Config{})
	assert.Equal(t, DefaultDecoding(), g.Decoding())
	assert.Equal(t, 2*time.Minute, g.timeout)
}

func TestGenerate_AppliesDecodingEveryCall(t *testing.T) {
	m := llmtest.Text("Insulin lowers glucose.")
	g := newGen(t, m, Config{})

	for range 2 {
		out, err := g.Generate(context.Background(), &Request{Question: "What is insulin?"})
		require.NoError(t, err)
		assert.Equal(t, "Insulin lowers glucose.", out)
	}

	opts := m.Options()
	require.Len(t, opts, 2)
	for _, o := range opts {
		require.NotNil(t, o.Temperature)
		require.NotNil(t, o.TopP)
		require.NotNil(t, o.MaxTokens)
		assert.InDelta(t, 0.3, *o.Temperature, 1e-6)
		assert.InDelta(t, 0.95, *o.TopP, 1e-6)
		assert.Equal(t, 512, *o.MaxTokens)
	}
}

func TestNew_ZeroTemperatureIsGreedy(t *testing.T) {
	m := llmtest.Text("ok")
	g := newGen(t, m, Config{Decoding: Decoding{Temperature: 0, TopP: 0.95, MaxTokens: 512}})
	assert.Zero(t, g.Decoding().Temperature)

	_, err := g.Generate(context.Background(), &Request{Question: "Is fasting glucose of 130 high?"})
	require.NoError(t, err)
	opts := m.Options()
	require.Len(t, opts, 1)
	require.NotNil(t, opts[0].Temperature)
	assert.Zero(t, *opts[0].Temperature)
}

func TestNew_InvalidDecodingFieldsTakeDefaults(t *testing.T) {
	g := newGen(t, llmtest.Text("ok"), Config{Decoding: Decoding{Temperature: -1, TopP: 1.5, MaxTokens: 0}})
	assert.Equal(t, DefaultDecoding(), g.Decoding())
}

func TestGenerate_PromptLayout(t *testing.T) {
	m := llmtest.Text("answer")
	g := newGen(t, m, Config{})

	req := &Request{
		Question: "What about blood pressure?",
		Passages: []rag.Document{{Content: "Hypertension is high blood pressure.", Source: "doc2"}},
		History:  []memory.Turn{{Question: "What is diabetes?", Answer: "A metabolic disease."}},
		Recalled: []rag.Document{{Content: "User: What is diabetes?\nBot: A metabolic disease."}},
	}
	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	msgs := m.Calls()[0]
	require.Len(t, msgs, 6)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, Disclaimer)
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, "What is diabetes?", msgs[1].Content)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Contains(t, msgs[3].Content, "[doc2]")
	assert.Contains(t, msgs[3].Content, "Hypertension is high blood pressure.")
	assert.Contains(t, msgs[4].Content, "Related Earlier Exchanges")
	assert.Equal(t, "What about blood pressure?", msgs[5].Content)
}

func TestGenerate_NoPassagesSaysSo(t *testing.T) {
	m := llmtest.Text("answer")
	g := newGen(t, m, Config{})

	_, err := g.Generate(context.Background(), &Request{Question: "q", Summary: "earlier talk"})
	require.NoError(t, err)

	msgs := m.Calls()[0]
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[1].Content, "earlier talk")
	assert.Contains(t, msgs[2].Content, "No passages")
}

func TestGenerate_TrimsHistoryToBudget(t *testing.T) {
	m := llmtest.Text("answer")
	g := newGen(t, m, Config{MaxContextTokens: 1000})

	long := strings.Repeat("x", 2000)
	req := &Request{
		Question: "q",
		History: []memory.Turn{
			{Question: "old " + long, Answer: long},
			{Question: "recent", Answer: "short"},
		},
	}
	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	msgs := m.Calls()[0]
	for _, msg := range msgs {
		assert.NotContains(t, msg.Content, "old x")
	}
	assert.Equal(t, "recent", msgs[1].Content)
}

func TestGenerate_Errors(t *testing.T) {
	boom := errors.New("connection refused")
	cases := []struct {
		name string
		m    *llmtest.ChatModel
	}{
		{"backend", llmtest.Failing(boom)},
		{"empty", llmtest.Text("   ")},
		{"nil", llmtest.New(func(context.Context, []*schema.Message) (*schema.Message, error) { return nil, nil })},
		{"truncated", llmtest.New(func(context.Context, []*schema.Message) (*schema.Message, error) {
			msg := schema.AssistantMessage("partial", nil)
			msg.ResponseMeta = &schema.ResponseMeta{FinishReason: "length"}
			return msg, nil
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGen(t, tc.m, Config{})
			_, err := g.Generate(context.Background(), &Request{Question: "q"})
			require.Error(t, err)
			assert.ErrorIs(t, err, rag.ErrGeneration)
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	m := llmtest.New(func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g := newGen(t, m, Config{Timeout: 10 * time.Millisecond})

	_, err := g.Generate(context.Background(), &Request{Question: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrGeneration)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
}

func TestCondense(t *testing.T) {
	m := llmtest.Text("  What is normal blood pressure?  ")
	r := NewRewriter(m)

	out, err := r.Condense(context.Background(), "and blood pressure?", nil)
	require.NoError(t, err)
	assert.Equal(t, "and blood pressure?", out)
	assert.Empty(t, m.Calls())

	hist := []memory.Turn{{Question: "What is diabetes?", Answer: "A disease."}}
	out, err = r.Condense(context.Background(), "and blood pressure?", hist)
	require.NoError(t, err)
	assert.Equal(t, "What is normal blood pressure?", out)
	assert.Contains(t, m.Calls()[0][1].Content, "Follow-up message: and blood pressure?")
}

func TestCondense_Failure(t *testing.T) {
	r := NewRewriter(llmtest.Failing(errors.New("down")))
	_, err := r.Condense(context.Background(), "q", []memory.Turn{{Question: "a", Answer: "b"}})
	assert.ErrorIs(t, err, rag.ErrGeneration)
}
