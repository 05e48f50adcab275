package evaluation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/llm"
)

type fakeProvider struct {
	text string
	err  error
}

func (f *fakeProvider) Generate(ctx context.Context, model string, messages []llm.Message) (string, llm.Usage, error) {
	return f.text, llm.Usage{}, f.err
}
func (f *fakeProvider) Stream(ctx context.Context, model string, messages []llm.Message) (<-chan llm.Chunk, error) {
	return nil, nil
}

func TestParseScore(t *testing.T) {
	score, err := parseScore(`Some preamble.\n{"score": 0.75}\nTrailing notes.`)
	require.NoError(t, err)
	assert.Equal(t, 0.75, score)
}

func TestParseScore_InvalidJSON(t *testing.T) {
	_, err := parseScore("no json here at all")
	assert.Error(t, err)
}

func TestParseFaithfulness_MixedSupport(t *testing.T) {
	text := `{"claims": [{"claim": "a", "supported": true}, {"claim": "b", "supported": false}]}`
	score, err := parseFaithfulness(text)
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}

func TestParseFaithfulness_NoClaims(t *testing.T) {
	score, err := parseFaithfulness(`{"claims": []}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestNewAnswerRelevancyEvaluator_ParsesProviderScore(t *testing.T) {
	provider := &fakeProvider{text: `{"score": 0.9}`}
	evaluator := NewAnswerRelevancyEvaluator(provider, "gpt-test")

	resp, err := evaluator.Evaluate(context.Background(), &Request{Question: "q", Answer: "a"})
	require.NoError(t, err)
	assert.Equal(t, 0.9, resp.Score)
}

func TestJudge_PropagatesProviderError(t *testing.T) {
	provider := &fakeProvider{err: assertErr("boom")}
	evaluator := NewContextRecallEvaluator(provider, "gpt-test")

	_, err := evaluator.Evaluate(context.Background(), &Request{GroundTruth: "gt", Contexts: []string{"c"}})
	assert.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
