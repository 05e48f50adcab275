package evaluation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/index"
	"github.com/ragctl/ragctl/llm"
	"github.com/ragctl/ragctl/retrieval"
)

type fakeExperiments struct {
	experiment *domain.Experiment
	updates    []*domain.Experiment
}

func (f *fakeExperiments) Create(ctx context.Context, e *domain.Experiment) error { return nil }
func (f *fakeExperiments) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	return f.experiment, nil
}
func (f *fakeExperiments) ListByKB(ctx context.Context, kbID string) ([]*domain.Experiment, error) {
	return nil, nil
}
func (f *fakeExperiments) Update(ctx context.Context, e *domain.Experiment) error {
	f.updates = append(f.updates, e)
	return nil
}
func (f *fakeExperiments) Delete(ctx context.Context, id string) error          { return nil }
func (f *fakeExperiments) DeleteByKB(ctx context.Context, kbID string) error    { return nil }
func (f *fakeExperiments) ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]*domain.Experiment, error) {
	return nil, nil
}

type fakeDense struct{}

func (fakeDense) EnsureIndex(ctx context.Context, name string, dim int) error { return nil }
func (fakeDense) DropIndex(ctx context.Context, name string) error           { return nil }
func (fakeDense) BulkUpsert(ctx context.Context, name string, entries []index.Entry) ([]string, error) {
	return nil, nil
}
func (fakeDense) DeleteByFilter(ctx context.Context, name string, filter index.Filter) error {
	return nil
}
func (fakeDense) KNN(ctx context.Context, name string, vector []float32, k int, filter index.Filter) ([]index.Hit, error) {
	return []index.Hit{{Entry: index.Entry{ID: "e1", Text: "Paris is the capital of France."}, Score: 0.9}}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func TestRunner_RunExperiment_Succeeds(t *testing.T) {
	knowledge := &fakeKnowledge{kb: &domain.Knowledge{ID: "kb1"}}
	testsets := &fakeTestSets{set: &domain.TestSet{ID: "ts1", BlobPath: "testsets/ts1.csv"}}
	experiments := &fakeExperiments{experiment: &domain.Experiment{ID: "exp1", KBID: "kb1", TestSetID: "ts1"}}

	csvContent := "question,ground_truth,reference_contexts\n" +
		"What is the capital of France?,Paris,Paris is the capital of France.\n"
	blobs := &fakeBlobs{get: []byte(csvContent)}

	retriever := retrieval.NewRetriever(fakeDense{}, &fakeLexical{}, fakeEmbedder{}, nil)
	provider := &scriptedProvider{answer: "Paris.", judgeScore: `{"score": 0.8}`}

	runner := NewRunner(knowledge, testsets, experiments, blobs, retriever, provider, "gpt-test")
	err := runner.RunExperiment(context.Background(), "exp1")
	require.NoError(t, err)

	require.Len(t, experiments.updates, 2)
	final := experiments.updates[1]
	assert.Equal(t, domain.ExperimentStatusCompleted, final.Status)
	assert.Equal(t, 0.8, final.Scores.AnswerRelevancy)
}

// scriptedProvider distinguishes judge calls (JSON score requests) from
// answer-generation calls by prompt shape, since both go through the same
// Generate method in this pipeline.
type scriptedProvider struct {
	answer     string
	judgeScore string
}

func (s *scriptedProvider) Generate(ctx context.Context, model string, messages []llm.Message) (string, llm.Usage, error) {
	prompt := messages[0].Text
	if strings.Contains(prompt, "Respond as JSON") {
		return s.judgeScore, llm.Usage{}, nil
	}
	return s.answer, llm.Usage{}, nil
}

func (s *scriptedProvider) Stream(ctx context.Context, model string, messages []llm.Message) (<-chan llm.Chunk, error) {
	return nil, nil
}
