package evaluation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ragctl/ragctl/domain"
)

func TestAggregate_Averages(t *testing.T) {
	rows := []domain.ExperimentScores{
		{Faithfulness: 1, AnswerRelevancy: 1, ContextRecall: 1, ContextPrecision: 1},
		{Faithfulness: 0, AnswerRelevancy: 0, ContextRecall: 0, ContextPrecision: 0},
	}
	got := Aggregate(rows)
	assert.Equal(t, domain.ExperimentScores{Faithfulness: 0.5, AnswerRelevancy: 0.5, ContextRecall: 0.5, ContextPrecision: 0.5}, got)
}

func TestAggregate_EmptyRowsReturnsZero(t *testing.T) {
	got := Aggregate(nil)
	assert.Equal(t, domain.ExperimentScores{}, got)
}

type fakeEvaluator struct {
	score float64
	err   error
}

func (f fakeEvaluator) Evaluate(ctx context.Context, req *Request) (*Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Score: f.score}, nil
}

func TestMetricSet_Score_ContinuesPastIndividualFailures(t *testing.T) {
	m := &MetricSet{
		Faithfulness:     fakeEvaluator{score: 0.8},
		AnswerRelevancy:  fakeEvaluator{err: assertErr("bad")},
		ContextRecall:    fakeEvaluator{score: 0.4},
		ContextPrecision: fakeEvaluator{score: 0.6},
	}

	scores := m.Score(context.Background(), &Request{})
	assert.Equal(t, 0.8, scores.Faithfulness)
	assert.Equal(t, 0.0, scores.AnswerRelevancy)
	assert.Equal(t, 0.4, scores.ContextRecall)
	assert.Equal(t, 0.6, scores.ContextPrecision)
}
