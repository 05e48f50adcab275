package evaluation

import (
	"context"

	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/llm"
	"github.com/ragctl/ragctl/promptreg"
)

// NewFaithfulnessEvaluator scores what fraction of the answer's factual
// claims are supported by the retrieved context.
func NewFaithfulnessEvaluator(provider llm.Provider, model string) Evaluator {
	return &judge{
		provider: provider,
		model:    model,
		name:     promptreg.JudgeFaithfulness,
		parse:    parseFaithfulness,
		render: func(req *Request) (interface{}, error) {
			return struct {
				Contexts []string
				Answer   string
			}{req.Contexts, req.Answer}, nil
		},
	}
}

// NewAnswerRelevancyEvaluator scores how relevant the answer is to the
// question, independent of factual grounding.
func NewAnswerRelevancyEvaluator(provider llm.Provider, model string) Evaluator {
	return &judge{
		provider: provider,
		model:    model,
		name:     promptreg.JudgeRelevancy,
		parse:    parseScore,
		render: func(req *Request) (interface{}, error) {
			return struct {
				Question string
				Answer   string
			}{req.Question, req.Answer}, nil
		},
	}
}

// NewContextRecallEvaluator scores what fraction of the ground truth's
// claims are supported by the retrieved context.
func NewContextRecallEvaluator(provider llm.Provider, model string) Evaluator {
	return &judge{
		provider: provider,
		model:    model,
		name:     promptreg.JudgeContextRecall,
		parse:    parseScore,
		render: func(req *Request) (interface{}, error) {
			return struct {
				GroundTruth string
				Contexts    []string
			}{req.GroundTruth, req.Contexts}, nil
		},
	}
}

// NewContextPrecisionEvaluator scores what fraction of the retrieved
// context passages are actually relevant to the question.
func NewContextPrecisionEvaluator(provider llm.Provider, model string) Evaluator {
	return &judge{
		provider: provider,
		model:    model,
		name:     promptreg.JudgeContextPrec,
		parse:    parseScore,
		render: func(req *Request) (interface{}, error) {
			return struct {
				Question string
				Contexts []string
			}{req.Question, req.Contexts}, nil
		},
	}
}

// MetricSet runs all four judges against one row and scores each metric
// independently rather than failing the whole row — a metric that can't
// be scored contributes 0 rather than aborting its siblings, and the
// judge's error is discarded.
type MetricSet struct {
	Faithfulness     Evaluator
	AnswerRelevancy  Evaluator
	ContextRecall    Evaluator
	ContextPrecision Evaluator
}

func NewMetricSet(provider llm.Provider, model string) *MetricSet {
	return &MetricSet{
		Faithfulness:     NewFaithfulnessEvaluator(provider, model),
		AnswerRelevancy:  NewAnswerRelevancyEvaluator(provider, model),
		ContextRecall:    NewContextRecallEvaluator(provider, model),
		ContextPrecision: NewContextPrecisionEvaluator(provider, model),
	}
}

// Score evaluates one row across all four metrics.
func (m *MetricSet) Score(ctx context.Context, req *Request) domain.ExperimentScores {
	return domain.ExperimentScores{
		Faithfulness:     evalOrZero(ctx, m.Faithfulness, req),
		AnswerRelevancy:  evalOrZero(ctx, m.AnswerRelevancy, req),
		ContextRecall:    evalOrZero(ctx, m.ContextRecall, req),
		ContextPrecision: evalOrZero(ctx, m.ContextPrecision, req),
	}
}

func evalOrZero(ctx context.Context, e Evaluator, req *Request) float64 {
	resp, err := e.Evaluate(ctx, req)
	if err != nil {
		return 0
	}
	return resp.Score
}

// Aggregate averages per-row scores into one experiment-level result. An
// empty rows slice aggregates to all-zero scores.
func Aggregate(rows []domain.ExperimentScores) domain.ExperimentScores {
	if len(rows) == 0 {
		return domain.ExperimentScores{}
	}
	var sum domain.ExperimentScores
	for _, r := range rows {
		sum.Faithfulness += r.Faithfulness
		sum.AnswerRelevancy += r.AnswerRelevancy
		sum.ContextRecall += r.ContextRecall
		sum.ContextPrecision += r.ContextPrecision
	}
	n := float64(len(rows))
	return domain.ExperimentScores{
		Faithfulness:     sum.Faithfulness / n,
		AnswerRelevancy:  sum.AnswerRelevancy / n,
		ContextRecall:    sum.ContextRecall / n,
		ContextPrecision: sum.ContextPrecision / n,
	}
}
