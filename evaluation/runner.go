package evaluation

import (
	"context"
	"fmt"
	"io"

	"github.com/ragctl/ragctl/common"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/llm"
	"github.com/ragctl/ragctl/promptreg"
	"github.com/ragctl/ragctl/retrieval"
	"github.com/ragctl/ragctl/storage"
)

// rowBatchSize is how many test-set rows are grouped per batch; rows within
// a batch are retrieved, answered and scored one after another.
const rowBatchSize = 16

// Runner replays a synthesized test set through the retrieval+generation
// pipeline and scores each row across the four evaluation metrics.
type Runner struct {
	knowledge   repository.KnowledgeRepository
	testsets    repository.TestSetRepository
	experiments repository.ExperimentRepository
	blobs       storage.Store
	retriever   *retrieval.Retriever
	provider    llm.Provider
	model       string
	metrics     *MetricSet
	log         *common.ContextLogger
}

func NewRunner(
	knowledge repository.KnowledgeRepository,
	testsets repository.TestSetRepository,
	experiments repository.ExperimentRepository,
	blobs storage.Store,
	retriever *retrieval.Retriever,
	provider llm.Provider,
	model string,
) *Runner {
	return &Runner{
		knowledge:   knowledge,
		testsets:    testsets,
		experiments: experiments,
		blobs:       blobs,
		retriever:   retriever,
		provider:    provider,
		model:       model,
		metrics:     NewMetricSet(provider, model),
		log:         common.ComponentLogger("evaluation"),
	}
}

// RunExperiment loads experiment's test set, answers every row via kbID's
// retriever+generator, scores each row, and writes the averaged scores
// back onto the experiment.
func (r *Runner) RunExperiment(ctx context.Context, experimentID string) error {
	experiment, err := r.experiments.Get(ctx, experimentID)
	if err != nil {
		return fmt.Errorf("failed to load experiment %s: %w", experimentID, err)
	}
	experiment.Status = domain.ExperimentStatusRunning
	if err := r.experiments.Update(ctx, experiment); err != nil {
		return fmt.Errorf("failed to mark experiment %s running: %w", experimentID, err)
	}

	scores, err := r.run(ctx, experiment)
	if err != nil {
		r.markFailed(ctx, experiment, err)
		return err
	}

	experiment.Scores = scores
	experiment.Status = domain.ExperimentStatusCompleted
	experiment.ErrorMessage = ""
	if err := r.experiments.Update(ctx, experiment); err != nil {
		return fmt.Errorf("failed to persist completed experiment %s: %w", experimentID, err)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, experiment *domain.Experiment) (domain.ExperimentScores, error) {
	testSet, err := r.testsets.Get(ctx, experiment.TestSetID)
	if err != nil {
		return domain.ExperimentScores{}, fmt.Errorf("failed to load test set %s: %w", experiment.TestSetID, err)
	}

	rc, err := r.blobs.Get(ctx, testSet.BlobPath)
	if err != nil {
		return domain.ExperimentScores{}, fmt.Errorf("failed to fetch test set blob %s: %w", testSet.BlobPath, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return domain.ExperimentScores{}, fmt.Errorf("failed to read test set blob %s: %w", testSet.BlobPath, err)
	}

	rows, err := ReadCSV(data)
	if err != nil {
		return domain.ExperimentScores{}, err
	}

	kb, err := r.knowledge.Get(ctx, experiment.KBID)
	if err != nil {
		return domain.ExperimentScores{}, fmt.Errorf("failed to load knowledge base %s: %w", experiment.KBID, err)
	}
	indexName := kb.IndexName()
	topK := topKFromParams(experiment.RuntimeParams)
	strategy := strategyFromParams(experiment.RuntimeParams)

	var rowScores []domain.ExperimentScores
	for start := 0; start < len(rows); start += rowBatchSize {
		end := start + rowBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		for _, row := range rows[start:end] {
			score, err := r.scoreRow(ctx, indexName, experiment.KBID, strategy, topK, row)
			if err != nil {
				r.log.WithError(err).Warn("failed to score test row, recording zero scores")
				rowScores = append(rowScores, domain.ExperimentScores{})
				continue
			}
			rowScores = append(rowScores, score)
		}
	}

	return Aggregate(rowScores), nil
}

func (r *Runner) scoreRow(ctx context.Context, indexName, kbID string, strategy retrieval.Strategy, topK int, row TestRow) (domain.ExperimentScores, error) {
	results, err := r.retriever.Retrieve(ctx, indexName, []string{kbID}, row.Question, topK, retrieval.Options{Strategy: strategy})
	if err != nil {
		return domain.ExperimentScores{}, fmt.Errorf("retrieval failed: %w", err)
	}

	contexts := make([]string, len(results))
	for i, res := range results {
		contexts[i] = res.Entry.Text
	}

	prompt, err := promptreg.Render(promptreg.GenerateAnswer, struct {
		Contexts []string
		Question string
	}{contexts, row.Question})
	if err != nil {
		return domain.ExperimentScores{}, fmt.Errorf("failed to render answer prompt: %w", err)
	}

	answer, _, err := r.provider.Generate(ctx, r.model, []llm.Message{{Role: llm.RoleUser, Text: prompt}})
	if err != nil {
		return domain.ExperimentScores{}, fmt.Errorf("generation failed: %w", err)
	}

	req := &Request{Question: row.Question, GroundTruth: row.GroundTruth, Contexts: contexts, Answer: answer}
	return r.metrics.Score(ctx, req), nil
}

func topKFromParams(params map[string]interface{}) int {
	if v, ok := params["top_k"].(float64); ok && v > 0 {
		return int(v)
	}
	if v, ok := params["top_k"].(int); ok && v > 0 {
		return v
	}
	return 5
}

func strategyFromParams(params map[string]interface{}) retrieval.Strategy {
	if v, ok := params["strategy"].(string); ok && v != "" {
		return retrieval.Strategy(v)
	}
	return retrieval.StrategyHybrid
}

func (r *Runner) markFailed(ctx context.Context, experiment *domain.Experiment, cause error) {
	msg := cause.Error()
	if len(msg) > domain.MaxErrorMessageLen {
		msg = msg[:domain.MaxErrorMessageLen]
	}
	experiment.Status = domain.ExperimentStatusFailed
	experiment.ErrorMessage = msg
	if err := r.experiments.Update(ctx, experiment); err != nil {
		r.log.WithError(err).Error("failed to persist FAILED status for experiment " + experiment.ID)
	}
}
