package worker

import (
	"context"
	"fmt"

	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
)

const interruptedMessage = "interrupted: service restarted"

// Reconcile scans for Documents stuck in PROCESSING, Test Sets stuck in
// GENERATING, Experiments stuck in RUNNING, and Knowledges stuck in
// DELETING, and marks each FAILED (KB: FAILED) with interruptedMessage.
// It must run to completion before the pool accepts any new job, so that a
// crashed worker never leaves the UI showing a state that will never
// change.
func Reconcile(ctx context.Context, docs repository.DocumentRepository, testSets repository.TestSetRepository, experiments repository.ExperimentRepository, knowledges repository.KnowledgeRepository) error {
	stuckDocs, err := docs.ListByStatus(ctx, domain.DocumentStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to scan processing documents: %w", err)
	}
	for _, d := range stuckDocs {
		if err := docs.SetStatus(ctx, d.ID, domain.DocumentStatusFailed, interruptedMessage); err != nil {
			return fmt.Errorf("failed to reconcile document %s: %w", d.ID, err)
		}
	}

	stuckTestSets, err := testSets.ListByStatus(ctx, domain.TestSetStatusGenerating)
	if err != nil {
		return fmt.Errorf("failed to scan generating test sets: %w", err)
	}
	for _, t := range stuckTestSets {
		if err := testSets.SetStatus(ctx, t.ID, domain.TestSetStatusFailed, interruptedMessage); err != nil {
			return fmt.Errorf("failed to reconcile test set %s: %w", t.ID, err)
		}
	}

	stuckExperiments, err := experiments.ListByStatus(ctx, domain.ExperimentStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to scan running experiments: %w", err)
	}
	for _, e := range stuckExperiments {
		e.Status = domain.ExperimentStatusFailed
		e.ErrorMessage = interruptedMessage
		if err := experiments.Update(ctx, e); err != nil {
			return fmt.Errorf("failed to reconcile experiment %s: %w", e.ID, err)
		}
	}

	kbs, err := knowledges.ListByStatus(ctx, domain.KBStatusDeleting)
	if err != nil {
		return fmt.Errorf("failed to scan deleting knowledges: %w", err)
	}
	for _, k := range kbs {
		if err := knowledges.SetStatus(ctx, k.ID, domain.KBStatusFailed); err != nil {
			return fmt.Errorf("failed to reconcile knowledge %s: %w", k.ID, err)
		}
	}

	return nil
}
