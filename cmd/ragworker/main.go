// Command ragworker runs the job-plane (C9): startup reconciliation of
// stuck rows, then a worker pool draining the document-processing,
// knowledge-base-deletion, test-set-generation, and experiment-run queues.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ragctl/ragctl/common"
	"github.com/ragctl/ragctl/config"
	"github.com/ragctl/ragctl/platform"
	"github.com/ragctl/ragctl/queue"
	"github.com/ragctl/ragctl/worker"
)

func main() {
	cfg := config.Load()
	log := common.ComponentLogger("ragworker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := platform.NewRegistry(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to build registry")
		os.Exit(1)
	}
	defer registry.Close()

	if err := worker.Reconcile(ctx, registry.Documents, registry.TestSets, registry.Experiments, registry.Knowledge); err != nil {
		log.WithError(err).Error("startup reconciliation failed")
		os.Exit(1)
	}

	specs := worker.DefaultFunctionSpecs()
	specs["process_document"] = withHandler(specs["process_document"], func(ctx context.Context, job queue.Job) error {
		docID, _ := job.Args["document_id"].(string)
		return registry.Processor.Process(ctx, docID)
	})
	specs["delete_knowledge"] = withHandler(specs["delete_knowledge"], func(ctx context.Context, job queue.Job) error {
		kbID, _ := job.Args["kb_id"].(string)
		return deleteKnowledge(ctx, registry, kbID)
	})
	specs["generate_testset"] = withHandler(specs["generate_testset"], func(ctx context.Context, job queue.Job) error {
		testSetID, _ := job.Args["test_set_id"].(string)
		kbID, _ := job.Args["kb_id"].(string)
		sourceDocIDs := toStringSlice(job.Args["source_doc_ids"])
		return registry.Generator.GenerateTestSet(ctx, testSetID, kbID, sourceDocIDs)
	})
	specs["run_experiment"] = withHandler(specs["run_experiment"], func(ctx context.Context, job queue.Job) error {
		experimentID, _ := job.Args["experiment_id"].(string)
		return registry.Runner.RunExperiment(ctx, experimentID)
	})

	pool := worker.NewPool(registry.Queue, specs, worker.DefaultConfig())
	pool.Start()
	log.Info("worker pool started")

	<-ctx.Done()
	log.Info("shutting down")
	pool.Stop()
}

func withHandler(spec worker.FunctionSpec, handler worker.Handler) worker.FunctionSpec {
	spec.Handler = handler
	return spec
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// deleteKnowledge tears down a knowledge base's documents, the KB row, and
// the C3 index entries once the API has marked it DELETING, in the order
// invariant 5 requires: per-document rows before their blobs (rule 4), the
// KB row before the C3 index it owns is dropped.
func deleteKnowledge(ctx context.Context, registry *platform.Registry, kbID string) error {
	kb, err := registry.Knowledge.Get(ctx, kbID)
	if err != nil {
		return err
	}

	docs, err := registry.Documents.ListByKB(ctx, kbID)
	if err != nil {
		return err
	}
	if err := registry.Documents.DeleteByKB(ctx, kbID); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := registry.Blobs.Delete(ctx, doc.BlobPath); err != nil {
			return err
		}
	}
	if err := registry.Memberships.DeleteByKB(ctx, kbID); err != nil {
		return err
	}
	if err := registry.Experiments.DeleteByKB(ctx, kbID); err != nil {
		return err
	}
	if err := registry.Knowledge.Delete(ctx, kbID); err != nil {
		return err
	}
	if err := registry.Dense.DropIndex(ctx, kb.IndexName()); err != nil {
		return err
	}
	return registry.Lex.DropIndex(ctx, kb.IndexName())
}
