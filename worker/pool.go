// Package worker implements ragctl's self-healing worker runtime (C9): a
// pool of goroutines draining named queues, dispatching by job function
// name, retrying with backoff, and reconciling stuck rows at startup.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ragctl/ragctl/queue"
)

// Handler processes one job function (e.g. "process_document").
type Handler func(ctx context.Context, job queue.Job) error

// FunctionSpec describes retry/timeout policy for one job function, per the
// function table in the job dispatcher's contract.
type FunctionSpec struct {
	Handler    Handler
	MaxTries   int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultFunctionSpecs returns the platform's standard function table. Job
// functions not present here cannot be dispatched.
func DefaultFunctionSpecs() map[string]FunctionSpec {
	return map[string]FunctionSpec{
		"process_document": {MaxTries: 3, RetryDelay: 5 * time.Second, Timeout: 600 * time.Second},
		"delete_knowledge": {MaxTries: 3, RetryDelay: 2 * time.Second, Timeout: 300 * time.Second},
		"generate_testset": {MaxTries: 3, RetryDelay: 10 * time.Second, Timeout: 1800 * time.Second},
		"run_experiment":   {MaxTries: 3, RetryDelay: 10 * time.Second, Timeout: 1800 * time.Second},
	}
}

// Config configures the worker pool: queue name -> number of workers.
// max_jobs is pinned to 1 per worker process by default since parsing and
// embedding pipelines are memory-heavy; the fleet scales by adding workers,
// not by raising this number.
type Config struct {
	Queues map[string]int
}

func DefaultConfig() Config {
	return Config{Queues: map[string]int{"default": 1, "docling": 1}}
}

// Pool manages a set of workers, one goroutine per configured slot.
type Pool struct {
	workers []*worker
	queue   *queue.Queue
	specs   map[string]FunctionSpec
	cancel  context.CancelFunc
}

type worker struct {
	id        int
	queueName string
	pool      *Pool
}

// NewPool builds a pool. Register handlers onto specs before calling Start.
func NewPool(q *queue.Queue, specs map[string]FunctionSpec, cfg Config) *Pool {
	p := &Pool{queue: q, specs: specs}
	for queueName, count := range cfg.Queues {
		for i := 0; i < count; i++ {
			p.workers = append(p.workers, &worker{id: i, queueName: queueName, pool: p})
		}
	}
	return p
}

// Start launches all workers. Call Stop to shut them down.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	log.Printf("worker: starting pool with %d workers", len(p.workers))
	for _, w := range p.workers {
		go w.run(ctx)
	}
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (w *worker) run(ctx context.Context) {
	log.Printf("worker %d (%s queue) started", w.id, w.queueName)
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker %d (%s queue) stopped", w.id, w.queueName)
			return
		default:
			if err := w.processNext(ctx); err != nil {
				log.Printf("worker %d (%s queue) error: %v", w.id, w.queueName, err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *worker) processNext(ctx context.Context) error {
	job, err := w.pool.queue.Dequeue(ctx, w.queueName, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to dequeue: %w", err)
	}
	if job == nil {
		return nil
	}

	spec, ok := w.pool.specs[job.Function]
	if !ok {
		log.Printf("worker %d: unknown job function %q, dropping job %s", w.id, job.Function, job.ID)
		return w.pool.queue.CompleteJob(ctx, job.ID)
	}
	if job.MaxTries == 0 {
		job.MaxTries = spec.MaxTries
	}

	deadline := time.Now().Add(spec.Timeout)
	if err := w.pool.queue.MarkProcessing(ctx, job.ID, deadline); err != nil {
		log.Printf("worker %d: failed to mark job %s processing: %v", w.id, job.ID, err)
		return w.pool.queue.Enqueue(ctx, *job)
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	err = spec.Handler(runCtx, *job)
	cancel()

	if err != nil {
		log.Printf("worker %d: job %s (%s) failed: %v", w.id, job.ID, job.Function, err)
		requeue := job.Attempt+1 < job.MaxTries
		if failErr := w.pool.queue.FailJob(ctx, *job, requeue, spec.RetryDelay); failErr != nil {
			log.Printf("worker %d: failed to record failure for job %s: %v", w.id, job.ID, failErr)
		}
		return nil
	}

	log.Printf("worker %d: completed job %s (%s)", w.id, job.ID, job.Function)
	if err := w.pool.queue.CompleteJob(ctx, job.ID); err != nil {
		log.Printf("worker %d: failed to clear job %s from processing set: %v", w.id, job.ID, err)
	}
	return nil
}
