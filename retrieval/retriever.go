// Package retrieval implements the Hybrid Retriever (C7): parallel
// dense+BM25 passes, RRF fusion, optional cross-encoder rerank, and
// optional parent-document collapse, all tenant-filtered.
package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ragctl/ragctl/apperrors"
	"github.com/ragctl/ragctl/common"
	"github.com/ragctl/ragctl/index"
)

// Strategy selects how far through the pipeline a query travels.
type Strategy string

const (
	StrategyDense  Strategy = "dense"
	StrategyHybrid Strategy = "hybrid"
	StrategyRerank Strategy = "rerank"
)

// Embedder turns query text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker scores (query, passage) pairs with an external cross-encoder.
// Batches of more than 32 pairs are the caller's responsibility to split;
// Retriever always calls it with batches within that limit.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

const rerankBatchSize = 32

// Options configures one Retrieve call.
type Options struct {
	Strategy        Strategy
	CollapseParents bool
	RecallK         int // override; 0 derives from TopK per the default formula
	RerankThreshold float64
}

// Result is one chunk surfaced to the caller, with provenance scores.
type Result struct {
	Entry       index.Entry
	FusedScore  float64
	RerankScore *float64
}

// Retriever wires a dense backend, a lexical backend, an embedder, and an
// optional reranker into the hybrid pipeline.
type Retriever struct {
	dense    index.Dense
	lexical  index.Lexical
	embedder Embedder
	reranker Reranker
	log      *common.ContextLogger
}

func NewRetriever(dense index.Dense, lexical index.Lexical, embedder Embedder, reranker Reranker) *Retriever {
	return &Retriever{dense: dense, lexical: lexical, embedder: embedder, reranker: reranker, log: common.ComponentLogger("retrieval")}
}

// Retrieve runs the full pipeline against indexName for kbIDs (the tenant
// filter), returning at most topK results.
func (r *Retriever) Retrieve(ctx context.Context, indexName string, kbIDs []string, query string, topK int, opts Options) ([]Result, error) {
	if len(kbIDs) == 0 {
		return nil, apperrors.New(apperrors.KindInvalid, "retrieve requires at least one kb id", nil)
	}
	if topK <= 0 {
		topK = 5
	}

	recallK := opts.RecallK
	if recallK <= 0 {
		recallK = recallK50(topK)
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Each kbID gets its own slot in these per-goroutine result slices so
	// concurrent dense/lexical passes never append to a shared slice header.
	denseByKB := make([][]index.Hit, len(kbIDs))
	lexByKB := make([][]index.Hit, len(kbIDs))
	denseFailed := make([]bool, len(kbIDs))
	lexFailed := make([]bool, len(kbIDs))
	g, gctx := errgroup.WithContext(ctx)

	for i, kbID := range kbIDs {
		i, kbID := i, kbID
		g.Go(func() error {
			hits, err := r.dense.KNN(gctx, indexName, vector, recallK, index.Filter{KnowledgeID: kbID})
			if err != nil {
				r.log.WithError(err).Warn("dense retrieval failed for kb, degrading to lexical-only")
				denseFailed[i] = true
				return nil
			}
			denseByKB[i] = hits
			return nil
		})
		g.Go(func() error {
			hits, err := r.lexical.BM25(gctx, indexName, query, recallK, index.Filter{KnowledgeID: kbID})
			if err != nil {
				r.log.WithError(err).Warn("lexical retrieval failed for kb, degrading to dense-only")
				lexFailed[i] = true
				return nil
			}
			lexByKB[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("retrieval fan-out failed: %w", err)
	}

	var denseHits, lexHits []index.Hit
	for _, hits := range denseByKB {
		denseHits = append(denseHits, hits...)
	}
	for _, hits := range lexByKB {
		lexHits = append(lexHits, hits...)
	}
	allFailed := true
	for i := range kbIDs {
		if !denseFailed[i] || !lexFailed[i] {
			allFailed = false
		}
	}
	if allFailed {
		return nil, apperrors.New(apperrors.KindInternal, "INDEX_READ_FAILED: both dense and lexical passes failed", nil)
	}

	weights := DefaultFuseWeights()
	if opts.Strategy == StrategyDense {
		weights.Lexical = 0
	}
	fused := Fuse(denseHits, lexHits, weights)

	n := recallK
	if n > len(fused) {
		n = len(fused)
	}
	fused = fused[:n]

	results := make([]Result, len(fused))
	for i, fr := range fused {
		results[i] = Result{Entry: fr.entry, FusedScore: fr.rrfScore}
	}

	if r.reranker != nil && len(results) > 0 {
		reranked, err := r.rerank(ctx, query, results, topK, opts.RerankThreshold)
		if err != nil {
			r.log.WithError(err).Warn("RERANK_UNAVAILABLE: degrading to fused order")
			results = truncate(results, topK)
		} else {
			results = reranked
		}
	} else {
		results = truncate(results, topK)
	}

	if opts.CollapseParents {
		results = collapseParents(results, topK)
	}

	return results, nil
}

func recallK50(topK int) int {
	k := topK * 10
	if k < 50 {
		k = 50
	}
	return k
}

func truncate(results []Result, topK int) []Result {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}

func (r *Retriever) rerank(ctx context.Context, query string, results []Result, topK int, threshold float64) ([]Result, error) {
	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Entry.Text
	}

	scores := make([]float64, 0, len(results))
	for start := 0; start < len(texts); start += rerankBatchSize {
		end := start + rerankBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batchScores, err := r.reranker.Rerank(ctx, query, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("rerank batch failed: %w", err)
		}
		scores = append(scores, batchScores...)
	}

	kept := make([]Result, 0, len(results))
	for i, res := range results {
		score := scores[i]
		if score < threshold {
			continue
		}
		s := score
		res.RerankScore = &s
		kept = append(kept, res)
	}

	sortByRerankScore(kept)
	return truncate(kept, topK), nil
}

func sortByRerankScore(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && *results[j].RerankScore > *results[j-1].RerankScore; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// collapseParents replaces each child chunk with its parent (via
// metadata.parent_id/parent_content), deduplicating until topK unique
// parents are collected.
func collapseParents(results []Result, topK int) []Result {
	seen := make(map[string]struct{})
	out := make([]Result, 0, topK)

	for _, res := range results {
		parentID, _ := res.Entry.Metadata["parent_id"].(string)
		if parentID == "" {
			parentID = stableKey(res.Entry)
		}
		if _, ok := seen[parentID]; ok {
			continue
		}
		seen[parentID] = struct{}{}

		collapsed := res
		if parentContent, ok := res.Entry.Metadata["parent_content"].(string); ok && parentContent != "" {
			collapsed.Entry.Text = parentContent
			collapsed.Entry.ID = parentID
		}
		out = append(out, collapsed)
		if len(out) >= topK {
			break
		}
	}
	return out
}
