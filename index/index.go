// Package index defines the dual index adapter contract (C3): one logical
// index per knowledge base exposing dense-kNN, BM25, filtered delete, and
// bulk write operations. Concrete backends live in index/qdrant (dense) and
// index/lexical (BM25).
package index

import "context"

// Entry is one chunk written to an index: opaque id, text, dense vector,
// and metadata carrying doc_id/knowledge_id/source/page/chunk_index and
// optionally parent_id/parent_content for small-to-big collapse.
type Entry struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]interface{}
}

// Filter restricts operations to entries matching knowledge_id and,
// optionally, a specific doc_id.
type Filter struct {
	KnowledgeID string
	DocID       string
}

// Hit is one scored result from a knn or bm25 query.
type Hit struct {
	Entry Entry
	Score float64
}

// Dense is the dense-vector half of the dual index.
type Dense interface {
	// EnsureIndex idempotently creates the named index with vector
	// dimensionality dim.
	EnsureIndex(ctx context.Context, name string, dim int) error
	DropIndex(ctx context.Context, name string) error
	BulkUpsert(ctx context.Context, name string, entries []Entry) ([]string, error)
	DeleteByFilter(ctx context.Context, name string, filter Filter) error
	KNN(ctx context.Context, name string, vector []float32, k int, filter Filter) ([]Hit, error)
}

// Lexical is the BM25 half of the dual index. Because the dense backend
// (qdrant) stores only vectors and metadata, Lexical's in-memory entries
// are also the platform's only copy of full chunk text — ListByFilter
// exposes that for callers (the evaluation test-set generator) that need
// chunk content rather than a ranked search.
type Lexical interface {
	EnsureIndex(ctx context.Context, name string, dim int) error
	DropIndex(ctx context.Context, name string) error
	BulkUpsert(ctx context.Context, name string, entries []Entry) ([]string, error)
	DeleteByFilter(ctx context.Context, name string, filter Filter) error
	BM25(ctx context.Context, name string, queryText string, k int, filter Filter) ([]Hit, error)
	ListByFilter(ctx context.Context, name string, filter Filter) ([]Entry, error)
}
