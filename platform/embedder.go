package platform

import (
	"context"

	"github.com/ragctl/ragctl/llm"
)

// embedderAdapter binds an llm.Embedder to a fixed model name, satisfying
// the narrower Embed(ctx, text) contract that ingest.Processor and
// retrieval.Retriever each declare locally. One adapter instance is shared
// by both, since the platform currently routes every knowledge base's
// chunks and queries through the same configured embedding model.
type embedderAdapter struct {
	embedder llm.Embedder
	model    string
}

func newEmbedderAdapter(embedder llm.Embedder, model string) *embedderAdapter {
	return &embedderAdapter{embedder: embedder, model: model}
}

func (e *embedderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embedder.Embed(ctx, e.model, text)
}
