// Package ingest implements the Document Processor (C6): acquire a
// document, fetch its blob, parse, chunk, embed, and write it into the
// dual index and the chunk-index table, with compensating cleanup on
// failure.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/ragctl/ragctl/common"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/index"
	"github.com/ragctl/ragctl/ingest/chunk"
	"github.com/ragctl/ragctl/ingest/parser"
	"github.com/ragctl/ragctl/storage"
)

// Embedder turns chunk text into a dense vector for the KB's configured
// embed model. Kept narrow and local so this package doesn't need to
// know how provider routing works.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// embedBatchSize bounds how many chunk texts are embedded per batch, so
// a single oversized document doesn't send one giant provider request.
const embedBatchSize = 16

type Processor struct {
	documents repository.DocumentRepository
	knowledge repository.KnowledgeRepository
	chunks    repository.ChunkIndexRepository
	blobs     storage.Store
	dense     index.Dense
	lexical   index.Lexical
	embedder  Embedder
	log       *common.ContextLogger
}

func NewProcessor(
	documents repository.DocumentRepository,
	knowledge repository.KnowledgeRepository,
	chunks repository.ChunkIndexRepository,
	blobs storage.Store,
	dense index.Dense,
	lexical index.Lexical,
	embedder Embedder,
) *Processor {
	return &Processor{
		documents: documents,
		knowledge: knowledge,
		chunks:    chunks,
		blobs:     blobs,
		dense:     dense,
		lexical:   lexical,
		embedder:  embedder,
		log:       common.ComponentLogger("ingest"),
	}
}

// Process runs the full pipeline for docID. The caller (the worker's
// process_document handler) is responsible for the per-job timeout and
// retry policy; Process itself runs straight through once.
func (p *Processor) Process(ctx context.Context, docID string) error {
	doc, kb, err := p.acquireAndMark(ctx, docID)
	if err != nil {
		return err
	}

	err = p.run(ctx, doc, kb)
	if err != nil {
		p.markFailed(ctx, docID, err)
		return err
	}
	return nil
}

func (p *Processor) acquireAndMark(ctx context.Context, docID string) (*domain.Document, *domain.Knowledge, error) {
	doc, err := p.documents.Get(ctx, docID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load document %s: %w", docID, err)
	}
	kb, err := p.knowledge.Get(ctx, doc.KBID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load knowledge base %s: %w", doc.KBID, err)
	}

	if err := p.documents.SetStatus(ctx, docID, domain.DocumentStatusProcessing, ""); err != nil {
		return nil, nil, fmt.Errorf("failed to mark document %s processing: %w", docID, err)
	}
	doc.Status = domain.DocumentStatusProcessing
	return doc, kb, nil
}

func (p *Processor) run(ctx context.Context, doc *domain.Document, kb *domain.Knowledge) error {
	tempPath, err := p.fetchBlob(ctx, doc)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	parsed, err := parser.Parse(tempPath)
	if err != nil {
		return fmt.Errorf("parse failed for document %s: %w", doc.ID, err)
	}

	chunks := chunk.Split(parsed.Tuples, kb.ChunkSize, kb.ChunkOverlap)
	if len(chunks) == 0 {
		return fmt.Errorf("document %s produced zero chunks", doc.ID)
	}

	entries, err := p.embedChunks(ctx, doc, kb, chunks)
	if err != nil {
		return fmt.Errorf("embedding failed for document %s: %w", doc.ID, err)
	}

	return p.write(ctx, doc, kb, entries)
}

func (p *Processor) fetchBlob(ctx context.Context, doc *domain.Document) (string, error) {
	rc, err := p.blobs.Get(ctx, doc.BlobPath)
	if err != nil {
		return "", fmt.Errorf("failed to fetch blob %s: %w", doc.BlobPath, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read blob %s: %w", doc.BlobPath, err)
	}

	suffix := ""
	if idx := strings.LastIndex(doc.Filename, "."); idx >= 0 {
		suffix = doc.Filename[idx:]
	}
	f, err := os.CreateTemp("", "ragctl-doc-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return f.Name(), nil
}

func (p *Processor) embedChunks(ctx context.Context, doc *domain.Document, kb *domain.Knowledge, chunks []chunk.Chunk) ([]index.Entry, error) {
	entries := make([]index.Entry, len(chunks))

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		for i := start; i < end; i++ {
			c := chunks[i]
			vector, err := p.embedder.Embed(ctx, c.Text)
			if err != nil {
				// On partial failure within a batch, the whole document
				// fails; no partial indexing.
				return nil, fmt.Errorf("failed to embed chunk %d: %w", i, err)
			}

			entries[i] = index.Entry{
				ID:     uuid.NewString(),
				Text:   c.Text,
				Vector: vector,
				Metadata: map[string]interface{}{
					"doc_id":         doc.ID,
					"knowledge_id":   kb.ID,
					"chunk_index":    i,
					"page":           c.Page,
					"heading_path":   c.HeadingPath,
					"source":         doc.Filename,
					"parent_id":      c.ParentID,
					"parent_content": c.ParentContent,
				},
			}
		}
	}

	return entries, nil
}

func (p *Processor) write(ctx context.Context, doc *domain.Document, kb *domain.Knowledge, entries []index.Entry) error {
	indexName := kb.IndexName()

	denseIDs, err := p.dense.BulkUpsert(ctx, indexName, entries)
	if err != nil {
		return fmt.Errorf("dense bulk_upsert failed: %w", err)
	}
	if _, err := p.lexical.BulkUpsert(ctx, indexName, entries); err != nil {
		p.compensate(ctx, indexName, doc.ID, "lexical bulk_upsert")
		return fmt.Errorf("lexical bulk_upsert failed: %w", err)
	}

	rows := make([]repository.ChunkRecord, len(entries))
	for i, id := range denseIDs {
		rows[i] = repository.ChunkRecord{
			ID:         id,
			DocumentID: doc.ID,
			KBID:       kb.ID,
			ChunkIndex: i,
		}
	}
	if err := p.chunks.BulkInsert(ctx, rows); err != nil {
		p.compensate(ctx, indexName, doc.ID, "chunk_index bulk_insert")
		return fmt.Errorf("chunk_index bulk_insert failed: %w", err)
	}

	if err := p.documents.SetStatus(ctx, doc.ID, domain.DocumentStatusCompleted, ""); err != nil {
		p.compensate(ctx, indexName, doc.ID, "status update")
		return fmt.Errorf("failed to mark document %s completed: %w", doc.ID, err)
	}
	return nil
}

// compensate rolls back C2/C3 writes for a document that failed partway
// through the write step, per spec step 6's compensation rule.
func (p *Processor) compensate(ctx context.Context, indexName, docID, failedAt string) {
	if err := p.chunks.DeleteByDocument(ctx, docID); err != nil {
		p.log.WithError(err).Warn("compensation: failed to delete chunk_index rows for " + docID)
	}
	if err := p.dense.DeleteByFilter(ctx, indexName, index.Filter{DocID: docID}); err != nil {
		p.log.WithError(err).Warn("compensation: failed to delete dense entries for " + docID + " after " + failedAt)
	}
	if err := p.lexical.DeleteByFilter(ctx, indexName, index.Filter{DocID: docID}); err != nil {
		p.log.WithError(err).Warn("compensation: failed to delete lexical entries for " + docID + " after " + failedAt)
	}
}

func (p *Processor) markFailed(ctx context.Context, docID string, cause error) {
	msg := cause.Error()
	if len(msg) > domain.MaxErrorMessageLen {
		msg = msg[:domain.MaxErrorMessageLen]
	}
	if err := p.documents.SetStatus(ctx, docID, domain.DocumentStatusFailed, msg); err != nil {
		p.log.WithError(err).Error("failed to persist FAILED status for document " + docID)
	}
}
