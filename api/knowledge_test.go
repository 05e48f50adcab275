package api

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/index"
	"github.com/ragctl/ragctl/index/lexical"
	"github.com/ragctl/ragctl/queue"
	"github.com/ragctl/ragctl/storage"
)

// stubKnowledgeDense is a minimal in-memory index.Dense fake; qdrant.Store
// needs a real server, so tests exercise the DeleteByFilter call shape
// against this instead.
type stubKnowledgeDense struct {
	entries map[string][]index.Entry
}

func newStubKnowledgeDense() *stubKnowledgeDense {
	return &stubKnowledgeDense{entries: make(map[string][]index.Entry)}
}

func (d *stubKnowledgeDense) EnsureIndex(ctx context.Context, name string, dim int) error { return nil }
func (d *stubKnowledgeDense) DropIndex(ctx context.Context, name string) error {
	delete(d.entries, name)
	return nil
}
func (d *stubKnowledgeDense) BulkUpsert(ctx context.Context, name string, entries []index.Entry) ([]string, error) {
	d.entries[name] = append(d.entries[name], entries...)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}
func (d *stubKnowledgeDense) DeleteByFilter(ctx context.Context, name string, filter index.Filter) error {
	var kept []index.Entry
	for _, e := range d.entries[name] {
		if filter.DocID != "" && e.Metadata["doc_id"] == filter.DocID {
			continue
		}
		kept = append(kept, e)
	}
	d.entries[name] = kept
	return nil
}
func (d *stubKnowledgeDense) KNN(ctx context.Context, name string, vector []float32, k int, filter index.Filter) ([]index.Hit, error) {
	return nil, nil
}

func newKnowledgeHandlers(t *testing.T) *KnowledgeHandlers {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewQueueWithClient(client, "ragctl")

	store := repository.NewMemoryStore()
	knowledge := repository.MemoryKnowledgeRepository{MemoryStore: store}
	memberships := repository.MemoryMembershipRepository{MemoryStore: store}
	documents := repository.MemoryDocumentRepository{MemoryStore: store}
	chunks := repository.MemoryChunkIndexRepository{MemoryStore: store}

	return NewKnowledgeHandlers(knowledge, memberships, documents, chunks, newStubKnowledgeDense(), lexical.NewStore(), storage.NewMemoryStore(), q)
}

func withUser(c echo.Context, userID string) {
	SetUser(c, &AuthUser{ID: userID})
}

func TestKnowledgeHandlers_CreateGrantsOwnerMembership(t *testing.T) {
	h := newKnowledgeHandlers(t)
	e := echo.New()

	body := `{"name":"docs","description":"product docs"}`
	req := httptest.NewRequest(http.MethodPost, "/knowledge/knowledges", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	withUser(c, "u1")

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var kb domain.Knowledge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kb))
	assert.Equal(t, "docs", kb.Name)
	assert.Equal(t, 512, kb.ChunkSize)

	m, err := h.memberships.Get(t.Context(), "u1", kb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, m.Role)
}

func TestKnowledgeHandlers_GetNotFound(t *testing.T) {
	h := newKnowledgeHandlers(t)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/knowledge/knowledges/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	err := h.Get(c)
	require.Error(t, err)
}

func TestKnowledgeHandlers_UploadStoresBlobAndEnqueuesJob(t *testing.T) {
	h := newKnowledgeHandlers(t)
	e := echo.New()

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/knowledge/kb1/upload", strings.NewReader(buf.String()))
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kb_id")
	c.SetParamValues("kb1")

	require.NoError(t, h.Upload(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var doc domain.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, domain.DocumentStatusPending, doc.Status)

	depth, err := h.jobs.GetQueueDepth(t.Context(), "default")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestKnowledgeHandlers_UploadRoutesPDFToDocling(t *testing.T) {
	h := newKnowledgeHandlers(t)
	e := echo.New()

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/knowledge/kb1/upload", strings.NewReader(buf.String()))
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kb_id")
	c.SetParamValues("kb1")

	require.NoError(t, h.Upload(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	depth, err := h.jobs.GetQueueDepth(t.Context(), "docling")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestKnowledgeHandlers_DeleteDocumentRemovesIndexRowAndBlob(t *testing.T) {
	h := newKnowledgeHandlers(t)
	e := echo.New()
	ctx := t.Context()

	kb := &domain.Knowledge{ID: "kb1", Name: "docs"}
	require.NoError(t, h.knowledge.Create(ctx, kb))

	doc := &domain.Document{ID: "d1", KBID: "kb1", Filename: "notes.txt", BlobPath: "kb1/d1_notes.txt"}
	require.NoError(t, h.documents.Create(ctx, doc))
	require.NoError(t, h.blobs.Put(ctx, doc.BlobPath, strings.NewReader("hello"), 5))
	require.NoError(t, h.chunks.BulkInsert(ctx, []repository.ChunkRecord{{ID: "c1", DocumentID: "d1", KBID: "kb1"}}))
	_, err := h.dense.BulkUpsert(ctx, kb.IndexName(), []index.Entry{{ID: "c1", Metadata: map[string]interface{}{"doc_id": "d1"}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/knowledge/documents/d1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("d1")

	require.NoError(t, h.DeleteDocument(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = h.documents.Get(ctx, "d1")
	assert.Error(t, err)
	count, err := h.chunks.CountByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	exists, err := h.blobs.Exists(ctx, doc.BlobPath)
	require.NoError(t, err)
	assert.False(t, exists)
}
