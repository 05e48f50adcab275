package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ragctl/ragctl/apperrors"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/index"
	"github.com/ragctl/ragctl/queue"
	"github.com/ragctl/ragctl/storage"
)

// doclingSuffixes are the file types the docling queue's heavier
// extraction pipeline handles; everything else runs through the default
// plain-text/markdown loader.
var doclingSuffixes = []string{".pdf", ".docx", ".doc"}

func queueForFilename(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range doclingSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return "docling"
		}
	}
	return "default"
}

// KnowledgeHandlers implements the knowledge-base and document endpoints
// under /knowledge.
type KnowledgeHandlers struct {
	knowledge   repository.KnowledgeRepository
	memberships repository.MembershipRepository
	documents   repository.DocumentRepository
	chunks      repository.ChunkIndexRepository
	dense       index.Dense
	lex         index.Lexical
	blobs       storage.Store
	jobs        *queue.Queue
}

func NewKnowledgeHandlers(
	knowledge repository.KnowledgeRepository,
	memberships repository.MembershipRepository,
	documents repository.DocumentRepository,
	chunks repository.ChunkIndexRepository,
	dense index.Dense,
	lex index.Lexical,
	blobs storage.Store,
	jobs *queue.Queue,
) *KnowledgeHandlers {
	return &KnowledgeHandlers{
		knowledge:   knowledge,
		memberships: memberships,
		documents:   documents,
		chunks:      chunks,
		dense:       dense,
		lex:         lex,
		blobs:       blobs,
		jobs:        jobs,
	}
}

type createKnowledgeRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	EmbedModelID string `json:"embed_model_id"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

// Create handles POST /knowledge/knowledges.
func (h *KnowledgeHandlers) Create(c echo.Context) error {
	var req createKnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return apperrors.New(apperrors.KindInvalid, "create knowledge base", nil)
	}
	if req.ChunkSize == 0 {
		req.ChunkSize = 512
	}

	user, _ := GetUser(c)
	kb := &domain.Knowledge{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		EmbedModelID: req.EmbedModelID,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
		Status:       domain.KBStatusNormal,
	}
	if err := h.knowledge.Create(c.Request().Context(), kb); err != nil {
		return apperrors.New(apperrors.KindInternal, "create knowledge base", err)
	}
	if err := h.memberships.Upsert(c.Request().Context(), &domain.Membership{UserID: user.ID, KBID: kb.ID, Role: domain.RoleOwner}); err != nil {
		return apperrors.New(apperrors.KindInternal, "grant owner membership", err)
	}
	return c.JSON(http.StatusCreated, kb)
}

// List handles GET /knowledge/knowledges: every KB the caller belongs to.
func (h *KnowledgeHandlers) List(c echo.Context) error {
	user, _ := GetUser(c)
	kbs, err := h.knowledge.List(c.Request().Context(), user.ID)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "list knowledge bases", err)
	}
	return c.JSON(http.StatusOK, kbs)
}

// Get handles GET /knowledge/knowledges/{id}.
func (h *KnowledgeHandlers) Get(c echo.Context) error {
	kb, err := h.knowledge.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperrors.NotFound("knowledge base", c.Param("id"))
	}
	return c.JSON(http.StatusOK, kb)
}

type updateKnowledgeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Update handles PUT /knowledge/knowledges/{id}.
func (h *KnowledgeHandlers) Update(c echo.Context) error {
	kb, err := h.knowledge.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperrors.NotFound("knowledge base", c.Param("id"))
	}
	var req updateKnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name != "" {
		kb.Name = req.Name
	}
	kb.Description = req.Description
	if err := h.knowledge.Update(c.Request().Context(), kb); err != nil {
		return apperrors.New(apperrors.KindInternal, "update knowledge base", err)
	}
	return c.JSON(http.StatusOK, kb)
}

// Delete handles DELETE /knowledge/knowledges/{id}: marks the KB deleting
// and enqueues async teardown of its index entries, documents, and blobs.
func (h *KnowledgeHandlers) Delete(c echo.Context) error {
	kbID := c.Param("id")
	if err := h.knowledge.SetStatus(c.Request().Context(), kbID, domain.KBStatusDeleting); err != nil {
		return apperrors.New(apperrors.KindInternal, "delete knowledge base", err)
	}
	job := queue.Job{
		ID:        uuid.NewString(),
		Function:  "delete_knowledge",
		Args:      map[string]interface{}{"kb_id": kbID},
		QueueName: "default",
		MaxTries:  3,
	}
	if err := h.jobs.Enqueue(c.Request().Context(), job); err != nil {
		return apperrors.New(apperrors.KindInternal, "enqueue knowledge base deletion", err)
	}
	return c.NoContent(http.StatusAccepted)
}

// ListDocuments handles GET /knowledge/knowledges/{id}/documents.
func (h *KnowledgeHandlers) ListDocuments(c echo.Context) error {
	docs, err := h.documents.ListByKB(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "list documents", err)
	}
	return c.JSON(http.StatusOK, docs)
}

// Upload handles POST /knowledge/{kb_id}/upload: stores the multipart file
// in blob storage, records a Document row, and enqueues processing.
func (h *KnowledgeHandlers) Upload(c echo.Context) error {
	kbID := c.Param("kb_id")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "open uploaded file", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "read uploaded file", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	docID := uuid.NewString()
	blobPath := kbID + "/" + docID + "_" + fileHeader.Filename

	ctx := c.Request().Context()
	if err := h.blobs.Put(ctx, blobPath, bytes.NewReader(data), int64(len(data))); err != nil {
		return apperrors.New(apperrors.KindInternal, "store uploaded file", err)
	}

	doc := &domain.Document{
		ID:          docID,
		KBID:        kbID,
		Filename:    fileHeader.Filename,
		BlobPath:    blobPath,
		ContentHash: hash,
		Status:      domain.DocumentStatusPending,
	}
	if err := h.documents.Create(ctx, doc); err != nil {
		return apperrors.New(apperrors.KindInternal, "record uploaded document", err)
	}

	job := queue.Job{
		ID:        uuid.NewString(),
		Function:  "process_document",
		Args:      map[string]interface{}{"document_id": docID},
		QueueName: queueForFilename(fileHeader.Filename),
		MaxTries:  3,
	}
	if err := h.jobs.Enqueue(ctx, job); err != nil {
		return apperrors.New(apperrors.KindInternal, "enqueue document processing", err)
	}

	return c.JSON(http.StatusAccepted, doc)
}

// DeleteDocument handles DELETE /knowledge/documents/{id}: removes the C3
// index entries first, then the C2 document row, then the blob last. If C3
// removal fails the C2 row is left untouched and the request fails with
// 500, so a document is never left without its searchable chunks.
func (h *KnowledgeHandlers) DeleteDocument(c echo.Context) error {
	ctx := c.Request().Context()
	docID := c.Param("id")
	doc, err := h.documents.Get(ctx, docID)
	if err != nil {
		return apperrors.NotFound("document", docID)
	}
	kb, err := h.knowledge.Get(ctx, doc.KBID)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "load knowledge base for document", err)
	}

	filter := index.Filter{KnowledgeID: kb.ID, DocID: docID}
	if err := h.dense.DeleteByFilter(ctx, kb.IndexName(), filter); err != nil {
		return apperrors.New(apperrors.KindInternal, "delete dense index entries", err)
	}
	if err := h.lex.DeleteByFilter(ctx, kb.IndexName(), filter); err != nil {
		return apperrors.New(apperrors.KindInternal, "delete lexical index entries", err)
	}
	if err := h.chunks.DeleteByDocument(ctx, docID); err != nil {
		return apperrors.New(apperrors.KindInternal, "delete chunk records", err)
	}

	if err := h.documents.Delete(ctx, docID); err != nil {
		return apperrors.New(apperrors.KindInternal, "delete document", err)
	}
	if err := h.blobs.Delete(ctx, doc.BlobPath); err != nil {
		return apperrors.New(apperrors.KindInternal, "delete document blob", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetDocument handles GET /knowledge/documents/{id}.
func (h *KnowledgeHandlers) GetDocument(c echo.Context) error {
	doc, err := h.documents.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperrors.NotFound("document", c.Param("id"))
	}
	return c.JSON(http.StatusOK, doc)
}
