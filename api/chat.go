package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ragctl/ragctl/apperrors"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/rag"
	"github.com/ragctl/ragctl/retrieval"
)

// defaultSessionTopK is used when a new session doesn't specify one.
const defaultSessionTopK = 5

// ChatHandlers implements the /chat/sessions endpoints, backed directly by
// rag.Orchestrator for the completion endpoint.
type ChatHandlers struct {
	sessions     repository.SessionRepository
	messages     repository.MessageRepository
	orchestrator *rag.Orchestrator
}

func NewChatHandlers(sessions repository.SessionRepository, messages repository.MessageRepository, orchestrator *rag.Orchestrator) *ChatHandlers {
	return &ChatHandlers{sessions: sessions, messages: messages, orchestrator: orchestrator}
}

type createSessionRequest struct {
	PrimaryKBID string   `json:"primary_kb_id"`
	KBIDs       []string `json:"kb_ids"`
	Title       string   `json:"title"`
	Icon        string   `json:"icon"`
	TopK        int      `json:"top_k"`
}

// Create handles POST /chat/sessions.
func (h *ChatHandlers) Create(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PrimaryKBID == "" {
		return apperrors.New(apperrors.KindInvalid, "create chat session", nil)
	}
	if req.TopK == 0 {
		req.TopK = defaultSessionTopK
	}
	kbIDs := req.KBIDs
	if len(kbIDs) == 0 {
		kbIDs = []string{req.PrimaryKBID}
	}

	user, _ := GetUser(c)
	session := &domain.ChatSession{
		UUID:        uuid.NewString(),
		UserID:      user.ID,
		PrimaryKBID: req.PrimaryKBID,
		KBIDs:       kbIDs,
		Title:       req.Title,
		Icon:        req.Icon,
		TopK:        req.TopK,
	}
	if err := h.sessions.Create(c.Request().Context(), session); err != nil {
		return apperrors.New(apperrors.KindInternal, "create chat session", err)
	}
	return c.JSON(http.StatusCreated, session)
}

// List handles GET /chat/sessions: the caller's own, non-deleted sessions.
func (h *ChatHandlers) List(c echo.Context) error {
	user, _ := GetUser(c)
	sessions, err := h.sessions.ListByUser(c.Request().Context(), user.ID)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "list chat sessions", err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// Delete handles DELETE /chat/sessions/{uuid}.
func (h *ChatHandlers) Delete(c echo.Context) error {
	if err := h.sessions.SoftDelete(c.Request().Context(), c.Param("uuid")); err != nil {
		return apperrors.New(apperrors.KindInternal, "delete chat session", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Messages handles GET /chat/sessions/{uuid}/messages.
func (h *ChatHandlers) Messages(c echo.Context) error {
	msgs, err := h.messages.ListBySession(c.Request().Context(), c.Param("uuid"), 0)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "list chat messages", err)
	}
	return c.JSON(http.StatusOK, msgs)
}

type completionRequest struct {
	Query    string             `json:"query"`
	Strategy retrieval.Strategy `json:"strategy"`
	TopK     int                `json:"top_k"`
	Model    string             `json:"model"`
	Stream   bool               `json:"stream"`
}

// Completion handles POST /chat/sessions/{uuid}/completion: a unary JSON
// reply, or — when req.Stream is set — an SSE stream of a "sources" event
// followed by repeated "message" events, per the chat client's progressive
// rendering contract.
func (h *ChatHandlers) Completion(c echo.Context) error {
	var req completionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return apperrors.New(apperrors.KindInvalid, "chat completion", nil)
	}

	user, _ := GetUser(c)
	orchReq := rag.Request{
		SessionUUID: c.Param("uuid"),
		UserID:      user.ID,
		Query:       req.Query,
		Strategy:    req.Strategy,
		TopK:        req.TopK,
		Model:       req.Model,
	}
	session, err := h.sessions.Get(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return apperrors.NotFound("chat session", c.Param("uuid"))
	}
	indexName := "kb_" + session.PrimaryKBID

	if !req.Stream {
		turn, err := h.orchestrator.Handle(c.Request().Context(), indexName, orchReq)
		if err != nil {
			return apperrors.New(apperrors.KindInternal, "chat completion", err)
		}
		return c.JSON(http.StatusOK, turn)
	}

	return h.stream(c, indexName, orchReq)
}

func (h *ChatHandlers) stream(c echo.Context, indexName string, orchReq rag.Request) error {
	events, err := h.orchestrator.Stream(c.Request().Context(), indexName, orchReq)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "start chat stream", err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, canFlush := resp.Writer.(http.Flusher)
	writeEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			writeEvent("error", map[string]string{"error": ev.Err.Error()})
		case ev.Sources != nil:
			writeEvent("sources", ev.Sources)
		case ev.Final != nil:
			writeEvent("message", ev.Final)
		default:
			writeEvent("message", map[string]string{"delta": ev.Delta})
		}
	}
	return nil
}
