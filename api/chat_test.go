package api

import (
	"context"
	"encoding/json"
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
	"github.com/ragctl/ragctl/llm"
	"github.com/ragctl/ragctl/quota"
	"github.com/ragctl/ragctl/rag"
	"github.com/ragctl/ragctl/retrieval"
)

type stubDense struct{}

func (stubDense) EnsureIndex(ctx context.Context, name string, dim int) error { return nil }
func (stubDense) DropIndex(ctx context.Context, name string) error           { return nil }
func (stubDense) BulkUpsert(ctx context.Context, name string, entries []index.Entry) ([]string, error) {
	return nil, nil
}
func (stubDense) DeleteByFilter(ctx context.Context, name string, filter index.Filter) error { return nil }
func (stubDense) KNN(ctx context.Context, name string, vector []float32, k int, filter index.Filter) ([]index.Hit, error) {
	return []index.Hit{{Entry: index.Entry{ID: "e1", Text: "a relevant chunk"}, Score: 0.8}}, nil
}

type stubLexical struct{}

func (stubLexical) EnsureIndex(ctx context.Context, name string, dim int) error { return nil }
func (stubLexical) DropIndex(ctx context.Context, name string) error           { return nil }
func (stubLexical) BulkUpsert(ctx context.Context, name string, entries []index.Entry) ([]string, error) {
	return nil, nil
}
func (stubLexical) DeleteByFilter(ctx context.Context, name string, filter index.Filter) error {
	return nil
}
func (stubLexical) BM25(ctx context.Context, name, queryText string, k int, filter index.Filter) ([]index.Hit, error) {
	return nil, nil
}
func (stubLexical) ListByFilter(ctx context.Context, name string, filter index.Filter) ([]index.Entry, error) {
	return nil, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type stubProvider struct{ answer string }

func (p *stubProvider) Generate(ctx context.Context, model string, messages []llm.Message) (string, llm.Usage, error) {
	return p.answer, llm.Usage{InputTokens: 4, OutputTokens: 2}, nil
}
func (p *stubProvider) Stream(ctx context.Context, model string, messages []llm.Message) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, 2)
	out <- llm.Chunk{Text: p.answer}
	out <- llm.Chunk{Done: true}
	close(out)
	return out, nil
}

func newChatHandlers(t *testing.T) (*ChatHandlers, repository.SessionRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ledger := quota.NewLedger(client, "ragctl:")

	store := repository.NewMemoryStore()
	users := repository.MemoryUserRepository{MemoryStore: store}
	sessions := repository.MemorySessionRepository{MemoryStore: store}
	messages := repository.MemoryMessageRepository{MemoryStore: store}

	require.NoError(t, users.Create(t.Context(), &domain.User{ID: "u1", DailyRequestCap: 100, DailyTokenCap: 100000}))
	require.NoError(t, sessions.Create(t.Context(), &domain.ChatSession{UUID: "s1", UserID: "u1", PrimaryKBID: "kb1", KBIDs: []string{"kb1"}, TopK: 5}))

	retriever := retrieval.NewRetriever(stubDense{}, stubLexical{}, stubEmbedder{}, nil)
	orchestrator := rag.NewOrchestrator(users, sessions, messages, ledger, retriever, &stubProvider{answer: "an answer"}, nil)

	return NewChatHandlers(sessions, messages, orchestrator), sessions
}

func TestChatHandlers_CreateSession(t *testing.T) {
	h, _ := newChatHandlers(t)
	e := echo.New()

	body := `{"primary_kb_id":"kb1"}`
	req := httptest.NewRequest(http.MethodPost, "/chat/sessions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	withUser(c, "u1")

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var session domain.ChatSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "kb1", session.PrimaryKBID)
	assert.Equal(t, defaultSessionTopK, session.TopK)
}

func TestChatHandlers_CompletionUnary(t *testing.T) {
	h, _ := newChatHandlers(t)
	e := echo.New()

	body := `{"query":"what is ragctl?"}`
	req := httptest.NewRequest(http.MethodPost, "/chat/sessions/s1/completion", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("uuid")
	c.SetParamValues("s1")
	withUser(c, "u1")

	require.NoError(t, h.Completion(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var turn rag.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	assert.Equal(t, "an answer", turn.Answer)
}

func TestChatHandlers_CompletionStreamEmitsSourcesThenMessage(t *testing.T) {
	h, _ := newChatHandlers(t)
	e := echo.New()

	body := `{"query":"what is ragctl?","stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/chat/sessions/s1/completion", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("uuid")
	c.SetParamValues("s1")
	withUser(c, "u1")

	require.NoError(t, h.Completion(c))

	out := rec.Body.String()
	sourcesIdx := strings.Index(out, "event: sources")
	messageIdx := strings.Index(out, "event: message")
	require.GreaterOrEqual(t, sourcesIdx, 0)
	require.GreaterOrEqual(t, messageIdx, 0)
	assert.Less(t, sourcesIdx, messageIdx)
}
