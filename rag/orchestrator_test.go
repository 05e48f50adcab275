package rag

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/index"
	"github.com/ragctl/ragctl/llm"
	"github.com/ragctl/ragctl/quota"
	"github.com/ragctl/ragctl/retrieval"
)

type fakeUsers struct{ user *domain.User }

func (f *fakeUsers) Create(ctx context.Context, u *domain.User) error                  { return nil }
func (f *fakeUsers) GetByID(ctx context.Context, id string) (*domain.User, error)      { return f.user, nil }
func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) { return f.user, nil }
func (f *fakeUsers) Update(ctx context.Context, u *domain.User) error                  { return nil }

type fakeSessions struct {
	session *domain.ChatSession
	updated *domain.ChatSession
}

func (f *fakeSessions) Create(ctx context.Context, s *domain.ChatSession) error { return nil }
func (f *fakeSessions) Get(ctx context.Context, uuid string) (*domain.ChatSession, error) {
	return f.session, nil
}
func (f *fakeSessions) ListByUser(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	return nil, nil
}
func (f *fakeSessions) Update(ctx context.Context, s *domain.ChatSession) error {
	f.updated = s
	return nil
}
func (f *fakeSessions) SoftDelete(ctx context.Context, uuid string) error { return nil }

type fakeMessages struct {
	history  []*domain.Message
	appended []*domain.Message
}

func (f *fakeMessages) Append(ctx context.Context, m *domain.Message) error {
	f.appended = append(f.appended, m)
	return nil
}
func (f *fakeMessages) ListBySession(ctx context.Context, sessionUUID string, limit int) ([]*domain.Message, error) {
	return f.history, nil
}

type fakeDense struct{}

func (fakeDense) EnsureIndex(ctx context.Context, name string, dim int) error { return nil }
func (fakeDense) DropIndex(ctx context.Context, name string) error           { return nil }
func (fakeDense) BulkUpsert(ctx context.Context, name string, entries []index.Entry) ([]string, error) {
	return nil, nil
}
func (fakeDense) DeleteByFilter(ctx context.Context, name string, filter index.Filter) error {
	return nil
}
func (fakeDense) KNN(ctx context.Context, name string, vector []float32, k int, filter index.Filter) ([]index.Hit, error) {
	return []index.Hit{{Entry: index.Entry{ID: "e1", Text: "dense hit"}, Score: 0.9}}, nil
}

type fakeLexical struct{}

func (fakeLexical) EnsureIndex(ctx context.Context, name string, dim int) error { return nil }
func (fakeLexical) DropIndex(ctx context.Context, name string) error           { return nil }
func (fakeLexical) BulkUpsert(ctx context.Context, name string, entries []index.Entry) ([]string, error) {
	return nil, nil
}
func (fakeLexical) DeleteByFilter(ctx context.Context, name string, filter index.Filter) error {
	return nil
}
func (fakeLexical) BM25(ctx context.Context, name, queryText string, k int, filter index.Filter) ([]index.Hit, error) {
	return nil, nil
}
func (fakeLexical) ListByFilter(ctx context.Context, name string, filter index.Filter) ([]index.Entry, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeProvider struct {
	answer string
	usage  llm.Usage
	err    error
}

func (f *fakeProvider) Generate(ctx context.Context, model string, messages []llm.Message) (string, llm.Usage, error) {
	return f.answer, f.usage, f.err
}
func (f *fakeProvider) Stream(ctx context.Context, model string, messages []llm.Message) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, 2)
	out <- llm.Chunk{Text: f.answer}
	out <- llm.Chunk{Done: true, Usage: f.usage}
	close(out)
	return out, nil
}

func newTestLedger(t *testing.T) *quota.Ledger {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return quota.NewLedger(client, "test:")
}

func newTestOrchestrator(t *testing.T, provider llm.Provider) (*Orchestrator, *fakeSessions, *fakeMessages) {
	users := &fakeUsers{user: &domain.User{ID: "u1", DailyRequestCap: 100, DailyTokenCap: 100000}}
	sessions := &fakeSessions{session: &domain.ChatSession{UUID: "s1", UserID: "u1", KBIDs: []string{"kb1"}, TopK: 5}}
	messages := &fakeMessages{}
	retriever := retrieval.NewRetriever(fakeDense{}, fakeLexical{}, fakeEmbedder{}, nil)

	o := NewOrchestrator(users, sessions, messages, newTestLedger(t), retriever, provider, nil)
	return o, sessions, messages
}

func TestHandle_PersistsTurnAndUpdatesQuota(t *testing.T) {
	provider := &fakeProvider{answer: "the answer", usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}
	o, sessions, messages := newTestOrchestrator(t, provider)

	turn, err := o.Handle(context.Background(), "kb_kb1", Request{SessionUUID: "s1", UserID: "u1", Query: "what is ragctl?"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", turn.Answer)
	assert.Equal(t, 10, turn.InputTokens)
	assert.Equal(t, 5, turn.OutputTokens)

	require.Len(t, messages.appended, 2)
	assert.Equal(t, domain.MessageRoleUser, messages.appended[0].Role)
	assert.Equal(t, domain.MessageRoleAssistant, messages.appended[1].Role)
	assert.False(t, messages.appended[1].Partial)

	require.NotNil(t, sessions.updated)
	assert.Equal(t, "what is ragctl?", sessions.updated.Title)
}

func TestHandle_TitleTruncatedOnLongQuery(t *testing.T) {
	provider := &fakeProvider{answer: "ok"}
	o, sessions, _ := newTestOrchestrator(t, provider)

	longQuery := "this is a very long question that definitely exceeds twenty runes"
	_, err := o.Handle(context.Background(), "kb_kb1", Request{SessionUUID: "s1", UserID: "u1", Query: longQuery})
	require.NoError(t, err)

	assert.True(t, len(sessions.updated.Title) <= titlePreviewRunes+3)
	assert.Contains(t, sessions.updated.Title, "...")
}

func TestHandle_QuotaExceededBlocksTurn(t *testing.T) {
	provider := &fakeProvider{answer: "ok"}
	users := &fakeUsers{user: &domain.User{ID: "u1", DailyRequestCap: 1, DailyTokenCap: 100000}}
	sessions := &fakeSessions{session: &domain.ChatSession{UUID: "s1", UserID: "u1", KBIDs: []string{"kb1"}, TopK: 5}}
	messages := &fakeMessages{}
	retriever := retrieval.NewRetriever(fakeDense{}, fakeLexical{}, fakeEmbedder{}, nil)
	ledger := newTestLedger(t)

	o := NewOrchestrator(users, sessions, messages, ledger, retriever, provider, nil)
	ctx := context.Background()

	_, err := o.Handle(ctx, "kb_kb1", Request{SessionUUID: "s1", UserID: "u1", Query: "first"})
	require.NoError(t, err)

	_, err = o.Handle(ctx, "kb_kb1", Request{SessionUUID: "s1", UserID: "u1", Query: "second"})
	require.Error(t, err)
}

func TestStream_YieldsDeltasThenFinal(t *testing.T) {
	provider := &fakeProvider{answer: "streamed answer", usage: llm.Usage{InputTokens: 3, OutputTokens: 2}}
	o, _, messages := newTestOrchestrator(t, provider)

	events, err := o.Stream(context.Background(), "kb_kb1", Request{SessionUUID: "s1", UserID: "u1", Query: "stream this"})
	require.NoError(t, err)

	var deltas string
	var final *Turn
	for ev := range events {
		if ev.Final != nil {
			final = ev.Final
			continue
		}
		deltas += ev.Delta
	}

	require.NotNil(t, final)
	assert.Equal(t, "streamed answer", deltas)
	assert.Equal(t, "streamed answer", final.Answer)
	require.Len(t, messages.appended, 2)
	assert.False(t, messages.appended[1].Partial)
}

func TestRewrite_FallsBackToRawQueryOnError(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, nil, nil, nil, &fakeProvider{err: assertErr{}})
	history := []*domain.Message{{Role: domain.MessageRoleUser, Content: "earlier question"}}
	got := o.rewrite(context.Background(), history, "raw query")
	assert.Equal(t, "raw query", got)
}

func TestRewrite_NoHistoryReturnsRawQuery(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, nil, nil, nil, &fakeProvider{answer: "rewritten"})
	got := o.rewrite(context.Background(), nil, "raw query")
	assert.Equal(t, "raw query", got)
}

type assertErr struct{}

func (assertErr) Error() string { return "rewrite boom" }
