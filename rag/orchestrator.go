// Package rag implements the RAG Orchestrator (C8): one chat turn's
// journey from quota gate through retrieval and generation to persisted
// Message pair, in both unary and streaming modes.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragctl/ragctl/common"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/llm"
	"github.com/ragctl/ragctl/promptreg"
	"github.com/ragctl/ragctl/quota"
	"github.com/ragctl/ragctl/retrieval"
)

const (
	historyLimit        = 20
	defaultSessionTitle = "New Chat"
	titlePreviewRunes   = 20
)

// Request is one inbound chat turn.
type Request struct {
	SessionUUID string
	UserID      string
	Query       string
	Strategy    retrieval.Strategy
	TopK        int
	Model       string
}

// Turn is the completed, unary result of one chat turn.
type Turn struct {
	Answer       string
	Sources      []domain.Source
	InputTokens  int
	OutputTokens int
}

// StreamEvent is one increment of a streaming turn: the retrieved sources
// (always first), a text delta, or, as the final event, the completed Turn.
type StreamEvent struct {
	Sources []domain.Source
	Delta   string
	Final   *Turn
	Err     error
}

type Orchestrator struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	quota     *quota.Ledger
	retriever *retrieval.Retriever
	provider  llm.Provider
	rewriter  llm.Provider
	log       *common.ContextLogger
}

func NewOrchestrator(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	ledger *quota.Ledger,
	retriever *retrieval.Retriever,
	provider llm.Provider,
	rewriter llm.Provider,
) *Orchestrator {
	return &Orchestrator{
		users:     users,
		sessions:  sessions,
		messages:  messages,
		quota:     ledger,
		retriever: retriever,
		provider:  provider,
		rewriter:  rewriter,
		log:       common.ComponentLogger("rag"),
	}
}

// Handle runs a full unary turn: quota gate, history, rewrite, retrieve,
// generate, persist, update quota.
func (o *Orchestrator) Handle(ctx context.Context, indexName string, req Request) (*Turn, error) {
	user, err := o.gateQuota(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	session, history, err := o.loadSession(ctx, req.SessionUUID)
	if err != nil {
		return nil, err
	}

	query := o.rewrite(ctx, history, req.Query)

	results, err := o.retriever.Retrieve(ctx, indexName, session.KBIDs, query, effectiveTopK(req.TopK, session.TopK), retrieval.Options{Strategy: req.Strategy})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	answer, usage, err := o.generate(ctx, req.Model, results, query)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	turn := &Turn{
		Answer:       answer,
		Sources:      sourcesFromResults(results),
		InputTokens:  int(usage.InputTokens),
		OutputTokens: int(usage.OutputTokens),
	}

	if err := o.persistTurn(ctx, session, req.Query, turn, false); err != nil {
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}
	o.updateTokenQuota(ctx, user.ID, turn)

	return turn, nil
}

// Stream runs the same pipeline but yields answer tokens incrementally.
// The caller must drain the channel to completion. When the provider
// stream ends, or ctx is cancelled mid-answer, the turn is persisted
// (with Partial=true unless the provider signalled completion), a Final
// event is sent, and then the channel is closed; a cancellation before the
// sources event is sent closes the channel without persisting anything.
func (o *Orchestrator) Stream(ctx context.Context, indexName string, req Request) (<-chan StreamEvent, error) {
	user, err := o.gateQuota(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	session, history, err := o.loadSession(ctx, req.SessionUUID)
	if err != nil {
		return nil, err
	}

	query := o.rewrite(ctx, history, req.Query)

	results, err := o.retriever.Retrieve(ctx, indexName, session.KBIDs, query, effectiveTopK(req.TopK, session.TopK), retrieval.Options{Strategy: req.Strategy})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	messages := buildGenerationMessages(results, query)
	chunks, err := o.provider.Stream(ctx, req.Model, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to start generation stream: %w", err)
	}

	out := make(chan StreamEvent)
	go o.driveStream(ctx, session, req.Query, results, chunks, out, user.ID)
	return out, nil
}

func (o *Orchestrator) driveStream(ctx context.Context, session *domain.ChatSession, rawQuery string, results []retrieval.Result, chunks <-chan llm.Chunk, out chan<- StreamEvent, userID string) {
	defer close(out)

	var answer strings.Builder
	var usage llm.Usage
	partial := true

	select {
	case out <- StreamEvent{Sources: sourcesFromResults(results)}:
	case <-ctx.Done():
		return
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			out <- StreamEvent{Err: chunk.Err}
			partial = true
			break
		}
		if chunk.Done {
			usage = chunk.Usage
			partial = false
			break
		}
		answer.WriteString(chunk.Text)
		select {
		case out <- StreamEvent{Delta: chunk.Text}:
		case <-ctx.Done():
			// Client disconnected mid-stream: drain no further, persist
			// what was produced with partial=true below.
			goto persist
		}
	}

persist:
	turn := &Turn{
		Answer:       answer.String(),
		Sources:      sourcesFromResults(results),
		InputTokens:  int(usage.InputTokens),
		OutputTokens: int(usage.OutputTokens),
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := o.persistTurn(persistCtx, session, rawQuery, turn, partial); err != nil {
		o.log.WithError(err).Error("failed to persist streamed turn for session " + session.UUID)
	}
	o.updateTokenQuota(persistCtx, userID, turn)

	out <- StreamEvent{Final: turn}
}

func (o *Orchestrator) gateQuota(ctx context.Context, userID string) (*domain.User, error) {
	user, err := o.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if err := o.quota.CheckAndIncrRequest(ctx, userID, user.DailyRequestCap); err != nil {
		return nil, err
	}
	if err := o.quota.CheckTokens(ctx, userID, user.DailyTokenCap); err != nil {
		return nil, err
	}
	return user, nil
}

func (o *Orchestrator) loadSession(ctx context.Context, sessionUUID string) (*domain.ChatSession, []*domain.Message, error) {
	session, err := o.sessions.Get(ctx, sessionUUID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session %s: %w", sessionUUID, err)
	}
	history, err := o.messages.ListBySession(ctx, sessionUUID, historyLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history for session %s: %w", sessionUUID, err)
	}
	return session, history, nil
}

func effectiveTopK(requested, sessionDefault int) int {
	if requested > 0 {
		return requested
	}
	if sessionDefault > 0 {
		return sessionDefault
	}
	return 5
}

// rewrite substitutes a standalone question for the raw query using
// history, per spec step 3. On any failure it falls through to the raw
// query rather than failing the turn.
func (o *Orchestrator) rewrite(ctx context.Context, history []*domain.Message, rawQuery string) string {
	if len(history) == 0 || o.rewriter == nil {
		return rawQuery
	}

	prompt, err := promptreg.Render(promptreg.RewriteQuery, rewriteData(history, rawQuery))
	if err != nil {
		o.log.WithError(err).Warn("failed to render rewrite prompt, using raw query")
		return rawQuery
	}

	rewritten, _, err := o.rewriter.Generate(ctx, "", []llm.Message{{Role: llm.RoleUser, Text: prompt}})
	if err != nil || strings.TrimSpace(rewritten) == "" {
		if err != nil {
			o.log.WithError(err).Warn("query rewrite failed, using raw query")
		}
		return rawQuery
	}
	return strings.TrimSpace(rewritten)
}

type rewriteTurn struct {
	Role string
	Text string
}

type rewriteTemplateData struct {
	History  []rewriteTurn
	Question string
}

func rewriteData(history []*domain.Message, question string) rewriteTemplateData {
	turns := make([]rewriteTurn, len(history))
	for i, m := range history {
		turns[i] = rewriteTurn{Role: string(m.Role), Text: m.Content}
	}
	return rewriteTemplateData{History: turns, Question: question}
}

func buildGenerationMessages(results []retrieval.Result, query string) []llm.Message {
	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Entry.Text
	}
	prompt, err := promptreg.Render(promptreg.GenerateAnswer, struct {
		Contexts []string
		Question string
	}{Contexts: contexts, Question: query})
	if err != nil {
		prompt = query
	}
	return []llm.Message{{Role: llm.RoleUser, Text: prompt}}
}

func (o *Orchestrator) generate(ctx context.Context, model string, results []retrieval.Result, query string) (string, llm.Usage, error) {
	messages := buildGenerationMessages(results, query)
	return o.provider.Generate(ctx, model, messages)
}

func sourcesFromResults(results []retrieval.Result) []domain.Source {
	sources := make([]domain.Source, len(results))
	for i, r := range results {
		var page *int
		if p, ok := r.Entry.Metadata["page"].(int); ok {
			page = &p
		}
		filename, _ := r.Entry.Metadata["source"].(string)
		score := r.FusedScore
		if r.RerankScore != nil {
			score = *r.RerankScore
		}
		sources[i] = domain.Source{Filename: filename, Page: page, ChunkText: r.Entry.Text, Score: &score}
	}
	return sources
}

// persistTurn appends the user and assistant messages and updates the
// session's timestamp and, on the first turn, its title.
func (o *Orchestrator) persistTurn(ctx context.Context, session *domain.ChatSession, rawQuery string, turn *Turn, partial bool) error {
	userMsg := &domain.Message{
		ID:          uuid.NewString(),
		SessionUUID: session.UUID,
		Role:        domain.MessageRoleUser,
		Content:     rawQuery,
		CreatedAt:   time.Now(),
	}
	if err := o.messages.Append(ctx, userMsg); err != nil {
		return fmt.Errorf("failed to append user message: %w", err)
	}

	assistantMsg := &domain.Message{
		ID:           uuid.NewString(),
		SessionUUID:  session.UUID,
		Role:         domain.MessageRoleAssistant,
		Content:      turn.Answer,
		Sources:      turn.Sources,
		InputTokens:  turn.InputTokens,
		OutputTokens: turn.OutputTokens,
		Partial:      partial,
		CreatedAt:    time.Now(),
	}
	if err := o.messages.Append(ctx, assistantMsg); err != nil {
		return fmt.Errorf("failed to append assistant message: %w", err)
	}

	session.UpdatedAt = time.Now()
	if session.Title == "" || session.Title == defaultSessionTitle {
		session.Title = titlePreview(rawQuery)
	}
	if err := o.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func titlePreview(query string) string {
	runes := []rune(strings.TrimSpace(query))
	if len(runes) <= titlePreviewRunes {
		return string(runes)
	}
	return string(runes[:titlePreviewRunes]) + "..."
}

func (o *Orchestrator) updateTokenQuota(ctx context.Context, userID string, turn *Turn) {
	total := turn.InputTokens + turn.OutputTokens
	if total == 0 {
		return
	}
	if err := o.quota.IncrTokens(ctx, userID, total); err != nil {
		o.log.WithError(err).Warn("failed to update token quota for user " + userID)
	}
}
