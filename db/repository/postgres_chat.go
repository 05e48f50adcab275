package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ragctl/ragctl/apperrors"
	"github.com/ragctl/ragctl/db"
	"github.com/ragctl/ragctl/domain"
)

// PostgresSessionRepository implements SessionRepository.
type PostgresSessionRepository struct {
	db *db.PostgresDB
}

func NewPostgresSessionRepository(pdb *db.PostgresDB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: pdb}
}

func (r *PostgresSessionRepository) Create(ctx context.Context, s *domain.ChatSession) error {
	kbIDs, err := json.Marshal(s.KBIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal session kb_ids: %w", err)
	}
	err = r.db.Exec(ctx, `
		INSERT INTO chat_sessions (uuid, user_id, primary_kb_id, kb_ids, title, icon, top_k, deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.UUID, s.UserID, s.PrimaryKBID, kbIDs, s.Title, s.Icon, s.TopK, s.Deleted, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepository) scan(row pgx.Row) (*domain.ChatSession, error) {
	s := &domain.ChatSession{}
	var kbIDs []byte
	err := row.Scan(&s.UUID, &s.UserID, &s.PrimaryKBID, &kbIDs, &s.Title, &s.Icon, &s.TopK, &s.Deleted, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("chat session", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chat session: %w", err)
	}
	if len(kbIDs) > 0 {
		if err := json.Unmarshal(kbIDs, &s.KBIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session kb_ids: %w", err)
		}
	}
	return s, nil
}

func (r *PostgresSessionRepository) Get(ctx context.Context, uuid string) (*domain.ChatSession, error) {
	row := r.db.QueryRow(ctx, `
		SELECT uuid, user_id, primary_kb_id, kb_ids, title, icon, top_k, deleted, created_at, updated_at
		FROM chat_sessions WHERE uuid = $1 AND deleted = false`, uuid)
	return r.scan(row)
}

func (r *PostgresSessionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	rows, err := r.db.Query(ctx, `
		SELECT uuid, user_id, primary_kb_id, kb_ids, title, icon, top_k, deleted, created_at, updated_at
		FROM chat_sessions WHERE user_id = $1 AND deleted = false ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}
	defer rows.Close()
	var out []*domain.ChatSession
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresSessionRepository) Update(ctx context.Context, s *domain.ChatSession) error {
	kbIDs, err := json.Marshal(s.KBIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal session kb_ids: %w", err)
	}
	err = r.db.Exec(ctx, `
		UPDATE chat_sessions SET primary_kb_id=$2, kb_ids=$3, title=$4, icon=$5, top_k=$6, updated_at=$7
		WHERE uuid=$1`,
		s.UUID, s.PrimaryKBID, kbIDs, s.Title, s.Icon, s.TopK, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update chat session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepository) SoftDelete(ctx context.Context, uuid string) error {
	if err := r.db.Exec(ctx, `UPDATE chat_sessions SET deleted=true, updated_at=now() WHERE uuid=$1`, uuid); err != nil {
		return fmt.Errorf("failed to soft-delete chat session: %w", err)
	}
	return nil
}

// PostgresMessageRepository implements MessageRepository.
type PostgresMessageRepository struct {
	db *db.PostgresDB
}

func NewPostgresMessageRepository(pdb *db.PostgresDB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: pdb}
}

func (r *PostgresMessageRepository) Append(ctx context.Context, m *domain.Message) error {
	sources, err := json.Marshal(m.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal message sources: %w", err)
	}
	err = r.db.Exec(ctx, `
		INSERT INTO messages (id, session_uuid, role, content, sources, input_tokens, output_tokens, partial, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.SessionUUID, m.Role, m.Content, sources, m.InputTokens, m.OutputTokens, m.Partial, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepository) ListBySession(ctx context.Context, sessionUUID string, limit int) ([]*domain.Message, error) {
	// limit <= 0 means every message; LIMIT NULL places no bound.
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, session_uuid, role, content, sources, input_tokens, output_tokens, partial, created_at
		FROM messages WHERE session_uuid = $1 ORDER BY created_at DESC LIMIT $2`, sessionUUID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		var sources []byte
		if err := rows.Scan(&m.ID, &m.SessionUUID, &m.Role, &m.Content, &sources, &m.InputTokens, &m.OutputTokens, &m.Partial, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message sources: %w", err)
			}
		}
		out = append(out, m)
	}
	// Reverse to oldest-first, matching the orchestrator's history contract.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
