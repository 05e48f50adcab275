// Package repository defines the persistence contracts for ragctl's
// relational metadata store (C2) plus concrete Postgres and in-memory
// implementations. Each interface is scoped to one entity family; all of
// it lives in Postgres, so the split is purely for testability (each
// repository can be faked independently).
package repository

import (
	"context"

	"github.com/ragctl/ragctl/domain"
)

// UserRepository persists accounts and authentication state.
type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, u *domain.User) error
}

// KnowledgeRepository persists knowledge bases (tenants).
type KnowledgeRepository interface {
	Create(ctx context.Context, k *domain.Knowledge) error
	Get(ctx context.Context, id string) (*domain.Knowledge, error)
	List(ctx context.Context, userID string) ([]*domain.Knowledge, error)
	Update(ctx context.Context, k *domain.Knowledge) error
	SetStatus(ctx context.Context, id string, status domain.KBStatus) error
	Delete(ctx context.Context, id string) error
	// ListByStatus supports worker-startup reconciliation.
	ListByStatus(ctx context.Context, status domain.KBStatus) ([]*domain.Knowledge, error)
}

// MembershipRepository persists user/KB role assignments.
type MembershipRepository interface {
	Upsert(ctx context.Context, m *domain.Membership) error
	Get(ctx context.Context, userID, kbID string) (*domain.Membership, error)
	ListByKB(ctx context.Context, kbID string) ([]*domain.Membership, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Membership, error)
	Delete(ctx context.Context, userID, kbID string) error
	DeleteByKB(ctx context.Context, kbID string) error
}

// DocumentRepository persists uploaded documents and their processing state.
type DocumentRepository interface {
	Create(ctx context.Context, d *domain.Document) error
	Get(ctx context.Context, id string) (*domain.Document, error)
	ListByKB(ctx context.Context, kbID string) ([]*domain.Document, error)
	SetStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error
	Delete(ctx context.Context, id string) error
	DeleteByKB(ctx context.Context, kbID string) error
	// ListByStatus supports worker-startup reconciliation.
	ListByStatus(ctx context.Context, status domain.DocumentStatus) ([]*domain.Document, error)
}

// ChunkRecord maps one C3 index entry back to its owning document, satisfying
// the C2/C3 count-consistency invariant.
type ChunkRecord struct {
	ID         string
	DocumentID string
	KBID       string
	ChunkIndex int
}

// ChunkIndexRepository tracks the chunk rows written alongside C3 entries.
type ChunkIndexRepository interface {
	BulkInsert(ctx context.Context, chunks []ChunkRecord) error
	CountByDocument(ctx context.Context, docID string) (int, error)
	DeleteByDocument(ctx context.Context, docID string) error
}

// SessionRepository persists chat sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.ChatSession) error
	Get(ctx context.Context, uuid string) (*domain.ChatSession, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.ChatSession, error)
	Update(ctx context.Context, s *domain.ChatSession) error
	SoftDelete(ctx context.Context, uuid string) error
}

// MessageRepository persists chat turns.
type MessageRepository interface {
	Append(ctx context.Context, m *domain.Message) error
	ListBySession(ctx context.Context, sessionUUID string, limit int) ([]*domain.Message, error)
}

// TestSetRepository persists synthetic evaluation test sets.
type TestSetRepository interface {
	Create(ctx context.Context, t *domain.TestSet) error
	Get(ctx context.Context, id string) (*domain.TestSet, error)
	List(ctx context.Context) ([]*domain.TestSet, error)
	SetStatus(ctx context.Context, id string, status domain.TestSetStatus, errMsg string) error
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status domain.TestSetStatus) ([]*domain.TestSet, error)
}

// ExperimentRepository persists evaluation runs.
type ExperimentRepository interface {
	Create(ctx context.Context, e *domain.Experiment) error
	Get(ctx context.Context, id string) (*domain.Experiment, error)
	ListByKB(ctx context.Context, kbID string) ([]*domain.Experiment, error)
	Update(ctx context.Context, e *domain.Experiment) error
	Delete(ctx context.Context, id string) error
	DeleteByKB(ctx context.Context, kbID string) error
	ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]*domain.Experiment, error)
}
