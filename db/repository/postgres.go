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

// PostgresUserRepository implements UserRepository over Postgres.
type PostgresUserRepository struct {
	db *db.PostgresDB
}

func NewPostgresUserRepository(pdb *db.PostgresDB) *PostgresUserRepository {
	return &PostgresUserRepository{db: pdb}
}

func (r *PostgresUserRepository) Create(ctx context.Context, u *domain.User) error {
	err := r.db.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, active, superuser, plan, daily_request_cap, daily_token_cap, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Email, u.PasswordHash, u.Active, u.Superuser, u.Plan, u.DailyRequestCap, u.DailyTokenCap, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.Superuser, &u.Plan,
		&u.DailyRequestCap, &u.DailyTokenCap, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("user", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, active, superuser, plan, daily_request_cap, daily_token_cap, created_at, updated_at
		FROM users WHERE id = $1`, id)
	return r.scanUser(row)
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, active, superuser, plan, daily_request_cap, daily_token_cap, created_at, updated_at
		FROM users WHERE email = $1`, email)
	return r.scanUser(row)
}

func (r *PostgresUserRepository) Update(ctx context.Context, u *domain.User) error {
	err := r.db.Exec(ctx, `
		UPDATE users SET email=$2, password_hash=$3, active=$4, superuser=$5, plan=$6,
			daily_request_cap=$7, daily_token_cap=$8, updated_at=$9
		WHERE id=$1`,
		u.ID, u.Email, u.PasswordHash, u.Active, u.Superuser, u.Plan, u.DailyRequestCap, u.DailyTokenCap, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// PostgresKnowledgeRepository implements KnowledgeRepository over Postgres.
type PostgresKnowledgeRepository struct {
	db *db.PostgresDB
}

func NewPostgresKnowledgeRepository(pdb *db.PostgresDB) *PostgresKnowledgeRepository {
	return &PostgresKnowledgeRepository{db: pdb}
}

func (r *PostgresKnowledgeRepository) Create(ctx context.Context, k *domain.Knowledge) error {
	err := r.db.Exec(ctx, `
		INSERT INTO knowledges (id, name, description, embed_model_id, chunk_size, chunk_overlap, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		k.ID, k.Name, k.Description, k.EmbedModelID, k.ChunkSize, k.ChunkOverlap, k.Status, k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge: %w", err)
	}
	return nil
}

func (r *PostgresKnowledgeRepository) scan(row pgx.Row) (*domain.Knowledge, error) {
	k := &domain.Knowledge{}
	err := row.Scan(&k.ID, &k.Name, &k.Description, &k.EmbedModelID, &k.ChunkSize, &k.ChunkOverlap, &k.Status, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("knowledge", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan knowledge: %w", err)
	}
	return k, nil
}

func (r *PostgresKnowledgeRepository) Get(ctx context.Context, id string) (*domain.Knowledge, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, description, embed_model_id, chunk_size, chunk_overlap, status, created_at, updated_at
		FROM knowledges WHERE id = $1`, id)
	return r.scan(row)
}

func (r *PostgresKnowledgeRepository) List(ctx context.Context, userID string) ([]*domain.Knowledge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT k.id, k.name, k.description, k.embed_model_id, k.chunk_size, k.chunk_overlap, k.status, k.created_at, k.updated_at
		FROM knowledges k
		JOIN memberships m ON m.kb_id = k.id
		WHERE m.user_id = $1
		ORDER BY k.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledges: %w", err)
	}
	defer rows.Close()

	var out []*domain.Knowledge
	for rows.Next() {
		k, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *PostgresKnowledgeRepository) ListByStatus(ctx context.Context, status domain.KBStatus) ([]*domain.Knowledge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, embed_model_id, chunk_size, chunk_overlap, status, created_at, updated_at
		FROM knowledges WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledges by status: %w", err)
	}
	defer rows.Close()

	var out []*domain.Knowledge
	for rows.Next() {
		k, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *PostgresKnowledgeRepository) Update(ctx context.Context, k *domain.Knowledge) error {
	err := r.db.Exec(ctx, `
		UPDATE knowledges SET name=$2, description=$3, embed_model_id=$4, chunk_size=$5, chunk_overlap=$6, status=$7, updated_at=$8
		WHERE id=$1`,
		k.ID, k.Name, k.Description, k.EmbedModelID, k.ChunkSize, k.ChunkOverlap, k.Status, k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update knowledge: %w", err)
	}
	return nil
}

func (r *PostgresKnowledgeRepository) SetStatus(ctx context.Context, id string, status domain.KBStatus) error {
	err := r.db.Exec(ctx, `UPDATE knowledges SET status=$2, updated_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set knowledge status: %w", err)
	}
	return nil
}

func (r *PostgresKnowledgeRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.Exec(ctx, `DELETE FROM knowledges WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete knowledge: %w", err)
	}
	return nil
}

// PostgresMembershipRepository implements MembershipRepository.
type PostgresMembershipRepository struct {
	db *db.PostgresDB
}

func NewPostgresMembershipRepository(pdb *db.PostgresDB) *PostgresMembershipRepository {
	return &PostgresMembershipRepository{db: pdb}
}

func (r *PostgresMembershipRepository) Upsert(ctx context.Context, m *domain.Membership) error {
	err := r.db.Exec(ctx, `
		INSERT INTO memberships (user_id, kb_id, role) VALUES ($1,$2,$3)
		ON CONFLICT (user_id, kb_id) DO UPDATE SET role = excluded.role`,
		m.UserID, m.KBID, m.Role)
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}

func (r *PostgresMembershipRepository) Get(ctx context.Context, userID, kbID string) (*domain.Membership, error) {
	m := &domain.Membership{}
	row := r.db.QueryRow(ctx, `SELECT user_id, kb_id, role FROM memberships WHERE user_id=$1 AND kb_id=$2`, userID, kbID)
	if err := row.Scan(&m.UserID, &m.KBID, &m.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("membership", userID+"/"+kbID)
		}
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}
	return m, nil
}

func (r *PostgresMembershipRepository) ListByKB(ctx context.Context, kbID string) ([]*domain.Membership, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id, kb_id, role FROM memberships WHERE kb_id=$1`, kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()
	var out []*domain.Membership
	for rows.Next() {
		m := &domain.Membership{}
		if err := rows.Scan(&m.UserID, &m.KBID, &m.Role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresMembershipRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id, kb_id, role FROM memberships WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()
	var out []*domain.Membership
	for rows.Next() {
		m := &domain.Membership{}
		if err := rows.Scan(&m.UserID, &m.KBID, &m.Role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresMembershipRepository) Delete(ctx context.Context, userID, kbID string) error {
	if err := r.db.Exec(ctx, `DELETE FROM memberships WHERE user_id=$1 AND kb_id=$2`, userID, kbID); err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return nil
}

func (r *PostgresMembershipRepository) DeleteByKB(ctx context.Context, kbID string) error {
	if err := r.db.Exec(ctx, `DELETE FROM memberships WHERE kb_id=$1`, kbID); err != nil {
		return fmt.Errorf("failed to delete memberships for kb: %w", err)
	}
	return nil
}

// PostgresDocumentRepository implements DocumentRepository. Metadata is
// stored as JSONB, matching the teacher's run_data pattern for flexible
// per-row attributes.
type PostgresDocumentRepository struct {
	db *db.PostgresDB
}

func NewPostgresDocumentRepository(pdb *db.PostgresDB) *PostgresDocumentRepository {
	return &PostgresDocumentRepository{db: pdb}
}

func (r *PostgresDocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}
	err = r.db.Exec(ctx, `
		INSERT INTO documents (id, kb_id, filename, blob_path, content_hash, status, error_message, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.KBID, d.Filename, d.BlobPath, d.ContentHash, d.Status, d.ErrorMessage, meta, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *PostgresDocumentRepository) scan(row pgx.Row) (*domain.Document, error) {
	d := &domain.Document{}
	var meta []byte
	err := row.Scan(&d.ID, &d.KBID, &d.Filename, &d.BlobPath, &d.ContentHash, &d.Status, &d.ErrorMessage, &meta, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("document", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document metadata: %w", err)
		}
	}
	return d, nil
}

func (r *PostgresDocumentRepository) Get(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, kb_id, filename, blob_path, content_hash, status, error_message, metadata, created_at, updated_at
		FROM documents WHERE id = $1`, id)
	return r.scan(row)
}

func (r *PostgresDocumentRepository) ListByKB(ctx context.Context, kbID string) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, kb_id, filename, blob_path, content_hash, status, error_message, metadata, created_at, updated_at
		FROM documents WHERE kb_id = $1 ORDER BY created_at DESC`, kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()
	var out []*domain.Document
	for rows.Next() {
		d, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresDocumentRepository) ListByStatus(ctx context.Context, status domain.DocumentStatus) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, kb_id, filename, blob_path, content_hash, status, error_message, metadata, created_at, updated_at
		FROM documents WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents by status: %w", err)
	}
	defer rows.Close()
	var out []*domain.Document
	for rows.Next() {
		d, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresDocumentRepository) SetStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	if len(errMsg) > domain.MaxErrorMessageLen {
		errMsg = errMsg[:domain.MaxErrorMessageLen]
	}
	err := r.db.Exec(ctx, `UPDATE documents SET status=$2, error_message=$3, updated_at=now() WHERE id=$1`, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to set document status: %w", err)
	}
	return nil
}

func (r *PostgresDocumentRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (r *PostgresDocumentRepository) DeleteByKB(ctx context.Context, kbID string) error {
	if err := r.db.Exec(ctx, `DELETE FROM documents WHERE kb_id = $1`, kbID); err != nil {
		return fmt.Errorf("failed to delete documents for kb: %w", err)
	}
	return nil
}

// PostgresChunkIndexRepository implements ChunkIndexRepository.
type PostgresChunkIndexRepository struct {
	db *db.PostgresDB
}

func NewPostgresChunkIndexRepository(pdb *db.PostgresDB) *PostgresChunkIndexRepository {
	return &PostgresChunkIndexRepository{db: pdb}
}

func (r *PostgresChunkIndexRepository) BulkInsert(ctx context.Context, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin chunk insert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`INSERT INTO chunk_index (id, document_id, kb_id, chunk_index) VALUES ($1,$2,$3,$4)`,
			c.ID, c.DocumentID, c.KBID, c.ChunkIndex)
	}
	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert chunk row: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close chunk batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresChunkIndexRepository) CountByDocument(ctx context.Context, docID string) (int, error) {
	var n int
	row := r.db.QueryRow(ctx, `SELECT count(*) FROM chunk_index WHERE document_id = $1`, docID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (r *PostgresChunkIndexRepository) DeleteByDocument(ctx context.Context, docID string) error {
	if err := r.db.Exec(ctx, `DELETE FROM chunk_index WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("failed to delete chunk rows: %w", err)
	}
	return nil
}
