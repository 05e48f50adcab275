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

// PostgresTestSetRepository implements TestSetRepository.
type PostgresTestSetRepository struct {
	db *db.PostgresDB
}

func NewPostgresTestSetRepository(pdb *db.PostgresDB) *PostgresTestSetRepository {
	return &PostgresTestSetRepository{db: pdb}
}

func (r *PostgresTestSetRepository) Create(ctx context.Context, t *domain.TestSet) error {
	err := r.db.Exec(ctx, `
		INSERT INTO test_sets (id, name, blob_path, status, error_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.Name, t.BlobPath, t.Status, t.ErrorMessage, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert test set: %w", err)
	}
	return nil
}

func (r *PostgresTestSetRepository) scan(row pgx.Row) (*domain.TestSet, error) {
	t := &domain.TestSet{}
	err := row.Scan(&t.ID, &t.Name, &t.BlobPath, &t.Status, &t.ErrorMessage, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("test set", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan test set: %w", err)
	}
	return t, nil
}

func (r *PostgresTestSetRepository) Get(ctx context.Context, id string) (*domain.TestSet, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, blob_path, status, error_message, created_at FROM test_sets WHERE id=$1`, id)
	return r.scan(row)
}

func (r *PostgresTestSetRepository) List(ctx context.Context) ([]*domain.TestSet, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, blob_path, status, error_message, created_at FROM test_sets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list test sets: %w", err)
	}
	defer rows.Close()
	var out []*domain.TestSet
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresTestSetRepository) ListByStatus(ctx context.Context, status domain.TestSetStatus) ([]*domain.TestSet, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, blob_path, status, error_message, created_at FROM test_sets WHERE status=$1`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list test sets by status: %w", err)
	}
	defer rows.Close()
	var out []*domain.TestSet
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresTestSetRepository) SetStatus(ctx context.Context, id string, status domain.TestSetStatus, errMsg string) error {
	if err := r.db.Exec(ctx, `UPDATE test_sets SET status=$2, error_message=$3 WHERE id=$1`, id, status, errMsg); err != nil {
		return fmt.Errorf("failed to set test set status: %w", err)
	}
	return nil
}

func (r *PostgresTestSetRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.Exec(ctx, `DELETE FROM test_sets WHERE id=$1`, id); err != nil {
		return fmt.Errorf("failed to delete test set: %w", err)
	}
	return nil
}

// PostgresExperimentRepository implements ExperimentRepository.
type PostgresExperimentRepository struct {
	db *db.PostgresDB
}

func NewPostgresExperimentRepository(pdb *db.PostgresDB) *PostgresExperimentRepository {
	return &PostgresExperimentRepository{db: pdb}
}

func (r *PostgresExperimentRepository) Create(ctx context.Context, e *domain.Experiment) error {
	params, err := json.Marshal(e.RuntimeParams)
	if err != nil {
		return fmt.Errorf("failed to marshal experiment params: %w", err)
	}
	err = r.db.Exec(ctx, `
		INSERT INTO experiments (id, kb_id, testset_id, runtime_params, faithfulness, answer_relevancy, context_recall, context_precision, status, error_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.KBID, e.TestSetID, params, e.Scores.Faithfulness, e.Scores.AnswerRelevancy, e.Scores.ContextRecall, e.Scores.ContextPrecision,
		e.Status, e.ErrorMessage, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

func (r *PostgresExperimentRepository) scan(row pgx.Row) (*domain.Experiment, error) {
	e := &domain.Experiment{}
	var params []byte
	err := row.Scan(&e.ID, &e.KBID, &e.TestSetID, &params,
		&e.Scores.Faithfulness, &e.Scores.AnswerRelevancy, &e.Scores.ContextRecall, &e.Scores.ContextPrecision,
		&e.Status, &e.ErrorMessage, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("experiment", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan experiment: %w", err)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &e.RuntimeParams); err != nil {
			return nil, fmt.Errorf("failed to unmarshal experiment params: %w", err)
		}
	}
	return e, nil
}

func (r *PostgresExperimentRepository) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, kb_id, testset_id, runtime_params, faithfulness, answer_relevancy, context_recall, context_precision, status, error_message, created_at
		FROM experiments WHERE id=$1`, id)
	return r.scan(row)
}

func (r *PostgresExperimentRepository) ListByKB(ctx context.Context, kbID string) ([]*domain.Experiment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, kb_id, testset_id, runtime_params, faithfulness, answer_relevancy, context_recall, context_precision, status, error_message, created_at
		FROM experiments WHERE kb_id=$1 ORDER BY created_at DESC`, kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()
	var out []*domain.Experiment
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresExperimentRepository) ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]*domain.Experiment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, kb_id, testset_id, runtime_params, faithfulness, answer_relevancy, context_recall, context_precision, status, error_message, created_at
		FROM experiments WHERE status=$1`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments by status: %w", err)
	}
	defer rows.Close()
	var out []*domain.Experiment
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresExperimentRepository) Update(ctx context.Context, e *domain.Experiment) error {
	err := r.db.Exec(ctx, `
		UPDATE experiments SET faithfulness=$2, answer_relevancy=$3, context_recall=$4, context_precision=$5, status=$6, error_message=$7
		WHERE id=$1`,
		e.ID, e.Scores.Faithfulness, e.Scores.AnswerRelevancy, e.Scores.ContextRecall, e.Scores.ContextPrecision, e.Status, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	return nil
}

func (r *PostgresExperimentRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.Exec(ctx, `DELETE FROM experiments WHERE id=$1`, id); err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	return nil
}

func (r *PostgresExperimentRepository) DeleteByKB(ctx context.Context, kbID string) error {
	if err := r.db.Exec(ctx, `DELETE FROM experiments WHERE kb_id=$1`, kbID); err != nil {
		return fmt.Errorf("failed to delete experiments for kb: %w", err)
	}
	return nil
}
