// Package db wraps pgxpool for ragctl's relational metadata store (C2).
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB wraps a connection pool shared by all repositories.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens a pool against connString and verifies connectivity.
func NewPostgresDB(ctx context.Context, connString string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresDB{pool: pool}, nil
}

func (p *PostgresDB) Close() {
	p.pool.Close()
}

func (p *PostgresDB) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := p.pool.Exec(ctx, sql, args...)
	return err
}

func (p *PostgresDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

func (p *PostgresDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// BeginTx opens a transaction. Callers must Commit or Rollback; processing
// code keeps these scoped narrowly (acquire-and-mark, then release) per the
// no-long-held-connection rule for document processing.
func (p *PostgresDB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return p.pool.Begin(ctx)
}

func (p *PostgresDB) Pool() *pgxpool.Pool {
	return p.pool
}
