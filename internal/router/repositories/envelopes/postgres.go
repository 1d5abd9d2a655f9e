// Package envelopes provides the PostgreSQL-backed repository for the
// envelope ledger.
package envelopes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/blobrouter/internal/common"
	"github.com/dmitrijs2005/blobrouter/internal/dbx"
	"github.com/dmitrijs2005/blobrouter/internal/router/models"
)

// PostgresRepository implements envelope storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert appends a new envelope row. Rows are append-only: a repeated
// processing attempt for the same (container, file_name) produces a new
// row rather than updating an existing one.
func (r *PostgresRepository) Insert(ctx context.Context, envelope *models.Envelope) error {
	query := `
		INSERT INTO envelopes (id, container, file_name, file_created_at, dispatched_at, status, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	var dispatchedAt sql.NullTime
	if envelope.DispatchedAt != nil {
		dispatchedAt = sql.NullTime{Time: *envelope.DispatchedAt, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, query,
		envelope.ID, envelope.Container, envelope.FileName, envelope.FileCreatedAt,
		dispatchedAt, envelope.Status, envelope.IsDeleted, envelope.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

// FindLast returns the most recent envelope row for (container, fileName),
// or common.ErrorNotFound when the ledger has never recorded an outcome
// for that identity.
func (r *PostgresRepository) FindLast(ctx context.Context, container string, fileName string) (*models.Envelope, error) {
	query := `
		SELECT id, container, file_name, file_created_at, dispatched_at, status, is_deleted, created_at
		FROM envelopes
		WHERE container = $1 AND file_name = $2
		ORDER BY created_at DESC
		LIMIT 1;
	`
	var item models.Envelope
	var dispatchedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, container, fileName).Scan(
		&item.ID, &item.Container, &item.FileName, &item.FileCreatedAt,
		&dispatchedAt, &item.Status, &item.IsDeleted, &item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if dispatchedAt.Valid {
		item.DispatchedAt = &dispatchedAt.Time
	}
	return &item, nil
}

// MarkDeleted flips the deleted flag on a single row. This is the only
// in-place update the ledger permits.
func (r *PostgresRepository) MarkDeleted(ctx context.Context, id string) error {
	query := `UPDATE envelopes SET is_deleted = TRUE WHERE id = $1;`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
