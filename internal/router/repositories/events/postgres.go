// Package events provides the PostgreSQL-backed repository for the
// append-only processing event log.
package events

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/blobrouter/internal/dbx"
	"github.com/dmitrijs2005/blobrouter/internal/router/models"
)

// PostgresRepository implements event storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert appends one audit event. Events are never updated or deleted.
func (r *PostgresRepository) Insert(ctx context.Context, event *models.EnvelopeEvent) error {
	query := `
		INSERT INTO envelope_events (container, file_name, created_at, event, notes)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := r.db.ExecContext(ctx, query,
		event.Container, event.FileName, event.CreatedAt, event.Event, event.Notes)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
