// Package repomanager wires ledger repositories to a shared database
// handle and owns schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/blobrouter/internal/dbx"
	"github.com/dmitrijs2005/blobrouter/internal/router/repositories/envelopes"
	"github.com/dmitrijs2005/blobrouter/internal/router/repositories/events"
)

// RepositoryManager hands out repositories bound to either the pooled
// connection or a transaction, so services can compose multi-table writes
// with dbx.WithTx.
type RepositoryManager interface {
	Envelopes(db dbx.DBTX) envelopes.Repository
	Events(db dbx.DBTX) events.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
