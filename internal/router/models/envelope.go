// Package models defines the ledger records written by the router:
// envelope outcomes and the append-only processing event log.
package models

import "time"

// Status is the terminal outcome of one processing attempt.
type Status string

const (
	StatusDispatched Status = "DISPATCHED"
	StatusRejected   Status = "REJECTED"
)

// Envelope is one row of the envelope ledger. An envelope is identified by
// (Container, FileName); several rows may exist for the same identity over
// time, one per finished processing attempt. Rows are never updated in
// place except for flipping IsDeleted once the source blob removal is
// confirmed.
type Envelope struct {
	ID            string
	Container     string
	FileName      string
	FileCreatedAt time.Time
	DispatchedAt  *time.Time
	Status        Status
	IsDeleted     bool
	CreatedAt     time.Time
}
