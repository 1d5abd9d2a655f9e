// Package services composes the ledger, verifier and storage components
// into the per-blob ingestion pipeline.
package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/dbx"
	"github.com/dmitrijs2005/blobrouter/internal/logging"
	"github.com/dmitrijs2005/blobrouter/internal/router/models"
	"github.com/dmitrijs2005/blobrouter/internal/router/repositories/repomanager"
	"github.com/dmitrijs2005/blobrouter/internal/router/storage"
	"github.com/google/uuid"
)

// EnvelopeService owns ledger writes. Terminal rows and their audit
// events are written in one transaction; standalone trace events
// (processing started, transient errors) are best-effort single inserts.
type EnvelopeService struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
	clock storage.Clock
	log   logging.Logger
}

func NewEnvelopeService(db *sql.DB, repos repomanager.RepositoryManager, clock storage.Clock, log logging.Logger) *EnvelopeService {
	if clock == nil {
		clock = time.Now
	}
	return &EnvelopeService{db: db, repos: repos, clock: clock, log: log}
}

// FindLast returns the most recent ledger row for (container, fileName),
// or common.ErrorNotFound.
func (s *EnvelopeService) FindLast(ctx context.Context, container, fileName string) (*models.Envelope, error) {
	return s.repos.Envelopes(s.db).FindLast(ctx, container, fileName)
}

// RecordDispatched appends a DISPATCHED row plus its audit event and
// returns the new row id.
func (s *EnvelopeService) RecordDispatched(ctx context.Context, container, fileName string, fileCreatedAt, dispatchedAt time.Time) (string, error) {
	id := uuid.NewString()
	now := s.clock()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		err := s.repos.Envelopes(tx).Insert(ctx, &models.Envelope{
			ID:            id,
			Container:     container,
			FileName:      fileName,
			FileCreatedAt: fileCreatedAt,
			DispatchedAt:  &dispatchedAt,
			Status:        models.StatusDispatched,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		return s.repos.Events(tx).Insert(ctx, &models.EnvelopeEvent{
			Container: container,
			FileName:  fileName,
			CreatedAt: now,
			Event:     models.EventDispatched,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecordRejected appends a REJECTED row plus its audit event (REJECTED or
// DUPLICATE_REJECTED) carrying the failure notes, and returns the row id.
func (s *EnvelopeService) RecordRejected(ctx context.Context, container, fileName string, fileCreatedAt time.Time, event models.EventType, notes string) (string, error) {
	id := uuid.NewString()
	now := s.clock()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		err := s.repos.Envelopes(tx).Insert(ctx, &models.Envelope{
			ID:            id,
			Container:     container,
			FileName:      fileName,
			FileCreatedAt: fileCreatedAt,
			Status:        models.StatusRejected,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		return s.repos.Events(tx).Insert(ctx, &models.EnvelopeEvent{
			Container: container,
			FileName:  fileName,
			CreatedAt: now,
			Event:     event,
			Notes:     notes,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// MarkDeleted flips the row's deleted flag once source removal is
// confirmed and records the matching audit event (DELETED or
// DELETED_FROM_REJECTED).
func (s *EnvelopeService) MarkDeleted(ctx context.Context, envelope *models.Envelope, event models.EventType) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Envelopes(tx).MarkDeleted(ctx, envelope.ID); err != nil {
			return err
		}
		return s.repos.Events(tx).Insert(ctx, &models.EnvelopeEvent{
			Container: envelope.Container,
			FileName:  envelope.FileName,
			CreatedAt: s.clock(),
			Event:     event,
		})
	})
}

// RecordEvent appends a standalone audit event. Used for trace events
// that have no terminal row: FILE_PROCESSING_STARTED and ERROR.
func (s *EnvelopeService) RecordEvent(ctx context.Context, container, fileName string, event models.EventType, notes string) error {
	return s.repos.Events(s.db).Insert(ctx, &models.EnvelopeEvent{
		Container: container,
		FileName:  fileName,
		CreatedAt: s.clock(),
		Event:     event,
		Notes:     notes,
	})
}
