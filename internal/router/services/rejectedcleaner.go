package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/logging"
	"github.com/dmitrijs2005/blobrouter/internal/router/models"
	"github.com/dmitrijs2005/blobrouter/internal/router/storage"
)

type rejectedStore interface {
	List(ctx context.Context, container string) ([]storage.Blob, error)
	Delete(ctx context.Context, container, blobName string) error
}

type eventRecorder interface {
	RecordEvent(ctx context.Context, container, fileName string, event models.EventType, notes string) error
}

// RejectedCleaner removes archived blobs from a rejected container once
// they outlive the retention period. The rejected area is a quarantine
// for investigation, not long-term storage.
type RejectedCleaner struct {
	store     rejectedStore
	events    eventRecorder
	retention time.Duration
	clock     storage.Clock
	log       logging.Logger
}

func NewRejectedCleaner(store rejectedStore, events eventRecorder, retention time.Duration, clock storage.Clock, log logging.Logger) *RejectedCleaner {
	if clock == nil {
		clock = time.Now
	}
	return &RejectedCleaner{store: store, events: events, retention: retention, clock: clock, log: log}
}

// Clean deletes expired blobs from the rejected counterpart of the source
// container. Per-blob failures are logged and skipped.
func (c *RejectedCleaner) Clean(ctx context.Context, sourceContainer string) {
	container := storage.RejectedContainerName(sourceContainer)

	blobs, err := c.store.List(ctx, container)
	if err != nil {
		c.log.Error(ctx, "cannot list rejected container", "container", container, "error", err.Error())
		return
	}

	cutoff := c.clock().Add(-c.retention)
	for _, blob := range blobs {
		if blob.CreatedAt.After(cutoff) {
			continue
		}

		if err := c.store.Delete(ctx, container, blob.Name); err != nil {
			c.log.Error(ctx, "cannot delete expired rejected blob",
				"container", container, "blob", blob.Name, "error", err.Error())
			continue
		}

		if err := c.events.RecordEvent(ctx, container, blob.Name, models.EventDeletedFromRejected, ""); err != nil {
			c.log.Warn(ctx, "cannot record deletion event",
				"container", container, "blob", blob.Name, "error", err.Error())
		}

		c.log.Info(ctx, "expired rejected blob deleted", "container", container, "blob", blob.Name)
	}
}
