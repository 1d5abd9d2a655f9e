package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/blobrouter/internal/common"
	"github.com/dmitrijs2005/blobrouter/internal/router/models"
	"github.com/dmitrijs2005/blobrouter/internal/router/storage"
)

// BlobLister lists the blobs of a source container.
type BlobLister interface {
	List(ctx context.Context, container string) ([]storage.Blob, error)
}

// DuplicateFinder identifies replayed uploads: a blob whose latest ledger
// row is flagged deleted was already fully processed once, so the new
// copy is a duplicate and must never be dispatched again.
type DuplicateFinder struct {
	lister  BlobLister
	history envelopeHistory
}

type envelopeHistory interface {
	FindLast(ctx context.Context, container, fileName string) (*models.Envelope, error)
}

func NewDuplicateFinder(lister BlobLister, history envelopeHistory) *DuplicateFinder {
	return &DuplicateFinder{lister: lister, history: history}
}

// FindIn returns the blobs of the container that are duplicates of
// already-processed envelopes.
func (f *DuplicateFinder) FindIn(ctx context.Context, container string) ([]storage.Blob, error) {
	blobs, err := f.lister.List(ctx, container)
	if err != nil {
		return nil, err
	}

	var duplicates []storage.Blob
	for _, blob := range blobs {
		last, err := f.history.FindLast(ctx, container, blob.Name)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			return nil, err
		}
		if last.IsDeleted {
			duplicates = append(duplicates, blob)
		}
	}
	return duplicates, nil
}
