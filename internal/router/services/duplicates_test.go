package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/common"
	"github.com/dmitrijs2005/blobrouter/internal/router/models"
	"github.com/dmitrijs2005/blobrouter/internal/router/storage"
)

type fakeHistory struct {
	rows map[string]*models.Envelope
	err  error
}

func (f *fakeHistory) FindLast(ctx context.Context, container, fileName string) (*models.Envelope, error) {
	if f.err != nil {
		return nil, f.err
	}
	row, ok := f.rows[fileName]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return row, nil
}

type fakeLister struct {
	blobs []storage.Blob
	err   error
}

func (f *fakeLister) List(ctx context.Context, container string) ([]storage.Blob, error) {
	return f.blobs, f.err
}

func TestDuplicateFinder_FlagsReplayedBlobs(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{blobs: []storage.Blob{
		{Name: "fresh.blob", CreatedAt: now},
		{Name: "replayed.blob", CreatedAt: now},
		{Name: "inflight.blob", CreatedAt: now},
	}}
	history := &fakeHistory{rows: map[string]*models.Envelope{
		"replayed.blob": {ID: "id-1", Status: models.StatusDispatched, IsDeleted: true},
		"inflight.blob": {ID: "id-2", Status: models.StatusDispatched, IsDeleted: false},
	}}

	finder := NewDuplicateFinder(lister, history)

	duplicates, err := finder.FindIn(context.Background(), "bulkscan")
	if err != nil {
		t.Fatalf("FindIn error: %v", err)
	}

	if len(duplicates) != 1 || duplicates[0].Name != "replayed.blob" {
		t.Fatalf("unexpected duplicates: %+v", duplicates)
	}
}

func TestDuplicateFinder_NoLedgerHistoryMeansNewBlob(t *testing.T) {
	lister := &fakeLister{blobs: []storage.Blob{{Name: "new.blob"}}}
	finder := NewDuplicateFinder(lister, &fakeHistory{})

	duplicates, err := finder.FindIn(context.Background(), "bulkscan")
	if err != nil {
		t.Fatalf("FindIn error: %v", err)
	}
	if len(duplicates) != 0 {
		t.Fatalf("unexpected duplicates: %+v", duplicates)
	}
}

func TestDuplicateFinder_ListErrorPropagates(t *testing.T) {
	finder := NewDuplicateFinder(&fakeLister{err: errBoom{}}, &fakeHistory{})

	_, err := finder.FindIn(context.Background(), "bulkscan")
	if err == nil {
		t.Fatalf("want list error")
	}
}

func TestDuplicateFinder_LedgerErrorPropagates(t *testing.T) {
	lister := &fakeLister{blobs: []storage.Blob{{Name: "new.blob"}}}
	finder := NewDuplicateFinder(lister, &fakeHistory{err: errBoom{}})

	_, err := finder.FindIn(context.Background(), "bulkscan")
	if err == nil {
		t.Fatalf("want ledger error")
	}
}
