package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/common"
	"github.com/dmitrijs2005/blobrouter/internal/logging"
	"github.com/google/uuid"
)

// leaseMarker is the body of a lease object. The marker lives only on the
// remote store; nothing about a lease is persisted locally.
type leaseMarker struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lease is an acquired per-blob exclusive lock. Release is explicit and
// caller-triggered; there is no renewal.
type Lease struct {
	client    *Client
	container string
	marker    string
	owner     string
	log       logging.Logger
}

// Release deletes the lease marker. Safe to call once processing is done;
// a failed release only delays the next worker until expiry.
func (l *Lease) Release(ctx context.Context) {
	if err := l.client.Delete(ctx, l.container, l.marker); err != nil {
		l.log.Warn(ctx, "failed to release lease", "container", l.container, "marker", l.marker, "error", err.Error())
	}
}

// LeaseCoordinator provides cross-worker mutual exclusion on source
// blobs. The lease is a conditional-write marker object; two pollers
// racing for the same blob resolve to exactly one conditional-put winner.
type LeaseCoordinator struct {
	client   *Client
	duration time.Duration
	clock    Clock
	log      logging.Logger
}

func NewLeaseCoordinator(client *Client, duration time.Duration, clock Clock, log logging.Logger) *LeaseCoordinator {
	if clock == nil {
		clock = time.Now
	}
	return &LeaseCoordinator{client: client, duration: duration, clock: clock, log: log}
}

// WithLease attempts a short-duration exclusive lease on the blob.
//
// On success onAcquired runs with the lease handle; the lease is released
// afterwards iff releaseAfterAction is true, so a caller with follow-on
// work outside this call can pass false and release explicitly later.
// On any acquisition failure onNotAcquired runs and no release is ever
// attempted: contention is a normal concurrency outcome, not an error.
func (c *LeaseCoordinator) WithLease(
	ctx context.Context,
	container string,
	blobName string,
	onAcquired func(lease *Lease),
	onNotAcquired func(),
	releaseAfterAction bool,
) {
	lease, err := c.acquire(ctx, container, blobName)
	if err != nil {
		if !errors.Is(err, common.ErrLeaseNotAcquired) {
			c.log.Warn(ctx, "lease acquisition error", "container", container, "blob", blobName, "error", err.Error())
		}
		onNotAcquired()
		return
	}

	onAcquired(lease)

	if releaseAfterAction {
		lease.Release(ctx)
	}
}

func (c *LeaseCoordinator) acquire(ctx context.Context, container, blobName string) (*Lease, error) {
	marker := leasePrefix + blobName
	owner := uuid.NewString()

	body, err := json.Marshal(leaseMarker{
		Owner:     owner,
		ExpiresAt: c.clock().Add(c.duration),
	})
	if err != nil {
		return nil, err
	}

	err = c.client.Upload(ctx, container, marker, body, false)
	if err == nil {
		return &Lease{client: c.client, container: container, marker: marker, owner: owner, log: c.log}, nil
	}
	if !errors.Is(err, common.ErrBlobAlreadyExists) {
		return nil, err
	}

	// A marker exists. Expired markers belong to workers that died or
	// overran their lease and may be taken over.
	existing, downloadErr := c.client.Download(ctx, container, marker)
	if downloadErr != nil {
		return nil, common.ErrLeaseNotAcquired
	}

	var current leaseMarker
	if unmarshalErr := json.Unmarshal(existing, &current); unmarshalErr == nil {
		if c.clock().Before(current.ExpiresAt) {
			return nil, common.ErrLeaseNotAcquired
		}
	}

	if deleteErr := c.client.Delete(ctx, container, marker); deleteErr != nil {
		return nil, common.ErrLeaseNotAcquired
	}
	if retryErr := c.client.Upload(ctx, container, marker, body, false); retryErr != nil {
		return nil, common.ErrLeaseNotAcquired
	}

	return &Lease{client: c.client, container: container, marker: marker, owner: owner, log: c.log}, nil
}
