package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/logging"
)

const rejectedSuffix = "-rejected"

// RejectedContainerName derives the companion rejected location for a
// source container.
func RejectedContainerName(container string) string {
	return container + rejectedSuffix
}

// Mover archives rejected and duplicate blobs into the companion rejected
// container.
type Mover struct {
	client *Client
	clock  Clock
	log    logging.Logger
}

func NewMover(client *Client, clock Clock, log logging.Logger) *Mover {
	if clock == nil {
		clock = time.Now
	}
	return &Mover{client: client, clock: clock, log: log}
}

// MoveToRejected copies the blob into the rejected container and then
// deletes the source. If a blob of the same name is already there, the
// existing one is first preserved under a point-in-time snapshot name, so
// repeated rejections of same-named files never lose an artifact. The
// source blob is deleted only after the copy (and any snapshot) is
// confirmed; a copy failure aborts before the delete.
func (m *Mover) MoveToRejected(ctx context.Context, container, name string) error {
	rejected := RejectedContainerName(container)

	contents, err := m.client.Download(ctx, container, name)
	if err != nil {
		return err
	}

	exists, err := m.client.Exists(ctx, rejected, name)
	if err != nil {
		return err
	}
	if exists {
		snapshot := snapshotName(name, m.clock())
		if err := m.client.Copy(ctx, rejected, name, snapshot); err != nil {
			return fmt.Errorf("snapshot existing rejected blob: %w", err)
		}
		m.log.Info(ctx, "snapshotted existing rejected blob", "container", rejected, "blob", name, "snapshot", snapshot)
	}

	if err := m.client.Upload(ctx, rejected, name, contents, true); err != nil {
		return err
	}

	if err := m.client.Delete(ctx, container, name); err != nil {
		return err
	}

	m.log.Info(ctx, "moved blob to rejected container", "container", container, "blob", name)
	return nil
}

func snapshotName(name string, now time.Time) string {
	return name + ".snapshot-" + now.UTC().Format("20060102T150405.000000000")
}
