package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/common"
	"github.com/dmitrijs2005/blobrouter/internal/logging"
	"github.com/dmitrijs2005/blobrouter/internal/router/config"
	"github.com/dmitrijs2005/blobrouter/internal/router/models"
	"github.com/dmitrijs2005/blobrouter/internal/router/storage"
	"github.com/dmitrijs2005/blobrouter/internal/router/verify"
)

// sourceStore is the slice of the storage client the processor needs on
// the source container side.
type sourceStore interface {
	Download(ctx context.Context, container, blobName string) ([]byte, error)
	Delete(ctx context.Context, container, blobName string) error
}

// leaser grants per-blob exclusive leases across concurrent workers.
type leaser interface {
	WithLease(ctx context.Context, container, blobName string, onAcquired func(lease *storage.Lease), onNotAcquired func(), releaseAfterAction bool)
}

// blobDispatcher routes a verified envelope to its target account.
type blobDispatcher interface {
	Dispatch(ctx context.Context, blobName string, contents []byte, container string, target config.TargetAccount) error
}

// rejectedMover archives a blob into the container's rejected area.
type rejectedMover interface {
	MoveToRejected(ctx context.Context, container, blobName string) error
}

// envelopeLedger is the ledger surface the processor writes through.
type envelopeLedger interface {
	FindLast(ctx context.Context, container, fileName string) (*models.Envelope, error)
	RecordDispatched(ctx context.Context, container, fileName string, fileCreatedAt, dispatchedAt time.Time) (string, error)
	RecordRejected(ctx context.Context, container, fileName string, fileCreatedAt time.Time, event models.EventType, notes string) (string, error)
	MarkDeleted(ctx context.Context, envelope *models.Envelope, event models.EventType) error
	RecordEvent(ctx context.Context, container, fileName string, event models.EventType, notes string) error
}

// BlobProcessor drives one blob through the pipeline: ledger skip check,
// lease, verification, dispatch, rejection or error handling.
//
// Process never returns an error. A blob's failure is logged and recorded
// against that blob alone; the batch moves on.
type BlobProcessor struct {
	store      sourceStore
	leases     leaser
	verifier   *verify.Verifier
	dispatcher blobDispatcher
	mover      rejectedMover
	envelopes  envelopeLedger
	algorithm  string
	clock      storage.Clock
	log        logging.Logger
}

func NewBlobProcessor(
	store sourceStore,
	leases leaser,
	verifier *verify.Verifier,
	dispatcher blobDispatcher,
	mover rejectedMover,
	envelopes envelopeLedger,
	algorithm string,
	clock storage.Clock,
	log logging.Logger,
) *BlobProcessor {
	if clock == nil {
		clock = time.Now
	}
	return &BlobProcessor{
		store:      store,
		leases:     leases,
		verifier:   verifier,
		dispatcher: dispatcher,
		mover:      mover,
		envelopes:  envelopes,
		algorithm:  algorithm,
		clock:      clock,
		log:        log,
	}
}

// Process handles a single source blob end to end.
func (p *BlobProcessor) Process(ctx context.Context, source config.SourceContainer, blob storage.Blob) {
	last, err := p.envelopes.FindLast(ctx, source.Name, blob.Name)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		p.log.Error(ctx, "ledger lookup failed", "container", source.Name, "blob", blob.Name, "error", err.Error())
		return
	}

	if last != nil && !last.IsDeleted {
		// The outcome is already recorded but the source copy survived a
		// crash between the ledger write and the delete. Finish the delete
		// without re-running the pipeline.
		p.leases.WithLease(ctx, source.Name, blob.Name, func(_ *storage.Lease) {
			p.finishInterrupted(ctx, source, blob, last)
		}, func() {
			p.log.Info(ctx, "blob is leased by another worker, skipping", "container", source.Name, "blob", blob.Name)
		}, true)
		return
	}

	p.leases.WithLease(ctx, source.Name, blob.Name, func(_ *storage.Lease) {
		p.handle(ctx, source, blob)
	}, func() {
		p.log.Info(ctx, "blob is leased by another worker, skipping", "container", source.Name, "blob", blob.Name)
	}, true)
}

func (p *BlobProcessor) handle(ctx context.Context, source config.SourceContainer, blob storage.Blob) {
	if err := p.envelopes.RecordEvent(ctx, source.Name, blob.Name, models.EventFileProcessingStarted, ""); err != nil {
		p.log.Warn(ctx, "cannot record processing started event", "container", source.Name, "blob", blob.Name, "error", err.Error())
	}

	contents, err := p.store.Download(ctx, source.Name, blob.Name)
	if err != nil {
		p.recordError(ctx, source, blob, err)
		return
	}

	result := p.verifier.Verify(contents, verify.KeyFile(source.PublicKeyFile), p.algorithm)
	switch result.Outcome {
	case verify.OutcomeVerified:
		p.dispatch(ctx, source, blob, contents, result.Payload)
	case verify.OutcomeFormatInvalid, verify.OutcomeSignatureInvalid:
		p.reject(ctx, source, blob, models.EventRejected, result.Err)
	case verify.OutcomeConfigError:
		// Broken key material or algorithm id is a deployment fault, not an
		// envelope fault. Leave the blob untouched for the fixed deployment.
		p.log.Error(ctx, "verification configuration is broken",
			"container", source.Name, "blob", blob.Name, "error", result.Err.Error())
		p.recordError(ctx, source, blob, result.Err)
	}
}

// dispatch uploads the envelope, records the outcome ledger-first, then
// removes the source copy. A crash between the two last steps is healed
// by the skip path on the next cycle.
func (p *BlobProcessor) dispatch(ctx context.Context, source config.SourceContainer, blob storage.Blob, outer, payload []byte) {
	toSend := outer
	if source.PayloadOnly {
		toSend = payload
	}

	if err := p.dispatcher.Dispatch(ctx, blob.Name, toSend, source.TargetContainer, source.TargetAccount); err != nil {
		p.recordError(ctx, source, blob, err)
		return
	}

	id, err := p.envelopes.RecordDispatched(ctx, source.Name, blob.Name, blob.CreatedAt, p.clock())
	if err != nil {
		p.recordError(ctx, source, blob, err)
		return
	}

	p.deleteSource(ctx, &models.Envelope{ID: id, Container: source.Name, FileName: blob.Name}, models.EventDeleted)
	p.log.Info(ctx, "envelope dispatched",
		"container", source.Name, "blob", blob.Name, "target", string(source.TargetAccount))
}

// reject archives the blob into the rejected container, then records the
// terminal row. The ledger row appears only once the artifact is safely
// preserved.
func (p *BlobProcessor) reject(ctx context.Context, source config.SourceContainer, blob storage.Blob, event models.EventType, cause error) {
	notes := ""
	if cause != nil {
		notes = cause.Error()
	}

	if err := p.mover.MoveToRejected(ctx, source.Name, blob.Name); err != nil {
		p.recordError(ctx, source, blob, err)
		return
	}

	id, err := p.envelopes.RecordRejected(ctx, source.Name, blob.Name, blob.CreatedAt, event, notes)
	if err != nil {
		p.log.Error(ctx, "cannot record rejection", "container", source.Name, "blob", blob.Name, "error", err.Error())
		return
	}

	// The source copy is already gone: the move deleted it.
	envelope := &models.Envelope{ID: id, Container: source.Name, FileName: blob.Name}
	if err := p.envelopes.MarkDeleted(ctx, envelope, models.EventDeleted); err != nil {
		p.log.Error(ctx, "cannot mark rejected envelope deleted", "container", source.Name, "blob", blob.Name, "error", err.Error())
	}

	p.log.Info(ctx, "envelope rejected",
		"container", source.Name, "blob", blob.Name, "event", string(event), "notes", notes)
}

// deleteSource removes the source copy of an envelope whose outcome is
// already in the ledger, then marks the row deleted.
func (p *BlobProcessor) deleteSource(ctx context.Context, envelope *models.Envelope, event models.EventType) {
	if err := p.store.Delete(ctx, envelope.Container, envelope.FileName); err != nil {
		p.log.Error(ctx, "cannot delete dispatched blob",
			"container", envelope.Container, "blob", envelope.FileName, "error", err.Error())
		return
	}

	if err := p.envelopes.MarkDeleted(ctx, envelope, event); err != nil {
		p.log.Error(ctx, "cannot mark envelope deleted",
			"container", envelope.Container, "blob", envelope.FileName, "error", err.Error())
	}
}

// finishInterrupted completes source removal for a blob whose terminal
// outcome is already in the ledger. Dispatch is never re-run.
func (p *BlobProcessor) finishInterrupted(ctx context.Context, source config.SourceContainer, blob storage.Blob, last *models.Envelope) {
	p.log.Info(ctx, "completing interrupted deletion",
		"container", source.Name, "blob", blob.Name, "status", string(last.Status))

	if err := p.store.Delete(ctx, source.Name, blob.Name); err != nil {
		p.log.Error(ctx, "cannot delete already-processed blob",
			"container", source.Name, "blob", blob.Name, "error", err.Error())
		return
	}

	if err := p.envelopes.MarkDeleted(ctx, last, models.EventDeleted); err != nil {
		p.log.Error(ctx, "cannot mark envelope deleted",
			"container", source.Name, "blob", blob.Name, "error", err.Error())
	}
}

// recordError logs a transient fault and leaves the blob in place; the
// next polling cycle retries it from scratch.
func (p *BlobProcessor) recordError(ctx context.Context, source config.SourceContainer, blob storage.Blob, cause error) {
	p.log.Error(ctx, "blob processing failed, will retry next cycle",
		"container", source.Name, "blob", blob.Name, "error", cause.Error())
	if err := p.envelopes.RecordEvent(ctx, source.Name, blob.Name, models.EventError, cause.Error()); err != nil {
		p.log.Warn(ctx, "cannot record error event", "container", source.Name, "blob", blob.Name, "error", err.Error())
	}
}

// ContainerProcessor runs one polling cycle over a source container:
// first the duplicate sweep, then the regular pipeline over the
// remaining blobs.
type ContainerProcessor struct {
	lister    BlobLister
	finder    *DuplicateFinder
	processor *BlobProcessor
	leases    leaser
	mover     rejectedMover
	envelopes envelopeLedger
	log       logging.Logger
}

func NewContainerProcessor(
	lister BlobLister,
	finder *DuplicateFinder,
	processor *BlobProcessor,
	leases leaser,
	mover rejectedMover,
	envelopes envelopeLedger,
	log logging.Logger,
) *ContainerProcessor {
	return &ContainerProcessor{
		lister:    lister,
		finder:    finder,
		processor: processor,
		leases:    leases,
		mover:     mover,
		envelopes: envelopes,
		log:       log,
	}
}

// Process runs one cycle for the container. Individual blob failures are
// contained; a listing failure aborts the cycle for this container only.
func (c *ContainerProcessor) Process(ctx context.Context, source config.SourceContainer) {
	if !source.Enabled {
		c.log.Info(ctx, "container is disabled, skipping", "container", source.Name)
		return
	}

	handled := c.sweepDuplicates(ctx, source)

	blobs, err := c.lister.List(ctx, source.Name)
	if err != nil {
		c.log.Error(ctx, "cannot list container", "container", source.Name, "error", err.Error())
		return
	}

	for _, blob := range blobs {
		if handled[blob.Name] {
			continue
		}
		c.processor.Process(ctx, source, blob)
	}
}

// sweepDuplicates archives replayed blobs before the main pass and
// returns the names it handled.
func (c *ContainerProcessor) sweepDuplicates(ctx context.Context, source config.SourceContainer) map[string]bool {
	handled := make(map[string]bool)

	duplicates, err := c.finder.FindIn(ctx, source.Name)
	if err != nil {
		c.log.Error(ctx, "duplicate sweep failed", "container", source.Name, "error", err.Error())
		return handled
	}

	for _, blob := range duplicates {
		handled[blob.Name] = true
		c.leases.WithLease(ctx, source.Name, blob.Name, func(_ *storage.Lease) {
			c.rejectDuplicate(ctx, source, blob)
		}, func() {
			c.log.Info(ctx, "duplicate is leased by another worker, skipping",
				"container", source.Name, "blob", blob.Name)
		}, true)
	}
	return handled
}

func (c *ContainerProcessor) rejectDuplicate(ctx context.Context, source config.SourceContainer, blob storage.Blob) {
	if err := c.mover.MoveToRejected(ctx, source.Name, blob.Name); err != nil {
		c.log.Error(ctx, "cannot archive duplicate", "container", source.Name, "blob", blob.Name, "error", err.Error())
		if recErr := c.envelopes.RecordEvent(ctx, source.Name, blob.Name, models.EventError, err.Error()); recErr != nil {
			c.log.Warn(ctx, "cannot record error event", "container", source.Name, "blob", blob.Name, "error", recErr.Error())
		}
		return
	}

	id, err := c.envelopes.RecordRejected(ctx, source.Name, blob.Name, blob.CreatedAt, models.EventDuplicateRejected, "duplicate of an already processed envelope")
	if err != nil {
		c.log.Error(ctx, "cannot record duplicate rejection", "container", source.Name, "blob", blob.Name, "error", err.Error())
		return
	}

	envelope := &models.Envelope{ID: id, Container: source.Name, FileName: blob.Name}
	if err := c.envelopes.MarkDeleted(ctx, envelope, models.EventDeleted); err != nil {
		c.log.Error(ctx, "cannot mark duplicate deleted", "container", source.Name, "blob", blob.Name, "error", err.Error())
	}

	c.log.Info(ctx, "duplicate envelope rejected", "container", source.Name, "blob", blob.Name)
}
