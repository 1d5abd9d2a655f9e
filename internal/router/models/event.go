package models

import "time"

// EventType enumerates the audit event kinds recorded for a blob.
type EventType string

const (
	EventFileProcessingStarted EventType = "FILE_PROCESSING_STARTED"
	EventDispatched            EventType = "DISPATCHED"
	EventRejected              EventType = "REJECTED"
	EventDeleted               EventType = "DELETED"
	EventDeletedFromRejected   EventType = "DELETED_FROM_REJECTED"
	EventDuplicateRejected     EventType = "DUPLICATE_REJECTED"
	EventError                 EventType = "ERROR"
)

// EnvelopeEvent is an append-only audit entry. Events are written on a
// best-effort basis and are independent of the envelope row lifecycle: a
// blob may accumulate events without ever getting a terminal envelope row.
type EnvelopeEvent struct {
	Container string
	FileName  string
	CreatedAt time.Time
	Event     EventType
	Notes     string
}
