package broker

import (
	"context"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AuditStore persists audit records.
type AuditStore interface {
	InsertAuditRecord(ctx context.Context, rec *types.AuditRecord) error
	ListAuditRecords(ctx context.Context, sessionID uuid.UUID) ([]types.AuditRecord, error)
}

// AuditEnqueuer hands a record to the background retry queue when the
// direct insert fails.
type AuditEnqueuer interface {
	EnqueueAuditAppend(ctx context.Context, rec *types.AuditRecord) error
}

// Auditor writes the audit trail. A failed insert never fails the calling
// transition; the record is queued for retry instead, so the trail is
// eventually consistent with session state.
type Auditor struct {
	store    AuditStore
	enqueuer AuditEnqueuer
}

func NewAuditor(store AuditStore, enqueuer AuditEnqueuer) *Auditor {
	return &Auditor{store: store, enqueuer: enqueuer}
}

// Record appends rec to the trail, falling back to the retry queue on
// failure. It never returns an error to the caller.
func (a *Auditor) Record(ctx context.Context, rec *types.AuditRecord) {
	err := a.store.InsertAuditRecord(ctx, rec)
	if err == nil {
		return
	}

	log.Error().Err(err).
		Str("session_id", rec.SessionID.String()).
		Str("action", rec.Action).
		Msg("Audit insert failed, queueing for retry")

	if a.enqueuer == nil {
		log.Error().
			Str("session_id", rec.SessionID.String()).
			Str("action", rec.Action).
			Msg("No retry queue configured, audit record lost")
		return
	}

	if err := a.enqueuer.EnqueueAuditAppend(ctx, rec); err != nil {
		log.Error().Err(err).
			Str("session_id", rec.SessionID.String()).
			Str("action", rec.Action).
			Msg("Failed to enqueue audit retry, record lost")
		return
	}
	AuditRetriesTotal.Inc()
}

// List returns the session's audit trail in append order.
func (a *Auditor) List(ctx context.Context, sessionID uuid.UUID) ([]types.AuditRecord, error) {
	return a.store.ListAuditRecords(ctx, sessionID)
}
