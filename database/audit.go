package database

import (
	"context"
	"fmt"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
)

// InsertAuditRecord appends one record. Records are never edited or
// deleted; ordering within a session follows the autoincrement id, which
// matches the conditional-write success order of the transitions.
func (d *Database) InsertAuditRecord(ctx context.Context, rec *types.AuditRecord) error {
	// Authentication events carry no session; store NULL so the foreign
	// key only binds session-scoped records.
	var sessionID any
	if rec.SessionID != uuid.Nil {
		sessionID = rec.SessionID.String()
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO audit_records (session_id, action, actor_email, timestamp, details)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, rec.Action, rec.ActorEmail, rec.Timestamp, rec.Details)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ListAuditRecords returns the full ordered trail for one session.
func (d *Database) ListAuditRecords(ctx context.Context, sessionID uuid.UUID) ([]types.AuditRecord, error) {
	records := []types.AuditRecord{}
	err := d.db.SelectContext(ctx, &records, `
		SELECT * FROM audit_records WHERE session_id = ? ORDER BY id ASC`,
		sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("listing audit records: %w", err)
	}
	return records, nil
}
