package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
)

// InsertSession stores a new session row. The partial unique index over
// open (pending/active) pairs turns a duplicate request into
// types.ErrAlreadyExists, including when two requests race on insert.
func (d *Database) InsertSession(ctx context.Context, s *types.ImpersonationSession) error {
	_, err := d.db.NamedExecContext(ctx, `
		INSERT INTO impersonation_sessions (
			id, admin_user_id, admin_email, target_user_id, target_email,
			status, reason, requested_at, version
		) VALUES (
			:id, :admin_user_id, :admin_email, :target_user_id, :target_email,
			:status, :reason, :requested_at, :version
		)`, s)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: open session for pair", types.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession fetches one session by id.
func (d *Database) GetSession(ctx context.Context, id uuid.UUID) (*types.ImpersonationSession, error) {
	var s types.ImpersonationSession
	err := d.db.GetContext(ctx, &s,
		`SELECT * FROM impersonation_sessions WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &s, nil
}

// FindOpenByPair returns the pending or active session for the pair, or
// types.ErrNotFound.
func (d *Database) FindOpenByPair(ctx context.Context, adminID, targetID uuid.UUID) (*types.ImpersonationSession, error) {
	var s types.ImpersonationSession
	err := d.db.GetContext(ctx, &s, `
		SELECT * FROM impersonation_sessions
		WHERE admin_user_id = ? AND target_user_id = ?
		  AND status IN (?, ?)`,
		adminID.String(), targetID.String(),
		types.StatusPending.String(), types.StatusActive.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no open session for pair", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding open session: %w", err)
	}
	return &s, nil
}

// ConditionalUpdateSession applies patch to the session only if its stored
// status still equals expected (optimistic concurrency: the losing writer
// of a race observes false). The row version is bumped on success.
func (d *Database) ConditionalUpdateSession(
	ctx context.Context,
	id uuid.UUID,
	expected types.SessionStatus,
	patch types.SessionPatch,
) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE impersonation_sessions SET
			status = ?,
			approved_at = COALESCE(?, approved_at),
			expires_at = COALESCE(?, expires_at),
			ended_at = COALESCE(?, ended_at),
			version = version + 1
		WHERE id = ? AND status = ?`,
		patch.Status.String(),
		nullableTime(patch.ApprovedAt),
		nullableTime(patch.ExpiresAt),
		nullableTime(patch.EndedAt),
		id.String(), expected.String())
	if err != nil {
		return false, fmt.Errorf("conditional update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conditional update rows affected: %w", err)
	}
	return n == 1, nil
}

// ListSessionsForUser returns all sessions where the user is a party,
// newest first.
func (d *Database) ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]types.ImpersonationSession, error) {
	sessions := []types.ImpersonationSession{}
	err := d.db.SelectContext(ctx, &sessions, `
		SELECT * FROM impersonation_sessions
		WHERE admin_user_id = ? OR target_user_id = ?
		ORDER BY requested_at DESC, id DESC`,
		userID.String(), userID.String())
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// ListExpiredActiveSessions returns active sessions whose deadline passed.
func (d *Database) ListExpiredActiveSessions(ctx context.Context, now time.Time) ([]types.ImpersonationSession, error) {
	sessions := []types.ImpersonationSession{}
	err := d.db.SelectContext(ctx, &sessions, `
		SELECT * FROM impersonation_sessions
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		types.StatusActive.String(), now)
	if err != nil {
		return nil, fmt.Errorf("listing expired sessions: %w", err)
	}
	return sessions, nil
}

// ListOverduePendingSessions returns pending sessions requested before
// cutoff. Used only when the pending-timeout policy is enabled.
func (d *Database) ListOverduePendingSessions(ctx context.Context, cutoff time.Time) ([]types.ImpersonationSession, error) {
	sessions := []types.ImpersonationSession{}
	err := d.db.SelectContext(ctx, &sessions, `
		SELECT * FROM impersonation_sessions
		WHERE status = ? AND requested_at < ?`,
		types.StatusPending.String(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing overdue pending sessions: %w", err)
	}
	return sessions, nil
}

// CountActiveSessions returns how many sessions are currently active.
func (d *Database) CountActiveSessions(ctx context.Context) (int, error) {
	var count int
	err := d.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM impersonation_sessions WHERE status = ?`,
		types.StatusActive.String())
	if err != nil {
		return 0, fmt.Errorf("counting active sessions: %w", err)
	}
	return count, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
