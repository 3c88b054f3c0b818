// Package broker implements the privileged session lifecycle: requesting,
// approving, rejecting, ending and expiring impersonation sessions, with
// every transition audited and broadcast to the parties involved.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionStore is the persistence surface the manager needs. Implemented
// by database.Database.
type SessionStore interface {
	InsertSession(ctx context.Context, s *types.ImpersonationSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*types.ImpersonationSession, error)
	FindOpenByPair(ctx context.Context, adminID, targetID uuid.UUID) (*types.ImpersonationSession, error)
	ConditionalUpdateSession(ctx context.Context, id uuid.UUID, expected types.SessionStatus, patch types.SessionPatch) (bool, error)
	ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]types.ImpersonationSession, error)
	ListExpiredActiveSessions(ctx context.Context, now time.Time) ([]types.ImpersonationSession, error)
	ListOverduePendingSessions(ctx context.Context, cutoff time.Time) ([]types.ImpersonationSession, error)
	CountActiveSessions(ctx context.Context) (int, error)
}

// UserDirectory resolves users referenced by session operations.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
}

// Notifier fans committed changes out to subscribed parties.
type Notifier interface {
	Publish(event types.ChangeEvent, recipients ...uuid.UUID)
}

// Manager owns all session state transitions. Every mutation goes through
// a conditional update keyed on the expected current status, so concurrent
// callers race safely: exactly one wins, the rest get a conflict.
type Manager struct {
	store    SessionStore
	users    UserDirectory
	auditor  *Auditor
	notifier Notifier

	sessionTTL time.Duration

	now func() time.Time
}

func NewManager(store SessionStore, users UserDirectory, auditor *Auditor, notifier Notifier, sessionTTL time.Duration) *Manager {
	return &Manager{
		store:      store,
		users:      users,
		auditor:    auditor,
		notifier:   notifier,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// SeedActiveGauge sets the active-session gauge from the store. Called
// once at startup so the metric reflects sessions that were already
// active before the process came up.
func (m *Manager) SeedActiveGauge(ctx context.Context) error {
	count, err := m.store.CountActiveSessions(ctx)
	if err != nil {
		return err
	}
	ActiveSessions.Set(float64(count))
	return nil
}

// RequestSession creates a pending session for admin to impersonate the
// user identified by req.TargetEmail. At most one pending or active
// session may exist per admin/target pair; the partial unique index in the
// store backstops the pre-check under concurrent requests.
func (m *Manager) RequestSession(ctx context.Context, caller *types.User, req types.ImpersonationRequest) (*types.ImpersonationSession, error) {
	if !Allowed(caller, ActionRequest, nil) {
		recordTransition(ActionRequest, outcomeDenied)
		return nil, fmt.Errorf("%w: only admins can request impersonation", types.ErrUnauthorized)
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a reason is required", types.ErrBadRequest)
	}

	targetEmail := strings.ToLower(strings.TrimSpace(req.TargetEmail))
	target, err := m.users.GetUserByEmail(ctx, targetEmail)
	if err != nil {
		return nil, fmt.Errorf("resolving target %q: %w", targetEmail, err)
	}
	if target.ID == caller.ID {
		return nil, fmt.Errorf("%w: cannot impersonate yourself", types.ErrBadRequest)
	}
	if target.IsAdmin {
		recordTransition(ActionRequest, outcomeDenied)
		return nil, fmt.Errorf("%w: admin accounts cannot be impersonated", types.ErrUnauthorized)
	}

	open, err := m.store.FindOpenByPair(ctx, caller.ID, target.ID)
	switch {
	case err == nil:
		recordTransition(ActionRequest, outcomeConflict)
		return nil, fmt.Errorf("%w: a %s session for this user already exists", types.ErrAlreadyExists, open.Status)
	case !errors.Is(err, types.ErrNotFound):
		return nil, err
	}

	session := &types.ImpersonationSession{
		ID:           uuid.New(),
		AdminUserID:  caller.ID,
		AdminEmail:   caller.Email,
		TargetUserID: target.ID,
		TargetEmail:  target.Email,
		Status:       types.StatusPending,
		Reason:       reason,
		RequestedAt:  m.now().UTC(),
		Version:      1,
	}
	if err := m.store.InsertSession(ctx, session); err != nil {
		// A concurrent request for the same pair can slip past the
		// pre-check; the unique index turns it into ErrAlreadyExists.
		if errors.Is(err, types.ErrAlreadyExists) {
			recordTransition(ActionRequest, outcomeConflict)
			return nil, fmt.Errorf("%w: a pending or active session for this user already exists", types.ErrAlreadyExists)
		}
		recordTransition(ActionRequest, outcomeError)
		return nil, err
	}

	m.auditor.Record(ctx, types.NewAuditRecord(session.ID, types.ActionRequested, caller.Email).
		AddDetail("reason", reason).
		AddDetail("target_email", target.Email))
	m.notifier.Publish(types.ChangeEvent{EventType: types.ChangeEventCreated, Session: session},
		session.TargetUserID, session.AdminUserID)
	recordTransition(ActionRequest, outcomeOK)

	log.Info().
		Str("session_id", session.ID.String()).
		Str("admin", caller.Email).
		Str("target", target.Email).
		Msg("Impersonation session requested")

	return session, nil
}

// Approve moves a pending session to active and starts its TTL clock.
// Only the target user can approve.
func (m *Manager) Approve(ctx context.Context, caller *types.User, id uuid.UUID) (*types.ImpersonationSession, error) {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Allowed(caller, ActionApprove, session) {
		recordTransition(ActionApprove, outcomeDenied)
		return nil, fmt.Errorf("%w: only the target user can approve", types.ErrUnauthorized)
	}

	now := m.now().UTC()
	expires := now.Add(m.sessionTTL)
	ok, err := m.store.ConditionalUpdateSession(ctx, id, types.StatusPending, types.SessionPatch{
		Status:     types.StatusActive,
		ApprovedAt: &now,
		ExpiresAt:  &expires,
	})
	if err != nil {
		recordTransition(ActionApprove, outcomeError)
		return nil, err
	}
	if !ok {
		recordTransition(ActionApprove, outcomeConflict)
		return nil, m.transitionConflict(ctx, id, "approve")
	}

	updated, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	m.auditor.Record(ctx, types.NewAuditRecord(id, types.ActionApproved, caller.Email).
		AddDetail("expires_at", expires.Format(time.RFC3339)))
	m.publishUpdate(updated)
	ActiveSessions.Inc()
	recordTransition(ActionApprove, outcomeOK)

	log.Info().
		Str("session_id", id.String()).
		Str("target", caller.Email).
		Time("expires_at", expires).
		Msg("Impersonation session approved")

	return updated, nil
}

// Reject declines a pending session. Only the target user can reject.
func (m *Manager) Reject(ctx context.Context, caller *types.User, id uuid.UUID) (*types.ImpersonationSession, error) {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Allowed(caller, ActionReject, session) {
		recordTransition(ActionReject, outcomeDenied)
		return nil, fmt.Errorf("%w: only the target user can reject", types.ErrUnauthorized)
	}

	now := m.now().UTC()
	ok, err := m.store.ConditionalUpdateSession(ctx, id, types.StatusPending, types.SessionPatch{
		Status:  types.StatusRejected,
		EndedAt: &now,
	})
	if err != nil {
		recordTransition(ActionReject, outcomeError)
		return nil, err
	}
	if !ok {
		recordTransition(ActionReject, outcomeConflict)
		return nil, m.transitionConflict(ctx, id, "reject")
	}

	updated, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	m.auditor.Record(ctx, types.NewAuditRecord(id, types.ActionRejected, caller.Email))
	m.publishUpdate(updated)
	recordTransition(ActionReject, outcomeOK)

	log.Info().
		Str("session_id", id.String()).
		Str("target", caller.Email).
		Msg("Impersonation session rejected")

	return updated, nil
}

// End terminates an active session. Either party can end it; losing the
// race against the sweeper or the other party is a conflict.
func (m *Manager) End(ctx context.Context, caller *types.User, id uuid.UUID) (*types.ImpersonationSession, error) {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Allowed(caller, ActionEnd, session) {
		recordTransition(ActionEnd, outcomeDenied)
		return nil, fmt.Errorf("%w: only a session party can end it", types.ErrUnauthorized)
	}

	now := m.now().UTC()
	ok, err := m.store.ConditionalUpdateSession(ctx, id, types.StatusActive, types.SessionPatch{
		Status:  types.StatusEnded,
		EndedAt: &now,
	})
	if err != nil {
		recordTransition(ActionEnd, outcomeError)
		return nil, err
	}
	if !ok {
		recordTransition(ActionEnd, outcomeConflict)
		return nil, m.transitionConflict(ctx, id, "end")
	}

	updated, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	endedBy := "admin"
	if caller.ID == session.TargetUserID {
		endedBy = "target"
	}
	m.auditor.Record(ctx, types.NewAuditRecord(id, types.ActionEnded, caller.Email).
		AddDetail("ended_by", endedBy))
	m.publishUpdate(updated)
	ActiveSessions.Dec()
	recordTransition(ActionEnd, outcomeOK)

	log.Info().
		Str("session_id", id.String()).
		Str("actor", caller.Email).
		Str("ended_by", endedBy).
		Msg("Impersonation session ended")

	return updated, nil
}

// LogAction appends an audit record describing something the admin did
// while impersonating. Callers fire this opportunistically while they
// believe a session is live, so an action against a session that is no
// longer (or not yet) active is dropped silently rather than surfaced.
func (m *Manager) LogAction(ctx context.Context, caller *types.User, id uuid.UUID, req types.SessionActionRequest) error {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !Allowed(caller, ActionLogAction, session) {
		return fmt.Errorf("%w: only the impersonating admin can log actions", types.ErrUnauthorized)
	}

	action := strings.TrimSpace(req.Action)
	if action == "" {
		return fmt.Errorf("%w: action name is required", types.ErrBadRequest)
	}
	if session.Status != types.StatusActive || session.IsExpired(m.now()) {
		log.Debug().
			Str("session_id", id.String()).
			Str("status", session.Status.String()).
			Str("action", action).
			Msg("Dropping action logged against a non-active session")
		return nil
	}

	m.auditor.Record(ctx, types.NewAuditRecord(id, action, caller.Email).WithDetails(req.Details))
	return nil
}

// ListSessions returns every session caller is a party of, newest first.
func (m *Manager) ListSessions(ctx context.Context, caller *types.User) ([]types.ImpersonationSession, error) {
	return m.store.ListSessionsForUser(ctx, caller.ID)
}

// GetSession returns a single session, restricted to its parties.
func (m *Manager) GetSession(ctx context.Context, caller *types.User, id uuid.UUID) (*types.ImpersonationSession, error) {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.IsParty(caller.ID) {
		return nil, fmt.Errorf("%w: not a party of this session", types.ErrUnauthorized)
	}
	return session, nil
}

// AuditTrail returns the session's audit records in append order,
// restricted to the session's parties.
func (m *Manager) AuditTrail(ctx context.Context, caller *types.User, id uuid.UUID) ([]types.AuditRecord, error) {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.IsParty(caller.ID) {
		return nil, fmt.Errorf("%w: not a party of this session", types.ErrUnauthorized)
	}
	return m.auditor.List(ctx, id)
}

// expireActive force-ends an active session whose deadline passed. Called
// by the sweeper; losing the race to a user-initiated end is a no-op, the
// session reached a terminal state either way.
func (m *Manager) expireActive(ctx context.Context, session *types.ImpersonationSession) error {
	now := m.now().UTC()
	ok, err := m.store.ConditionalUpdateSession(ctx, session.ID, types.StatusActive, types.SessionPatch{
		Status:  types.StatusEnded,
		EndedAt: &now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	updated, err := m.store.GetSession(ctx, session.ID)
	if err != nil {
		return err
	}

	m.auditor.Record(ctx, types.NewAuditRecord(session.ID, types.ActionAutoExpired, systemActor).
		AddDetail("cause", "ttl_expired"))
	m.publishUpdate(updated)
	ActiveSessions.Dec()
	recordTransition(actionExpire, outcomeOK)

	log.Info().
		Str("session_id", session.ID.String()).
		Str("admin", session.AdminEmail).
		Str("target", session.TargetEmail).
		Msg("Impersonation session expired")

	return nil
}

// expirePending rejects a pending session that sat unanswered past the
// configured timeout.
func (m *Manager) expirePending(ctx context.Context, session *types.ImpersonationSession) error {
	now := m.now().UTC()
	ok, err := m.store.ConditionalUpdateSession(ctx, session.ID, types.StatusPending, types.SessionPatch{
		Status:  types.StatusRejected,
		EndedAt: &now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	updated, err := m.store.GetSession(ctx, session.ID)
	if err != nil {
		return err
	}

	m.auditor.Record(ctx, types.NewAuditRecord(session.ID, types.ActionAutoExpired, systemActor).
		AddDetail("cause", "pending_timeout"))
	m.publishUpdate(updated)
	recordTransition(actionExpire, outcomeOK)

	log.Info().
		Str("session_id", session.ID.String()).
		Str("admin", session.AdminEmail).
		Str("target", session.TargetEmail).
		Msg("Unanswered impersonation request timed out")

	return nil
}

// systemActor is the actor email recorded for sweeper-initiated
// transitions.
const systemActor = "system"

func (m *Manager) publishUpdate(session *types.ImpersonationSession) {
	m.notifier.Publish(types.ChangeEvent{EventType: types.ChangeEventUpdated, Session: session},
		session.AdminUserID, session.TargetUserID)
}

// transitionConflict re-reads the session after a lost conditional update
// to report what state the caller actually raced against.
func (m *Manager) transitionConflict(ctx context.Context, id uuid.UUID, verb string) error {
	current, err := m.store.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: session changed concurrently", types.ErrConflict)
	}
	switch current.Status {
	case types.StatusActive:
		return fmt.Errorf("%w: request was already approved", types.ErrConflict)
	case types.StatusRejected:
		return fmt.Errorf("%w: request was declined", types.ErrConflict)
	case types.StatusEnded:
		return fmt.Errorf("%w: session already ended", types.ErrConflict)
	default:
		return fmt.Errorf("%w: cannot %s a %s session", types.ErrConflict, verb, current.Status)
	}
}

func recordTransition(action Action, outcome string) {
	TransitionsTotal.WithLabelValues(string(action), outcome).Inc()
}
