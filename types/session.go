package types

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of an impersonation session.
type SessionStatus string

const (
	StatusPending  SessionStatus = "pending"
	StatusApproved SessionStatus = "approved"
	StatusRejected SessionStatus = "rejected"
	StatusActive   SessionStatus = "active"
	StatusEnded    SessionStatus = "ended"
)

// IsValid returns true if the status is a known lifecycle state.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusActive, StatusEnded:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition can leave this state.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusEnded
}

// String returns the string representation.
func (s SessionStatus) String() string {
	return string(s)
}

// sessionEdges is the full set of permitted status transitions. Approve
// commits pending -> active in a single conditional write; the approved
// state exists in the enum for the data model but is never parked in.
var sessionEdges = map[SessionStatus][]SessionStatus{
	StatusPending: {StatusActive, StatusRejected},
	StatusActive:  {StatusEnded},
}

// CanTransition reports whether the edge from -> to exists in the session
// state machine. Any update attempting another edge must fail with
// ErrConflict and leave the stored state unchanged.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range sessionEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ImpersonationSession is one impersonation attempt: a time-boxed grant
// allowing an admin to act as another user, contingent on that user's
// explicit approval. Sessions are never deleted; terminal rows remain as
// audit anchors.
type ImpersonationSession struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	AdminUserID  uuid.UUID     `db:"admin_user_id" json:"admin_user_id"`
	AdminEmail   string        `db:"admin_email" json:"admin_email"`
	TargetUserID uuid.UUID     `db:"target_user_id" json:"target_user_id"`
	TargetEmail  string        `db:"target_email" json:"target_email"`
	Status       SessionStatus `db:"status" json:"status"`
	Reason       string        `db:"reason" json:"reason,omitempty"`

	RequestedAt time.Time    `db:"requested_at" json:"requested_at"`
	ApprovedAt  sql.NullTime `db:"approved_at" json:"approved_at,omitempty"`
	ExpiresAt   sql.NullTime `db:"expires_at" json:"expires_at,omitempty"`
	EndedAt     sql.NullTime `db:"ended_at" json:"ended_at,omitempty"`

	// Version increases by one on every committed status mutation. Change
	// notifications carry it so subscribers can discard stale deliveries.
	Version int64 `db:"version" json:"version"`
}

// IsParty returns true if userID is the admin or the target of the session.
func (s *ImpersonationSession) IsParty(userID uuid.UUID) bool {
	return userID == s.AdminUserID || userID == s.TargetUserID
}

// IsExpired returns true if the session is active and its deadline passed.
func (s *ImpersonationSession) IsExpired(now time.Time) bool {
	return s.Status == StatusActive && s.ExpiresAt.Valid && s.ExpiresAt.Time.Before(now)
}

// SessionPatch is the set of fields a conditional update may change
// alongside the status. Nil fields are left untouched.
type SessionPatch struct {
	Status     SessionStatus
	ApprovedAt *time.Time
	ExpiresAt  *time.Time
	EndedAt    *time.Time
}

// ImpersonationRequest is the request body for requesting a session.
type ImpersonationRequest struct {
	TargetEmail string `json:"target_email"`
	Reason      string `json:"reason"`
}

// ImpersonationRequestResponse is the response for a created request.
type ImpersonationRequestResponse struct {
	Message string                `json:"message"`
	Session *ImpersonationSession `json:"session"`
}

// SessionListResponse is the response for listing a user's sessions.
type SessionListResponse struct {
	Sessions []ImpersonationSession `json:"sessions"`
}

// SessionActionRequest is the request body for logging an impersonated
// action against an active session.
type SessionActionRequest struct {
	Action  string  `json:"action"`
	Details JSONMap `json:"details,omitempty"`
}

// ChangeEventType distinguishes creations from mutations.
type ChangeEventType string

const (
	ChangeEventCreated ChangeEventType = "created"
	ChangeEventUpdated ChangeEventType = "updated"
)

// ChangeEvent is a committed session mutation delivered to subscribed
// clients. Events are hints to re-fetch, not authoritative deltas.
type ChangeEvent struct {
	EventType ChangeEventType       `json:"event_type"`
	Session   *ImpersonationSession `json:"session"`
}
