package types

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is an immutable log entry documenting a session state
// transition, an action performed while impersonating, or an
// authentication event. Records are append-only; session-scoped records
// carry the session's id, `user.*` records are stored without one.
type AuditRecord struct {
	ID         int64     `db:"id" json:"id"`
	SessionID  uuid.UUID `db:"session_id" json:"session_id"`
	Action     string    `db:"action" json:"action"`
	ActorEmail string    `db:"actor_email" json:"actor_email"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
	Details    JSONMap   `db:"details" json:"details,omitempty"`
}

// Session transition actions.
const (
	ActionRequested   = "requested"
	ActionApproved    = "approved"
	ActionRejected    = "rejected"
	ActionEnded       = "ended"
	ActionAutoExpired = "auto_expired"
)

// Authentication actions, namespaced apart from session transitions.
const (
	ActionUserLogin  = "user.login"
	ActionUserLogout = "user.logout"
)

// NewAuditRecord creates an audit record with the timestamp set to now.
func NewAuditRecord(sessionID uuid.UUID, action, actorEmail string) *AuditRecord {
	return &AuditRecord{
		SessionID:  sessionID,
		Action:     action,
		ActorEmail: actorEmail,
		Timestamp:  time.Now().UTC(),
		Details:    make(JSONMap),
	}
}

// NewAuthAuditRecord creates an audit record for a login or logout event.
// It carries no session id and is stored outside any session's trail.
func NewAuthAuditRecord(action, actorEmail string) *AuditRecord {
	return NewAuditRecord(uuid.Nil, action, actorEmail)
}

// WithDetails merges details into the record.
func (a *AuditRecord) WithDetails(details map[string]interface{}) *AuditRecord {
	if a.Details == nil {
		a.Details = make(JSONMap)
	}
	for k, v := range details {
		a.Details[k] = v
	}
	return a
}

// AddDetail adds a single key-value detail.
func (a *AuditRecord) AddDetail(key string, value interface{}) *AuditRecord {
	if a.Details == nil {
		a.Details = make(JSONMap)
	}
	a.Details[key] = value
	return a
}

// AuditListResponse is the response for the compliance read surface.
type AuditListResponse struct {
	SessionID uuid.UUID     `json:"session_id"`
	Records   []AuditRecord `json:"records"`
}
