package broker

import (
	"github.com/ArcaView/qualifyr/types"
	"github.com/rs/zerolog/log"
)

// Action names an operation checked by the authorization gate.
type Action string

const (
	ActionRequest   Action = "request"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionEnd       Action = "end"
	ActionLogAction Action = "log_action"
)

// Allowed is the stateless authorization predicate: may caller perform
// action on session? For ActionRequest the session is nil.
//
// Denials are logged but deliberately produce no audit record; routine UI
// polling would otherwise flood the trail.
func Allowed(caller *types.User, action Action, session *types.ImpersonationSession) bool {
	if caller == nil {
		return false
	}

	allowed := false
	switch action {
	case ActionRequest:
		allowed = caller.IsAdmin
	case ActionApprove, ActionReject:
		allowed = session != nil && caller.ID == session.TargetUserID
	case ActionEnd:
		allowed = session != nil && session.IsParty(caller.ID)
	case ActionLogAction:
		allowed = session != nil && caller.ID == session.AdminUserID
	}

	if !allowed {
		event := log.Warn().
			Str("caller_id", caller.ID.String()).
			Str("caller_email", caller.Email).
			Str("action", string(action))
		if session != nil {
			event = event.Str("session_id", session.ID.String())
		}
		event.Msg("Authorization denied")
	}

	return allowed
}
