package broker

import (
	"testing"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
)

func TestAllowed(t *testing.T) {
	admin := &types.User{ID: uuid.New(), Email: "admin@example.com", IsAdmin: true}
	target := &types.User{ID: uuid.New(), Email: "user@example.com"}
	stranger := &types.User{ID: uuid.New(), Email: "other@example.com"}

	session := &types.ImpersonationSession{
		ID:           uuid.New(),
		AdminUserID:  admin.ID,
		TargetUserID: target.ID,
	}

	tests := []struct {
		name    string
		caller  *types.User
		action  Action
		session *types.ImpersonationSession
		want    bool
	}{
		{"admin can request", admin, ActionRequest, nil, true},
		{"non-admin cannot request", target, ActionRequest, nil, false},
		{"nil caller denied", nil, ActionRequest, nil, false},

		{"target can approve", target, ActionApprove, session, true},
		{"admin cannot approve own request", admin, ActionApprove, session, false},
		{"stranger cannot approve", stranger, ActionApprove, session, false},

		{"target can reject", target, ActionReject, session, true},
		{"admin cannot reject", admin, ActionReject, session, false},

		{"admin can end", admin, ActionEnd, session, true},
		{"target can end", target, ActionEnd, session, true},
		{"stranger cannot end", stranger, ActionEnd, session, false},

		{"admin can log actions", admin, ActionLogAction, session, true},
		{"target cannot log actions", target, ActionLogAction, session, false},

		{"approve without session denied", target, ActionApprove, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.caller, tt.action, tt.session); got != tt.want {
				t.Errorf("Allowed(%v) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}
