package types

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusRejected, true},
		{StatusActive, StatusEnded, true},
		{StatusPending, StatusEnded, false},
		{StatusActive, StatusRejected, false},
		{StatusRejected, StatusActive, false},
		{StatusRejected, StatusPending, false},
		{StatusEnded, StatusActive, false},
		{StatusEnded, StatusPending, false},
		{StatusActive, StatusActive, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, terminal := range map[SessionStatus]bool{
		StatusPending:  false,
		StatusActive:   false,
		StatusRejected: true,
		StatusEnded:    true,
	} {
		if got := status.IsTerminal(); got != terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, terminal)
		}
	}
}

func TestIsParty(t *testing.T) {
	admin := uuid.New()
	target := uuid.New()
	s := &ImpersonationSession{AdminUserID: admin, TargetUserID: target}

	if !s.IsParty(admin) {
		t.Error("admin should be a party")
	}
	if !s.IsParty(target) {
		t.Error("target should be a party")
	}
	if s.IsParty(uuid.New()) {
		t.Error("stranger should not be a party")
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now().UTC()
	deadline := sql.NullTime{Time: now.Add(-time.Minute), Valid: true}

	s := &ImpersonationSession{Status: StatusActive, ExpiresAt: deadline}
	if !s.IsExpired(now) {
		t.Error("active session past its deadline should be expired")
	}

	s.ExpiresAt = sql.NullTime{Time: now.Add(time.Minute), Valid: true}
	if s.IsExpired(now) {
		t.Error("active session before its deadline should not be expired")
	}

	s.Status = StatusPending
	s.ExpiresAt = deadline
	if s.IsExpired(now) {
		t.Error("pending session has no deadline to expire")
	}

	s.Status = StatusActive
	s.ExpiresAt = sql.NullTime{}
	if s.IsExpired(now) {
		t.Error("session without a deadline should not be expired")
	}
}
