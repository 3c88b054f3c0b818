package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewMemory()
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *Database, email string, isAdmin bool) *types.User {
	t.Helper()
	u := &types.User{
		ID:      uuid.New(),
		Email:   email,
		Name:    email,
		IsAdmin: isAdmin,
	}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seeding user %s: %v", email, err)
	}
	return u
}

func seedSession(t *testing.T, db *Database, admin, target *types.User) *types.ImpersonationSession {
	t.Helper()
	s := &types.ImpersonationSession{
		ID:           uuid.New(),
		AdminUserID:  admin.ID,
		AdminEmail:   admin.Email,
		TargetUserID: target.ID,
		TargetEmail:  target.Email,
		Status:       types.StatusPending,
		Reason:       "debugging a billing issue",
		RequestedAt:  time.Now().UTC(),
		Version:      1,
	}
	if err := db.InsertSession(context.Background(), s); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	return s
}

func TestInsertAndGetSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := seedUser(t, db, "admin@example.com", true)
	target := seedUser(t, db, "user@example.com", false)

	s := seedSession(t, db, admin, target)

	got, err := db.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != types.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if got.AdminUserID != admin.ID || got.TargetUserID != target.ID {
		t.Error("party ids do not round-trip")
	}

	if _, err := db.GetSession(ctx, uuid.New()); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("unknown session error = %v, want ErrNotFound", err)
	}
}

func TestOpenPairUniqueIndex(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := seedUser(t, db, "admin@example.com", true)
	target := seedUser(t, db, "user@example.com", false)

	first := seedSession(t, db, admin, target)

	dup := *first
	dup.ID = uuid.New()
	if err := db.InsertSession(ctx, &dup); !errors.Is(err, types.ErrAlreadyExists) {
		t.Fatalf("duplicate open pair error = %v, want ErrAlreadyExists", err)
	}

	// A second admin may have their own open session with the same target.
	other := seedUser(t, db, "admin2@example.com", true)
	seedSession(t, db, other, target)

	// Once the first session is terminal the pair frees up.
	now := time.Now().UTC()
	ok, err := db.ConditionalUpdateSession(ctx, first.ID, types.StatusPending, types.SessionPatch{
		Status:  types.StatusRejected,
		EndedAt: &now,
	})
	if err != nil || !ok {
		t.Fatalf("rejecting first session: ok=%v err=%v", ok, err)
	}
	seedSession(t, db, admin, target)
}

func TestConditionalUpdateSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := seedUser(t, db, "admin@example.com", true)
	target := seedUser(t, db, "user@example.com", false)
	s := seedSession(t, db, admin, target)

	now := time.Now().UTC()
	expires := now.Add(30 * time.Minute)

	ok, err := db.ConditionalUpdateSession(ctx, s.ID, types.StatusPending, types.SessionPatch{
		Status:     types.StatusActive,
		ApprovedAt: &now,
		ExpiresAt:  &expires,
	})
	if err != nil {
		t.Fatalf("ConditionalUpdateSession: %v", err)
	}
	if !ok {
		t.Fatal("expected update to apply")
	}

	got, err := db.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != types.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	if !got.ApprovedAt.Valid || !got.ExpiresAt.Valid {
		t.Error("approved_at and expires_at should be set")
	}

	// A writer that raced and lost observes no update.
	ok, err = db.ConditionalUpdateSession(ctx, s.ID, types.StatusPending, types.SessionPatch{
		Status: types.StatusRejected,
	})
	if err != nil {
		t.Fatalf("ConditionalUpdateSession: %v", err)
	}
	if ok {
		t.Fatal("update against stale status should not apply")
	}

	got, _ = db.GetSession(ctx, s.ID)
	if got.Status != types.StatusActive || got.Version != 2 {
		t.Errorf("lost race mutated the row: status=%s version=%d", got.Status, got.Version)
	}
}

func TestListSessionsForUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := seedUser(t, db, "admin@example.com", true)
	target := seedUser(t, db, "user@example.com", false)
	bystander := seedUser(t, db, "other@example.com", false)

	s := seedSession(t, db, admin, target)

	for _, u := range []*types.User{admin, target} {
		sessions, err := db.ListSessionsForUser(ctx, u.ID)
		if err != nil {
			t.Fatalf("ListSessionsForUser(%s): %v", u.Email, err)
		}
		if len(sessions) != 1 || sessions[0].ID != s.ID {
			t.Errorf("%s should see exactly the seeded session, got %d", u.Email, len(sessions))
		}
	}

	sessions, err := db.ListSessionsForUser(ctx, bystander.ID)
	if err != nil {
		t.Fatalf("ListSessionsForUser: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("bystander should see no sessions, got %d", len(sessions))
	}
}

func TestSweepListings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := seedUser(t, db, "admin@example.com", true)
	target := seedUser(t, db, "user@example.com", false)
	other := seedUser(t, db, "user2@example.com", false)

	now := time.Now().UTC()

	// Active and past its deadline.
	expired := seedSession(t, db, admin, target)
	past := now.Add(-time.Minute)
	if ok, err := db.ConditionalUpdateSession(ctx, expired.ID, types.StatusPending, types.SessionPatch{
		Status:     types.StatusActive,
		ApprovedAt: &past,
		ExpiresAt:  &past,
	}); err != nil || !ok {
		t.Fatalf("activating session: ok=%v err=%v", ok, err)
	}

	// Pending and overdue.
	overdue := seedSession(t, db, admin, other)

	expiredList, err := db.ListExpiredActiveSessions(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredActiveSessions: %v", err)
	}
	if len(expiredList) != 1 || expiredList[0].ID != expired.ID {
		t.Errorf("expired listing = %d sessions, want the activated one", len(expiredList))
	}

	overdueList, err := db.ListOverduePendingSessions(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListOverduePendingSessions: %v", err)
	}
	if len(overdueList) != 1 || overdueList[0].ID != overdue.ID {
		t.Errorf("overdue listing = %d sessions, want the pending one", len(overdueList))
	}

	// Nothing is overdue against a cutoff before the request.
	overdueList, err = db.ListOverduePendingSessions(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListOverduePendingSessions: %v", err)
	}
	if len(overdueList) != 0 {
		t.Errorf("overdue listing = %d sessions, want none", len(overdueList))
	}
}
