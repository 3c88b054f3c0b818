package database

import (
	"context"
	"errors"
	"testing"

	"github.com/ArcaView/qualifyr/types"
)

func claimsFor(sub, iss, email, name string) *types.OIDCClaims {
	return &types.OIDCClaims{
		Sub:           sub,
		Iss:           iss,
		Email:         email,
		EmailVerified: true,
		Username:      name,
		Name:          name,
	}
}

func TestCreateOrUpdateUserFromClaim(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	claims := claimsFor("sub-1", "https://idp.example.com", "user@example.com", "Jo User")

	created, err := db.CreateOrUpdateUserFromClaim(claims)
	if err != nil {
		t.Fatalf("CreateOrUpdateUserFromClaim: %v", err)
	}
	if created.Email != "user@example.com" {
		t.Errorf("email = %q", created.Email)
	}

	// Same identity logging in again updates in place.
	claims.Name = "Jo Renamed"
	updated, err := db.CreateOrUpdateUserFromClaim(claims)
	if err != nil {
		t.Fatalf("CreateOrUpdateUserFromClaim: %v", err)
	}
	if updated.ID != created.ID {
		t.Error("second login should not create a second user")
	}
	if updated.DisplayName != "Jo Renamed" {
		t.Errorf("display name = %q, want updated", updated.DisplayName)
	}

	// A pre-provisioned user (no provider identifier yet) is matched by
	// email and linked on first login.
	provisioned := seedUser(t, db, "admin@example.com", true)
	linked, err := db.CreateOrUpdateUserFromClaim(
		claimsFor("sub-2", "https://idp.example.com", "admin@example.com", "Admin"))
	if err != nil {
		t.Fatalf("CreateOrUpdateUserFromClaim: %v", err)
	}
	if linked.ID != provisioned.ID {
		t.Error("login should link to the provisioned user by email")
	}
	if !linked.IsAdmin {
		t.Error("linking must not drop the admin flag")
	}

	got, err := db.GetUserByID(ctx, linked.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if !got.ProviderIdentifier.Valid {
		t.Error("provider identifier should be stored after first login")
	}
}

func TestGetUserByEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := seedUser(t, db, "user@example.com", false)

	got, err := db.GetUserByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Error("wrong user returned")
	}

	if _, err := db.GetUserByEmail(ctx, "missing@example.com"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing user error = %v, want ErrNotFound", err)
	}
}

func TestUpdateLastLogin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := seedUser(t, db, "user@example.com", false)

	if err := db.UpdateLastLogin(ctx, u.ID); err != nil {
		t.Fatalf("UpdateLastLogin: %v", err)
	}
	got, err := db.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.LastLogin == nil {
		t.Error("last login should be stamped")
	}
}
