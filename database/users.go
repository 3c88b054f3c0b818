package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// GetUserByID fetches a non-deleted user by id.
func (d *Database) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	var u types.User
	err := d.db.GetContext(ctx, &u,
		`SELECT * FROM users WHERE id = ? AND deleted_at IS NULL`, userID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", types.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail fetches a non-deleted user by email.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	var u types.User
	err := d.db.GetContext(ctx, &u,
		`SELECT * FROM users WHERE email = ? AND deleted_at IS NULL`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", types.ErrNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a user row. Used by bootstrap and tests; OIDC logins
// go through CreateOrUpdateUserFromClaim.
func (d *Database) CreateUser(ctx context.Context, u *types.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.ModifiedAt = now

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, display_name, provider_identifier, is_admin, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.Email, u.Name, u.DisplayName, u.ProviderIdentifier, u.IsAdmin, u.CreatedAt, u.ModifiedAt)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// CreateOrUpdateUserFromClaim upserts a user from OIDC claims, matching on
// provider identifier first and falling back to verified email.
func (d *Database) CreateOrUpdateUserFromClaim(claims *types.OIDCClaims) (*types.User, error) {
	ctx := context.Background()

	var u types.User
	err := d.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &u,
			`SELECT * FROM users WHERE provider_identifier = ? AND deleted_at IS NULL`,
			claims.Identifier())
		if errors.Is(err, sql.ErrNoRows) && claims.Email != "" {
			err = tx.GetContext(ctx, &u,
				`SELECT * FROM users WHERE email = ? AND deleted_at IS NULL`, claims.Email)
		}

		switch {
		case err == nil:
			u.FromClaim(claims)
			u.ModifiedAt = time.Now().UTC()
			_, err = tx.ExecContext(ctx, `
				UPDATE users SET email = ?, name = ?, display_name = ?,
					provider_identifier = ?, modified_at = ?
				WHERE id = ?`,
				u.Email, u.Name, u.DisplayName, u.ProviderIdentifier, u.ModifiedAt, u.ID.String())
			if err != nil {
				return fmt.Errorf("updating user from claim: %w", err)
			}
			return nil

		case errors.Is(err, sql.ErrNoRows):
			u = types.User{ID: uuid.New()}
			u.FromClaim(claims)
			if u.Email == "" {
				u.Email = claims.Email
			}
			now := time.Now().UTC()
			u.CreatedAt = now
			u.ModifiedAt = now
			_, err = tx.ExecContext(ctx, `
				INSERT INTO users (id, email, name, display_name, provider_identifier, is_admin, created_at, modified_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				u.ID.String(), u.Email, u.Name, u.DisplayName, u.ProviderIdentifier, u.IsAdmin, u.CreatedAt, u.ModifiedAt)
			if err != nil {
				return fmt.Errorf("creating user from claim: %w", err)
			}
			return nil

		default:
			return fmt.Errorf("looking up user from claim: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateLastLogin stamps the user's last login time.
func (d *Database) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE id = ?`,
		time.Now().UTC(), userID.String())
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}
