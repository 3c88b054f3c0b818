package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ArcaView/qualifyr/database"
	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const testCookieName = "qualifyr_test_session"

func newTestMiddleware(t *testing.T) (*SessionMiddleware, sessions.Store, *database.Database) {
	t.Helper()
	db, err := database.NewMemory()
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := sessions.NewCookieStore(
		[]byte("12345678901234567890123456789012"),
		[]byte("abcdefghijklmnopqrstuvwxyz123456"),
	)
	return NewSessionMiddleware(store, testCookieName, db), store, db
}

func seedUser(t *testing.T, db *database.Database, email string, isAdmin bool) *types.User {
	t.Helper()
	u := &types.User{ID: uuid.New(), Email: email, Name: email, IsAdmin: isAdmin}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return u
}

// loginRequest returns a request carrying a valid session cookie for the
// user.
func loginRequest(t *testing.T, store sessions.Store, user *types.User) *http.Request {
	t.Helper()

	seed := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	session, err := store.Get(seed, testCookieName)
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	session.Values["logged"] = true
	session.Values["user_id"] = user.ID.String()
	if err := session.Save(seed, rec); err != nil {
		t.Fatalf("saving session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/impersonation/sessions", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestAuthenticate(t *testing.T) {
	mw, store, db := newTestMiddleware(t)
	user := seedUser(t, db, "user@example.com", false)

	got, err := mw.Authenticate(loginRequest(t, store, user))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("authenticated as %s, want %s", got.ID, user.ID)
	}

	// No cookie at all.
	if _, err := mw.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil)); err == nil {
		t.Error("expected an error without a session cookie")
	}
}

func TestRequireAuth(t *testing.T) {
	mw, store, db := newTestMiddleware(t)
	user := seedUser(t, db, "user@example.com", false)

	var seen *types.User
	handler := mw.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest(t, store, user))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if seen == nil || seen.ID != user.ID {
		t.Error("handler should see the authenticated user in context")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	mw, store, db := newTestMiddleware(t)
	admin := seedUser(t, db, "admin@example.com", true)
	user := seedUser(t, db, "user@example.com", false)

	handler := mw.RequireAuth(mw.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest(t, store, admin))
	if rec.Code != http.StatusNoContent {
		t.Errorf("admin status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest(t, store, user))
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:9999"
	if ip := GetClientIP(req); ip != "203.0.113.7" {
		t.Errorf("GetClientIP = %q, want 203.0.113.7", ip)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	if ip := GetClientIP(req); ip != "198.51.100.4" {
		t.Errorf("GetClientIP with XFF = %q, want first hop", ip)
	}
}

func TestDeletedUserRejected(t *testing.T) {
	mw, store, db := newTestMiddleware(t)
	user := seedUser(t, db, "user@example.com", false)
	req := loginRequest(t, store, user)

	if _, err := db.DB().Exec(
		`UPDATE users SET deleted_at = CURRENT_TIMESTAMP WHERE id = ?`, user.ID.String()); err != nil {
		t.Fatalf("soft-deleting user: %v", err)
	}

	_, err := mw.Authenticate(req)
	if err == nil {
		t.Fatal("soft-deleted user should not authenticate")
	}
	if !strings.Contains(err.Error(), "User not found") {
		t.Errorf("error = %v, want user-not-found", err)
	}
}
