package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ArcaView/qualifyr/auth"
	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
)

func TestSSEHandlerStreamsEvents(t *testing.T) {
	hub := NewHub()
	user := &types.User{ID: uuid.New(), Email: "user@example.com"}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = context.WithValue(ctx, auth.ContextKeyUser, user)
	req := httptest.NewRequest(http.MethodGet, "/api/impersonation/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		SSEHandler(hub)(rec, req)
		close(done)
	}()

	// Wait for the subscription to land, then publish.
	deadline := time.After(2 * time.Second)
	for hub.SubscriberCount(user.ID) == 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber never connected")
		case <-time.After(time.Millisecond):
		}
	}

	sessionID := uuid.New()
	hub.Publish(types.ChangeEvent{
		EventType: types.ChangeEventUpdated,
		Session:   &types.ImpersonationSession{ID: sessionID, Version: 2},
	}, user.ID)

	// Give the handler a moment to write, then disconnect.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, ": connected") {
		t.Error("stream should open with a connected comment")
	}
	if !strings.Contains(body, "event: updated") {
		t.Errorf("stream missing event line:\n%s", body)
	}
	if !strings.Contains(body, sessionID.String()) {
		t.Errorf("stream missing session payload:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	if n := hub.SubscriberCount(user.ID); n != 0 {
		t.Errorf("subscriber count = %d, want 0 after disconnect", n)
	}
}

func TestSSEHandlerRequiresUser(t *testing.T) {
	hub := NewHub()
	req := httptest.NewRequest(http.MethodGet, "/api/impersonation/events", nil)
	rec := httptest.NewRecorder()

	SSEHandler(hub)(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
