package notify

import (
	"testing"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
)

func event(sessionID uuid.UUID, version int64) types.ChangeEvent {
	return types.ChangeEvent{
		EventType: types.ChangeEventUpdated,
		Session:   &types.ImpersonationSession{ID: sessionID, Version: version},
	}
}

func TestPublishReachesOnlyRecipients(t *testing.T) {
	hub := NewHub()
	alice := uuid.New()
	bob := uuid.New()

	subAlice := hub.Subscribe(alice)
	subBob := hub.Subscribe(bob)
	defer hub.Unsubscribe(subAlice)
	defer hub.Unsubscribe(subBob)

	hub.Publish(event(uuid.New(), 1), alice)

	select {
	case e := <-subAlice.Events():
		if e.Session.Version != 1 {
			t.Errorf("got version %d, want 1", e.Session.Version)
		}
	default:
		t.Fatal("alice should have received the event")
	}

	select {
	case e := <-subBob.Events():
		t.Fatalf("bob should not have received anything, got %+v", e)
	default:
	}
}

func TestStaleVersionsDiscarded(t *testing.T) {
	hub := NewHub()
	user := uuid.New()
	sub := hub.Subscribe(user)
	defer hub.Unsubscribe(sub)

	sessionID := uuid.New()
	hub.Publish(event(sessionID, 3), user)
	hub.Publish(event(sessionID, 2), user) // late delivery of an older state
	hub.Publish(event(sessionID, 3), user) // duplicate

	var got []int64
	for {
		select {
		case e := <-sub.Events():
			got = append(got, e.Session.Version)
			continue
		default:
		}
		break
	}

	if len(got) != 1 || got[0] != 3 {
		t.Errorf("got versions %v, want [3]", got)
	}
}

func TestVersionsFencedPerSession(t *testing.T) {
	hub := NewHub()
	user := uuid.New()
	sub := hub.Subscribe(user)
	defer hub.Unsubscribe(sub)

	a := uuid.New()
	b := uuid.New()
	hub.Publish(event(a, 5), user)
	hub.Publish(event(b, 2), user) // lower version, different session

	count := 0
	for {
		select {
		case <-sub.Events():
			count++
			continue
		default:
		}
		break
	}

	if count != 2 {
		t.Errorf("got %d events, want 2", count)
	}
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	hub := NewHub()
	user := uuid.New()
	sub := hub.Subscribe(user)

	sessionID := uuid.New()
	for v := int64(1); v <= subscriberBuffer+1; v++ {
		hub.Publish(event(sessionID, v), user)
	}

	if n := hub.SubscriberCount(user); n != 0 {
		t.Errorf("subscriber count = %d, want 0 after overflow", n)
	}

	// Buffered events remain readable, then the channel closes.
	received := 0
	for range sub.Events() {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("drained %d events, want %d", received, subscriberBuffer)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	user := uuid.New()
	sub := hub.Subscribe(user)

	hub.Unsubscribe(sub)

	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if n := hub.SubscriberCount(user); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}

	// Publishing after unsubscribe must not panic.
	hub.Publish(event(uuid.New(), 1), user)
}
