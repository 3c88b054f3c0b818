package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type captureInserter struct {
	records []*types.AuditRecord
	err     error
}

func (c *captureInserter) InsertAuditRecord(_ context.Context, rec *types.AuditRecord) error {
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, rec)
	return nil
}

func TestAuditAppendTaskRoundTrip(t *testing.T) {
	inserter := &captureInserter{}

	// The same handler RegisterAuditHandlers mounts, exercised directly.
	handler := NewTaskHandler(func(ctx context.Context, p AuditAppendPayload) error {
		return inserter.InsertAuditRecord(ctx, p.Record())
	})

	payload := AuditAppendPayload{
		SessionID:  uuid.New(),
		Action:     types.ActionApproved,
		ActorEmail: "user@example.com",
		Timestamp:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Details:    types.JSONMap{"expires_at": "2026-03-10T12:30:00Z"},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}

	task := asynq.NewTask(TaskTypeAuditAppend, data)
	if err := handler.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if len(inserter.records) != 1 {
		t.Fatalf("inserted %d records, want 1", len(inserter.records))
	}
	rec := inserter.records[0]
	if rec.SessionID != payload.SessionID || rec.Action != payload.Action {
		t.Errorf("record = %+v, want payload fields preserved", rec)
	}
	if !rec.Timestamp.Equal(payload.Timestamp) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, payload.Timestamp)
	}
}

func TestTaskHandlerRejectsGarbage(t *testing.T) {
	handler := NewTaskHandler(func(context.Context, AuditAppendPayload) error { return nil })

	task := asynq.NewTask(TaskTypeAuditAppend, []byte("not json"))
	if err := handler.ProcessTask(context.Background(), task); err == nil {
		t.Error("expected an error for a malformed payload")
	}
}
