// Package tasks provides Asynq background task helpers and the audit
// retry queue.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// Task type constants.
const (
	// TaskTypeAuditAppend retries an audit record insert that failed
	// inline. Queued on the critical queue: the trail must eventually
	// match session state.
	TaskTypeAuditAppend = "audit:append"
)

// AuditAppendPayload carries a deferred audit record.
type AuditAppendPayload struct {
	SessionID  uuid.UUID     `json:"session_id"`
	Action     string        `json:"action"`
	ActorEmail string        `json:"actor_email"`
	Timestamp  time.Time     `json:"timestamp"`
	Details    types.JSONMap `json:"details,omitempty"`
}

// Record converts the payload back into an audit record.
func (p AuditAppendPayload) Record() *types.AuditRecord {
	return &types.AuditRecord{
		SessionID:  p.SessionID,
		Action:     p.Action,
		ActorEmail: p.ActorEmail,
		Timestamp:  p.Timestamp,
		Details:    p.Details,
	}
}

// Client wraps an Asynq client for enqueuing tasks.
type Client struct {
	client *asynq.Client
}

// NewClient creates a new task client.
func NewClient(redisAddr, redisPassword string, redisDB int) *Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})
	return &Client{client: client}
}

// Close closes the task client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Enqueue enqueues a task with the given type and payload.
func (c *Client) Enqueue(taskType string, payload interface{}, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}

	task := asynq.NewTask(taskType, data)
	info, err := c.client.Enqueue(task, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueuing task: %w", err)
	}

	log.Info().
		Str("task_type", taskType).
		Str("task_id", info.ID).
		Msg("Task enqueued")

	return info, nil
}

// EnqueueAuditAppend queues an audit record for background insertion.
// Implements the broker's AuditEnqueuer.
func (c *Client) EnqueueAuditAppend(_ context.Context, rec *types.AuditRecord) error {
	payload := AuditAppendPayload{
		SessionID:  rec.SessionID,
		Action:     rec.Action,
		ActorEmail: rec.ActorEmail,
		Timestamp:  rec.Timestamp,
		Details:    rec.Details,
	}
	_, err := c.Enqueue(TaskTypeAuditAppend, payload,
		asynq.Queue("critical"),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second))
	return err
}

// Server wraps an Asynq server for processing tasks.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// ServerConfig holds configuration for the task server.
type ServerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	Queues        map[string]int // Queue name -> priority
}

// DefaultServerConfig returns a default server configuration.
func DefaultServerConfig(redisAddr, redisPassword string, redisDB int) *ServerConfig {
	return &ServerConfig{
		RedisAddr:     redisAddr,
		RedisPassword: redisPassword,
		RedisDB:       redisDB,
		Concurrency:   10,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	}
}

// NewServer creates a new task server.
func NewServer(cfg *ServerConfig) *Server {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error().
					Err(err).
					Str("task_type", task.Type()).
					Bytes("payload", task.Payload()).
					Msg("Task failed")
			}),
		},
	)

	return &Server{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// HandleFunc registers a handler function for the given task type.
func (s *Server) HandleFunc(taskType string, handler func(context.Context, *asynq.Task) error) {
	s.mux.HandleFunc(taskType, handler)
	log.Debug().Str("task_type", taskType).Msg("Registered task handler")
}

// Handle registers a handler for the given task type.
func (s *Server) Handle(taskType string, handler asynq.Handler) {
	s.mux.Handle(taskType, handler)
	log.Debug().Str("task_type", taskType).Msg("Registered task handler")
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	log.Info().Msg("Starting task server")
	return s.server.Run(s.mux)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() {
	log.Info().Msg("Shutting down task server")
	s.server.Shutdown()
}

// TaskHandler unmarshals JSON payloads before invoking the handler.
type TaskHandler[T any] struct {
	handler func(context.Context, T) error
}

// NewTaskHandler creates a new typed task handler.
func NewTaskHandler[T any](handler func(context.Context, T) error) *TaskHandler[T] {
	return &TaskHandler[T]{handler: handler}
}

// ProcessTask implements asynq.Handler.
func (h *TaskHandler[T]) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshaling task payload: %w", err)
	}
	return h.handler(ctx, payload)
}

// AuditInserter persists retried audit records.
type AuditInserter interface {
	InsertAuditRecord(ctx context.Context, rec *types.AuditRecord) error
}

// RegisterAuditHandlers wires the audit retry handler onto the server.
func RegisterAuditHandlers(s *Server, store AuditInserter) {
	s.Handle(TaskTypeAuditAppend, NewTaskHandler(func(ctx context.Context, p AuditAppendPayload) error {
		if err := store.InsertAuditRecord(ctx, p.Record()); err != nil {
			return fmt.Errorf("retrying audit append: %w", err)
		}
		log.Info().
			Str("session_id", p.SessionID.String()).
			Str("action", p.Action).
			Msg("Deferred audit record persisted")
		return nil
	}))
}
