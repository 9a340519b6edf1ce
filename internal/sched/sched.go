// Package sched carries snapshot construction over an asynq queue: the
// "(schedule tick) → Snapshot Builder" edge when builds run out of process.
// The engine itself stays synchronous; this package only moves the calls.
package sched

import (
	"context"
	"encoding/json"
	"io"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/contestops/rewind/internal/metrics"
	"github.com/contestops/rewind/internal/rewind"
)

// Task type names. Handlers and enqueuers must agree on these.
const (
	TypeSnapshotBuild = "snapshot:build"
	TypeSnapshotBulk  = "snapshot:bulk"
)

// BuildPayload asks for one snapshot at one timestamp; the engine's cadence
// classifier decides base versus delta.
type BuildPayload struct {
	ContestID int64 `json:"contestId"`
	T         int64 `json:"t"`
}

// BulkPayload asks for every scheduled snapshot in a window. Zero intervals
// fall back to the engine's configured cadence.
type BulkPayload struct {
	ContestID     int64 `json:"contestId"`
	Start         int64 `json:"start"`
	End           int64 `json:"end"`
	BaseInterval  int64 `json:"baseInterval,omitempty"`
	DeltaInterval int64 `json:"deltaInterval,omitempty"`
}

// NewBuildTask packs a single-snapshot request.
func NewBuildTask(p BuildPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("sched: marshal build payload: %w", err)
	}
	return asynq.NewTask(TypeSnapshotBuild, data), nil
}

// NewBulkTask packs a bulk-window request.
func NewBulkTask(p BulkPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("sched: marshal bulk payload: %w", err)
	}
	return asynq.NewTask(TypeSnapshotBulk, data), nil
}

// buildTaskID makes retries and double-enqueues of the same request collapse
// into one queued task.
func buildTaskID(p BuildPayload) string {
	return fmt.Sprintf("%s:%d:%d", TypeSnapshotBuild, p.ContestID, p.T)
}

func bulkTaskID(p BulkPayload) string {
	return fmt.Sprintf("%s:%d:%d-%d", TypeSnapshotBulk, p.ContestID, p.Start, p.End)
}

// Client enqueues snapshot work onto Redis.
type Client struct {
	inner *asynq.Client
}

// NewClient connects an enqueue client to the Redis queue at addr.
func NewClient(addr string) *Client {
	return &Client{inner: asynq.NewClient(asynq.RedisClientOpt{Addr: addr})}
}

// Close releases the client's Redis connections.
func (c *Client) Close() error { return c.inner.Close() }

// EnqueueBuild queues one snapshot build. Returns the queued task's id.
func (c *Client) EnqueueBuild(ctx context.Context, p BuildPayload) (string, error) {
	task, err := NewBuildTask(p)
	if err != nil {
		return "", err
	}
	info, err := c.inner.EnqueueContext(ctx, task,
		asynq.TaskID(buildTaskID(p)),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute))
	if err != nil {
		return "", fmt.Errorf("sched: enqueue %s: %w", TypeSnapshotBuild, err)
	}
	return info.ID, nil
}

// EnqueueBulk queues a bulk window build.
func (c *Client) EnqueueBulk(ctx context.Context, p BulkPayload) (string, error) {
	task, err := NewBulkTask(p)
	if err != nil {
		return "", err
	}
	info, err := c.inner.EnqueueContext(ctx, task,
		asynq.TaskID(bulkTaskID(p)),
		asynq.MaxRetry(1),
		asynq.Timeout(time.Hour))
	if err != nil {
		return "", fmt.Errorf("sched: enqueue %s: %w", TypeSnapshotBulk, err)
	}
	return info.ID, nil
}

// Handler executes queued snapshot work against an engine.
type Handler struct {
	engine  *rewind.Engine
	log     *slog.Logger
	metrics *metrics.Set
}

// NewHandler builds a handler. logger may be nil; metrics may be nil.
func NewHandler(engine *rewind.Engine, logger *slog.Logger, set *metrics.Set) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{engine: engine, log: logger, metrics: set}
}

// Register wires the handler's task types onto a mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSnapshotBuild, h.HandleBuild)
	mux.HandleFunc(TypeSnapshotBulk, h.HandleBulk)
}

// HandleBuild processes one snapshot:build task. A snapshot that already
// exists is treated as done, not retried; the unique-index loser of a
// concurrent build race lands here.
func (h *Handler) HandleBuild(ctx context.Context, task *asynq.Task) error {
	var p BuildPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		h.observe(TypeSnapshotBuild, "bad_payload")
		return fmt.Errorf("sched: %s payload: %v: %w", TypeSnapshotBuild, err, asynq.SkipRetry)
	}
	res, err := h.engine.CreateSnapshot(ctx, p.ContestID, p.T)
	if err != nil {
		if rewind.IsSnapshotExists(err) {
			h.log.Info("snapshot already exists, dropping task",
				"contestId", p.ContestID, "t", p.T)
			h.observe(TypeSnapshotBuild, "duplicate")
			return nil
		}
		h.observe(TypeSnapshotBuild, "error")
		return fmt.Errorf("sched: build contest %d at %d: %w", p.ContestID, p.T, err)
	}
	h.log.Info("snapshot task done",
		"contestId", p.ContestID, "t", p.T, "kind", res.Kind)
	h.observe(TypeSnapshotBuild, "ok")
	return nil
}

// HandleBulk processes one snapshot:bulk task. Per-timestamp failures are
// already captured in the report; only a broken store fails the task.
func (h *Handler) HandleBulk(ctx context.Context, task *asynq.Task) error {
	var p BulkPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		h.observe(TypeSnapshotBulk, "bad_payload")
		return fmt.Errorf("sched: %s payload: %v: %w", TypeSnapshotBulk, err, asynq.SkipRetry)
	}
	report, err := h.engine.CreateSnapshotsBulk(ctx, p.ContestID, p.Start, p.End, p.BaseInterval, p.DeltaInterval)
	if err != nil {
		h.observe(TypeSnapshotBulk, "error")
		return fmt.Errorf("sched: bulk contest %d [%d,%d]: %w", p.ContestID, p.Start, p.End, err)
	}
	h.log.Info("bulk snapshot task done",
		"runId", report.RunID, "contestId", p.ContestID,
		"bases", report.BaseCount, "deltas", report.DeltaCount,
		"errors", len(report.Errors))
	h.observe(TypeSnapshotBulk, "ok")
	return nil
}

func (h *Handler) observe(taskType, status string) {
	if h.metrics == nil {
		return
	}
	h.metrics.TasksProcessed.WithLabelValues(taskType, status).Inc()
}

// NewServer builds the asynq worker server for the queue at addr.
func NewServer(addr string, concurrency int, logger *slog.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 4
	}
	return asynq.NewServer(
		asynq.RedisClientOpt{Addr: addr},
		asynq.Config{
			Concurrency: concurrency,
			Logger:      slogAdapter{logger},
		},
	)
}

// slogAdapter satisfies asynq.Logger on top of slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(args ...any) { a.log(slog.LevelDebug, args...) }
func (a slogAdapter) Info(args ...any)  { a.log(slog.LevelInfo, args...) }
func (a slogAdapter) Warn(args ...any)  { a.log(slog.LevelWarn, args...) }
func (a slogAdapter) Error(args ...any) { a.log(slog.LevelError, args...) }
func (a slogAdapter) Fatal(args ...any) { a.log(slog.LevelError, args...) }

func (a slogAdapter) log(level slog.Level, args ...any) {
	if a.l == nil {
		return
	}
	a.l.Log(context.Background(), level, fmt.Sprint(args...))
}
