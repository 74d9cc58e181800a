// Package lifecycle implements the Lifecycle Engine: the task state
// machine (create, reserve, complete, unlock, verify and their bulk/
// supplemental variants), plus the project/tag/comment/GitHub-link CRUD
// that rides the same single-writer transaction discipline. Every
// mutation appends its ChangeEntry and TaskVersion rows inside the same
// store.WriteTx as the field mutation, then publishes its event once the
// transaction has committed.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskmesh/taskcore/internal/dependency"
	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/events"
	"github.com/taskmesh/taskcore/internal/models"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/store"
)

// Clock is the narrow time source the engine depends on.
type Clock interface {
	Now() time.Time
}

// Engine is the Lifecycle Engine. It holds no task state of its own; the
// Store is the only shared mutable resource.
type Engine struct {
	store  store.Store
	clk    Clock
	pub    *events.Publisher
	logger observability.Logger
}

func New(st store.Store, clk Clock, pub *events.Publisher, logger observability.Logger) *Engine {
	return &Engine{store: st, clk: clk, pub: pub, logger: logger}
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.pub == nil {
		return
	}
	ev.Timestamp = e.clk.Now()
	e.pub.Publish(ctx, ev)
}

// writeTx runs fn inside a write transaction wrapped in a span named
// spanName, so each lifecycle mutation shows up as its own span in the
// configured trace backend regardless of which store is wired in.
func (e *Engine) writeTx(ctx context.Context, spanName string, fn func(tx store.Tx) error) error {
	ctx, end := observability.StartSpan(ctx, spanName)
	defer end()
	err := e.store.WriteTx(ctx, fn)
	observability.RecordSpanError(ctx, err)
	return err
}

// --- validation helpers shared across operations ---

func trimmed(s string) string { return strings.TrimSpace(s) }

func validateTitle(title string) (string, error) {
	t := trimmed(title)
	if len(t) < 3 || len(t) > 100 {
		return "", errs.Validation("title must be 3-100 characters, got %d", len(t))
	}
	return t, nil
}

func validateInstruction(field, s string) (string, error) {
	t := trimmed(s)
	if len(t) < 10 {
		return "", errs.Validation("%s must be at least 10 characters", field)
	}
	return t, nil
}

func validateNonEmpty(field, s string) (string, error) {
	t := trimmed(s)
	if t == "" {
		return "", errs.Validation("%s must not be empty", field)
	}
	return t, nil
}

// parseDueDate requires an RFC3339 (timezone-bearing) timestamp; B2.
func parseDueDate(raw *string) (*time.Time, error) {
	if raw == nil || trimmed(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, trimmed(*raw))
	if err != nil {
		return nil, errs.Validation("due_date must be an RFC3339 timestamp with timezone: %v", err)
	}
	return &t, nil
}

// validateHours enforces the >= 0.1 precision floor of B3 for both
// estimated_hours and actual_hours.
func validateHours(field string, h *float64) error {
	if h == nil {
		return nil
	}
	if *h < 0.1 {
		return errs.Validation("%s must be >= 0.1, got %v", field, *h)
	}
	return nil
}

func strField(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatField(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *f)
}

func timeField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// resolverFor builds a dependency.Resolver bound to the given
// transaction, for blocked/cycle checks made inside a write.
func resolverFor(tx store.Tx) *dependency.Resolver {
	return dependency.New(dependency.NewTxReader(tx))
}

func snapshot(taskID int64, t *models.Task, now time.Time) *models.TaskVersion {
	return &models.TaskVersion{TaskID: taskID, Payload: *t, CreatedAt: now}
}
