// Package recovery fails scan tasks left unfinished by a previous process.
package recovery

import (
	"context"
	"fmt"

	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
)

// InterruptedMessage is stored on every recovered task.
const InterruptedMessage = "Scan interrupted by server restart/update. Please try again."

// Store is the task persistence recovery needs.
type Store interface {
	ListTasksByStatus(ctx context.Context, statuses ...model.TaskStatus) ([]*model.ScanTask, error)
	FailUnfinished(ctx context.Context, msg string) (int, error)
}

// Metrics receives the number of recovered tasks.
type Metrics interface {
	TasksRecovered(n int)
}

type Recoverer struct {
	store   Store
	metrics Metrics
	logger  logging.Logger
}

func New(st Store, metrics Metrics, logger logging.Logger) *Recoverer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Recoverer{store: st, metrics: metrics, logger: logger.With(logging.F("component", "recovery"))}
}

// Run marks every pending or running task failed and returns how many
// changed. It must run before any worker picks up tasks. Running it again
// finds nothing and returns 0.
func (r *Recoverer) Run(ctx context.Context) (int, error) {
	r.logger.Info("checking for interrupted tasks")

	stuck, err := r.store.ListTasksByStatus(ctx, model.TaskPending, model.TaskRunning)
	if err != nil {
		return 0, fmt.Errorf("list unfinished tasks: %w", err)
	}
	for _, t := range stuck {
		r.logger.Warn("recovering interrupted task", logging.F("task_id", t.ID), logging.F("status", string(t.Status)))
	}

	n, err := r.store.FailUnfinished(ctx, InterruptedMessage)
	if err != nil {
		return 0, fmt.Errorf("fail unfinished tasks: %w", err)
	}
	if n == 0 {
		r.logger.Info("no interrupted tasks found")
		return 0, nil
	}
	if r.metrics != nil {
		r.metrics.TasksRecovered(n)
	}
	r.logger.Info("interrupted tasks marked failed", logging.F("count", n))
	return n, nil
}
