package monitor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/relayswitch/internal/logger"
	"github.com/MrSnakeDoc/relayswitch/internal/probe"
)

// ErrNoTasks is returned when no task is enabled.
var ErrNoTasks = errors.New("no enabled monitoring task")

// Supervisor runs every enabled task concurrently.
type Supervisor struct {
	settings Settings
	deps     Deps
}

func NewSupervisor(settings Settings, deps Deps) *Supervisor {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &Supervisor{settings: settings, deps: deps}
}

// Run blocks until every task returns. The first task error cancels the
// others and is returned. Tasks naming an unknown service are rejected
// before anything starts.
func (s *Supervisor) Run(ctx context.Context, tasks []Task) error {
	enabled := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		if _, ok := probe.Normalize(t.Service); !ok {
			return fmt.Errorf("task %s: %w: %s", t.Name, probe.ErrUnknownService, t.Service)
		}
		enabled = append(enabled, t)
	}
	if len(enabled) == 0 {
		return ErrNoTasks
	}

	s.deps.Log.Info("starting monitoring tasks", logger.Int("tasks", len(enabled)))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range enabled {
		runner := NewRunner(t, s.settings, s.deps)
		g.Go(func() error {
			if err := runner.Run(gctx); err != nil {
				return fmt.Errorf("task %s: %w", t.Name, err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
