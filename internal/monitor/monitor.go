// Package monitor runs the probe, record and switch loop of each configured
// task.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/clash"
	"github.com/MrSnakeDoc/relayswitch/internal/domain"
	"github.com/MrSnakeDoc/relayswitch/internal/logger"
	"github.com/MrSnakeDoc/relayswitch/internal/metrics"
	"github.com/MrSnakeDoc/relayswitch/internal/probe"
)

const (
	// MinRotationPause is the shortest pause after MaxRotations switches.
	MinRotationPause = 30 * time.Second
	// VerifyPause separates the probes of a verification burst.
	VerifyPause = time.Second
)

// Task binds a relay-group to the service probed through it.
type Task struct {
	Name    string
	Group   string
	Service string
	Enabled bool
}

// Settings tunes every task loop.
type Settings struct {
	Interval time.Duration
	// MaxRotations pauses a task after that many consecutive switches. 0
	// never pauses.
	MaxRotations int
	// Once stops a task at its first successful probe.
	Once bool
	// VerifyCount is the number of probes right after start or a switch.
	VerifyCount int
}

// Engine is the part of the selection engine the monitor uses.
type Engine interface {
	RecordObservation(ctx context.Context, obs domain.Observation) domain.NodeRecord
	Recommend(ctx context.Context, group, service string, available []string, current string) (string, bool)
}

// Controller reads and switches relay-groups.
type Controller interface {
	clash.ProxyGetter
	SelectProxy(ctx context.Context, group, relay string) error
}

// Deps are the collaborators shared by every runner.
type Deps struct {
	Engine     Engine
	Controller Controller
	Prober     probe.Prober
	Metrics    *metrics.Recorder
	Log        logger.Logger
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner drives one task.
type Runner struct {
	task     Task
	settings Settings
	deps     Deps
	log      logger.Logger
}

// NewRunner returns a runner for task.
func NewRunner(task Task, settings Settings, deps Deps) *Runner {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	if settings.VerifyCount < 1 {
		settings.VerifyCount = 1
	}
	return &Runner{
		task:     task,
		settings: settings,
		deps:     deps,
		log: deps.Log.With(
			logger.String("task", task.Name),
			logger.String("group", task.Group),
			logger.String("service", task.Service)),
	}
}

// Run loops until ctx is done, or until the first success when Once is set.
// It returns nil in both cases.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("monitor started")
	defer r.log.Info("monitor stopped")

	rotations := 0
	verify := true

	for ctx.Err() == nil {
		current := r.currentRelay(ctx)

		count := 1
		if verify {
			count = r.settings.VerifyCount
		}
		res, err := probe.ProbeN(ctx, r.deps.Prober, r.task.Service, count, VerifyPause)
		verify = false
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			res = probe.Result{Service: r.task.Service, Outcome: probe.Indeterminate, Detail: err.Error()}
		}
		ok := res.OK()

		if current != "" {
			r.deps.Engine.RecordObservation(ctx, domain.Observation{
				Relay:   current,
				Service: r.task.Service,
				Group:   r.task.Group,
				Success: ok,
			})
		}

		if ok {
			rotations = 0
			r.log.Info("service available",
				logger.String("relay", current),
				logger.String("status", res.String()))
			if r.settings.Once {
				return nil
			}
			if r.deps.Sleep(ctx, r.settings.Interval) != nil {
				return nil
			}
			continue
		}

		r.log.Warn("service unavailable",
			logger.String("relay", current),
			logger.String("outcome", res.Outcome.String()),
			logger.String("status", res.String()))

		next, err := r.switchRelay(ctx, current)
		if err != nil {
			r.log.Error("switch failed", logger.Error(err))
			if r.deps.Sleep(ctx, r.settings.Interval) != nil {
				return nil
			}
			continue
		}
		rotations++
		verify = true
		r.log.Info("switched relay",
			logger.String("from", current),
			logger.String("to", next),
			logger.Int("rotations", rotations))

		if r.settings.MaxRotations > 0 && rotations >= r.settings.MaxRotations {
			pause := max(r.settings.Interval, MinRotationPause)
			r.log.Warn("rotation limit reached, pausing",
				logger.Int("max_rotations", r.settings.MaxRotations),
				logger.Duration("pause", pause))
			rotations = 0
			if r.deps.Sleep(ctx, pause) != nil {
				return nil
			}
		}
	}
	return nil
}

// currentRelay returns the relay the group selects, or "" when unknown.
func (r *Runner) currentRelay(ctx context.Context) string {
	info, err := r.deps.Controller.GetProxy(ctx, r.task.Group)
	if err != nil {
		r.log.Debug("failed to read current relay", logger.Error(err))
		return ""
	}
	return info.Now
}

// switchRelay selects the recommended relay and records it as an
// unverified observation.
func (r *Runner) switchRelay(ctx context.Context, current string) (string, error) {
	_, alive, now, err := clash.Candidates(ctx, r.deps.Controller, r.task.Group)
	if err != nil {
		return "", err
	}
	if current == "" {
		current = now
	}

	next, ok := r.deps.Engine.Recommend(ctx, r.task.Group, r.task.Service, alive, current)
	if !ok {
		return "", fmt.Errorf("group %s: %w", r.task.Group, clash.ErrNoCandidates)
	}
	if err := r.deps.Controller.SelectProxy(ctx, r.task.Group, next); err != nil {
		return "", fmt.Errorf("failed to select %s: %w", next, err)
	}
	r.deps.Metrics.Switch(r.task.Group, r.task.Service)

	// The new relay has not been probed yet.
	r.deps.Engine.RecordObservation(ctx, domain.Observation{
		Relay:   next,
		Service: r.task.Service,
		Group:   r.task.Group,
		Success: false,
	})
	return next, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
