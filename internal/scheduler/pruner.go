package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/logger"
)

// DefaultPruneInterval is used when the configured interval is not positive.
const DefaultPruneInterval = 24 * time.Hour

// HistoryPruner drops stale history records and returns how many went.
type HistoryPruner interface {
	StartupCleanup(ctx context.Context) int
	Prune(ctx context.Context) int
}

// Pruner runs history pruning at start, periodically and on demand.
type Pruner struct {
	history  HistoryPruner
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
	trigger  chan struct{}
	runs     chan int // test hook, nil in production
}

// NewPruner creates a new pruner
func NewPruner(history HistoryPruner, log logger.Logger, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &Pruner{
		history:  history,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
		trigger:  make(chan struct{}, 1),
	}
}

// Start runs the startup cleanup, then prunes in the background until Stop
// or ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	p.history.StartupCleanup(ctx)

	ticker := time.NewTicker(p.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.run(ctx)
			case <-p.trigger:
				p.logger.Info("manual prune triggered")
				p.run(ctx)
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the pruner
func (p *Pruner) Stop() {
	close(p.stopCh)
}

// Trigger requests a prune. It reports false when one is already pending.
func (p *Pruner) Trigger() bool {
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Pruner) run(ctx context.Context) {
	n := p.history.Prune(ctx)
	if n > 0 {
		p.logger.Info("history pruned", logger.Int("removed", n))
	} else {
		p.logger.Debug("no history to prune")
	}
	if p.runs != nil {
		p.runs <- n
	}
}
