package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/domain"
	"github.com/MrSnakeDoc/relayswitch/internal/logger"
	"github.com/MrSnakeDoc/relayswitch/internal/metrics"
)

// Engine is the read and recommend side of the selection engine.
type Engine interface {
	Statistics(ctx context.Context, group, service string) domain.Statistics
	Summary(ctx context.Context) domain.Summary
	History(ctx context.Context, group, service, relay string) []domain.NodeRecord
	Advise(ctx context.Context, group, service string, available []string, current string) ([]domain.Candidate, string, bool)
}

// Backend is the history storage, probed by /readyz.
type Backend interface {
	Name() string
	Size(ctx context.Context) (int64, error)
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	AllowedCIDRS []string          // IPs allowed to reach the API
	TrustProxy   bool              // true if running behind a trusted reverse proxy
	Engine       Engine            // selection engine
	Backend      Backend           // history storage
	Metrics      *metrics.Recorder // nil disables /metrics
	PruneTrigger func() bool       // requests a history prune, false when one is pending
}
