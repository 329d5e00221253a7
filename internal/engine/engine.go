// Package engine records relay observations and answers selection queries
// over the persisted reliability history.
//
// Every operation runs a full load, compute and save cycle under one mutex,
// so concurrent callers are strictly serialized and always see the latest
// persisted state. Durability problems are logged by the history store and
// never surface here, except for Export.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/domain"
	"github.com/MrSnakeDoc/relayswitch/internal/history"
	"github.com/MrSnakeDoc/relayswitch/internal/logger"
	"github.com/MrSnakeDoc/relayswitch/internal/metrics"
)

// Engine is the selection engine facade.
type Engine struct {
	mu      sync.Mutex
	store   *history.Store
	log     logger.Logger
	now     func() time.Time
	metrics *metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock overrides the time source used for observations without a
// timestamp and for pruning.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an engine over store.
func New(store *history.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		log:   logger.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordObservation folds one observation into the history and returns
// the updated record.
func (e *Engine) RecordObservation(ctx context.Context, obs domain.Observation) domain.NodeRecord {
	at := obs.At
	if at.IsZero() {
		at = e.now()
	}
	// Persisted times carry microseconds; truncating here keeps a reload
	// identical to what was computed.
	at = at.UTC().Truncate(time.Microsecond)

	e.mu.Lock()
	defer e.mu.Unlock()

	doc := e.store.Load(ctx)
	key := history.Key(obs.Group, obs.Service)
	recs := doc[key]

	var rec domain.NodeRecord
	idx := indexOf(recs, obs.Relay)
	if idx < 0 {
		rec = domain.NewRecord(obs.Group, obs.Service, obs.Relay, obs.Success, at)
		recs = append(recs, rec)
	} else {
		domain.ApplyObservation(&recs[idx], obs.Success, at)
		rec = recs[idx]
	}
	doc[key] = recs
	e.store.Save(ctx, doc)

	e.metrics.Observation(obs.Group, obs.Service, obs.Relay, obs.Success, rec.ReliabilityScore)
	e.log.Debug("recorded observation",
		logger.String("group", obs.Group),
		logger.String("service", obs.Service),
		logger.String("relay", obs.Relay),
		logger.Bool("success", obs.Success),
		logger.Float64("score", rec.ReliabilityScore),
		logger.Int("checks", rec.TotalChecks))

	return rec
}

// Recommend picks the relay to switch to among available. It returns false
// only when available is empty.
func (e *Engine) Recommend(ctx context.Context, group, service string, available []string, current string) (string, bool) {
	_, relay, ok := e.Advise(ctx, group, service, available, current)
	return relay, ok
}

// Explain returns the scored candidates behind Recommend, best first.
func (e *Engine) Explain(ctx context.Context, group, service string, available []string) []domain.Candidate {
	e.mu.Lock()
	records := e.recordsLocked(ctx, group, service)
	e.mu.Unlock()

	return domain.ScoreCandidates(records, available)
}

// Advise returns the scored candidates and the relay picked from them, both
// computed from one read of the history.
func (e *Engine) Advise(ctx context.Context, group, service string, available []string, current string) ([]domain.Candidate, string, bool) {
	candidates := e.Explain(ctx, group, service, available)

	relay, ok := domain.Pick(candidates, current)
	e.metrics.Recommendation(group, service, ok)
	if ok {
		e.log.Debug("recommended relay",
			logger.String("group", group),
			logger.String("service", service),
			logger.String("relay", relay),
			logger.String("current", current),
			logger.Int("available", len(available)))
	}
	return candidates, relay, ok
}

// Statistics returns the aggregated statistics of a (group, service) pair.
func (e *Engine) Statistics(ctx context.Context, group, service string) domain.Statistics {
	e.mu.Lock()
	records := e.recordsLocked(ctx, group, service)
	e.mu.Unlock()

	return domain.ComputeStatistics(group, service, records)
}

// Rankings lists relays by reliability, keeping scores at or above
// minScore. A limit of 0 or less means no limit.
func (e *Engine) Rankings(ctx context.Context, group, service string, minScore float64, limit int) []domain.Ranking {
	e.mu.Lock()
	records := e.recordsLocked(ctx, group, service)
	e.mu.Unlock()

	return domain.FilterRankings(domain.RankByReliability(records), minScore, limit)
}

// Summary aggregates every stored (group, service) pair.
func (e *Engine) Summary(ctx context.Context) domain.Summary {
	e.mu.Lock()
	doc := e.store.Load(ctx)
	e.mu.Unlock()

	entries := make([]domain.SummaryEntry, 0, len(doc))
	for key, recs := range doc {
		group, service, ok := history.SplitKey(key)
		if !ok {
			continue
		}
		entries = append(entries, domain.SummaryEntry{Group: group, Service: service, Records: recs})
	}
	return domain.BuildSummary(entries)
}

// History returns the records of a pair, most recently checked first. An
// empty relay returns every relay of the pair.
func (e *Engine) History(ctx context.Context, group, service, relay string) []domain.NodeRecord {
	e.mu.Lock()
	records := e.recordsLocked(ctx, group, service)
	e.mu.Unlock()

	out := make([]domain.NodeRecord, 0, len(records))
	for _, rec := range records {
		if relay == "" || rec.RelayName == relay {
			out = append(out, rec)
		}
	}
	domain.SortByLastCheck(out)
	return out
}

// StartupCleanup prunes stale history once, typically at process start.
// It returns the number of removed records.
func (e *Engine) StartupCleanup(ctx context.Context) int {
	removed := e.Prune(ctx)
	if removed > 0 {
		e.log.Info("startup cleanup removed stale records", logger.Int("removed", removed))
	}
	return removed
}

// Prune drops stale records when the history has grown past the size
// threshold. The document is only written when something was removed.
func (e *Engine) Prune(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc := e.store.Load(ctx)
	before := doc.Count()
	pruned, changed := e.store.Prune(ctx, doc, e.now())
	if !changed {
		return 0
	}
	e.store.Save(ctx, pruned)

	removed := before - pruned.Count()
	e.metrics.Pruned(removed)
	return removed
}

// Export writes the whole history to path, or to a timestamped file when
// path is empty, and returns the written path.
func (e *Engine) Export(ctx context.Context, path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.Export(ctx, path)
}

// recordsLocked loads the records of one pair. Callers hold e.mu.
func (e *Engine) recordsLocked(ctx context.Context, group, service string) []domain.NodeRecord {
	return e.store.Load(ctx).Records(group, service)
}

func indexOf(recs []domain.NodeRecord, relay string) int {
	for i := range recs {
		if recs[i].RelayName == relay {
			return i
		}
	}
	return -1
}
