package history

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/logger"
)

const (
	// RetentionWindow is how long an unchecked record survives pruning.
	RetentionWindow = 30 * 24 * time.Hour
	// PruneSizeThreshold is the persisted size at which pruning kicks in.
	PruneSizeThreshold int64 = 5 << 20

	exportLayout = "20060102_150405"
)

// Backend persists the encoded history document.
type Backend interface {
	// Load returns the stored document, or nil and no error when nothing
	// has been written yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	// Size returns the persisted size in bytes, 0 when absent.
	Size(ctx context.Context) (int64, error)
	Close() error
	Name() string
}

// Store reads and writes history documents through a Backend. Durability
// failures are logged and never returned.
type Store struct {
	backend Backend
	log     logger.Logger
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock used for export file names.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore wraps a backend.
func NewStore(backend Backend, log logger.Logger, opts ...StoreOption) *Store {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		backend: backend,
		log:     log.With(logger.String("backend", backend.Name())),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Load returns the persisted document, or an empty one when it cannot be
// read.
func (s *Store) Load(ctx context.Context) Document {
	data, err := s.backend.Load(ctx)
	if err != nil {
		s.log.Warn("failed to read history, starting empty", logger.Error(err))
		return Document{}
	}

	doc, skipped := Decode(data)
	if skipped > 0 {
		s.log.Warn("skipped malformed history records", logger.Int("count", skipped))
	}
	return doc
}

// Save persists the document. A failed write is logged and dropped.
func (s *Store) Save(ctx context.Context, doc Document) {
	data, err := Encode(doc)
	if err != nil {
		s.log.Error("failed to encode history", logger.Error(err))
		return
	}
	if err := s.backend.Save(ctx, data); err != nil {
		s.log.Error("failed to write history", logger.Error(err))
	}
}

// Prune drops records not checked within RetentionWindow of now, but only
// once the persisted history has reached PruneSizeThreshold. It reports
// whether anything changed; the caller persists the result.
func (s *Store) Prune(ctx context.Context, doc Document, now time.Time) (Document, bool) {
	size, err := s.backend.Size(ctx)
	if err != nil {
		s.log.Warn("failed to read history size", logger.Error(err))
		return doc, false
	}
	if size < PruneSizeThreshold {
		return doc, false
	}

	pruned, removed := pruneBefore(doc, now.Add(-RetentionWindow))
	if removed == 0 {
		return doc, false
	}

	s.log.Info("pruned stale history records",
		logger.Int("removed", removed),
		logger.Int("remaining", pruned.Count()),
		logger.Int("size_bytes", int(size)))
	return pruned, true
}

func pruneBefore(doc Document, cutoff time.Time) (Document, int) {
	out := make(Document, len(doc))
	removed := 0
	for key, recs := range doc {
		kept := recs[:0:0]
		for _, rec := range recs {
			if rec.LastCheckTime.After(cutoff) {
				kept = append(kept, rec)
			} else {
				removed++
			}
		}
		if len(kept) > 0 {
			out[key] = kept
		}
	}
	return out, removed
}

// Export writes the whole document to path, or to a timestamped file in
// the working directory when path is empty. It returns the path written.
func (s *Store) Export(ctx context.Context, path string) (string, error) {
	if path == "" {
		path = ExportFileName(s.now())
	}

	data, err := Encode(s.Load(ctx))
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to export history to %s: %w", path, err)
	}

	s.log.Info("exported history", logger.String("path", path))
	return path, nil
}

// ExportFileName returns the default export file name for t.
func ExportFileName(t time.Time) string {
	return "relayswitch_export_" + t.Format(exportLayout) + ".json"
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
