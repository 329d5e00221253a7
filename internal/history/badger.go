package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/MrSnakeDoc/relayswitch/internal/logger"
)

const badgerKey = "relayswitch/history"

// BadgerConfig holds configuration for the embedded backend.
type BadgerConfig struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// GCInterval controls value log garbage collection. 0 disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production settings for dir.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:            dir,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns settings for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerBackend stores the document under one key of an embedded BadgerDB.
type BadgerBackend struct {
	db     *badger.DB
	log    logger.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// OpenBadger opens (or creates) the database and starts value log GC when
// configured.
func OpenBadger(cfg BadgerConfig, log logger.Logger) (*BadgerBackend, error) {
	if log == nil {
		log = logger.Nop()
	}
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger directory is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	b := &BadgerBackend{
		db:     db,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go b.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	} else {
		close(b.doneCh)
	}
	return b, nil
}

func (b *BadgerBackend) Name() string { return "badger" }

func (b *BadgerBackend) Load(_ context.Context) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKey))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return data, nil
}

func (b *BadgerBackend) Save(_ context.Context, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

func (b *BadgerBackend) Size(_ context.Context) (int64, error) {
	var size int64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKey))
		if err != nil {
			return err
		}
		size = int64(item.ValueSize())
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	return size, err
}

// Close stops GC and closes the database.
func (b *BadgerBackend) Close() error {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	<-b.doneCh
	return b.db.Close()
}

func (b *BadgerBackend) runGC(interval time.Duration, ratio float64) {
	defer close(b.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Warn("badger value log gc failed", logger.Error(err))
			}
		}
	}
}

// badgerLogger routes badger's own logging to ours.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.log.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.log.Debugf(format, args...) }
