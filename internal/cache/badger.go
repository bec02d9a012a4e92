package cache

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// BadgerCache stores entries in BadgerDB using native per-entry TTLs. An
// on-disk directory lets several daemons on one host share fetches.
type BadgerCache struct {
	db   *badger.DB
	ttls TTLs
}

// badgerLogger routes badger's printf logging into zap.
type badgerLogger struct {
	logger *logging.Logger
}

func (l badgerLogger) Errorf(msg string, args ...interface{}) {
	l.logger.Underlying().Sugar().Errorf(msg, args...)
}

func (l badgerLogger) Warningf(msg string, args ...interface{}) {
	l.logger.Underlying().Sugar().Warnf(msg, args...)
}

func (l badgerLogger) Infof(msg string, args ...interface{}) {
	l.logger.Underlying().Sugar().Debugf(msg, args...)
}

func (l badgerLogger) Debugf(msg string, args ...interface{}) {
	l.logger.Underlying().Sugar().Debugf(msg, args...)
}

// NewBadgerCache opens a cache at path, or in memory when path is empty.
func NewBadgerCache(path string, ttls TTLs, logger *logging.Logger) (*BadgerCache, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = badgerLogger{logger: logger.Named("badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger cache: %w", err)
	}
	return &BadgerCache{db: db, ttls: ttls}, nil
}

func (b *BadgerCache) Get(_ context.Context, key Key) ([]byte, bool) {
	var payload []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (b *BadgerCache) Set(_ context.Context, key Key, payload []byte, class TTLClass) error {
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key.String()), payload).WithTTL(b.ttls.For(class))
		return txn.SetEntry(e)
	})
}

func (b *BadgerCache) Invalidate(_ context.Context, key Key) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key.String()))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *BadgerCache) InvalidateTenant(_ context.Context, tenantID string) error {
	return b.db.DropPrefix([]byte(tenantID + "/"))
}

func (b *BadgerCache) InvalidateAll(_ context.Context) error {
	return b.db.DropAll()
}

func (b *BadgerCache) Close() error {
	return b.db.Close()
}
