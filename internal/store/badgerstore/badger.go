// Package badgerstore persists repository nodes in a local BadgerDB.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/52poke/kura/internal/connection"
	"github.com/52poke/kura/internal/store"
)

const keyPrefix = "node:"

type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
	// Tracker records the outcome of every database call. Defaults to a
	// tracker named "badger".
	Tracker *connection.Tracker
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

type Backend struct {
	db      *badger.DB
	tracker *connection.Tracker
}

func Open(cfg Config) (*Backend, error) {
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = connection.NewTracker("badger")
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	tracker.Record(err)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Backend{db: db, tracker: tracker}, nil
}

func (b *Backend) Tracker() *connection.Tracker {
	return b.tracker
}

// record treats a missing node as a successful call.
func (b *Backend) record(err error) {
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	b.tracker.Record(err)
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func nodeKey(p string) []byte {
	return []byte(keyPrefix + store.Clean(p))
}

func childPrefix(p string) []byte {
	p = store.Clean(p)
	if p == "/" {
		return []byte(keyPrefix + "/")
	}
	return []byte(keyPrefix + p + "/")
}

func (b *Backend) Load(_ context.Context, p string) (store.Properties, error) {
	var props store.Properties
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(p))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", store.ErrNotFound, p)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &props)
		})
	})
	b.record(err)
	return props, err
}

func (b *Backend) List(_ context.Context, p string) ([]string, error) {
	prefix := childPrefix(p)
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			if rest != "" && !strings.Contains(rest, "/") {
				names = append(names, rest)
			}
		}
		return nil
	})
	b.record(err)
	slices.Sort(names)
	return names, err
}

func (b *Backend) Save(_ context.Context, p string, props store.Properties) error {
	val, err := json.Marshal(props)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(nodeKey(p), val)
	})
	b.record(err)
	return err
}

func (b *Backend) Remove(_ context.Context, p string) error {
	if store.Clean(p) == "/" {
		return errors.New("badgerstore: refusing to remove the root")
	}
	keys := [][]byte{nodeKey(p)}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = childPrefix(p)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		b.record(err)
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			b.record(err)
			return err
		}
	}
	err = wb.Flush()
	b.record(err)
	return err
}
