// Package badgerstore implements saveable.Store on a Badger database so
// saved composition state survives process restarts.
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"gopkg.in/yaml.v3"

	"github.com/go-drift/recompose/pkg/saveable"
)

// Config configures the database.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps the database in memory. Used by tests.
	InMemory bool

	// SyncWrites makes every save durable before it returns.
	SyncWrites bool

	// Logger receives Badger's log output. Nil silences it.
	Logger *slog.Logger
}

// DefaultConfig returns a persistent configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for an in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store keeps each namespace's values under keys "ns/<namespace>/<key>",
// one YAML-encoded list per key.
type Store struct {
	db *badger.DB
}

var _ saveable.Store = (*Store)(nil)

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
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
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func prefix(namespace string) []byte {
	return []byte("ns/" + namespace + "/")
}

// Load returns the values saved under namespace, or nil if there are none.
func (s *Store) Load(ctx context.Context, namespace string) (map[string][]any, error) {
	var out map[string][]any
	p := prefix(namespace)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(bytes.TrimPrefix(item.Key(), p))
			var values []any
			err := item.Value(func(val []byte) error {
				return yaml.Unmarshal(val, &values)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			if out == nil {
				out = make(map[string][]any)
			}
			out[key] = values
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", namespace, err)
	}
	return out, nil
}

// Save replaces the values saved under namespace in one transaction.
func (s *Store) Save(ctx context.Context, namespace string, values map[string][]any) error {
	p := prefix(namespace)
	err := s.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		for key, vs := range values {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(vs) == 0 {
				continue
			}
			data, err := yaml.Marshal(vs)
			if err != nil {
				return fmt.Errorf("encode %s: %w", key, err)
			}
			if err := txn.Set(append(bytes.Clone(p), key...), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", namespace, err)
	}
	return nil
}
