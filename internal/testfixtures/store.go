package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/classboard/internal/persistence"
	"github.com/example/classboard/internal/persistence/memory"
	"github.com/example/classboard/internal/persistence/sqlstore"
)

// StoreKind names a persistence.Store implementation.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreSQLite StoreKind = "sqlite"
)

// StoreKinds lists every implementation contract tests should cover.
func StoreKinds() []StoreKind {
	return []StoreKind{StoreMemory, StoreSQLite}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewStore returns an empty, migrated store of the given kind. It is closed
// when the test finishes.
func NewStore(tb testing.TB, kind StoreKind) persistence.Store {
	tb.Helper()

	switch kind {
	case StoreMemory:
		return memory.New()
	case StoreSQLite:
		path := filepath.Join(tb.TempDir(), "classboard.db")
		store, err := sqlstore.Open(context.Background(), sqlstore.Config{
			Driver: sqlstore.DriverSQLite,
			DSN:    "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		}, DiscardLogger())
		if err != nil {
			tb.Fatalf("failed to open sqlite store: %v", err)
		}
		tb.Cleanup(func() { _ = store.Close() })
		if err := store.Migrate(context.Background()); err != nil {
			tb.Fatalf("failed to migrate sqlite store: %v", err)
		}
		return store
	default:
		tb.Fatalf("unknown store kind %q", kind)
		return nil
	}
}

// NewSeededStore returns a store of the given kind holding DefaultSeed.
func NewSeededStore(tb testing.TB, kind StoreKind) (persistence.Store, Seed) {
	tb.Helper()

	store := NewStore(tb, kind)
	seed := DefaultSeed()
	if err := seed.Apply(context.Background(), store); err != nil {
		tb.Fatalf("failed to seed %s store: %v", kind, err)
	}
	return store, seed
}
