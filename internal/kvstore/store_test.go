package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cloudlink/migrations"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "kv.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db)
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(_ *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t) },
	}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			if _, ok, err := s.Get(ctx, "datahub_count"); err != nil || ok {
				t.Fatalf("Get() on empty store = ok %v, err %v; want absent", ok, err)
			}

			if err := s.Put(ctx, "datahub_count", "3"); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := s.Put(ctx, "datahub_count", "4"); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}

			v, ok, err := s.Get(ctx, "datahub_count")
			if err != nil || !ok {
				t.Fatalf("Get() = ok %v, err %v", ok, err)
			}
			if v != "4" {
				t.Errorf("Get() = %q, want %q", v, "4")
			}
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	open := func() *database.DB {
		db, err := database.Open(ctx, database.Config{Path: path, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("database.Open() error = %v", err)
		}
		if _, err := db.Migrate(ctx, migrations.FS); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		return db
	}

	db := open()
	if err := NewSQLiteStore(db).Put(ctx, "protect_ts", "2024-01-01T12:00:00Z"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	db.Close() //nolint:errcheck // Reopened below

	db = open()
	defer db.Close() //nolint:errcheck // Test cleanup

	v, ok, err := NewSQLiteStore(db).Get(ctx, "protect_ts")
	if err != nil || !ok || v != "2024-01-01T12:00:00Z" {
		t.Errorf("Get() after reopen = %q, %v, %v", v, ok, err)
	}
}
