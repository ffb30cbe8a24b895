package db_test

import (
	"context"
	"testing"
	"testing/fstest"

	dbfs "github.com/garnizeh/expertfeed/db"
	"github.com/garnizeh/expertfeed/internal/db"
)

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()

	d, err := db.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	defer d.Close()

	if err := db.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if err := db.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	var count int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("scan schema_migrations count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 migrations recorded, got %d", count)
	}

	for _, table := range []string{"users", "categories", "provider_profiles", "questions", "jobs", "dead_letter_jobs"} {
		var name string
		if err := d.QueryRow(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table exists: %v", table, err)
		}
	}

	var categories int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM categories`).Scan(&categories); err != nil {
		t.Fatalf("count categories: %v", err)
	}
	if categories != 10 {
		t.Fatalf("expected 10 seeded categories after two runs, got %d", categories)
	}
}

func TestMigrate_AppliesInOrderAndSkipsNonSQL(t *testing.T) {
	ctx := context.Background()
	d, err := db.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	migrations := fstest.MapFS{
		"migrations/0002_add.sql":  {Data: []byte(`ALTER TABLE things ADD COLUMN size INTEGER;`)},
		"migrations/0001_base.sql": {Data: []byte(`CREATE TABLE things (name TEXT);`)},
		"migrations/README.md":     {Data: []byte(`not a migration`)},
	}
	if err := db.Migrate(ctx, d, migrations, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := d.Exec(ctx, `INSERT INTO things (name, size) VALUES ('a', 1)`); err != nil {
		t.Fatalf("expected both migrations applied: %v", err)
	}
}

func TestMigrate_BadSQLFails(t *testing.T) {
	ctx := context.Background()
	d, err := db.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	migrations := fstest.MapFS{
		"migrations/0001_bad.sql": {Data: []byte(`CREATE TABLOID nope;`)},
	}
	if err := db.Migrate(ctx, d, migrations, nil); err == nil {
		t.Fatalf("expected error for invalid migration")
	}

	var count int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed migration must not be recorded, got %d", count)
	}
}

func TestMigrate_BadSeedFails(t *testing.T) {
	ctx := context.Background()
	d, err := db.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	seed := fstest.MapFS{"seed/categories.json": {Data: []byte(`{"not":"a list"}`)}}
	if err := db.Migrate(ctx, d, dbfs.Migrations, seed); err == nil {
		t.Fatalf("expected error for malformed seed")
	}
}
