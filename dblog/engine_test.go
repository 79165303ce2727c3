package dblog

import (
	"context"
	"testing"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// TestIdempotentReplay asserts that applying the same action list twice
// yields one row with v="2" and a cursor of last_dblog_index=2.
func TestIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	actions := []Action{
		{V: 1, DBLogIndex: 0, Table: "t", Type: ActionSchema, Columns: map[string]string{"id": "TEXT PRIMARY KEY", "v": "TEXT"}},
		{V: 1, DBLogIndex: 1, Table: "t", Type: ActionSet, ID: "x", Data: map[string]any{"v": "1"}},
		{V: 1, DBLogIndex: 2, Table: "t", Type: ActionSet, ID: "x", Data: map[string]any{"v": "2"}},
	}

	for i := 0; i < 2; i++ {
		if _, err := e.ApplyEntry(ctx, 0, actions); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	var count int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM "t"`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
	var v string
	if err := e.db.QueryRow(`SELECT v FROM "t" WHERE id = 'x'`).Scan(&v); err != nil {
		t.Fatal(err)
	}
	if v != "2" {
		t.Fatalf("expected v=2, got %s", v)
	}

	lastChain, lastDBLog, err := e.Cursor()
	if err != nil {
		t.Fatal(err)
	}
	if lastChain != 0 || lastDBLog != 2 {
		t.Fatalf("expected cursor (0,2), got (%d,%d)", lastChain, lastDBLog)
	}
}

// TestMigrationGate asserts that reapplying the same migrate a second time
// emits no ALTER, and schemaVersion stays 1 after both runs.
func TestMigrationGate(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	base := []Action{
		{V: 1, DBLogIndex: 0, Table: "t", Type: ActionSchema, Columns: map[string]string{"id": "TEXT PRIMARY KEY", "v": "TEXT"}},
	}
	if _, err := e.ApplyEntry(ctx, 0, base); err != nil {
		t.Fatal(err)
	}

	migrate := []Action{
		{V: 1, DBLogIndex: 0, Table: "t", Type: ActionMigrate, Migration: &Migration{
			Version:    1,
			Operations: []MigrationOp{{Op: OpAddColumn, Column: "w", Type: "INTEGER"}},
		}},
	}
	if _, err := e.ApplyEntry(ctx, 1, migrate); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if _, err := e.ApplyEntry(ctx, 2, migrate); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var version int
	if err := e.db.QueryRow(`SELECT version FROM "_dblog_schema_versions" WHERE table_name = 't'`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Fatalf("expected schemaVersion 1, got %d", version)
	}
}

// TestUnknownActionHaltsWithoutAdvancingCursor covers the unknown-action
// failure mode: the whole entry's transaction rolls back and the cursor does
// not advance.
func TestUnknownActionHaltsWithoutAdvancingCursor(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	setup := []Action{
		{V: 1, DBLogIndex: 0, Table: "t", Type: ActionSchema, Columns: map[string]string{"id": "TEXT PRIMARY KEY", "v": "TEXT"}},
	}
	if _, err := e.ApplyEntry(ctx, 0, setup); err != nil {
		t.Fatal(err)
	}

	bad := []Action{
		{V: 1, DBLogIndex: 0, Table: "t", Type: ActionSet, ID: "x", Data: map[string]any{"v": "1"}},
		{V: 1, DBLogIndex: 1, Table: "t", Type: "bogus"},
	}
	if _, err := e.ApplyEntry(ctx, 1, bad); err == nil {
		t.Fatal("expected unknown action error")
	}

	lastChain, _, err := e.Cursor()
	if err != nil {
		t.Fatal(err)
	}
	if lastChain != 0 {
		t.Fatalf("cursor must not advance past the failed entry, got %d", lastChain)
	}
	var count int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM "t"`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected the whole failed entry to roll back, got %d rows", count)
	}
}
