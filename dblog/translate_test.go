package dblog

import "testing"

// TestSchemaStatementDeterministic asserts that translating the same
// Schema action twice produces byte-identical SQL, with id first and the
// rest alphabetical regardless of map iteration order.
func TestSchemaStatementDeterministic(t *testing.T) {
	columns := map[string]string{
		"zeta":  "TEXT",
		"id":    "TEXT PRIMARY KEY",
		"alpha": "INTEGER",
	}
	want := `CREATE TABLE IF NOT EXISTS "widgets" ("id" TEXT PRIMARY KEY, "alpha" INTEGER, "zeta" TEXT)`

	for i := 0; i < 5; i++ {
		got, err := schemaStatement("widgets", columns)
		if err != nil {
			t.Fatal(err)
		}
		if got.SQL != want {
			t.Fatalf("iteration %d: got %q want %q", i, got.SQL, want)
		}
	}
}

func TestSetStatementSortsColumnsAndEncodesValues(t *testing.T) {
	data := map[string]any{
		"name":   "Ada",
		"active": true,
		"tags":   []any{"x", "y"},
		"score":  float64(9),
	}
	s, err := setStatement("widgets", "w1", data)
	if err != nil {
		t.Fatal(err)
	}
	want := `INSERT OR REPLACE INTO "widgets" ("id", "active", "name", "score", "tags") VALUES (?, ?, ?, ?, ?)`
	if s.SQL != want {
		t.Fatalf("got %q want %q", s.SQL, want)
	}
	if len(s.Args) != 5 || s.Args[0] != "w1" {
		t.Fatalf("unexpected args: %#v", s.Args)
	}
	if s.Args[1] != int64(1) {
		t.Fatalf("expected bool true to encode as int64(1), got %#v", s.Args[1])
	}
	if s.Args[4] != `["x","y"]` {
		t.Fatalf("expected array to encode as JSON string, got %#v", s.Args[4])
	}
}

func TestDeleteStatement(t *testing.T) {
	s, err := deleteStatement("widgets", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if s.SQL != `DELETE FROM "widgets" WHERE id = ?` || len(s.Args) != 1 || s.Args[0] != "w1" {
		t.Fatalf("unexpected statement: %+v", s)
	}
}

func TestMigrationSkippedWhenVersionCurrent(t *testing.T) {
	m := &Migration{Version: 2, Operations: []MigrationOp{{Op: OpAddColumn, Column: "c", Type: "TEXT"}}}
	stmts, err := migrationStatements("widgets", m, 2)
	if err != nil {
		t.Fatal(err)
	}
	if stmts != nil {
		t.Fatalf("expected migration at current version to be skipped, got %v", stmts)
	}
}

func TestMigrationOperationsRenderInOrder(t *testing.T) {
	m := &Migration{Version: 3, Operations: []MigrationOp{
		{Op: OpAddColumn, Column: "c", Type: "TEXT"},
		{Op: OpRenameColumn, From: "c", To: "d"},
		{Op: OpDropColumn, Column: "e"},
		{Op: OpRenameTable, To: "widgets2"},
	}}
	stmts, err := migrationStatements("widgets", m, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		`ALTER TABLE "widgets" ADD COLUMN "c" TEXT`,
		`ALTER TABLE "widgets" RENAME COLUMN "c" TO "d"`,
		`ALTER TABLE "widgets" DROP COLUMN "e"`,
		`ALTER TABLE "widgets" RENAME TO "widgets2"`,
	}
	if len(stmts) != len(want) {
		t.Fatalf("got %d statements, want %d", len(stmts), len(want))
	}
	for i := range want {
		if stmts[i].SQL != want[i] {
			t.Fatalf("statement %d: got %q want %q", i, stmts[i].SQL, want[i])
		}
	}
}
