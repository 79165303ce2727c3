package dblog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/hashledger/hashledger/apperr"
)

// Engine owns the SQLite connection and replay cursor for one local
// database (one per log instance: a personal log's table, or a group's).
type Engine struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at dsn, applies the PRAGMAs the
// teacher's store uses, and ensures the reserved bookkeeping tables exist.
func Open(dsn string) (*Engine, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeStorageIO, "failed to open sqlite database", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(500, apperr.CodeStorageIO, "failed to ping sqlite database", err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, apperr.Wrap(500, apperr.CodeStorageIO, fmt.Sprintf("failed to set %s", p), err)
		}
	}
	bookkeeping := `
CREATE TABLE IF NOT EXISTS "_dblog_meta" (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS "_dblog_schema_versions" (
  table_name TEXT PRIMARY KEY,
  version    INTEGER NOT NULL DEFAULT 0
);
`
	if _, err := db.Exec(bookkeeping); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(500, apperr.CodeStorageIO, "failed to create bookkeeping tables", err)
	}
	return &Engine{db: db}, nil
}

// Close closes the underlying database handle.
func (e *Engine) Close() error { return e.db.Close() }

// QueryContext is a thin passthrough to the underlying database, for
// read-only inspection tools (table dumps, ad-hoc debugging) that need
// access beyond the replay/meta API. It does not participate in the replay
// transaction discipline ApplyEntry provides.
func (e *Engine) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeSQLExecution, "query failed", err)
	}
	return rows, nil
}

// SetMeta upserts an arbitrary key/value pair into the same bookkeeping
// table the replay cursor lives in, so callers (the sync controller, for the
// chain head) get durable storage without a second table.
func (e *Engine) SetMeta(ctx context.Context, key, value string) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO "_dblog_meta"(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return apperr.Wrap(500, apperr.CodeStorageIO, "failed to write metadata", err)
	}
	return nil
}

// GetMeta reads a key set by SetMeta, reporting false if it is unset.
func (e *Engine) GetMeta(ctx context.Context, key string) (string, bool, error) {
	row := e.db.QueryRowContext(ctx, `SELECT value FROM "_dblog_meta" WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, apperr.Wrap(500, apperr.CodeStorageIO, "failed to read metadata", err)
	}
	return v, true, nil
}

// Cursor returns the durable replay cursor: the highest chain index fully
// applied, and the maximum dblogindex within that entry (-1 if it carried no
// actions, or if nothing has been applied yet).
func (e *Engine) Cursor() (lastChainIndex int64, lastDBLogIndex int64, err error) {
	lastChainIndex = -1
	lastDBLogIndex = -1
	row := e.db.QueryRow(`SELECT value FROM "_dblog_meta" WHERE key = 'last_chain_index'`)
	var v string
	if err := row.Scan(&v); err == nil {
		fmt.Sscanf(v, "%d", &lastChainIndex)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, apperr.Wrap(500, apperr.CodeStorageIO, "failed to read replay cursor", err)
	}
	row = e.db.QueryRow(`SELECT value FROM "_dblog_meta" WHERE key = 'last_dblog_index'`)
	if err := row.Scan(&v); err == nil {
		fmt.Sscanf(v, "%d", &lastDBLogIndex)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, apperr.Wrap(500, apperr.CodeStorageIO, "failed to read replay cursor", err)
	}
	return lastChainIndex, lastDBLogIndex, nil
}

func (e *Engine) schemaVersion(tx *sql.Tx, table string) (int, error) {
	row := tx.QueryRow(`SELECT version FROM "_dblog_schema_versions" WHERE table_name = ?`, table)
	var v int
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, apperr.Wrap(500, apperr.CodeStorageIO, "failed to read schema version", err)
	}
	return v, nil
}

// ApplyEntry replays all actions carried by one chain entry inside a single
// transaction that also advances the replay cursor; either everything
// commits or nothing does. Actions must already be in ascending dblogindex
// order (the sync controller guarantees this from decode order); ApplyEntry
// rejects entries that violate it rather than silently reordering them.
// Returns the set of table names touched by this entry.
func (e *Engine) ApplyEntry(ctx context.Context, chainIndex int64, actions []Action) (affectedTables []string, err error) {
	for i := 1; i < len(actions); i++ {
		if actions[i].DBLogIndex <= actions[i-1].DBLogIndex {
			return nil, apperr.New(400, apperr.CodeInvalidJSON, "actions within an entry must be strictly ascending by dblogindex")
		}
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeStorageIO, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	touched := map[string]bool{}
	maxDBLogIndex := int64(-1)

	for _, a := range actions {
		stmts, newVersion, table, err := e.translateAction(tx, a)
		if err != nil {
			return nil, err
		}
		for _, s := range stmts {
			if _, err := tx.ExecContext(ctx, s.SQL, s.Args...); err != nil {
				return nil, apperr.Wrap(500, apperr.CodeSQLExecution, fmt.Sprintf("action %d on table %q failed", a.DBLogIndex, a.Table), err)
			}
		}
		if newVersion >= 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO "_dblog_schema_versions"(table_name, version) VALUES(?, ?)
				 ON CONFLICT(table_name) DO UPDATE SET version=excluded.version`,
				table, newVersion); err != nil {
				return nil, apperr.Wrap(500, apperr.CodeSQLExecution, "failed to record schema version", err)
			}
		}
		touched[a.Table] = true
		if int64(a.DBLogIndex) > maxDBLogIndex {
			maxDBLogIndex = int64(a.DBLogIndex)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO "_dblog_meta"(key, value) VALUES('last_chain_index', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, fmt.Sprintf("%d", chainIndex)); err != nil {
		return nil, apperr.Wrap(500, apperr.CodeStorageIO, "failed to advance chain cursor", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO "_dblog_meta"(key, value) VALUES('last_dblog_index', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, fmt.Sprintf("%d", maxDBLogIndex)); err != nil {
		return nil, apperr.Wrap(500, apperr.CodeStorageIO, "failed to advance dblog cursor", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(500, apperr.CodeSQLExecution, "failed to commit entry replay", err)
	}

	out := make([]string, 0, len(touched))
	for t := range touched {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// translateAction dispatches a by Type, resolving the table's current schema
// version from tx when needed. newVersion is -1 unless a (successfully
// applied) migration advanced it.
func (e *Engine) translateAction(tx *sql.Tx, a Action) (stmts []Statement, newVersion int, table string, err error) {
	switch a.Type {
	case ActionSchema:
		s, err := schemaStatement(a.Table, a.Columns)
		if err != nil {
			return nil, -1, a.Table, err
		}
		return []Statement{s}, -1, a.Table, nil
	case ActionSet:
		s, err := setStatement(a.Table, a.ID, a.Data)
		if err != nil {
			return nil, -1, a.Table, err
		}
		return []Statement{s}, -1, a.Table, nil
	case ActionDelete:
		s, err := deleteStatement(a.Table, a.ID)
		if err != nil {
			return nil, -1, a.Table, err
		}
		return []Statement{s}, -1, a.Table, nil
	case ActionMigrate:
		if a.Migration == nil {
			return nil, -1, a.Table, apperr.New(400, apperr.CodeMissingField, "migrate action missing migration field")
		}
		current, err := e.schemaVersion(tx, a.Table)
		if err != nil {
			return nil, -1, a.Table, err
		}
		if current >= a.Migration.Version {
			return nil, -1, a.Table, nil
		}
		stmts, err := migrationStatements(a.Table, a.Migration, current)
		if err != nil {
			return nil, -1, a.Table, err
		}
		return stmts, a.Migration.Version, a.Table, nil
	default:
		return nil, -1, a.Table, apperr.New(400, apperr.CodeUnknownAction, fmt.Sprintf("unknown action %q at dblogindex %d", a.Type, a.DBLogIndex))
	}
}
