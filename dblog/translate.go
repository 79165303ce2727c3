package dblog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/hexcodec"
)

// Statement is one parameterized SQL statement destined for the store.
type Statement struct {
	SQL  string
	Args []any
}

func quoteIdent(name string) (string, error) {
	if !hexcodec.ValidIdentifier(name) {
		return "", apperr.New(400, apperr.CodeMissingField, fmt.Sprintf("invalid identifier %q", name))
	}
	return hexcodec.QuoteIdentifier(name), nil
}

// schemaStatement builds CREATE TABLE IF NOT EXISTS with id first, then the
// remaining columns sorted alphabetically, so the same Schema action always
// produces byte-identical SQL.
func schemaStatement(table string, columns map[string]string) (Statement, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return Statement{}, err
	}

	idType := "TEXT PRIMARY KEY"
	others := make([]string, 0, len(columns))
	for name := range columns {
		if name == "id" {
			idType = columns[name]
			continue
		}
		others = append(others, name)
	}
	sort.Strings(others)

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(tbl)
	b.WriteString(" (")
	idIdent, err := quoteIdent("id")
	if err != nil {
		return Statement{}, err
	}
	b.WriteString(idIdent)
	b.WriteByte(' ')
	b.WriteString(idType)
	for _, name := range others {
		colIdent, err := quoteIdent(name)
		if err != nil {
			return Statement{}, err
		}
		b.WriteString(", ")
		b.WriteString(colIdent)
		b.WriteByte(' ')
		b.WriteString(columns[name])
	}
	b.WriteString(")")
	return Statement{SQL: b.String()}, nil
}

// setStatement builds INSERT OR REPLACE INTO "table" (id, ...sorted keys)
// VALUES (?, ...), making replay idempotent regardless of prior state.
func setStatement(table, id string, data map[string]any) (Statement, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return Statement{}, err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := []string{"id"}
	args := []any{id}
	for _, k := range keys {
		cols = append(cols, k)
		v, err := encodeValue(data[k])
		if err != nil {
			return Statement{}, err
		}
		args = append(args, v)
	}

	quotedCols := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		ident, err := quoteIdent(c)
		if err != nil {
			return Statement{}, err
		}
		quotedCols[i] = ident
		placeholders[i] = "?"
	}

	sql := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		tbl, strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
	return Statement{SQL: sql, Args: args}, nil
}

// deleteStatement builds DELETE FROM "table" WHERE id = ?.
func deleteStatement(table, id string) (Statement, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE id = ?", tbl), Args: []any{id}}, nil
}

// migrationStatements builds one statement per operation in m.Operations,
// skipping entirely (returning nil) if currentVersion >= m.Version.
func migrationStatements(table string, m *Migration, currentVersion int) ([]Statement, error) {
	if currentVersion >= m.Version {
		return nil, nil
	}
	tbl, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	var out []Statement
	for _, op := range m.Operations {
		switch op.Op {
		case OpAddColumn:
			col, err := quoteIdent(op.Column)
			if err != nil {
				return nil, err
			}
			out = append(out, Statement{SQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tbl, col, op.Type)})
		case OpDropColumn:
			col, err := quoteIdent(op.Column)
			if err != nil {
				return nil, err
			}
			out = append(out, Statement{SQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", tbl, col)})
		case OpRenameColumn:
			from, err := quoteIdent(op.From)
			if err != nil {
				return nil, err
			}
			to, err := quoteIdent(op.To)
			if err != nil {
				return nil, err
			}
			out = append(out, Statement{SQL: fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", tbl, from, to)})
		case OpRenameTable:
			to, err := quoteIdent(op.To)
			if err != nil {
				return nil, err
			}
			out = append(out, Statement{SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tbl, to)})
		default:
			return nil, apperr.New(400, apperr.CodeInvalidMigration, fmt.Sprintf("unknown migration operation %q", op.Op))
		}
	}
	return out, nil
}

// encodeValue converts a decoded JSON value into a database/sql-bindable
// argument: null passes through as nil, bool becomes 0/1, numbers and
// strings pass through, arrays/objects marshal to a JSON string.
func encodeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case float64, string, int, int64:
		return t, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, apperr.Wrap(400, apperr.CodeInvalidJSON, "failed to encode complex DBLog value", err)
		}
		return string(b), nil
	}
}

// sqlLiteral renders v as a SQL literal for diagnostic output only (never
// used to build an executed statement): strings are single-quoted with
// embedded quotes doubled.
func sqlLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", t)
	}
}
