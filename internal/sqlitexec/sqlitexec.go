// SPDX-License-Identifier: Apache-2.0

// Package sqlitexec implements lixbackend.Backend against SQLite using
// github.com/ncruces/go-sqlite3's database/sql driver, the second concrete
// Backend (alongside internal/pgexec) exercising the SQLite branch of every
// dialect-aware rewrite path.
package sqlitexec

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/lixql/lixql/pkg/lixbackend"
)

// Backend wraps a *sql.DB opened against a SQLite database file (or
// `:memory:`) via ncruces/go-sqlite3's pure-Go driver.
type Backend struct {
	db *sql.DB
}

// Open opens path (a filesystem path or ":memory:") as a SQLite database.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign_keys pragma: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Dialect() lixbackend.Dialect { return lixbackend.SQLite }

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) Execute(ctx context.Context, query string, params []lixbackend.Value) (lixbackend.QueryResult, error) {
	rows, err := b.db.QueryContext(ctx, query, nativeArgs(params)...)
	if err != nil {
		return lixbackend.QueryResult{}, err
	}
	return scanRows(rows)
}

func (b *Backend) BeginTransaction(ctx context.Context) (lixbackend.Transaction, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning sqlite transaction: %w", err)
	}
	return &sqliteTransaction{tx: tx}, nil
}

type sqliteTransaction struct {
	tx *sql.Tx
}

func (t *sqliteTransaction) Dialect() lixbackend.Dialect { return lixbackend.SQLite }

func (t *sqliteTransaction) Execute(ctx context.Context, query string, params []lixbackend.Value) (lixbackend.QueryResult, error) {
	rows, err := t.tx.QueryContext(ctx, query, nativeArgs(params)...)
	if err != nil {
		return lixbackend.QueryResult{}, err
	}
	return scanRows(rows)
}

func (t *sqliteTransaction) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqliteTransaction) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func nativeArgs(params []lixbackend.Value) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p.Native()
	}
	return args
}

func scanRows(rows *sql.Rows) (lixbackend.QueryResult, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return lixbackend.QueryResult{}, err
	}

	result := lixbackend.QueryResult{Columns: cols}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return lixbackend.QueryResult{}, err
		}

		row := make([]lixbackend.Value, len(cols))
		for i, v := range raw {
			row[i] = nativeToValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

func nativeToValue(v any) lixbackend.Value {
	switch t := v.(type) {
	case nil:
		return lixbackend.Null()
	case bool:
		return lixbackend.Boolean(t)
	case int64:
		return lixbackend.Integer(t)
	case float64:
		return lixbackend.Real(t)
	case string:
		return lixbackend.Text(t)
	case []byte:
		return lixbackend.Blob(t)
	default:
		return lixbackend.Text(fmt.Sprintf("%v", t))
	}
}
