// SPDX-License-Identifier: Apache-2.0

// Package pgexec implements lixbackend.Backend against Postgres using
// lib/pq, retrying on lock_timeout errors with github.com/cloudflare/backoff
// the way the teacher's pkg/db.RDB retries ExecContext/QueryContext — the
// same driver, the same error code, the same backoff policy, rebound to the
// rewrite core's Backend interface instead of pgroll's migration runner.
package pgexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"

	"github.com/lixql/lixql/internal/connstr"
	"github.com/lixql/lixql/pkg/lixbackend"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	maxBackoffDuration                     = 1 * time.Minute
	backoffInterval                        = 1 * time.Second
)

// Backend wraps a *sql.DB opened against Postgres with lib/pq, retrying
// statement execution on lock_timeout the way the teacher's RDB does.
type Backend struct {
	db *sql.DB
}

// Open opens a Postgres connection pool at dsn, optionally pinning the
// session's search_path to schema (mirrors the teacher's
// internal/connstr.AppendSearchPathOption use in its own backend setup).
func Open(dsn, schema string) (*Backend, error) {
	if schema != "" {
		scoped, err := connstr.AppendSearchPathOption(dsn, schema)
		if err != nil {
			return nil, fmt.Errorf("scoping dsn to schema %q: %w", schema, err)
		}
		dsn = scoped
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Dialect() lixbackend.Dialect { return lixbackend.Postgres }

func (b *Backend) Close() error { return b.db.Close() }

// Execute runs sql against Postgres, retrying on lock_timeout errors with
// an exponential backoff, and converts the result into the core's
// dialect-neutral QueryResult.
func (b *Backend) Execute(ctx context.Context, query string, params []lixbackend.Value) (lixbackend.QueryResult, error) {
	args := nativeArgs(params)
	bo := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		rows, err := b.db.QueryContext(ctx, query, args...)
		if err == nil {
			return scanRows(rows)
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode {
			if waitErr := sleepCtx(ctx, bo.Duration()); waitErr != nil {
				return lixbackend.QueryResult{}, waitErr
			}
			continue
		}

		return lixbackend.QueryResult{}, err
	}
}

// BeginTransaction starts a retryable-at-the-caller's-discretion Postgres
// transaction (§5 "every rewrite and the statements it emits are ordered
// and executed under a single logical transaction").
func (b *Backend) BeginTransaction(ctx context.Context) (lixbackend.Transaction, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning postgres transaction: %w", err)
	}
	return &pgTransaction{tx: tx}, nil
}

type pgTransaction struct {
	tx *sql.Tx
}

func (t *pgTransaction) Dialect() lixbackend.Dialect { return lixbackend.Postgres }

func (t *pgTransaction) Execute(ctx context.Context, query string, params []lixbackend.Value) (lixbackend.QueryResult, error) {
	rows, err := t.tx.QueryContext(ctx, query, nativeArgs(params)...)
	if err != nil {
		return lixbackend.QueryResult{}, err
	}
	return scanRows(rows)
}

func (t *pgTransaction) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *pgTransaction) Rollback(ctx context.Context) error { return t.tx.Rollback() }

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

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
