// SPDX-License-Identifier: Apache-2.0

// Package lixbackend defines the narrow interfaces the rewrite core consumes
// from its SQL backend and from the engine's ID/timestamp provider. The core
// never imports a concrete driver; internal/pgexec and internal/sqlitexec
// each implement Backend for a real database.
package lixbackend

import "context"

// Dialect discriminates the two supported execution backends. The rewrite
// core branches on this value wherever SQL syntax diverges (placeholder
// form, JSON extraction operators, upsert syntax).
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// Kind is the tag of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindReal
	KindText
	KindBlob
)

// Value is the sum type the core uses to move literals and bound parameters
// across the rewrite/execute boundary without committing to a driver's
// native type system.
type Value struct {
	kind    Kind
	boolean bool
	integer int64
	real    float64
	text    string
	blob    []byte
}

func Null() Value                { return Value{kind: KindNull} }
func Boolean(b bool) Value       { return Value{kind: KindBoolean, boolean: b} }
func Integer(i int64) Value      { return Value{kind: KindInteger, integer: i} }
func Real(f float64) Value       { return Value{kind: KindReal, real: f} }
func Text(s string) Value        { return Value{kind: KindText, text: s} }
func Blob(b []byte) Value        { return Value{kind: KindBlob, blob: b} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBoolean() (bool, bool) {
	if v.kind != KindBoolean {
		return false, false
	}
	return v.boolean, true
}

func (v Value) AsInteger() (int64, bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.integer, true
}

func (v Value) AsReal() (float64, bool) {
	if v.kind != KindReal {
		return 0, false
	}
	return v.real, true
}

func (v Value) AsText() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.text, true
}

func (v Value) AsBlob() ([]byte, bool) {
	if v.kind != KindBlob {
		return nil, false
	}
	return v.blob, true
}

// Native returns the Go value wrapped, for handing to a driver's Exec/Query.
func (v Value) Native() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBoolean:
		return v.boolean
	case KindInteger:
		return v.integer
	case KindReal:
		return v.real
	case KindText:
		return v.text
	case KindBlob:
		return v.blob
	default:
		return nil
	}
}

// QueryResult is the backend's response to execute.
type QueryResult struct {
	Columns []string
	Rows    [][]Value
}

// Backend is the SQL execution collaborator. It is intentionally thin: the
// rewrite core never inspects query plans or relies on backend-specific
// behavior beyond Dialect().
type Backend interface {
	Execute(ctx context.Context, sql string, params []Value) (QueryResult, error)
	Dialect() Dialect
}

// Transaction is the optional transactional extension a caller above the
// core may use; the core itself never begins a transaction.
type Transaction interface {
	Backend
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionalBackend is implemented by backends that can hand out
// transactions.
type TransactionalBackend interface {
	Backend
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// FunctionProvider supplies values the rewrite core cannot derive purely
// from its inputs: identifiers and timestamps.
type FunctionProvider interface {
	// UUIDv7 returns a monotonic-ish unique identifier for change and
	// snapshot rows.
	UUIDv7() string
	// Timestamp returns a canonical ISO-8601-like string, called once per
	// batch so every row in a commit shares one value.
	Timestamp() string
}
