// SPDX-License-Identifier: Apache-2.0

// Package testutils provides fakes shared across the rewrite core's package
// tests: a no-op, execution-recording Backend (mirroring the teacher's
// pkg/db.FakeDB) and a deterministic FunctionProvider so commit/timeline
// tests don't depend on wall-clock time or real randomness.
package testutils

import (
	"context"
	"fmt"

	"github.com/lixql/lixql/pkg/lixbackend"
)

// FakeBackend is a fake implementation of lixbackend.Backend. Execute
// records every call instead of touching a real database; Result, if set,
// is returned to every caller.
type FakeBackend struct {
	DialectValue lixbackend.Dialect
	Result       lixbackend.QueryResult
	Err          error
	Calls        []ExecutedCall
}

// ExecutedCall is one recorded Execute invocation.
type ExecutedCall struct {
	SQL    string
	Params []lixbackend.Value
}

func NewFakeBackend(dialect lixbackend.Dialect) *FakeBackend {
	return &FakeBackend{DialectValue: dialect}
}

func (b *FakeBackend) Dialect() lixbackend.Dialect { return b.DialectValue }

func (b *FakeBackend) Execute(ctx context.Context, sql string, params []lixbackend.Value) (lixbackend.QueryResult, error) {
	b.Calls = append(b.Calls, ExecutedCall{SQL: sql, Params: params})
	return b.Result, b.Err
}

func (b *FakeBackend) BeginTransaction(ctx context.Context) (lixbackend.Transaction, error) {
	return &fakeTransaction{backend: b}, nil
}

type fakeTransaction struct {
	backend    *FakeBackend
	committed  bool
	rolledBack bool
}

func (t *fakeTransaction) Dialect() lixbackend.Dialect { return t.backend.Dialect() }

func (t *fakeTransaction) Execute(ctx context.Context, sql string, params []lixbackend.Value) (lixbackend.QueryResult, error) {
	return t.backend.Execute(ctx, sql, params)
}

func (t *fakeTransaction) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTransaction) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

// FakeFunctionProvider hands out deterministic ids and timestamps, counting
// up from a fixed seed so test assertions can predict exact values.
type FakeFunctionProvider struct {
	nextID    int
	Clock     string // returned by Timestamp() unconditionally unless Ticking is true
	Ticking   bool
	tick      int
}

func NewFakeFunctionProvider() *FakeFunctionProvider {
	return &FakeFunctionProvider{Clock: "2026-01-01T00:00:00Z"}
}

func (p *FakeFunctionProvider) UUIDv7() string {
	p.nextID++
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", p.nextID)
}

func (p *FakeFunctionProvider) Timestamp() string {
	if !p.Ticking {
		return p.Clock
	}
	p.tick++
	return fmt.Sprintf("2026-01-01T00:00:%02dZ", p.tick)
}
