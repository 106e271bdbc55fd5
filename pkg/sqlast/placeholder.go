// SPDX-License-Identifier: Apache-2.0

package sqlast

import (
	"fmt"
	"strings"

	"github.com/lixql/lixql/pkg/lixbackend"
)

// PlaceholderState tracks how many bare "?" placeholders of the original
// statement have been consumed, so that sequential rewriter passes agree on
// which input parameter a given "?" refers to. This is the hard contract
// named in §4.A: a rewrite path that removes a predicate containing a bare
// "?" without accounting for it would misalign every later binder.
type PlaceholderState struct {
	// nextBareOrdinal is the ordinal (0-based) that the next *newly
	// encountered* bare "?" in source order will be assigned.
	nextBareOrdinal int
}

// NewPlaceholderState starts a fresh placeholder walk.
func NewPlaceholderState() *PlaceholderState {
	return &PlaceholderState{}
}

// Advance accounts for a bare "?" placeholder being consumed (or
// intentionally dropped) without necessarily resolving its value. Every
// code path that removes a subtree containing ExprPlaceholder nodes with
// NumberedIndex == 0 must call Advance once per such node, in the order
// they appeared in the source, to keep later consumers in sync.
func (s *PlaceholderState) Advance() int {
	ord := s.nextBareOrdinal
	s.nextBareOrdinal++
	return ord
}

// AdvanceThroughDropped walks e and advances the state once for every bare
// placeholder found, in left-to-right order, without resolving any values.
// Call this when a rewriter drops a subtree wholesale (e.g. a predicate
// clause the rewrite no longer needs) that may still contain "?" markers.
func (s *PlaceholderState) AdvanceThroughDropped(e *Expr) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ExprPlaceholder:
		if e.NumberedIndex == 0 {
			s.Advance()
		}
	case ExprBinaryOp:
		s.AdvanceThroughDropped(e.Left)
		s.AdvanceThroughDropped(e.Right)
	case ExprNested:
		s.AdvanceThroughDropped(e.Inner)
	case ExprInList:
		s.AdvanceThroughDropped(e.Left)
		for _, item := range e.List {
			s.AdvanceThroughDropped(item)
		}
	case ExprFunction:
		for _, arg := range e.Args {
			s.AdvanceThroughDropped(arg)
		}
	}
}

// ResolvedCell is the result of resolve_expr_cell_with_state: either a
// concrete value (literal, or placeholder resolved against the parameter
// vector) or, if the expression is a placeholder whose value cannot yet be
// determined, the placeholder's position in the input parameter vector.
type ResolvedCell struct {
	Value             lixbackend.Value
	HasValue          bool
	PlaceholderIndex  int // 0-based index into params; valid when !HasValue
}

// ResolveExprCellWithState collapses a literal or a "?"/$n placeholder to a
// concrete value if possible, consuming placeholder state so that
// sequential bare "?" placeholders remain in one-to-one order with params.
func ResolveExprCellWithState(e *Expr, params []lixbackend.Value, state *PlaceholderState) (ResolvedCell, error) {
	switch e.Kind {
	case ExprLiteral:
		return ResolvedCell{Value: literalToValue(e.Value), HasValue: true}, nil
	case ExprNull:
		return ResolvedCell{Value: lixbackend.Null(), HasValue: true}, nil
	case ExprPlaceholder:
		idx := e.NumberedIndex - 1
		if e.NumberedIndex == 0 {
			idx = state.Advance()
		}
		if idx < 0 || idx >= len(params) {
			return ResolvedCell{PlaceholderIndex: idx}, fmt.Errorf("placeholder index %d out of range for %d params", idx, len(params))
		}
		return ResolvedCell{Value: params[idx], HasValue: true, PlaceholderIndex: idx}, nil
	default:
		return ResolvedCell{}, fmt.Errorf("cannot resolve non-literal, non-placeholder expression of kind %d to a cell", e.Kind)
	}
}

func literalToValue(l Literal) lixbackend.Value {
	switch {
	case l.Null:
		return lixbackend.Null()
	case l.Boolean != nil:
		return lixbackend.Boolean(*l.Boolean)
	case l.Integer != nil:
		return lixbackend.Integer(*l.Integer)
	case l.Real != nil:
		return lixbackend.Real(*l.Real)
	case l.Text != nil:
		return lixbackend.Text(*l.Text)
	default:
		return lixbackend.Null()
	}
}

// BindSQLWithState re-binds a serialized statement (written with bare "?"
// markers in source order) to the target dialect's placeholder syntax and
// returns the rewritten SQL plus the matching parameter slice, consuming
// placeholders via state so statements assembled by different rewrite
// stages interleave correctly.
func BindSQLWithState(sql string, params []lixbackend.Value, dialect lixbackend.Dialect, state *PlaceholderState) (string, []lixbackend.Value, error) {
	var out strings.Builder
	var bound []lixbackend.Value
	placeholderN := 0

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c != '?' {
			out.WriteByte(c)
			continue
		}
		idx := state.Advance()
		if idx >= len(params) {
			return "", nil, fmt.Errorf("bind: placeholder %d exceeds %d supplied params", idx, len(params))
		}
		bound = append(bound, params[idx])
		placeholderN++
		switch dialect {
		case lixbackend.Postgres:
			fmt.Fprintf(&out, "$%d", placeholderN)
		default:
			out.WriteByte('?')
		}
	}

	return out.String(), bound, nil
}
