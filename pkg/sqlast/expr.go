// SPDX-License-Identifier: Apache-2.0

// Package sqlast provides the SQL AST utilities of §4.A: a small
// tagged-variant Expr (per the design notes in spec §9 — "a tagged-variant
// Expr with BinaryOp/Nested/InList/Function/… is the backbone"), placeholder
// tracking across rewrite stages, and the conjunction/qualifier helpers the
// rewriters share. Parsing of incoming user SQL is done with pg_query_go,
// the teacher's own SQL parser dependency; this package's Expr is the
// internal representation the rewriters build and tear down, independent of
// the parser's node shapes, so that rewrite logic never depends on
// pg_query_go's protobuf types directly.
package sqlast

import "fmt"

// ExprKind tags the variant of an Expr.
type ExprKind int

const (
	ExprColumn ExprKind = iota
	ExprLiteral
	ExprPlaceholder
	ExprBinaryOp
	ExprNested
	ExprInList
	ExprFunction
	ExprNull
	ExprStar
)

// Literal mirrors lixbackend.Value's shape without importing it, so this
// package stays dependency-free of the backend layer; callers convert at
// the boundary.
type Literal struct {
	Null    bool
	Boolean *bool
	Integer *int64
	Real    *float64
	Text    *string
}

func LiteralText(s string) Literal   { return Literal{Text: &s} }
func LiteralInt(i int64) Literal     { return Literal{Integer: &i} }
func LiteralBool(b bool) Literal     { return Literal{Boolean: &b} }
func LiteralReal(f float64) Literal  { return Literal{Real: &f} }
func LiteralNull() Literal           { return Literal{Null: true} }

// Expr is a SQL expression tree. Only the fields relevant to Kind are
// populated.
type Expr struct {
	Kind ExprKind

	// ExprColumn
	Qualifier string
	Column    string

	// ExprLiteral
	Value Literal

	// ExprPlaceholder: the 0-based ordinal of this placeholder among bare
	// "?" placeholders in source order, or -1 if this is a numbered
	// placeholder ($n) whose index is in NumberedIndex (1-based, as written).
	PlaceholderOrdinal int
	NumberedIndex      int // 0 means "bare ?"

	// ExprBinaryOp
	Op    string // "=", "AND", "OR", "<>", "<", ">", "<=", ">=", "LIKE", "IS"
	Left  *Expr
	Right *Expr

	// ExprNested
	Inner *Expr

	// ExprInList
	List []*Expr

	// ExprFunction
	FuncName string
	Args     []*Expr
}

func Column(name string) *Expr             { return &Expr{Kind: ExprColumn, Column: name} }
func QualifiedColumn(q, name string) *Expr { return &Expr{Kind: ExprColumn, Qualifier: q, Column: name} }
func Lit(v Literal) *Expr                  { return &Expr{Kind: ExprLiteral, Value: v} }
func BarePlaceholder(ordinal int) *Expr {
	return &Expr{Kind: ExprPlaceholder, PlaceholderOrdinal: ordinal}
}
func NumberedPlaceholder(n int) *Expr {
	return &Expr{Kind: ExprPlaceholder, PlaceholderOrdinal: -1, NumberedIndex: n}
}
func Binary(op string, left, right *Expr) *Expr {
	return &Expr{Kind: ExprBinaryOp, Op: op, Left: left, Right: right}
}
func Nested(inner *Expr) *Expr { return &Expr{Kind: ExprNested, Inner: inner} }
func InList(col *Expr, list []*Expr) *Expr {
	return &Expr{Kind: ExprInList, Left: col, List: list}
}
func Func(name string, args ...*Expr) *Expr {
	return &Expr{Kind: ExprFunction, FuncName: name, Args: args}
}

// StripQualifier returns a copy of e with any column qualifier (alias.col ->
// col) removed, recursively.
func StripQualifier(e *Expr) *Expr {
	if e == nil {
		return nil
	}
	cp := *e
	switch e.Kind {
	case ExprColumn:
		cp.Qualifier = ""
	case ExprBinaryOp:
		cp.Left = StripQualifier(e.Left)
		cp.Right = StripQualifier(e.Right)
	case ExprNested:
		cp.Inner = StripQualifier(e.Inner)
	case ExprInList:
		cp.Left = StripQualifier(e.Left)
		list := make([]*Expr, len(e.List))
		for i, v := range e.List {
			list[i] = StripQualifier(v)
		}
		cp.List = list
	case ExprFunction:
		args := make([]*Expr, len(e.Args))
		for i, v := range e.Args {
			args[i] = StripQualifier(v)
		}
		cp.Args = args
	}
	return &cp
}

// SplitConjunction flattens a tree of AND-binary-ops into its leaf
// conjuncts, in left-to-right source order.
func SplitConjunction(e *Expr) []*Expr {
	if e == nil {
		return nil
	}
	if e.Kind == ExprNested {
		return SplitConjunction(e.Inner)
	}
	if e.Kind == ExprBinaryOp && e.Op == "AND" {
		return append(SplitConjunction(e.Left), SplitConjunction(e.Right)...)
	}
	return []*Expr{e}
}

// JoinConjunction re-joins a list of conjuncts into a single AND-tree. An
// empty list returns nil (no predicate at all).
func JoinConjunction(parts []*Expr) *Expr {
	if len(parts) == 0 {
		return nil
	}
	result := parts[0]
	for _, p := range parts[1:] {
		result = Binary("AND", result, p)
	}
	return result
}

// ExtractEqualityLiteral returns the literal value v if e is exactly
// `column = v` or `v = column` for the named column (qualifier-stripped
// comparison), and ok=true.
func ExtractEqualityLiteral(e *Expr, column string) (Literal, bool) {
	if e == nil || e.Kind != ExprBinaryOp || e.Op != "=" {
		return Literal{}, false
	}
	left, right := StripQualifier(e.Left), e.Right
	if left.Kind == ExprColumn && left.Column == column && right.Kind == ExprLiteral {
		return right.Value, true
	}
	right2 := StripQualifier(e.Right)
	if right2.Kind == ExprColumn && right2.Column == column && e.Left.Kind == ExprLiteral {
		return e.Left.Value, true
	}
	return Literal{}, false
}

// ExtractInListLiterals returns the literal values of `column IN (...)` for
// the named column, and ok=true. Returns ok=false if any element of the
// list is not a literal (e.g. a placeholder), since such a list cannot be
// resolved without parameter binding.
func ExtractInListLiterals(e *Expr, column string) ([]Literal, bool) {
	if e == nil || e.Kind != ExprInList {
		return nil, false
	}
	col := StripQualifier(e.Left)
	if col.Kind != ExprColumn || col.Column != column {
		return nil, false
	}
	out := make([]Literal, 0, len(e.List))
	for _, item := range e.List {
		if item.Kind != ExprLiteral {
			return nil, false
		}
		out = append(out, item.Value)
	}
	return out, true
}

func (l Literal) String() string {
	switch {
	case l.Null:
		return "NULL"
	case l.Boolean != nil:
		return fmt.Sprintf("%v", *l.Boolean)
	case l.Integer != nil:
		return fmt.Sprintf("%d", *l.Integer)
	case l.Real != nil:
		return fmt.Sprintf("%v", *l.Real)
	case l.Text != nil:
		return *l.Text
	default:
		return "NULL"
	}
}
