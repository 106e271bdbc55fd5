// SPDX-License-Identifier: Apache-2.0

package sqlast

import (
	"fmt"

	pgq "github.com/pganalyze/pg_query_go/v6"

	"github.com/lixql/lixql/pkg/lixerr"
)

// StatementKind classifies the parsed user statement.
type StatementKind int

const (
	KindSelect StatementKind = iota
	KindInsert
	KindUpdate
	KindDelete
	KindOther
)

// Assignment is a single `column = expr` of an UPDATE's SET list.
type Assignment struct {
	Column string
	Value  *Expr
}

// OnConflict models the restricted ON CONFLICT clause permitted by §4.F.1
// step 6: DO UPDATE with explicit conflict columns and no WHERE, or (for one
// exception) DO NOTHING.
type OnConflict struct {
	Present          bool
	ConflictColumns  []string
	DoNothing        bool
	UpdateAssignments []Assignment
}

// InsertRow is one VALUES tuple, keyed by the statement's column list.
type InsertRow struct {
	Values []*Expr
}

// Statement is the core's simplified, dialect-neutral view of a parsed
// user statement: enough structure for the write-path rewriters (§4.E/F/G)
// and the read-path expander (§4.I) to operate on, without depending on
// pg_query_go's protobuf node shapes outside this package.
type Statement struct {
	Kind StatementKind

	// Target relation (INSERT/UPDATE/DELETE) or the first FROM relation
	// (SELECT, used by the read-view expander to classify which logical
	// view is targeted).
	Table string
	Alias string

	// INSERT
	Columns    []string
	Rows       []InsertRow
	OnConflict OnConflict

	// UPDATE
	Assignments []Assignment

	// UPDATE/DELETE/SELECT
	Where *Expr

	// SELECT
	Projection  []string // a star target is recorded as "*"; see IsCountStar for a COUNT(*) select
	IsCountStar bool

	// Raw is the original SQL text, kept for statements the core passes
	// through unexamined (§9: "no custom RETURNING on user writes" etc. is
	// rejected earlier; Raw lets callers report helpful parse errors).
	Raw string
}

// Parse parses sql with the generic (Postgres-grammar) dialect the core
// always rewrites against, per §4.A: "a single parse dialect (generic) for
// the rewriter, plus a per-backend serialize/bind pass for execution."
// pg_query_go (the teacher's own parser dependency, used in
// pkg/sql2pgroll/convert.go for exactly this purpose) backs the parse.
func Parse(sql string) (*Statement, error) {
	tree, err := pgq.Parse(sql)
	if err != nil {
		return nil, lixerr.BadSyntaxError{Detail: err.Error()}
	}
	stmts := tree.GetStmts()
	if len(stmts) != 1 {
		return nil, lixerr.BadSyntaxError{Detail: fmt.Sprintf("expected exactly one statement, got %d", len(stmts))}
	}
	node := stmts[0].GetStmt().GetNode()

	switch n := node.(type) {
	case *pgq.Node_InsertStmt:
		return parseInsert(n.InsertStmt, sql)
	case *pgq.Node_UpdateStmt:
		return parseUpdate(n.UpdateStmt, sql)
	case *pgq.Node_DeleteStmt:
		return parseDelete(n.DeleteStmt, sql)
	case *pgq.Node_SelectStmt:
		return parseSelect(n.SelectStmt, sql)
	default:
		return &Statement{Kind: KindOther, Raw: sql}, nil
	}
}

func parseInsert(stmt *pgq.InsertStmt, raw string) (*Statement, error) {
	out := &Statement{Kind: KindInsert, Table: stmt.GetRelation().GetRelname(), Raw: raw}

	for _, c := range stmt.GetCols() {
		out.Columns = append(out.Columns, c.GetResTarget().GetName())
	}

	sel := stmt.GetSelectStmt().GetSelectStmt()
	if sel != nil {
		for _, vl := range sel.GetValuesLists() {
			row := InsertRow{}
			for _, item := range vl.GetList().GetItems() {
				e, err := convertNode(item)
				if err != nil {
					return nil, err
				}
				row.Values = append(row.Values, e)
			}
			out.Rows = append(out.Rows, row)
		}
	}

	if onConflict := stmt.GetOnConflictClause(); onConflict != nil {
		oc := OnConflict{Present: true}
		for _, ie := range onConflict.GetInfer().GetIndexElems() {
			oc.ConflictColumns = append(oc.ConflictColumns, ie.GetName())
		}
		switch onConflict.GetAction() {
		case pgq.OnConflictAction_ONCONFLICT_NOTHING:
			oc.DoNothing = true
		case pgq.OnConflictAction_ONCONFLICT_UPDATE:
			for _, tgt := range onConflict.GetTargetList() {
				rt := tgt.GetResTarget()
				val, err := convertNode(rt.GetVal())
				if err != nil {
					return nil, err
				}
				oc.UpdateAssignments = append(oc.UpdateAssignments, Assignment{Column: rt.GetName(), Value: val})
			}
		}
		out.OnConflict = oc
	}

	return out, nil
}

func parseUpdate(stmt *pgq.UpdateStmt, raw string) (*Statement, error) {
	out := &Statement{Kind: KindUpdate, Table: stmt.GetRelation().GetRelname(), Raw: raw}

	for _, tgt := range stmt.GetTargetList() {
		rt := tgt.GetResTarget()
		val, err := convertNode(rt.GetVal())
		if err != nil {
			return nil, err
		}
		out.Assignments = append(out.Assignments, Assignment{Column: rt.GetName(), Value: val})
	}

	if stmt.GetWhereClause() != nil {
		w, err := convertNode(stmt.GetWhereClause())
		if err != nil {
			return nil, err
		}
		out.Where = w
	}

	if len(stmt.GetFromClause()) > 0 {
		return nil, lixerr.UnsupportedShapeError{Reason: "UPDATE ... FROM (join on write target)"}
	}

	return out, nil
}

func parseDelete(stmt *pgq.DeleteStmt, raw string) (*Statement, error) {
	out := &Statement{Kind: KindDelete, Table: stmt.GetRelation().GetRelname(), Raw: raw}

	if stmt.GetWhereClause() != nil {
		w, err := convertNode(stmt.GetWhereClause())
		if err != nil {
			return nil, err
		}
		out.Where = w
	}

	if len(stmt.GetUsingClause()) > 0 {
		return nil, lixerr.UnsupportedShapeError{Reason: "DELETE ... USING"}
	}

	return out, nil
}

func parseSelect(stmt *pgq.SelectStmt, raw string) (*Statement, error) {
	out := &Statement{Kind: KindSelect, Raw: raw}

	if len(stmt.GetFromClause()) > 0 {
		if rv := stmt.GetFromClause()[0].GetRangeVar(); rv != nil {
			out.Table = rv.GetRelname()
			out.Alias = rv.GetAlias().GetAliasname()
		}
		if len(stmt.GetFromClause()) > 1 {
			return nil, lixerr.UnsupportedShapeError{Reason: "JOIN in FROM clause of a rewritten view"}
		}
	}

	if stmt.GetWhereClause() != nil {
		w, err := convertNode(stmt.GetWhereClause())
		if err != nil {
			return nil, err
		}
		out.Where = w
	}

	targets := stmt.GetTargetList()
	if len(targets) == 1 {
		if fc := targets[0].GetResTarget().GetVal().GetFuncCall(); fc != nil {
			if len(fc.GetFuncname()) == 1 && fc.GetFuncname()[0].GetString_().GetSval() == "count" && fc.GetAggStar() {
				out.IsCountStar = true
			}
		}
	}
	if !out.IsCountStar {
		for _, tgt := range targets {
			rt := tgt.GetResTarget()
			if cr := rt.GetVal().GetColumnRef(); cr != nil {
				if len(cr.GetFields()) > 0 {
					if cr.GetFields()[len(cr.GetFields())-1].GetAStar() != nil {
						out.Projection = append(out.Projection, "*")
						continue
					}
				}
			}
			out.Projection = append(out.Projection, rt.GetName())
		}
	}

	return out, nil
}

// convertNode converts a pg_query_go expression node into the core's own
// Expr tree.
func convertNode(n *pgq.Node) (*Expr, error) {
	if n == nil {
		return nil, nil
	}
	switch v := n.Node.(type) {
	case *pgq.Node_ColumnRef:
		return convertColumnRef(v.ColumnRef)
	case *pgq.Node_AConst:
		return convertAConst(v.AConst)
	case *pgq.Node_ParamRef:
		return NumberedPlaceholder(int(v.ParamRef.GetNumber())), nil
	case *pgq.Node_AExpr:
		return convertAExpr(v.AExpr)
	case *pgq.Node_BoolExpr:
		return convertBoolExpr(v.BoolExpr)
	case *pgq.Node_FuncCall:
		return convertFuncCall(v.FuncCall)
	case *pgq.Node_TypeCast:
		return convertNode(v.TypeCast.GetArg())
	default:
		return nil, lixerr.UnsupportedShapeError{Reason: fmt.Sprintf("expression node %T", v)}
	}
}

func convertColumnRef(cr *pgq.ColumnRef) (*Expr, error) {
	fields := cr.GetFields()
	switch len(fields) {
	case 1:
		return Column(fields[0].GetString_().GetSval()), nil
	case 2:
		return QualifiedColumn(fields[0].GetString_().GetSval(), fields[1].GetString_().GetSval()), nil
	default:
		return nil, lixerr.UnsupportedShapeError{Reason: "column reference with unexpected qualification depth"}
	}
}

func convertAConst(c *pgq.A_Const) (*Expr, error) {
	if c.GetIsnull() {
		return &Expr{Kind: ExprNull}, nil
	}
	switch v := c.Val.(type) {
	case *pgq.A_Const_Ival:
		i := v.Ival.GetIval()
		return Lit(LiteralInt(int64(i))), nil
	case *pgq.A_Const_Fval:
		var f float64
		fmt.Sscanf(v.Fval.GetFval(), "%g", &f)
		return Lit(LiteralReal(f)), nil
	case *pgq.A_Const_Sval:
		return Lit(LiteralText(v.Sval.GetSval())), nil
	case *pgq.A_Const_Boolval:
		return Lit(LiteralBool(v.Boolval.GetBoolval())), nil
	default:
		return &Expr{Kind: ExprNull}, nil
	}
}

func convertAExpr(e *pgq.A_Expr) (*Expr, error) {
	left, err := convertNode(e.GetLexpr())
	if err != nil {
		return nil, err
	}
	right, err := convertNode(e.GetRexpr())
	if err != nil {
		return nil, err
	}

	op := ""
	if len(e.GetName()) > 0 {
		op = e.GetName()[0].GetString_().GetSval()
	}

	switch e.GetKind() {
	case pgq.A_Expr_Kind_AEXPR_OP:
		return Binary(op, left, right), nil
	case pgq.A_Expr_Kind_AEXPR_IN:
		list, ok := e.GetRexpr().GetNode().(*pgq.Node_List)
		if !ok {
			return nil, lixerr.UnsupportedShapeError{Reason: "IN with non-list right-hand side"}
		}
		items := make([]*Expr, 0, len(list.List.GetItems()))
		for _, it := range list.List.GetItems() {
			ie, err := convertNode(it)
			if err != nil {
				return nil, err
			}
			items = append(items, ie)
		}
		return InList(left, items), nil
	default:
		return nil, lixerr.UnsupportedShapeError{Reason: "expression operator shape"}
	}
}

func convertBoolExpr(e *pgq.BoolExpr) (*Expr, error) {
	args := e.GetArgs()
	exprs := make([]*Expr, 0, len(args))
	for _, a := range args {
		ce, err := convertNode(a)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, ce)
	}

	switch e.GetBoolop() {
	case pgq.BoolExprType_AND_EXPR:
		result := exprs[0]
		for _, ex := range exprs[1:] {
			result = Binary("AND", result, ex)
		}
		return result, nil
	case pgq.BoolExprType_OR_EXPR:
		result := exprs[0]
		for _, ex := range exprs[1:] {
			result = Binary("OR", result, ex)
		}
		return result, nil
	default:
		return nil, lixerr.UnsupportedShapeError{Reason: "NOT expression"}
	}
}

func convertFuncCall(fc *pgq.FuncCall) (*Expr, error) {
	name := ""
	if len(fc.GetFuncname()) > 0 {
		name = fc.GetFuncname()[len(fc.GetFuncname())-1].GetString_().GetSval()
	}
	args := make([]*Expr, 0, len(fc.GetArgs()))
	for _, a := range fc.GetArgs() {
		ae, err := convertNode(a)
		if err != nil {
			return nil, err
		}
		args = append(args, ae)
	}
	return Func(name, args...), nil
}
