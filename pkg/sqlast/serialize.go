// SPDX-License-Identifier: Apache-2.0

package sqlast

import (
	"fmt"
	"strings"

	"github.com/lixql/lixql/pkg/lixbackend"
)

// Serialize renders e back to SQL text with bare "?" placeholders in source
// order (dialect-specific placeholder numbering happens later, in
// BindSQLWithState, per the two-pass "parse once, bind per-backend" design
// of §4.A).
func Serialize(e *Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e *Expr) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ExprColumn:
		if e.Qualifier != "" {
			b.WriteString(e.Qualifier)
			b.WriteByte('.')
		}
		b.WriteString(e.Column)
	case ExprStar:
		b.WriteByte('*')
	case ExprNull:
		b.WriteString("NULL")
	case ExprLiteral:
		writeLiteral(b, e.Value)
	case ExprPlaceholder:
		if e.NumberedIndex > 0 {
			fmt.Fprintf(b, "$%d", e.NumberedIndex)
		} else {
			b.WriteByte('?')
		}
	case ExprBinaryOp:
		writeExpr(b, e.Left)
		b.WriteByte(' ')
		b.WriteString(e.Op)
		b.WriteByte(' ')
		writeExpr(b, e.Right)
	case ExprNested:
		b.WriteByte('(')
		writeExpr(b, e.Inner)
		b.WriteByte(')')
	case ExprInList:
		writeExpr(b, e.Left)
		b.WriteString(" IN (")
		for i, item := range e.List {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, item)
		}
		b.WriteByte(')')
	case ExprFunction:
		b.WriteString(e.FuncName)
		b.WriteByte('(')
		for i, arg := range e.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, arg)
		}
		b.WriteByte(')')
	}
}

func writeLiteral(b *strings.Builder, l Literal) {
	switch {
	case l.Null:
		b.WriteString("NULL")
	case l.Boolean != nil:
		if *l.Boolean {
			b.WriteString("TRUE")
		} else {
			b.WriteString("FALSE")
		}
	case l.Integer != nil:
		fmt.Fprintf(b, "%d", *l.Integer)
	case l.Real != nil:
		fmt.Fprintf(b, "%v", *l.Real)
	case l.Text != nil:
		b.WriteByte('\'')
		b.WriteString(strings.ReplaceAll(*l.Text, "'", "''"))
		b.WriteByte('\'')
	default:
		b.WriteString("NULL")
	}
}

// QuoteIdent quotes an identifier for inclusion in generated SQL, doubling
// any embedded double-quote.
func QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// JSONExtractExpr builds a dialect-appropriate JSON property extraction
// expression over a snapshot_content-shaped column, used throughout
// pkg/rewrite/entity and pkg/readview wherever a schema property is read
// back out of the stored JSON (§4.F.2: "WHERE clause's property references
// are rewritten to JSON extractions dialect-appropriately").
func JSONExtractExpr(dialect lixbackend.Dialect, column, property string) string {
	switch dialect {
	case lixbackend.Postgres:
		return fmt.Sprintf("(%s -> '%s')", column, property)
	default:
		return fmt.Sprintf("json_extract(%s, '$.%s')", column, property)
	}
}

// JSONSetExpr builds a dialect-appropriate JSON patch expression that sets
// a single property on a (possibly-null) snapshot_content column, used by
// the UPDATE rewrite path (§4.F.2) to produce a json_set/jsonb_set patch.
func JSONSetExpr(dialect lixbackend.Dialect, column, property, valueSQL string) string {
	switch dialect {
	case lixbackend.Postgres:
		return fmt.Sprintf("jsonb_set(coalesce(%s, '{}'::jsonb), '{%s}', to_jsonb(%s))", column, property, valueSQL)
	default:
		return fmt.Sprintf("json_set(coalesce(%s, '{}'), '$.%s', %s)", column, property, valueSQL)
	}
}
