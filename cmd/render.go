// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/sqlast"
)

// renderDialectSQL re-binds a generator-produced statement's bare "?"
// markers to dialect-specific placeholder syntax for display. The
// generator's Params slice is already in source occurrence order, so a
// fresh PlaceholderState's sequential Advance() calls line up with it
// exactly (no prior rewrite stage consumed any of these placeholders).
func renderDialectSQL(sql string, params []lixbackend.Value, dialect lixbackend.Dialect) (string, []any) {
	rendered, bound, err := sqlast.BindSQLWithState(sql, params, dialect, sqlast.NewPlaceholderState())
	if err != nil {
		return sql, valuesToAny(params)
	}
	return rendered, valuesToAny(bound)
}

func valuesToAny(params []lixbackend.Value) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = p.Native()
	}
	return out
}
