// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lixql/lixql/internal/config"
	"github.com/lixql/lixql/pkg/commit"
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/readview"
	"github.com/lixql/lixql/pkg/session"
	"github.com/lixql/lixql/pkg/sqlast"
)

// renderedStatement is the JSON shape printed by the rewrite subcommand, one
// entry per physical statement the rewrite emitted, in execution order.
type renderedStatement struct {
	Label  string `json:"label"`
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

func rewriteCmd() *cobra.Command {
	var versionID string
	var untracked bool

	cmd := &cobra.Command{
		Use:   "rewrite <schema-key> [path to file with an INSERT/UPDATE/DELETE statement]",
		Short: "Rewrite a single-row entity or filesystem view write into its physical statements",
		Long:  "Parse an INSERT/UPDATE/DELETE against a registered entity view, or against lix_file/lix_directory, and print the physical statements it rewrites to. An offline entity-view INSERT needs no backend; every other statement executes against the configured DSN to resolve ancestor lookups and RETURNING rows. Reads the statement from stdin or a file.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := openSQLReader(args[1:])
			if err != nil {
				return fmt.Errorf("open SQL statement: %w", err)
			}
			defer reader.Close()

			result, err := rewriteFromReader(reader, args[0], versionID, untracked)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(toRendered(result.Statements, config.Dialect()))
		},
	}

	cmd.Flags().StringVar(&versionID, "version-id", "main", "Version the write targets")
	cmd.Flags().BoolVar(&untracked, "untracked", false, "Route the write through the untracked overlay instead of the tracked change log")

	return cmd
}

func openSQLReader(args []string) (io.ReadCloser, error) {
	if len(args) == 0 {
		return os.Stdin, nil
	}
	return os.Open(args[0])
}

// rewriteFromReader reads a single INSERT/UPDATE/DELETE statement from
// reader and rewrites it, the way the teacher's sqlStatementsToMigration
// reads a migration's SQL before converting it. A statement targeting
// lix_file/lix_directory is routed to the filesystem rewriters regardless of
// schemaKey; everything else is routed to the entity-view rewriters against
// schemaKey. Every branch but the offline entity-view INSERT needs a live
// backend round trip, so those open one via NewConnectedEngine.
func rewriteFromReader(reader io.Reader, schemaKey, versionID string, untracked bool) (*session.RewriteResult, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, err
	}

	stmt, err := sqlast.Parse(buf.String())
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	isFile := stmt.Table == readview.ViewFile
	isDirectory := stmt.Table == readview.ViewDirectory

	if stmt.Kind == sqlast.KindInsert && !isFile && !isDirectory {
		engine, err := NewEngine()
		if err != nil {
			return nil, err
		}
		return engine.RewriteEntityInsert(schemaKey, stmt, versionID, untracked)
	}

	engine, closeFn, err := NewConnectedEngine()
	if err != nil {
		return nil, err
	}
	defer closeFn()

	switch {
	case isFile && stmt.Kind == sqlast.KindInsert:
		return engine.RewriteFileInsert(ctx, stmt, versionID, untracked)
	case isFile && stmt.Kind == sqlast.KindUpdate:
		return engine.RewriteFileUpdate(ctx, stmt, versionID, untracked)
	case isFile && stmt.Kind == sqlast.KindDelete:
		return engine.RewriteFileDelete(ctx, stmt, versionID)
	case isDirectory && stmt.Kind == sqlast.KindInsert:
		return engine.RewriteDirectoryInsert(ctx, stmt, versionID, untracked)
	case isDirectory && stmt.Kind == sqlast.KindDelete:
		return engine.RewriteDirectoryDelete(ctx, stmt, versionID)
	case stmt.Kind == sqlast.KindUpdate:
		return engine.RewriteEntityUpdate(ctx, schemaKey, stmt, versionID, untracked)
	case stmt.Kind == sqlast.KindDelete:
		return engine.RewriteEntityDelete(ctx, schemaKey, stmt, versionID, untracked)
	default:
		return nil, fmt.Errorf("unsupported statement kind %d for table %q in the rewrite/explain subcommands", stmt.Kind, stmt.Table)
	}
}

func toRendered(statements []commit.Statement, dialect lixbackend.Dialect) []renderedStatement {
	out := make([]renderedStatement, 0, len(statements))
	for _, s := range statements {
		sql, params := renderDialectSQL(s.SQL, s.Params, dialect)
		out = append(out, renderedStatement{Label: s.Label, SQL: sql, Params: params})
	}
	return out
}
