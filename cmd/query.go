// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lixql/lixql/pkg/readview"
	"github.com/lixql/lixql/pkg/sqlast"
)

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [path to file with a SELECT statement]",
		Short: "Expand a SELECT against a logical view (lix_state, lix_file, ...) into physical SQL",
		Long:  "Parse a SELECT statement and, if it targets a logical view, print the plain SQL it expands to against the physical overlay/materialized/timeline tables. Reads the statement from stdin or a file.",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := openSQLReader(args)
			if err != nil {
				return fmt.Errorf("open SQL statement: %w", err)
			}
			defer reader.Close()

			expanded, err := expandFromReader(reader)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), expanded)
			return nil
		},
	}

	return cmd
}

// expandFromReader reads a single SELECT statement from reader and expands
// it against the CLI's configured engine, mirroring rewriteFromReader's
// shape for the read path. A statement against lix_state_history needs a
// connected engine: expanding it must first materialize the
// timeline_breakpoint rows the expansion's SQL depends on (§4.J).
func expandFromReader(reader io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", err
	}

	stmt, err := sqlast.Parse(buf.String())
	if err != nil {
		return "", err
	}
	if stmt.Kind != sqlast.KindSelect {
		return "", fmt.Errorf("only SELECT is supported by the query subcommand, got statement kind %d", stmt.Kind)
	}

	if stmt.Table == readview.ViewStateHistory {
		engine, closeFn, err := NewConnectedEngine()
		if err != nil {
			return "", err
		}
		defer closeFn()

		expanded, ok, err := engine.ExpandReadViewWithMaintenance(context.Background(), stmt)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%q does not name a recognized logical view", stmt.Table)
		}
		return expanded, nil
	}

	engine, err := NewEngine()
	if err != nil {
		return "", err
	}

	expanded, ok := engine.ExpandReadView(stmt)
	if !ok {
		return "", fmt.Errorf("%q does not name a recognized logical view", stmt.Table)
	}
	return expanded, nil
}
