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
	"github.com/lixql/lixql/pkg/session"
	"github.com/lixql/lixql/pkg/sqlast"
)

func commitCmd() *cobra.Command {
	var versionID, commitID, parentCommitID string
	var untracked, dryRun bool

	cmd := &cobra.Command{
		Use:   "commit <schema-key> [path to file with an INSERT statement]",
		Short: "Rewrite and execute an entity-view INSERT as a new commit in the commit DAG",
		Long:  "Parse an INSERT statement against a registered entity view, rewrite it, and additionally create the commit row, the commit_edge linking it to --parent-commit-id (if set), and the transitively-expanded commit_ancestry rows. Executes against the configured DSN unless --dry-run is set.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := openSQLReader(args[1:])
			if err != nil {
				return fmt.Errorf("open SQL statement: %w", err)
			}
			defer reader.Close()

			result, err := commitFromReader(reader, args[0], versionID, commitID, parentCommitID, untracked, dryRun)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(toRendered(result.Statements, config.Dialect()))
		},
	}

	cmd.Flags().StringVar(&versionID, "version-id", "main", "Version the write targets")
	cmd.Flags().StringVar(&commitID, "commit-id", "", "Id of the commit being created (generated if empty)")
	cmd.Flags().StringVar(&parentCommitID, "parent-commit-id", "", "Id of this commit's direct parent, empty for a root commit")
	cmd.Flags().BoolVar(&untracked, "untracked", false, "Route the write through the untracked overlay instead of the tracked change log")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the rewritten statements without executing them")

	return cmd
}

// commitFromReader rewrites a single-row entity-view INSERT into a
// commit-creating batch and, unless dryRun, executes it against the
// connected backend: the real product entry point for
// Engine.RewriteEntityInsertWithAncestry, which otherwise only ever runs
// under test.
func commitFromReader(reader io.Reader, schemaKey, versionID, commitID, parentCommitID string, untracked, dryRun bool) (*session.RewriteResult, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, err
	}

	stmt, err := sqlast.Parse(buf.String())
	if err != nil {
		return nil, err
	}
	if stmt.Kind != sqlast.KindInsert {
		return nil, fmt.Errorf("only INSERT creates a commit, got statement kind %d", stmt.Kind)
	}

	engine, closeFn, err := NewConnectedEngine()
	if err != nil {
		return nil, err
	}
	defer closeFn()

	ctx := context.Background()
	edge := commit.AncestryEdge{CommitID: commitID, VersionID: "global", ParentID: parentCommitID}
	if edge.CommitID == "" {
		edge.CommitID = session.SystemFunctionProvider{}.UUIDv7()
	}
	if parentCommitID != "" {
		ancestry, err := loadParentAncestry(ctx, engine.Backend, parentCommitID)
		if err != nil {
			return nil, fmt.Errorf("loading parent commit ancestry: %w", err)
		}
		edge.ParentAncestry = ancestry
	}

	result, err := engine.RewriteEntityInsertWithAncestry(schemaKey, stmt, versionID, untracked, edge)
	if err != nil {
		return nil, err
	}

	if !dryRun {
		for _, s := range result.Statements {
			if _, err := engine.Backend.Execute(ctx, s.SQL, s.Params); err != nil {
				return nil, fmt.Errorf("executing %q: %w", s.Label, err)
			}
		}
	}

	return result, nil
}

// loadParentAncestry reads back parentID's own commit_ancestry rows: the
// backend round trip RewriteEntityInsertWithAncestry's doc comment expects
// a connected caller to perform before constructing a real AncestryEdge.
func loadParentAncestry(ctx context.Context, backend lixbackend.Backend, parentID string) ([]commit.AncestorDepth, error) {
	res, err := backend.Execute(ctx, "SELECT ancestor_id, depth FROM commit_ancestry WHERE commit_id = ?", []lixbackend.Value{lixbackend.Text(parentID)})
	if err != nil {
		return nil, err
	}
	out := make([]commit.AncestorDepth, 0, len(res.Rows))
	for _, row := range res.Rows {
		ancestorID, _ := row[0].AsText()
		depth, _ := row[1].AsInteger()
		out = append(out, commit.AncestorDepth{AncestorID: ancestorID, Depth: int(depth)})
	}
	return out, nil
}
