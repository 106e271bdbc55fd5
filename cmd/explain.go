// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func explainCmd() *cobra.Command {
	var versionID string
	var untracked bool

	cmd := &cobra.Command{
		Use:   "explain <schema-key> [path to file with an INSERT/UPDATE/DELETE statement]",
		Short: "Print the logical rewrite plan for an entity or filesystem view write",
		Long:  "Parse an INSERT/UPDATE/DELETE against a registered entity view, or against lix_file/lix_directory, and print a human-readable description of the rewritten statements. An offline entity-view INSERT needs no backend; every other statement executes against the configured DSN.",
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

			fmt.Fprint(cmd.OutOrStdout(), result.Explain())
			return nil
		},
	}

	cmd.Flags().StringVar(&versionID, "version-id", "main", "Version the write targets")
	cmd.Flags().BoolVar(&untracked, "untracked", false, "Route the write through the untracked overlay instead of the tracked change log")

	return cmd
}
