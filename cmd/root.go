// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lixql/lixql/internal/config"
	"github.com/lixql/lixql/internal/pgexec"
	"github.com/lixql/lixql/internal/sqlitexec"
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/schema"
	"github.com/lixql/lixql/pkg/session"
)

// Version is the lixql version.
var Version = "development"

func init() {
	viper.SetEnvPrefix("LIXQL")
	viper.AutomaticEnv()

	config.BindFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "lixql",
	SilenceUsage: true,
	Version:      Version,
}

// NewEngine builds the process-wide rewrite Engine from the bound
// configuration, the way the teacher's NewRoll builds a *roll.Roll from
// cmd/flags.
func NewEngine() (*session.Engine, error) {
	dialect := config.Dialect()
	catalog := schema.NewCatalog()
	registerBuiltinSchemas(catalog)

	return session.NewEngine(catalog, session.SystemFunctionProvider{}, dialect, config.WriterKey()), nil
}

// NewConnectedEngine builds an Engine the same way NewEngine does, but also
// opens the configured DSN against the configured dialect's backend and
// wires it onto Engine.Backend: the CLI/HTTP entry points that need a live
// round trip (entity/state UPDATE and DELETE, every filesystem rewrite) call
// this instead of NewEngine. The caller must Close the returned closer once
// done with the engine.
func NewConnectedEngine() (*session.Engine, func() error, error) {
	engine, err := NewEngine()
	if err != nil {
		return nil, nil, err
	}

	dsn := config.DSN()
	switch config.Dialect() {
	case lixbackend.SQLite:
		backend, err := sqlitexec.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		engine.Backend = backend
		return engine, backend.Close, nil
	default:
		backend, err := pgexec.Open(dsn, "")
		if err != nil {
			return nil, nil, err
		}
		engine.Backend = backend
		return engine, backend.Close, nil
	}
}

// registerBuiltinSchemas registers the entity schemas the CLI knows about
// out of the box. Offline and connected engines alike register only these;
// no schema is loaded from the backend. The CLI's offline rewrite/explain
// subcommands need at least one schema to target.
func registerBuiltinSchemas(catalog *schema.Catalog) {
	catalog.Register(&schema.Table{
		SchemaKey:     "lixql_example_note",
		SchemaVersion: "1",
		PrimaryKey:    []string{"id"},
		Properties: map[string]*schema.Property{
			"id":    {Name: "id", Type: schema.TypeString},
			"title": {Name: "title", Type: schema.TypeString},
			"body":  {Name: "body", Type: schema.TypeString},
		},
	})
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(rewriteCmd())
	rootCmd.AddCommand(explainCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(commitCmd())
	rootCmd.AddCommand(serveCmd())

	return rootCmd.Execute()
}
