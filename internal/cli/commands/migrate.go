package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/deltapatch/internal/cli/ui"
	"github.com/conduit-lang/deltapatch/internal/logging"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/store/sqlstore"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(global *globalOptions) *cobra.Command {
	var (
		schemaFile string
		printOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "migrate [models...]",
		Short: "Create the tables of the registered models",
		Long: `Create a table for each registered model, or for the named models, in the
configured SQL database. Existing tables are left alone.
With --print the statements are written to stdout instead of executed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global, schemaFile)
			if err != nil {
				return err
			}
			switch strings.ToLower(cfg.Store.Driver) {
			case "memory", "redis":
				return fmt.Errorf("migrate requires a sql store, configured driver is %s", cfg.Store.Driver)
			}

			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if printOnly {
				dialect, err := sqlstore.DialectFor(cfg.Store.Driver)
				if err != nil {
					return err
				}
				statements, err := createStatements(dialect, reg, args)
				if err != nil {
					return err
				}
				for _, ddl := range statements {
					fmt.Fprintln(w, ddl)
					fmt.Fprintln(w)
				}
				return nil
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := openSQLStore(cmd.Context(), cfg, reg, logger)
			if err != nil {
				return err
			}
			defer st.DB().Close()

			statements, err := st.Migrate(cmd.Context(), args...)
			if err != nil {
				return err
			}
			ui.WriteSuccess(w, fmt.Sprintf("%d tables ensured on %s", len(statements), st.Dialect().Name), global.noColor)
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaFile, "schema", "", "model definitions file (overrides schema.file)")
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the statements without executing them")

	return cmd
}

// createStatements renders the CREATE TABLE statements of the named models,
// or of every valid model when none are named
func createStatements(dialect sqlstore.Dialect, reg *schema.Registry, names []string) ([]string, error) {
	var models []*schema.Model
	if len(names) == 0 {
		for _, m := range reg.Models() {
			if m.Valid() {
				models = append(models, m)
			}
		}
	} else {
		for _, name := range names {
			m, err := reg.Lookup(name)
			if err != nil {
				return nil, err
			}
			models = append(models, m)
		}
	}

	return sqlstore.CreateTables(dialect, models)
}
