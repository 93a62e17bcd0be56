package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/infrastructure/database/postgres"
	"github.com/turtacn/progres-go/pkg/errors"
)

// NewDatabaseCmd creates the db command group.
func NewDatabaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect embedding databases and manage the Postgres schema",
	}
	cmd.AddCommand(
		newDBListCmd(),
		newDBInfoCmd(),
		newDBMigrateCmd(),
		newDBStatusCmd(),
		newDBRollbackCmd(),
	)
	return cmd
}

func newDBListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in database aliases and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			reg := embedding.NewRegistry(cc.Config.DataDir)
			rows := [][]string{}
			for _, alias := range reg.Aliases() {
				target, _ := reg.Target(alias)
				installed := "no"
				if st, err := os.Stat(target); err == nil && !st.IsDir() {
					installed = "yes"
				}
				rows = append(rows, []string{alias, installed, target})
			}
			fmt.Fprint(cmd.OutOrStdout(), FormatTable([]string{"Alias", "Installed", "Path"}, rows))
			return nil
		},
	}
}

func newDBInfoCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info REF",
		Short: "Show the header of a database given by alias, path, s3:// or pg: reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			stores, closeStores, err := search.OpenStores(ctx, cc.Config, cc.Logger)
			if err != nil {
				return err
			}
			defer closeStores()

			cache := search.NewDatabaseCache(embedding.NewRegistry(cc.Config.DataDir), stores, cc.Logger, nil)
			if _, err := cache.Get(ctx, args[0]); err != nil {
				return err
			}
			info := cache.Loaded()[0]
			if asJSON {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprint(cmd.OutOrStdout(), FormatTable([]string{"Field", "Value"}, [][]string{
				{"name", info.Name},
				{"location", info.Location},
				{"db_id", info.DBID},
				{"model", info.Model},
				{"dim", strconv.Itoa(info.Dim)},
				{"entries", strconv.Itoa(info.Entries)},
			}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// postgresDSN returns the configured DSN or a configuration error.
func postgresDSN(cmd *cobra.Command) (string, *CLIContext, error) {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return "", nil, err
	}
	if cc.Config.Postgres.DSN == "" {
		return "", nil, errors.InvalidParam("postgres.dsn is not configured").
			WithDetail("set it in the config file or PROGRES_POSTGRES_DSN")
	}
	return cc.Config.Postgres.DSN, cc, nil
}

func newDBMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, cc, err := postgresDSN(cmd)
			if err != nil {
				return err
			}
			if err := postgres.RunMigrations(dsn, cc.Logger); err != nil {
				return err
			}
			return printMigrationStatus(cmd, dsn)
		},
	}
}

func newDBStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the Postgres schema version and the stored collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, cc, err := postgresDSN(cmd)
			if err != nil {
				return err
			}
			if err := printMigrationStatus(cmd, dsn); err != nil {
				return err
			}
			return printCollections(cmd.Context(), cmd, cc)
		},
	}
}

func newDBRollbackCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, _, err := postgresDSN(cmd)
			if err != nil {
				return err
			}
			if err := postgres.RollbackMigration(dsn, steps); err != nil {
				return err
			}
			return printMigrationStatus(cmd, dsn)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, dsn string) error {
	version, dirty, err := postgres.MigrationStatus(dsn)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	return err
}

func printCollections(ctx context.Context, cmd *cobra.Command, cc *CLIContext) error {
	pool, err := postgres.NewConnectionPool(ctx, cc.Config.Postgres, cc.Logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	infos, err := postgres.NewDatabaseStore(pool, cc.Logger).Collections(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(infos))
	for _, c := range infos {
		rows = append(rows, []string{c.Name, c.Model.String(), strconv.Itoa(c.Dim), strconv.Itoa(c.Count), c.DBID})
	}
	fmt.Fprint(cmd.OutOrStdout(), FormatTable([]string{"Collection", "Model", "Dim", "Entries", "DB ID"}, rows))
	return nil
}
