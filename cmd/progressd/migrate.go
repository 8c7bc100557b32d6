package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/edu-progress/internal/app"
	"github.com/alem-hub/edu-progress/internal/infrastructure/persistence/postgres"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(_ *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Manage the Postgres schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("DATABASE_URL is required for migrate")
			}

			ctx := cmd.Context()
			conn, err := app.ConnectPostgres(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			migrator := postgres.NewMigrator(conn)
			out := cmd.OutOrStdout()

			switch action {
			case "up":
				applied, err := migrator.Migrate(ctx)
				if err != nil {
					return err
				}
				log.Info("migrations applied", "versions", applied)
				fmt.Fprintf(out, "applied %d migration(s)\n", len(applied))
			case "down":
				version, err := migrator.Rollback(ctx)
				if err != nil {
					return err
				}
				if version == 0 {
					fmt.Fprintln(out, "nothing to roll back")
					return nil
				}
				fmt.Fprintf(out, "rolled back migration %d\n", version)
			case "status":
				migrations, err := migrator.Status(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
				for _, m := range migrations {
					applied := "no"
					if m.IsApplied {
						applied = m.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, applied)
				}
				return tw.Flush()
			}
			return nil
		},
	}
	return cmd
}
