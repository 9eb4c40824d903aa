package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"ghfeed/internal/config"
	"ghfeed/internal/storage"
	"ghfeed/migrations"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <" + strings.Join(migrations.Commands, "|") + ">",
		Short: "Run database schema migrations",
		Long: `Run database schema migrations.

Commands:
  up          Migrate to the latest version
  up-one      Migrate one version up
  down        Roll back one version
  status      Show migration status
  version     Show current version
  reset       Roll back all migrations`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if !slices.Contains(migrations.Commands, args[0]) {
				return fmt.Errorf("unknown command: %s", args[0])
			}
			db, err := storage.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return migrations.Exec(db.DB, args[0])
		},
	}
}
