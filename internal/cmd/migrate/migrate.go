package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/config"
	registrymigrate "github.com/rhplus0831/risugit/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// The asset metadata package registers its schema migrator in init().
	_ "github.com/rhplus0831/risugit/internal/assetdb"
)

// Command returns the migrate sub-command.
func Command(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the asset server metadata schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("RISUGIT_DB_URL"),
				Destination: &cfg.DBURL,
				Value:       cfg.DBURL,
				Usage:       "Metadata database file or connection URL",
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("RISUGIT_DB_KIND"),
				Destination: &cfg.DBKind,
				Value:       cfg.DBKind,
				Usage:       "Metadata database (sqlite|postgres)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx = config.WithContext(ctx, cfg)

			log.Info("Running migrations...", "migrations", registrymigrate.Names())
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
