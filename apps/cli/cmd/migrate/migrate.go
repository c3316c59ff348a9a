package migrate

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/apps/cli/cmd/clicfg"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/persistence"
)

// Command applies or rolls back the platform schema.
func Command() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Platform schema migrations",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "platform database URL (defaults to DATABASE_URL)")

	cmd.AddCommand(directionCommand("up", "Apply all pending migrations", persistence.MigrateUp, &databaseURL))
	cmd.AddCommand(directionCommand("down", "Roll back the most recent migration", persistence.MigrateDown, &databaseURL))
	return cmd
}

func directionCommand(use, short string, direction persistence.MigrationDirection, databaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := clicfg.Load(*databaseURL)
			if err != nil {
				return err
			}

			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			version, err := persistence.Migrate(cfg.DatabaseURL, direction)
			if err != nil {
				logger.Error("platform migration failed", zap.String("direction", string(direction)), zap.Error(err))
				return err
			}
			logger.Info("platform migration applied", zap.String("direction", string(direction)), zap.Uint("version", version))
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}
