package cli

import (
	"github.com/spf13/cobra"

	"github.com/railzwaylabs/experiment-broker/internal/app"
	"github.com/railzwaylabs/experiment-broker/internal/config"
)

func newServeCmd() *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker: periodic passes, outbox processor and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if migrateFirst || config.Load().MigrateOnStart {
				if err := app.RunMigrations("up"); err != nil {
					return err
				}
			}

			app.RunServer()
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "Run database migrations before starting the server")

	return cmd
}
