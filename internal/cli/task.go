package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/railzwaylabs/experiment-broker/internal/app"
	"github.com/railzwaylabs/experiment-broker/internal/broker"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task [push-queue|live|complete|push <experiment-id>]",
		Short: "Run one broker operation once",
		Long: `Run one broker operation once and exit.

  push-queue   drain the publication queue
  live         mark accepted experiments live once published
  complete     mark live experiments complete once unpublished
  push <id>    push one experiment in Review immediately`,
		ValidArgs: []string{broker.PassPushQueue, broker.PassLive, broker.PassComplete, "push"},
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("task name required")
			}
			if args[0] == "push" {
				return cobra.ExactArgs(2)(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return app.RunTask(args[0], args[1:])
		},
	}

	return cmd
}
