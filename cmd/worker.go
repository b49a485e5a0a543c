package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerSchedule bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued scrape, enrichment and campaign tasks",
	Long:  "Processes background tasks until interrupted. Use with serve --no-worker to scale task execution separately from the API.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)
		if err := env.startBackground(gctx, g, workerSchedule); err != nil {
			return err
		}
		return g.Wait()
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerSchedule, "schedule", false, "also run the cron scheduler")
	rootCmd.AddCommand(workerCmd)
}
