package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-cli/internal/api"
	"github.com/sells-group/prospect-cli/internal/schedule"
)

var (
	servePort     int
	serveNoWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with the background worker and scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initApp(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.NewRouter(env.apiDeps()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if !serveNoWorker {
			if err := env.startBackground(gctx, g, true); err != nil {
				return err
			}
		}
		return g.Wait()
	},
}

// startBackground adds the worker, the AMQP listener and optionally the
// scheduler to g.
func (e *appEnv) startBackground(ctx context.Context, g *errgroup.Group, withSchedule bool) error {
	worker := e.newWorker()
	g.Go(func() error { return worker.Run(ctx) })

	if e.AMQP != nil {
		g.Go(func() error { return e.AMQP.Listen(ctx) })
	}

	if withSchedule {
		sched, err := schedule.New(schedule.Config{
			DueCampaigns: cfg.Schedule.DueCampaigns,
			Enrichment:   cfg.Schedule.Enrichment,
			EnrichLimit:  cfg.Enrich.BatchLimit,
		}, e.Dispatcher, e.Queue)
		if err != nil {
			return err
		}
		if sched.Len() > 0 {
			g.Go(func() error { return sched.Run(ctx) })
		}
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "serve the API only; run tasks with a separate worker")
	rootCmd.AddCommand(serveCmd)
}
