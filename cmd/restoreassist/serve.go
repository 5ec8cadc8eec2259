package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/restoreassist/pkg/config"
	"github.com/platinummonkey/restoreassist/pkg/jobs"
	"github.com/platinummonkey/restoreassist/pkg/observability"
	"github.com/platinummonkey/restoreassist/pkg/server"
	"github.com/platinummonkey/restoreassist/pkg/storage/postgres"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Long: `Run the API server, the health and metrics listener, and the
housekeeping scheduler.

Requires DATABASE_URL, TOKEN_ENCRYPTION_KEY, GOOGLE_CLIENT_ID,
GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URI.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	if serveMigrate {
		m, err := postgres.NewMigrator(cfg.Storage.PostgresURL)
		if err != nil {
			return err
		}
		err = m.Up()
		_ = m.Close()
		if err != nil {
			return err
		}
		logger.Info("database schema is current")
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, b)
	if err != nil {
		b.close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.policy.Watch(runCtx, logger); err != nil {
		logger.WithError(err).Warn("folder policy changes will not be picked up until restart")
	}

	scheduler, err := jobs.NewScheduler(housekeeping(cfg, logger, a.metrics, b), cfg.Jobs.CleanupSchedule)
	if err != nil {
		b.close()
		return err
	}
	scheduler.Start()

	checker := observability.NewHealthChecker(b.db, b.redis, version)
	if b.objects != nil {
		checker.AddCheck("s3", b.objects.HealthCheck)
	}

	apiServer := a.server.HTTPServer()
	healthServer := server.HealthServer(cfg.Server, checker, a.registry)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.AddServer(apiServer)
	shutdown.AddServer(healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error { return b.close() })
	shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	shutdown.RegisterShutdownFunc(scheduler.Stop)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})

	listenErr := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		go func(srv *http.Server) {
			defer observability.RecoverPanic(logger, "http server "+srv.Addr)
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				listenErr <- err
			}
		}(srv)
	}

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	failed := make(chan error, 1)
	go func() {
		select {
		case err := <-listenErr:
			logger.WithError(err).Error("server failed to listen")
			failed <- err
			stopWaiting()
		case <-waitCtx.Done():
		}
	}()

	shutdownErr := shutdown.WaitForSignal(waitCtx)
	select {
	case err := <-failed:
		return errors.Join(err, shutdownErr)
	default:
		return shutdownErr
	}
}
