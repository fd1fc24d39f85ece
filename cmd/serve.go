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

	"github.com/sells-group/prospect-cli/internal/api"
	"github.com/sells-group/prospect-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		env, err := initApp(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		startMonitoring(ctx, env)

		srv := api.New(ctx, env.Orchestrator, env.Store, env.Cache)
		err = startServer(ctx, srv.Handler(cfg.Server.AllowedOrigins), resolvePort(servePort, cfg.Server.Port))

		// A running batch observes ctx and stops at its next wave boundary.
		srv.Wait()
		return err
	},
}

// startMonitoring launches the alert checker when a webhook is configured.
func startMonitoring(ctx context.Context, env *appEnv) *monitoring.Checker {
	if cfg.Monitoring.WebhookURL == "" {
		return nil
	}
	var state func() string
	if env.Orchestrator != nil {
		state = func() string { return string(env.Orchestrator.State()) }
	}
	checker := monitoring.NewChecker(
		monitoring.NewCollector(env.Store, state),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
	go checker.Run(ctx)
	return checker
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler on port until ctx is cancelled.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
