package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/internal/scheduler"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the scheduled dispatch cycles",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("no-schedule", false, "Serve the API only; cycles run on manual trigger")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}
	noSchedule, _ := cmd.Flags().GetBool("no-schedule")

	a, err := initApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var sched *scheduler.Scheduler
	if !noSchedule {
		sched, err = scheduler.New(scheduler.Config{
			Schedule:      cfg.Dispatch.Schedule,
			SweepSchedule: cfg.Dispatch.SweepSchedule,
			CycleTimeout:  cfg.Dispatch.CycleTimeout,
		}, a.dispatcher, a.cooldowns, logger)
		if err != nil {
			return err
		}
		sched.Start(ctx)
	}

	apiServer := server.NewServer(server.Deps{
		Dispatcher:   a.dispatcher,
		Limiter:      a.limiter,
		Registry:     a.store,
		Cooldowns:    a.cooldowns,
		CycleTimeout: cfg.Dispatch.CycleTimeout,
	}, logger)

	readTimeout := cfg.Server.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := apiServer.WriteTimeout(cfg.Server.WriteTimeout)

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "listen", cfg.Server.Listen, "schedule", !noSchedule)
		fmt.Fprintf(os.Stderr, "Weather Alert Guardian listening on %s\n", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if sched != nil {
			sched.Stop()
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	// Cancelling ctx makes a running cycle abandon its remaining locations.
	cancel()
	if sched != nil {
		sched.Stop()
	}

	logger.Info("server stopped")
	return nil
}
