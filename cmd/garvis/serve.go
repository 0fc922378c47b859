package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"garvis/internal/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bot on the enabled chat channels",
		Long: `Starts Slack (Socket Mode) and/or Telegram, the agent dispatcher, and an
HTTP listener on app.port with /healthz and the metrics endpoint.
Press Ctrl+C to stop.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := logger.New(cfg.App)
	if err != nil {
		return err
	}
	defer closeLog()

	a := newApp(cfg, log)
	channels := a.chatChannels()
	if len(channels) == 0 {
		return errors.New("no chat channels enabled: configure Slack or Telegram")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.bot.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.bot.Run(gctx)
		return nil
	})
	for _, ch := range channels {
		g.Go(func() error {
			if err := ch.Start(gctx, a.messages); err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			return nil
		})
		log.Info("channel enabled", "channel", ch.Name())
	}

	if cfg.App.Port > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.App.Port),
			Handler:           a.httpHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("http listening", "addr", srv.Addr, "metrics", cfg.Metrics.Enabled)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("garvis started. Press Ctrl+C to stop.", "version", version, "environment", cfg.App.Env)
	runErr := g.Wait()
	if runErr != nil {
		log.Error("shutting down after error", "err", runErr)
	} else {
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, ch := range channels {
		_ = ch.Stop()
	}
	a.bot.Stop(shutdownCtx)
	a.messages.Close()
	log.Info("shutdown complete")
	return runErr
}
