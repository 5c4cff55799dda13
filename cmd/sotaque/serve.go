package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/sotaque/internal/api"
	"github.com/verte-zerg/sotaque/internal/app"
	"github.com/verte-zerg/sotaque/internal/observe"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()
	addr := e.cfg.Server.Addr
	if cmd.Flags().Changed("addr") {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := observe.InitProvider()
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			e.logger.Error("metrics shutdown failed", slog.Any("error", err))
		}
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider())
	if err != nil {
		return err
	}

	st, closeStore, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	c, err := app.NewCoach(e.cfg, st, metrics, e.logger)
	if err != nil {
		return err
	}

	opts := []api.Option{
		api.WithMetrics(metrics, provider.Handler()),
		api.WithLogger(e.logger),
		api.WithExamTTL(e.cfg.Server.ExamTTL),
		api.WithMaxUpload(e.cfg.Server.MaxUploadBytes),
	}
	cache, closeTTS, err := app.NewTTS(ctx, e.cfg.TTS)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeTTS(); cerr != nil {
			e.logger.Error("tts close failed", slog.Any("error", cerr))
		}
	}()
	opts = append(opts, api.WithAudio(cache, e.cfg.TTS.Lang))

	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewServer(c, st, e.modules, opts...).Router(),
		ReadTimeout:  e.cfg.Server.ReadTimeout,
		WriteTimeout: e.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("http server listening", slog.String("addr", addr), slog.Int("modules", len(e.modules)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	e.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
