package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbxark/formpilot/auth"
	"github.com/tbxark/formpilot/patch"
	"github.com/tbxark/formpilot/server"
	"github.com/tbxark/formpilot/session"
	"github.com/tbxark/formpilot/store"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address, overrides server.addr")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cm, err := newChatModel(ctx, cfg.Model)
	if err != nil {
		return err
	}
	driver, err := newDriver(cm, cfg.Agent)
	if err != nil {
		return err
	}
	recognizer, err := newRecognizer(cm, cfg.Agent)
	if err != nil {
		return err
	}
	forms, closer, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	tokens, err := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	locks := store.NewLocks()
	google, syncer := newSyncer(cfg.Provider, forms, forms, locks)
	if syncer == nil {
		slog.Info("Google Forms sync disabled, no client configured")
	}

	srv, err := server.New(server.Deps{
		Forms:          forms,
		Sessions:       session.NewManager(forms, driver, session.WithRecognizer(recognizer), session.WithLocks(locks)),
		Editor:         patch.NewEditor(forms, patch.WithLocks(locks)),
		Verifier:       tokens,
		Syncer:         syncer,
		Google:         google,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "model", cfg.Model.Model)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
