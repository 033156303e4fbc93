package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paservices.dev/internal/auth"
	"paservices.dev/internal/config"
	"paservices.dev/internal/obs"
	"paservices.dev/internal/store/pg"
	"paservices.dev/internal/superid"
)

var version = "0.1.0"

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("super id service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadVerifier()
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, "dev")
	log := obs.Logger()

	verifier, err := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.TokenOptions()...)
	if err != nil {
		return err
	}

	var rec superid.Recorder
	if cfg.DatabaseURL != "" {
		store, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		rec = store
	} else {
		log.Warn("DATABASE_URL not set, super ids are kept in memory")
		rec = superid.NewMemoryRecorder()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           superid.NewHandler(superid.NewService(rec), verifier, cfg.Rate),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("super id service listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
