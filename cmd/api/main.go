package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"paservices.dev/internal/auth"
	"paservices.dev/internal/config"
	"paservices.dev/internal/grpcauth"
	"paservices.dev/internal/httpapi"
	"paservices.dev/internal/identity"
	"paservices.dev/internal/obs"
	"paservices.dev/internal/ratelimit"
	"paservices.dev/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("auth service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store auth.Store
		ready httpapi.ReadyCheck
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		store = pgStore
		ready = httpapi.ReadyCheck{DB: pgStore.DB()}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	var rbacOpts []auth.RBACOption
	if cfg.IdentityProviderURL != "" {
		dir, err := identity.NewClient(cfg.IdentityProviderURL, cfg.IdentityProviderKey, nil)
		if err != nil {
			return err
		}
		rbacOpts = append(rbacOpts, auth.WithUserDirectory(dir))
	}
	rbac := auth.NewRBACService(store, rbacOpts...)

	baseline, err := auth.DefaultBaseline()
	if err != nil {
		return err
	}
	if cfg.BootstrapFile != "" {
		if baseline, err = auth.LoadBaselineFile(cfg.BootstrapFile); err != nil {
			return err
		}
	}
	if cfg.BootstrapOnStart || cfg.DatabaseURL == "" {
		report, err := rbac.Bootstrap(ctx, baseline)
		if err != nil {
			return err
		}
		log.Info("rbac baseline applied",
			"roles_created", report.RolesCreated,
			"permissions_created", report.PermissionsCreated,
			"grants_created", report.GrantsCreated,
		)
	}

	key := []byte(cfg.JWTSecret)
	signer, err := auth.NewSigner(key, cfg.TokenOptions()...)
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(key, cfg.TokenOptions()...)
	if err != nil {
		return err
	}

	var limiterOpts []ratelimit.Option
	if cfg.IsolateRateLimits() {
		limiterOpts = append(limiterOpts, ratelimit.WithIsolatedKeys())
	}
	admission, err := ratelimit.NewFixedWindow(cfg.TokenRate, limiterOpts...)
	if err != nil {
		return err
	}
	general := cfg.GeneralRate
	if cfg.IsolateRateLimits() {
		general = ratelimit.Rate{}
	}

	api := httpapi.New(ready, version,
		httpapi.WithIssuer(auth.NewTokenIssuer(store, store, signer)),
		httpapi.WithVerifier(verifier),
		httpapi.WithRBAC(rbac),
		httpapi.WithBaseline(baseline),
		httpapi.WithAdmission(admission),
		httpapi.WithGeneralLimit(general),
		httpapi.WithTrustedProxies(cfg.TrustedProxies...),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcOpts := []grpcauth.ServerOption{
		grpcauth.WithPublicMethods(grpcauth.HealthMethods...),
		grpcauth.WithMethodPermission(auth.PermAdminManage, grpcauth.ReflectionMethods...),
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpcauth.UnaryServerInterceptor(verifier, grpcOpts...)),
		grpc.StreamInterceptor(grpcauth.StreamServerInterceptor(verifier, grpcOpts...)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", srv.Addr, "version", version, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthServer.Shutdown()
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
