package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"paservices.dev/internal/config"
	"paservices.dev/internal/grpcauth"
	"paservices.dev/internal/obs"
	"paservices.dev/internal/tokencache"
)

// smoke runs the token flow end to end against live services: fetch a token,
// introspect it, request a batch of super ids with it, then make an
// authenticated gRPC health check.
func main() {
	superIDURL := os.Getenv("SUPER_ID_SERVICE_URL")
	if superIDURL == "" {
		superIDURL = "http://localhost:8081"
	}
	grpcAddr := os.Getenv("AUTH_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = "localhost:9090"
	}
	if err := run(strings.TrimRight(superIDURL, "/"), grpcAddr); err != nil {
		obs.Logger().Error("smoke test failed", "error", err)
		os.Exit(1)
	}
}

func run(superIDURL, grpcAddr string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	cache, err := tokencache.New(tokencache.Config{
		BaseURL:      cfg.AuthServiceURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		SafetyMargin: cfg.SafetyMargin(),
		HTTPClient:   &http.Client{Timeout: cfg.RequestTimeout},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var introspect struct {
		Active bool `json:"active"`
		Claims struct {
			Subject     string   `json:"sub"`
			Permissions []string `json:"permissions"`
		} `json:"claims"`
	}
	if err := callJSON(ctx, cache, http.MethodGet, cfg.AuthServiceURL+"/api/v1/auth/introspect", "", http.StatusOK, &introspect); err != nil {
		return fmt.Errorf("introspect: %w", err)
	}
	if !introspect.Active || introspect.Claims.Subject != cfg.ClientID {
		return fmt.Errorf("introspect: unexpected subject %q", introspect.Claims.Subject)
	}

	var batch struct {
		SuperIDs []string `json:"super_ids"`
	}
	if err := callJSON(ctx, cache, http.MethodPost, superIDURL+"/api/v1/super_ids", `{"count":3}`, http.StatusCreated, &batch); err != nil {
		return fmt.Errorf("generate super ids: %w", err)
	}
	if len(batch.SuperIDs) != 3 {
		return fmt.Errorf("expected 3 super ids, got %d", len(batch.SuperIDs))
	}
	for _, id := range batch.SuperIDs {
		if u, err := uuid.Parse(id); err != nil || u.Version() != 4 {
			return fmt.Errorf("super id %q is not a UUIDv4", id)
		}
	}

	if err := checkGRPC(ctx, cache, grpcAddr); err != nil {
		return fmt.Errorf("grpc health: %w", err)
	}

	obs.Logger().Info("smoke test passed", "client_id", cfg.ClientID, "super_ids", batch.SuperIDs)
	return nil
}

func checkGRPC(ctx context.Context, cache *tokencache.Cache, addr string) error {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpcauth.UnaryClientInterceptor(cache)),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", resp.GetStatus())
	}
	return nil
}

func callJSON(ctx context.Context, cache *tokencache.Cache, method, url, body string, want int, dst any) error {
	resp, err := cache.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if body != "" {
			r = strings.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, err
		}
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
