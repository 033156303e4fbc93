package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"paservices.dev/internal/auth"
)

func TestCreateClientAssignsRoles(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryStore()
	rbac := auth.NewRBACService(store, auth.WithHashParams(auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}))
	baseline, err := loadBaseline("")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if _, err := rbac.Bootstrap(ctx, baseline); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	var out bytes.Buffer
	if err := createClient(ctx, rbac, &out, auth.NewClientInput{Name: "scraper"}, []string{"Service"}); err != nil {
		t.Fatalf("createClient: %v", err)
	}
	var resp struct {
		Client       auth.Client `json:"client"`
		ClientSecret string      `json:"client_secret"`
	}
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if resp.ClientSecret == "" || resp.Client.ID == "" {
		t.Fatalf("unexpected output %s", out.String())
	}
	caps, err := rbac.ResolveCapabilities(ctx, resp.Client.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !caps.HasPermission(auth.PermSuperIDGenerate) {
		t.Fatalf("expected service permissions, got %+v", caps)
	}
}

func TestCreateClientRejectsUnknownRole(t *testing.T) {
	ctx := context.Background()
	rbac := auth.NewRBACService(auth.NewMemoryStore())

	var out bytes.Buffer
	if err := createClient(ctx, rbac, &out, auth.NewClientInput{Name: "scraper"}, []string{"ghost"}); err == nil {
		t.Fatal("expected unknown role error")
	}
	clients, err := rbac.ListClients(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clients) != 0 {
		t.Fatalf("client should not be created, got %d", len(clients))
	}
}
