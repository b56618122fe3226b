//go:build e2e

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/model"
	"github.com/parlor/parlor/internal/repository"
)

// These run against a live server (PARLOR_API_URL) and its database.

func e2eClient(t *testing.T, scopes ...string) *apiClient {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatalf("DATABASE_URL is required for e2e tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	defer repo.Close()

	out, err := bootstrapKey(ctx, repo, &bootstrapOptions{
		userID: "e2e",
		email:  "e2e@parlor.local",
		name:   "e2e-" + t.Name(),
		env:    auth.EnvTest,
	}, scopes, time.Now().UTC())
	if err != nil {
		t.Fatalf("bootstrap key: %v", err)
	}

	client, err := newAPIClient(&globalOptions{
		apiURL: envOr("PARLOR_API_URL", "http://localhost:8080"),
		apiKey: out.Key,
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func TestE2EProfile(t *testing.T) {
	client := e2eClient(t, model.ScopeRead)

	profile, err := client.Profile(context.Background())
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.User.Email != "e2e@parlor.local" {
		t.Errorf("email = %q", profile.User.Email)
	}
	if profile.Usage.Daily == nil || profile.Usage.ByModel == nil {
		t.Error("usage views must be arrays, never null")
	}
}

func TestE2EMCPRefresh(t *testing.T) {
	admin := e2eClient(t, model.ScopeAdmin)

	_, err := admin.RefreshMCP(context.Background())
	var apiErr *apiError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest:
		if apiErr.Message != "MCP servers not configured" {
			t.Errorf("400 message = %q", apiErr.Message)
		}
	default:
		t.Fatalf("refresh: %v", err)
	}

	if _, err := admin.Tools(context.Background()); err != nil {
		t.Fatalf("tools: %v", err)
	}
}

func TestE2EMCPRefreshRequiresAdmin(t *testing.T) {
	reader := e2eClient(t, model.ScopeRead)

	_, err := reader.RefreshMCP(context.Background())
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("refresh with read key: err = %v, want 403", err)
	}
}
