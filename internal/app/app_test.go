package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xscopehub/consultd/internal/config"
)

func memoryConfig(t *testing.T, seeds ...config.ProfileSeed) config.Config {
	t.Helper()
	t.Setenv("AUTH_MODE", "header")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Audit.Enabled = false
	cfg.Store.Driver = "memory"
	cfg.Storage.Driver = "memory"
	cfg.Store.Profiles = seeds
	return cfg
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildMemoryServesRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gp := uuid.New()
	cfg := memoryConfig(t, config.ProfileSeed{ID: gp.String(), Role: "gp"})

	reg := prometheus.NewRegistry()
	a, err := Build(context.Background(), cfg, quiet(), reg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/api/cases", bytes.NewBufferString(`{"specialty_requested":"cardiology","title":"syncope"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", gp.String())
	w := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "consult_notifications_inflight") {
		t.Fatalf("service metrics not registered:\n%s", w.Body.String())
	}
}

func TestBuildRejectsBadSeed(t *testing.T) {
	tests := []config.ProfileSeed{
		{ID: "nope", Role: "gp"},
		{ID: uuid.NewString(), Role: "nurse"},
	}
	for _, seed := range tests {
		if _, err := Build(context.Background(), memoryConfig(t, seed), quiet(), nil); err == nil {
			t.Errorf("seed %+v accepted", seed)
		}
	}
}

func TestRunClosesOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := memoryConfig(t)
	cfg.Server.Address = "127.0.0.1:0"
	a, err := Build(context.Background(), cfg, quiet(), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, time.Second) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	if len(a.closers) != 0 {
		t.Fatal("dependencies not released")
	}
}
