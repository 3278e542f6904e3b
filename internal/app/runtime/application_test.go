package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/corsairs-gg/quartermaster/internal/config"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

func TestNewApplicationWithDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Recruitment.AuditLogPath = filepath.Join(t.TempDir(), "audit.jsonl")

	app, err := newApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	// Without a DSN the app runs on in-memory storage, and without a
	// discord token no gateway is opened.
	if app.db != nil {
		t.Fatal("expected no database handle for in-memory storage")
	}
	if app.gateway != nil {
		t.Fatal("expected no chat gateway without a token")
	}
	if app.orch == nil {
		t.Fatal("orchestrator must be wired even without a gateway")
	}

	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestBuildStoresRequiresReachableDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = "postgres://nobody@127.0.0.1:1/qm?sslmode=disable&connect_timeout=1"

	if _, _, err := buildStores(cfg, logger.NewDefault("test")); err == nil {
		t.Fatal("expected error for unreachable database")
	}
}

func TestBuildMiddlewareChain(t *testing.T) {
	cfg := config.Default()
	log := logger.NewDefault("test")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := buildMiddleware(cfg, log, inner)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 through the chain, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id on the response")
	}

	// Inbound request IDs are preserved.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id to be preserved, got %q", got)
	}
}
