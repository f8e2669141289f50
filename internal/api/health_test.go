//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthOK(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
		"docker":   pingFunc(func(context.Context) error { return nil }),
	}, time.Second)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	got := decodeBody(t, w)
	if got["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", got["status"])
	}
}

func TestHealthDegraded(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
		"docker":   pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}, time.Second)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
	got := decodeBody(t, w)
	checks, ok := got["checks"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected checks map, got %v", got["checks"])
	}
	if checks["docker"] != "unavailable" || checks["database"] != "ok" {
		t.Errorf("Unexpected checks: %v", checks)
	}
}
