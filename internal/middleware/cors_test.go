package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(origins []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})
	req := httptest.NewRequest(method, "/generate", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	CORS(origins)(next).ServeHTTP(rec, req)
	return rec, called
}

func TestCORSWildcard(t *testing.T) {
	rec, called := serve([]string{"*"}, http.MethodPost, "https://app.example")
	if !called {
		t.Fatal("expected next handler to run")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("wildcard match must not allow credentials, got %q", got)
	}
}

func TestCORSExplicitOrigin(t *testing.T) {
	rec, _ := serve([]string{"https://app.example"}, http.MethodGet, "https://app.example")
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
}

func TestCORSRejectedOrigin(t *testing.T) {
	rec, called := serve([]string{"https://app.example"}, http.MethodGet, "https://evil.example")
	if !called {
		t.Fatal("expected next handler to run")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	rec, called := serve([]string{"*"}, http.MethodOptions, "https://app.example")
	if called {
		t.Error("preflight must not reach next handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
}
