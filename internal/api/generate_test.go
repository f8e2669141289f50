//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

type fakeRunner struct {
	mu   sync.Mutex
	reqs []domain.GenerationRequest
	err  error
}

func (f *fakeRunner) Run(_ context.Context, req domain.GenerationRequest, observers ...pipeline.Observer) (pipeline.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	ctx := context.Background()
	for _, o := range observers {
		o.Started(ctx, req)
	}
	if f.err != nil {
		for _, o := range observers {
			o.Finished(ctx, req, pipeline.Result{}, f.err)
		}
		return pipeline.Result{}, f.err
	}
	rec := domain.AttemptRecord{Number: 1, Code: []string{"x"}}
	res := pipeline.Result{ID: req.ID, ArtifactURL: "https://artifacts.example/" + req.ID + ".mp4", Attempts: []domain.AttemptRecord{rec}}
	for _, o := range observers {
		o.AttemptFinished(ctx, req, rec)
		o.Finished(ctx, req, res, nil)
	}
	return res, nil
}

type fakeRepo struct {
	gen      *domain.Generation
	attempts []domain.AttemptRecord
	err      error
}

func (f *fakeRepo) CreateGeneration(context.Context, *domain.Generation) error { return nil }
func (f *fakeRepo) RecordAttempt(context.Context, string, domain.AttemptRecord) error {
	return nil
}
func (f *fakeRepo) CompleteGeneration(context.Context, string, domain.GenerationStatus, string, domain.FailureKind) error {
	return nil
}
func (f *fakeRepo) GetGeneration(_ context.Context, id string) (*domain.Generation, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.gen == nil || f.gen.ID != id {
		return nil, nil
	}
	return f.gen, nil
}
func (f *fakeRepo) ListAttempts(context.Context, string) ([]domain.AttemptRecord, error) {
	return f.attempts, nil
}
func (f *fakeRepo) PruneGenerations(context.Context, time.Time) (int64, error) { return 0, nil }
func (f *fakeRepo) Ping(context.Context) error                                 { return nil }
func (f *fakeRepo) Close() error                                               { return nil }

func newTestRouter(runner Runner, repo *fakeRepo) http.Handler {
	r := chi.NewRouter()
	var h *Handler
	if repo == nil {
		h = NewHandler(runner, nil, func() string { return "fixed-id" })
	} else {
		h = NewHandler(runner, repo, func() string { return "fixed-id" })
	}
	NewGenerateHandler(h).RegisterRoutes(r)
	return r
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var got map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return got
}

func TestGenerateSuccess(t *testing.T) {
	runner := &fakeRunner{}
	router := newTestRouter(runner, nil)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"query":"draw a rotating square","enrichment":true}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decodeBody(t, w)
	if got["status"] != "success" || got["id"] != "fixed-id" {
		t.Errorf("Unexpected body: %v", got)
	}
	if got["artifactLink"] != "https://artifacts.example/fixed-id.mp4" {
		t.Errorf("Unexpected artifactLink: %v", got["artifactLink"])
	}

	if len(runner.reqs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runner.reqs))
	}
	if runner.reqs[0].Query != "draw a rotating square" || !runner.reqs[0].Enrichment {
		t.Errorf("Unexpected request: %+v", runner.reqs[0])
	}
}

func TestGenerateEnrichmentDefaultsOff(t *testing.T) {
	runner := &fakeRunner{}
	router := newTestRouter(runner, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"query":"draw a circle"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if runner.reqs[0].Enrichment {
		t.Error("Expected enrichment to default to false")
	}
}

func TestGenerateBadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty body", body: "", want: msgInvalidRequestBody},
		{name: "invalid json", body: "{", want: msgInvalidRequestBody},
		{name: "blank query", body: `{"query":"   "}`, want: msgEmptyQuery},
		{name: "missing query", body: `{"enrichment":true}`, want: msgEmptyQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			router := newTestRouter(runner, nil)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(tt.body)))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", w.Code)
			}
			if got := decodeBody(t, w); got["detail"] != tt.want {
				t.Errorf("Expected detail %q, got %v", tt.want, got["detail"])
			}
			if len(runner.reqs) != 0 {
				t.Error("Runner should not be called for invalid input")
			}
		})
	}
}

func TestGenerateTerminalFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "budget exhausted",
			err:  &pipeline.TerminalError{Kind: domain.FailureBudgetExhausted, Attempts: 4, Err: pipeline.ErrRetryBudgetExhausted},
			want: msgRenderFailed,
		},
		{
			name: "infrastructure",
			err:  &pipeline.TerminalError{Kind: domain.FailureInfrastructure, Attempts: 1, Err: errors.New("docker down")},
			want: msgRenderUnavailable,
		},
		{
			name: "canceled",
			err:  &pipeline.TerminalError{Kind: domain.FailureCanceled, Err: context.Canceled},
			want: msgRenderCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeRunner{err: tt.err}, nil)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"query":"q"}`)))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", w.Code)
			}
			got := decodeBody(t, w)
			if got["detail"] != tt.want {
				t.Errorf("Expected detail %q, got %v", tt.want, got["detail"])
			}
			if strings.Contains(w.Body.String(), "docker down") {
				t.Error("Internal error text leaked to client")
			}
		})
	}
}

func TestGetGeneration(t *testing.T) {
	repo := &fakeRepo{
		gen: &domain.Generation{ID: "g1", Query: "q", Status: domain.StatusFailed, FailureKind: domain.FailureBudgetExhausted, Attempts: 1},
		attempts: []domain.AttemptRecord{{
			Number: 1, Failure: domain.FailureValidation, ExitCode: 1,
			Diagnosis: &domain.Diagnosis{ErrorType: "NameError", ErrorMessage: "square is not defined"},
		}},
	}
	router := newTestRouter(&fakeRunner{}, repo)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/generations/g1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got GenerationResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.Generation == nil || got.ID != "g1" || got.FailureKind != domain.FailureBudgetExhausted {
		t.Errorf("Unexpected generation: %+v", got.Generation)
	}
	if len(got.AttemptRecords) != 1 || got.AttemptRecords[0].Diagnosis == nil || got.AttemptRecords[0].Diagnosis.ErrorType != "NameError" {
		t.Errorf("Unexpected attempts: %+v", got.AttemptRecords)
	}
}

func TestGetGenerationNotFound(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeRepo{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/generations/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestGetGenerationRepoError(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeRepo{err: errors.New("disk I/O error")})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/generations/g1", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestGetGenerationWithoutRepo(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/generations/g1", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
