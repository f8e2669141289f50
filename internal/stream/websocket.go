// Package stream serves generation progress over a WebSocket.
package stream

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/scenegen/internal/api"
	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/pipeline"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 30 * time.Second
)

// Event types sent to clients.
const (
	EventStarted = "started"
	EventAttempt = "attempt"
	EventResult  = "result"
	EventError   = "error"
)

// Event is one progress message.
type Event struct {
	Type         string            `json:"type"`
	ID           string            `json:"id,omitempty"`
	Attempt      int               `json:"attempt,omitempty"`
	Result       string            `json:"result,omitempty"`
	ExitCode     *int              `json:"exit_code,omitempty"`
	Diagnosis    *domain.Diagnosis `json:"diagnosis,omitempty"`
	Status       string            `json:"status,omitempty"`
	ArtifactLink string            `json:"artifactLink,omitempty"`
	Detail       string            `json:"detail,omitempty"`
}

// WebSocketHandler runs one generation per connection and streams its progress.
type WebSocketHandler struct {
	base          *api.Handler
	runner        api.Runner
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(base *api.Handler, runner api.Runner, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		base:          base,
		runner:        runner,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Info("WebSocket connection request", "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "generation finished"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	readCtx, cancelRead := context.WithTimeout(r.Context(), readTimeout)
	_, message, err := ws.Read(readCtx)
	cancelRead()
	if err != nil {
		if websocket.CloseStatus(err) != -1 {
			slog.Debug("WebSocket closed by client before request")
		} else {
			slog.Warn("WebSocket read error", "error", err)
		}
		return
	}

	body, err := api.DecodeGenerateRequest(bytes.NewReader(message))
	if err != nil {
		h.send(ws, Event{Type: EventError, Detail: err.Error()})
		return
	}

	// CloseRead keeps reading control frames and cancels ctx once the
	// client goes away, which stops the loop between steps.
	ctx := ws.CloseRead(r.Context())
	req := h.base.NewGenerationRequest(body)
	slog.Info("Streaming generation", "request_id", req.ID, "enrichment", req.Enrichment)

	_, err = h.runner.Run(ctx, req, &observer{h: h, ws: ws})
	if err != nil && pipeline.KindOf(err) == domain.FailureCanceled {
		slog.Info("WebSocket client left before generation finished", "request_id", req.ID)
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) send(ws *websocket.Conn, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, ev); err != nil {
		slog.Debug("Failed to send event", "type", ev.Type, "error", err)
	}
}

// observer forwards pipeline events to one connection.
type observer struct {
	h  *WebSocketHandler
	ws *websocket.Conn
}

func (o *observer) Started(_ context.Context, req domain.GenerationRequest) {
	o.h.send(o.ws, Event{Type: EventStarted, ID: req.ID})
}

func (o *observer) AttemptFinished(_ context.Context, req domain.GenerationRequest, rec domain.AttemptRecord) {
	result := "success"
	if !rec.Succeeded() {
		result = string(rec.Failure)
	}
	ev := Event{Type: EventAttempt, ID: req.ID, Attempt: rec.Number, Result: result, Diagnosis: rec.Diagnosis}
	if rec.Failure != domain.FailureParse && rec.Failure != domain.FailureInfrastructure {
		exitCode := rec.ExitCode
		ev.ExitCode = &exitCode
	}
	o.h.send(o.ws, ev)
}

func (o *observer) Finished(_ context.Context, req domain.GenerationRequest, res pipeline.Result, err error) {
	if err != nil {
		o.h.send(o.ws, Event{Type: EventError, ID: req.ID, Detail: api.FailureMessage(err)})
		return
	}
	o.h.send(o.ws, Event{Type: EventResult, ID: res.ID, Status: "success", ArtifactLink: res.ArtifactURL})
}
