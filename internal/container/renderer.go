package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/workspace"
)

// killGrace is how long `timeout` waits after SIGTERM before sending SIGKILL.
const killGrace = 5 * time.Second

// missingVideoMessage is appended to the log when manim exits cleanly without
// rendering anything, which usually means the scene class name is wrong.
const missingVideoMessage = "renderer produced no scene output"

// Renderer validates programs by rendering them in the sandbox container.
type Renderer struct {
	mgr       Manager
	ws        *workspace.Workspace
	timeLimit time.Duration
	logger    *slog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(mgr Manager, ws *workspace.Workspace, timeLimit time.Duration, logger *slog.Logger) (*Renderer, error) {
	if mgr == nil || ws == nil {
		return nil, fmt.Errorf("container manager and workspace are required")
	}
	if timeLimit <= 0 {
		return nil, fmt.Errorf("render time limit must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{mgr: mgr, ws: ws, timeLimit: timeLimit, logger: logger}, nil
}

// Command returns the command line that renders the script for id.
func (r *Renderer) Command(id string) []string {
	secs := int(math.Ceil(r.timeLimit.Seconds()))
	return []string{
		"timeout", "--kill-after=" + strconv.Itoa(int(killGrace.Seconds())), strconv.Itoa(secs),
		"manim", "-q" + r.ws.Quality(), r.ws.ScriptName(id), r.ws.Scene(),
	}
}

// Validate writes the program, renders it and reports the exit code with the
// combined output. Errors are reserved for sandbox faults.
func (r *Renderer) Validate(ctx context.Context, id string, lines []string) (domain.RenderOutcome, error) {
	if err := r.ws.Write(id, lines); err != nil {
		return domain.RenderOutcome{}, fmt.Errorf("write script: %w", err)
	}

	containerID, err := r.mgr.EnsureRenderer(ctx)
	if err != nil {
		return domain.RenderOutcome{}, fmt.Errorf("ensure renderer: %w", err)
	}

	started := time.Now()
	res, err := r.mgr.Exec(ctx, containerID, r.Command(id))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn("Render deadline reached before the sandbox time limit", "request_id", id, "elapsed", time.Since(started))
			return domain.RenderOutcome{ExitCode: domain.TimeoutExitCode, RawLog: "render exceeded time limit"}, nil
		}
		return domain.RenderOutcome{}, fmt.Errorf("exec renderer: %w", err)
	}

	switch res.ExitCode {
	case 125, 126, 127:
		// timeout(1) could not run manim at all.
		return domain.RenderOutcome{}, fmt.Errorf("renderer command unavailable (exit %d): %s", res.ExitCode, res.Output)
	case 0:
		if !r.ws.HasVideo(id) {
			return domain.RenderOutcome{ExitCode: 1, RawLog: res.Output + "\n" + missingVideoMessage}, nil
		}
	}

	r.logger.Debug("Render finished", "request_id", id, "exit_code", res.ExitCode, "elapsed", time.Since(started))
	return domain.RenderOutcome{ExitCode: res.ExitCode, RawLog: res.Output}, nil
}
