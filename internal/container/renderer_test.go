package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	ensureErr error
	result    ExecResult
	execErr   error
	onExec    func(cmd []string)
	cmds      [][]string
}

func (f *fakeManager) EnsureRenderer(context.Context) (string, error) {
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	return "renderer-1", nil
}

func (f *fakeManager) Exec(_ context.Context, _ string, cmd []string) (ExecResult, error) {
	f.cmds = append(f.cmds, cmd)
	if f.onExec != nil {
		f.onExec(cmd)
	}
	return f.result, f.execErr
}

func (f *fakeManager) StopContainer(context.Context, string) error     { return nil }
func (f *fakeManager) IsRunning(context.Context, string) (bool, error) { return true, nil }
func (f *fakeManager) Ping(context.Context) error                      { return nil }

func newTestRenderer(t *testing.T, mgr *fakeManager) (*Renderer, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), "GenerateVideo", "m")
	require.NoError(t, err)
	r, err := NewRenderer(mgr, ws, 90*time.Second, nil)
	require.NoError(t, err)
	return r, ws
}

func writeVideo(t *testing.T, ws *workspace.Workspace, id string) {
	t.Helper()
	path := ws.VideoPath(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o644))
}

func TestRendererCommand(t *testing.T) {
	r, _ := newTestRenderer(t, &fakeManager{})
	assert.Equal(t,
		[]string{"timeout", "--kill-after=5", "90", "manim", "-qm", "abc.py", "GenerateVideo"},
		r.Command("abc"))
}

func TestRendererValidateSuccess(t *testing.T) {
	mgr := &fakeManager{result: ExecResult{ExitCode: 0, Output: "File ready"}}
	r, ws := newTestRenderer(t, mgr)
	mgr.onExec = func([]string) { writeVideo(t, ws, "ok") }

	out, err := r.Validate(context.Background(), "ok", []string{"from manim import *"})
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, "File ready", out.RawLog)

	script, err := os.ReadFile(ws.ScriptPath("ok"))
	require.NoError(t, err)
	assert.Equal(t, "from manim import *\n", string(script))
}

func TestRendererValidateDefect(t *testing.T) {
	mgr := &fakeManager{result: ExecResult{ExitCode: 1, Output: "NameError: name 'square' is not defined"}}
	r, _ := newTestRenderer(t, mgr)

	out, err := r.Validate(context.Background(), "bad", []string{"square.rotate()"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.Contains(t, out.RawLog, "NameError")
}

func TestRendererValidateTimeout(t *testing.T) {
	mgr := &fakeManager{result: ExecResult{ExitCode: domain.TimeoutExitCode}}
	r, _ := newTestRenderer(t, mgr)

	out, err := r.Validate(context.Background(), "slow", []string{"x"})
	require.NoError(t, err)
	assert.True(t, out.TimedOut())
}

func TestRendererValidateDeadline(t *testing.T) {
	mgr := &fakeManager{execErr: context.DeadlineExceeded}
	r, _ := newTestRenderer(t, mgr)

	out, err := r.Validate(context.Background(), "slow", []string{"x"})
	require.NoError(t, err)
	assert.True(t, out.TimedOut())
}

func TestRendererValidateNoOutput(t *testing.T) {
	mgr := &fakeManager{result: ExecResult{ExitCode: 0, Output: "Nothing to render"}}
	r, _ := newTestRenderer(t, mgr)

	out, err := r.Validate(context.Background(), "empty", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.Contains(t, out.RawLog, missingVideoMessage)
}

func TestRendererValidateInfrastructure(t *testing.T) {
	tests := []struct {
		name string
		mgr  *fakeManager
	}{
		{name: "ensure fails", mgr: &fakeManager{ensureErr: errors.New("docker down")}},
		{name: "exec fails", mgr: &fakeManager{execErr: errors.New("connection reset")}},
		{name: "manim missing", mgr: &fakeManager{result: ExecResult{ExitCode: 127, Output: "manim: not found"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRenderer(t, tt.mgr)
			_, err := r.Validate(context.Background(), "id", []string{"x"})
			assert.Error(t, err)
		})
	}
}

func TestNewRendererValidation(t *testing.T) {
	ws, err := workspace.New(t.TempDir(), "GenerateVideo", "m")
	require.NoError(t, err)
	_, err = NewRenderer(nil, ws, time.Second, nil)
	assert.Error(t, err)
	_, err = NewRenderer(&fakeManager{}, ws, 0, nil)
	assert.Error(t, err)
}
