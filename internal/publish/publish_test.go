package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/scenegen/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	names []string
	err   error
}

func (f *fakeSink) Put(_ context.Context, name, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, name)
	return "https://cdn.example/" + name, nil
}

func newWorkspaceWithVideo(t *testing.T, id string) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), "GenerateVideo", "m")
	require.NoError(t, err)
	path := ws.VideoPath(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("video-bytes"), 0o644))
	return ws
}

func TestPublisherPublish(t *testing.T) {
	ws := newWorkspaceWithVideo(t, "abc")
	sink := &fakeSink{}
	p, err := New(ws, sink, nil)
	require.NoError(t, err)

	url, err := p.Publish(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/abc.mp4", url)
	assert.Equal(t, []string{"abc.mp4"}, sink.names)
}

func TestPublisherPublishMissingVideo(t *testing.T) {
	ws, err := workspace.New(t.TempDir(), "GenerateVideo", "m")
	require.NoError(t, err)
	p, err := New(ws, &fakeSink{}, nil)
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestPublisherPublishSinkError(t *testing.T) {
	ws := newWorkspaceWithVideo(t, "abc")
	p, err := New(ws, &fakeSink{err: errors.New("403 forbidden")}, nil)
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), "abc")
	assert.Error(t, err)
}

func TestPublisherCleanup(t *testing.T) {
	ws := newWorkspaceWithVideo(t, "abc")
	require.NoError(t, ws.Write("abc", []string{"x"}))
	p, err := New(ws, &fakeSink{}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Cleanup(context.Background(), "abc"))
	assert.NoFileExists(t, ws.VideoPath("abc"))
	assert.NoFileExists(t, ws.ScriptPath("abc"))
}

func TestLocalPut(t *testing.T) {
	ws := newWorkspaceWithVideo(t, "abc")
	dir := filepath.Join(t.TempDir(), "artifacts")
	local, err := NewLocal(dir, "http://localhost:8001/artifacts/")
	require.NoError(t, err)

	url, err := local.Put(context.Background(), "abc.mp4", ws.VideoPath("abc"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001/artifacts/abc.mp4", url)

	data, err := os.ReadFile(filepath.Join(dir, "abc.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLocalPutRejectsPaths(t *testing.T) {
	local, err := NewLocal(t.TempDir(), "http://x")
	require.NoError(t, err)
	_, err = local.Put(context.Background(), "../evil.mp4", "/dev/null")
	assert.Error(t, err)
}

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "https://storage.googleapis.com/scene-videos/abc.mp4", objectURL("scene-videos", "abc.mp4"))
}
