// Package publish moves rendered videos out of the workspace to where
// clients can fetch them.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/ashureev/scenegen/internal/workspace"
)

const videoContentType = "video/mp4"

// ErrNoArtifact is returned when the workspace holds no video for a request.
var ErrNoArtifact = errors.New("no rendered artifact")

// Sink stores a local file under an object name and returns its public URL.
type Sink interface {
	Put(ctx context.Context, name, localPath string) (string, error)
}

// Publisher uploads rendered videos through a Sink and clears the
// workspace afterwards.
type Publisher struct {
	ws     *workspace.Workspace
	sink   Sink
	logger *slog.Logger
}

// New creates a Publisher.
func New(ws *workspace.Workspace, sink Sink, logger *slog.Logger) (*Publisher, error) {
	if ws == nil || sink == nil {
		return nil, fmt.Errorf("workspace and sink are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{ws: ws, sink: sink, logger: logger}, nil
}

// ObjectName returns the artifact name used for id.
func ObjectName(id string) string {
	return id + ".mp4"
}

// Publish uploads the rendered video for id and returns its URL.
func (p *Publisher) Publish(ctx context.Context, id string) (string, error) {
	path := p.ws.VideoPath(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w for %s", ErrNoArtifact, id)
		}
		return "", fmt.Errorf("stat artifact %s: %w", path, err)
	}

	start := time.Now()
	url, err := p.sink.Put(ctx, ObjectName(id), path)
	if err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", id, err)
	}
	p.logger.Info("Artifact published", "request_id", id, "url", url, "duration", time.Since(start))
	return url, nil
}

// Cleanup removes the script and rendered media for id.
func (p *Publisher) Cleanup(_ context.Context, id string) error {
	return p.ws.Cleanup(id)
}
