package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local copies artifacts into a directory served by the HTTP server.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates a Local sink. baseURL is the public prefix the directory
// is served under, such as http://localhost:8001/artifacts.
func NewLocal(dir, baseURL string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory %s: %w", dir, err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the artifact directory.
func (l *Local) Dir() string { return l.dir }

// Put copies localPath into the artifact directory.
func (l *Local) Put(ctx context.Context, name, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	// Write to a temp file first so readers never see a partial video.
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(l.dir, name)); err != nil {
		return "", fmt.Errorf("move artifact into place: %w", err)
	}
	return l.baseURL + "/" + name, nil
}
