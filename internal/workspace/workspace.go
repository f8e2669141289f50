// Package workspace manages the directory shared between the service and the
// renderer container: scripts go in, rendered media comes out.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	mediaDir  = "media"
	videosDir = "videos"
	imagesDir = "images"
)

// sharedDirs hold render intermediates that manim does not key by script.
var sharedDirs = []string{
	filepath.Join(mediaDir, "texts"),
	filepath.Join(mediaDir, "Tex"),
}

// qualityDirs maps manim quality flags to the output directory they produce.
var qualityDirs = map[string]string{
	"l": "480p15",
	"m": "720p30",
	"h": "1080p60",
	"k": "2160p60",
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidID is returned for ids that are unsafe to use as file names.
var ErrInvalidID = errors.New("invalid workspace id")

// Workspace lays out per-request files under a single root.
type Workspace struct {
	root    string
	scene   string
	quality string
}

// New creates the root directory if needed.
func New(root, scene, quality string) (*Workspace, error) {
	if _, ok := qualityDirs[quality]; !ok {
		return nil, fmt.Errorf("unsupported quality %q", quality)
	}
	if scene == "" {
		return nil, fmt.Errorf("scene name is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", root, err)
	}
	return &Workspace{root: root, scene: scene, quality: quality}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Scene returns the scene class rendered from every script.
func (w *Workspace) Scene() string { return w.scene }

// Quality returns the manim quality flag.
func (w *Workspace) Quality() string { return w.quality }

// ScriptName returns the script file name relative to the root.
func (w *Workspace) ScriptName(id string) string {
	return id + ".py"
}

// ScriptPath returns the absolute script path.
func (w *Workspace) ScriptPath(id string) string {
	return filepath.Join(w.root, w.ScriptName(id))
}

// VideoPath returns where the renderer writes the finished video for id.
func (w *Workspace) VideoPath(id string) string {
	return filepath.Join(w.root, mediaDir, videosDir, id, qualityDirs[w.quality], w.scene+".mp4")
}

// Write stores the program for id, one newline-terminated line per entry,
// replacing any previous script.
func (w *Workspace) Write(id string, lines []string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(w.ScriptPath(id), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write script %s: %w", id, err)
	}
	return nil
}

// HasVideo reports whether a rendered video exists for id.
func (w *Workspace) HasVideo(id string) bool {
	info, err := os.Stat(w.VideoPath(id))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Cleanup removes the script and the media directories for id.
// Missing files are not an error.
func (w *Workspace) Cleanup(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var errs []error
	if err := os.Remove(w.ScriptPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	for _, dir := range []string{videosDir, imagesDir} {
		if err := os.RemoveAll(filepath.Join(w.root, mediaDir, dir, id)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sweep removes shared intermediates and leftovers of abandoned runs that
// were last modified before now-maxAge. A directory counts as modified when
// anything inside it was. It returns the number of entries removed.
func (w *Workspace) Sweep(maxAge time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-maxAge)
	removed := 0
	var errs []error

	remove := func(path string, info fs.FileInfo) {
		if !newestModTime(path, info).Before(cutoff) {
			return
		}
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			return
		}
		removed++
	}

	for _, dir := range sharedDirs {
		w.eachEntry(filepath.Join(w.root, dir), remove, &errs)
	}
	for _, dir := range []string{videosDir, imagesDir} {
		w.eachEntry(filepath.Join(w.root, mediaDir, dir), remove, &errs)
	}
	w.eachEntry(w.root, func(path string, info fs.FileInfo) {
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".py") {
			remove(path, info)
		}
	}, &errs)

	if removed > 0 {
		slog.Info("Workspace sweep removed stale entries", "root", w.root, "removed", removed)
	}
	return removed, errors.Join(errs...)
}

func (w *Workspace) eachEntry(dir string, fn func(path string, info fs.FileInfo), errs *[]error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			*errs = append(*errs, err)
		}
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		fn(filepath.Join(dir, e.Name()), info)
	}
}

// newestModTime returns the latest modification time of path and, for a
// directory, of everything beneath it. Renders write into subdirectories
// that already exist, which leaves the top directory's own mtime unchanged.
func newestModTime(path string, info fs.FileInfo) time.Time {
	newest := info.ModTime()
	if !info.IsDir() {
		return newest
	}
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries count as fresh so they are left alone.
			newest = time.Now()
			return fs.SkipAll
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
		return nil
	})
	return newest
}
