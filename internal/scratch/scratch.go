// Package scratch owns per-stream working directories and the files the
// extractor writes into them. A directory is deleted once every
// reference to it — its own creator's reference plus one per claimed
// file — has been released; a file is deleted as soon as its own
// reference is released. Go has no destructors, so release is an
// explicit Close() call rather than a scope exit, and the directory's
// remaining reference count is tracked with sync/atomic.
package scratch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
)

// Root is a configured working directory under which one scratch Dir
// exists per active download, named by stream id.
type Root struct {
	path   string
	logger *slog.Logger
}

// OpenOrCreate ensures the working root exists and returns a handle to it.
func OpenOrCreate(root string, logger *slog.Logger) (*Root, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("open working root %q: %w", root, err)
	}
	return &Root{path: root, logger: logger}, nil
}

// CreateDir creates root/name and returns an owned reference to it. The
// reference count starts at 1, representing the caller's own hold;
// callers that only need to claim files and then hand off ownership to
// those files should call Dir.Release once claiming is done.
func (r *Root) CreateDir(name string) (*Dir, error) {
	path := filepath.Join(r.path, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir %q: %w", path, err)
	}
	d := &Dir{path: path, logger: r.logger}
	d.refCount.Store(1)
	return d, nil
}

// Dir is a scratch directory shared between its creator and every file
// claimed from it. It is removed from disk the moment its reference
// count reaches zero.
type Dir struct {
	path     string
	logger   *slog.Logger
	refCount atomic.Int32
}

func (d *Dir) Path() string { return d.path }

// ClaimFile mints an owned reference to relativeName, a file already
// created (by the extractor subprocess) inside the directory. It never
// resolves outside the directory: relativeName is joined, not treated as
// an absolute or traversal-capable path.
func (d *Dir) ClaimFile(relativeName string) (*File, error) {
	clean := filepath.Clean(relativeName)
	if filepath.IsAbs(clean) || clean == ".." || len(clean) >= 3 && clean[:3] == "../" {
		return nil, fmt.Errorf("claim file %q: escapes scratch directory", relativeName)
	}
	d.refCount.Add(1)
	return &File{dir: d, path: filepath.Join(d.path, clean)}, nil
}

// Release drops the caller's own reference to the directory. Call it
// once, after the creator no longer needs to claim more files.
func (d *Dir) Release() {
	d.release()
}

func (d *Dir) release() {
	if d.refCount.Add(-1) == 0 {
		if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("failed to remove scratch directory", "path", d.path, "error", err)
		}
	}
}

// File is an owned reference into a Dir: the audio file, thumbnail, or
// metadata sidecar the extractor wrote. Closing it removes the file and
// releases its reference on the owning directory.
type File struct {
	dir    *Dir
	path   string
	closed atomic.Bool
}

func (f *File) Path() string { return f.path }

// Close removes the underlying file and releases the directory
// reference it held. Safe to call more than once; only the first call
// has effect.
func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := os.Remove(f.path)
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	f.dir.release()
	if err != nil {
		f.dir.logger.Warn("failed to remove scratch file", "path", f.path, "error", err)
	}
	return err
}
