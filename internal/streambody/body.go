// Package streambody implements the range-serving body over a file that
// may still be growing (C5): a Body whose Read and Seek block on
// download progress rather than ever over-reading past what's actually
// been written to disk. Its Seek takes an absolute position and returns
// only an error, so a Body is not an io.Seeker.
package streambody

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/haileys/hailsplay/internal/domain"
)

type seekState int

const (
	stateAt seekState = iota
	stateSeeking
)

// Body wraps an open file plus a progress subscription. ByteSize is
// fixed at construction time (the moment total_bytes became known), so
// HTTP Content-Length/Content-Range headers never need to change even
// though the file on disk may still be shorter.
type Body struct {
	file     *os.File
	progress domain.ProgressWatch

	mu    sync.Mutex
	pos   int64
	state seekState
	size  int64
}

// NewPartial wraps file, whose contents are being written concurrently
// by an in-flight download tracked by progress. size is fixed now, from
// progress's current total — per spec.md §4.5, total_bytes is known
// before a DownloadHandle (and hence this body) is ever constructed.
func NewPartial(file *os.File, progress domain.ProgressWatch) *Body {
	return &Body{
		file:     file,
		progress: progress,
		size:     progress.Current().TotalBytes,
	}
}

// NewComplete wraps file, a fully persisted archive file of known size:
// the same range serializer, with no progress-gating needed.
func NewComplete(file *os.File, size int64) *Body {
	return &Body{file: file, progress: staticProgress(size), size: size}
}

// ByteSize returns total_bytes, fixed at construction time.
func (b *Body) ByteSize() int64 {
	return b.size
}

var errSeekInProgress = fmt.Errorf("streambody: seek already in progress")

// Seek clamps position to [0, size], waits for the download to reach
// it (or complete), performs the underlying file seek, and transitions
// back to the at-rest state. Only one seek may be outstanding at a
// time; Seek and Read never race each other.
func (b *Body) Seek(position int64) error {
	b.mu.Lock()
	if b.state != stateAt {
		b.mu.Unlock()
		return errSeekInProgress
	}
	if position > b.size {
		position = b.size
	}
	if position < 0 {
		position = 0
	}
	b.state = stateSeeking
	b.mu.Unlock()

	b.waitForProgress(position)

	_, err := b.file.Seek(position, io.SeekStart)

	b.mu.Lock()
	b.state = stateAt
	if err == nil {
		b.pos = position
	}
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("streambody seek: %w", err)
	}
	return nil
}

// Read fails if a seek is in progress. It awaits downloaded_bytes > pos
// (or completion), then issues exactly one underlying read; the number
// of bytes written to p advances pos.
func (b *Body) Read(p []byte) (int, error) {
	b.mu.Lock()
	if b.state != stateAt {
		b.mu.Unlock()
		return 0, errSeekInProgress
	}
	pos := b.pos
	b.mu.Unlock()

	b.waitForProgressPast(pos)

	n, err := b.file.Read(p)

	b.mu.Lock()
	b.pos += int64(n)
	b.mu.Unlock()

	return n, err
}

func (b *Body) Close() error {
	return b.file.Close()
}

// waitForProgress blocks until downloaded_bytes >= target or the
// download is complete.
func (b *Body) waitForProgress(target int64) {
	last := b.progress.Current()
	for {
		if last.Complete || last.DownloadedBytes >= target {
			return
		}
		next, ok := b.progress.Next(last)
		if !ok {
			return
		}
		last = next
	}
}

// waitForProgressPast blocks until downloaded_bytes > pos or the
// download is complete.
func (b *Body) waitForProgressPast(pos int64) {
	last := b.progress.Current()
	for {
		if last.Complete || last.DownloadedBytes > pos {
			return
		}
		next, ok := b.progress.Next(last)
		if !ok {
			return
		}
		last = next
	}
}

// staticProgress implements domain.ProgressWatch for a fully persisted
// file: always complete, never blocks, never has a further update.
type staticProgress int64

func (s staticProgress) Current() domain.Progress {
	return domain.Progress{DownloadedBytes: int64(s), TotalBytes: int64(s), Complete: true}
}

func (s staticProgress) Next(last domain.Progress) (domain.Progress, bool) {
	return s.Current(), false
}
