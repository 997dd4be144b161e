package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/haileys/hailsplay/internal/domain"
)

// maxMetadataOutput bounds how much of stdout/stderr we'll buffer for a
// synchronous metadata-only invocation, so a misbehaving extractor can't
// exhaust memory on this path.
const maxMetadataOutput = 512 * 1024

// thumbnailInfo is one entry of yt-dlp's "thumbnails" array.
type thumbnailInfo struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type dumpJSONPayload struct {
	Title      string          `json:"title"`
	Uploader   string          `json:"uploader"`
	WebpageURL string          `json:"webpage_url"`
	Thumbnails []thumbnailInfo `json:"thumbnails"`
}

// FetchMetadata runs the extractor's metadata-only mode (--dump-json, no
// download) and returns title/uploader/thumbnail, for the synchronous
// GET /api/metadata route.
func (d *Driver) FetchMetadata(ctx context.Context, url string) (domain.Metadata, error) {
	cmd := exec.CommandContext(ctx, d.binary, "--dump-json", "--no-download", url)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &boundedWriter{buf: &stdout, limit: maxMetadataOutput}
	cmd.Stderr = &boundedWriter{buf: &stderr, limit: maxMetadataOutput}

	if err := cmd.Run(); err != nil {
		return domain.Metadata{}, fmt.Errorf("extractor metadata fetch failed: %w: %s", err, stderr.String())
	}

	var payload dumpJSONPayload
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return domain.Metadata{}, fmt.Errorf("parse extractor metadata JSON: %w", err)
	}

	meta := domain.Metadata{
		Title:      payload.Title,
		Uploader:   payload.Uploader,
		WebpageURL: payload.WebpageURL,
	}
	if len(payload.Thumbnails) > 0 {
		meta.ThumbnailURL = payload.Thumbnails[len(payload.Thumbnails)-1].URL
	}
	return meta, nil
}

// boundedWriter discards bytes past limit rather than growing buf
// unboundedly, mirroring the 512 KiB stdout/stderr cap used for
// metadata-only invocations.
type boundedWriter struct {
	buf     *bytes.Buffer
	limit   int
	written int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if w.written >= w.limit {
		return n, nil
	}
	remaining := w.limit - w.written
	if remaining < len(p) {
		p = p[:remaining]
	}
	written, err := w.buf.Write(p)
	w.written += written
	if err != nil {
		return written, err
	}
	return n, nil
}

var _ io.Writer = (*boundedWriter)(nil)
