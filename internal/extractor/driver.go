// Package extractor drives the yt-dlp subprocess: it spawns a download,
// scans stdout for the handful of line shapes the rest of the system
// cares about, and exposes the result as a domain.DownloadHandle whose
// Progress/Complete fields are fed by a background goroutine for the
// life of the process.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/scratch"
)

// Driver spawns the extractor binary and parses its output.
type Driver struct {
	binary string
	logger *slog.Logger
}

func New(binary string, logger *slog.Logger) *Driver {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "yt-dlp"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{binary: bin, logger: logger}
}

// downloadArgs are the flags documented in the line grammar this driver
// consumes: best-quality audio, no overwrite, no .part suffix files, an
// info JSON and thumbnail sidecar, newline-delimited progress, and the
// machine-parseable progress template.
func downloadArgs(dir *scratch.Dir, url string) []string {
	return []string{
		"-f", "bestaudio/best",
		"--no-overwrites",
		"--no-part",
		"--write-info-json",
		"--write-thumbnail",
		"--newline",
		"--progress-template", prefixProgress + "%(progress.downloaded_bytes)s:T=%(progress.total_bytes)s",
		"-o", filepath.Join(dir.Path(), "%(id)s.%(ext)s"),
		url,
	}
}

// StartDownload spawns the extractor against dir, reads startup-phase
// output synchronously, and returns a DownloadHandle once a Download
// event, a Metadata event, and at least one Progress event have all been
// observed. The returned handle's Progress/Complete are then driven by a
// background goroutine for the remaining lifetime of the subprocess,
// which is killed if ctx is canceled.
func (d *Driver) StartDownload(ctx context.Context, dir *scratch.Dir, url string) (*domain.DownloadHandle, error) {
	cmd := exec.CommandContext(ctx, d.binary, downloadArgs(dir, url)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &domain.DownloadError{Stage: "spawn", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &domain.DownloadError{Stage: "spawn", Err: err}
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var downloadPath, metadataPath, thumbnailPath string
	var haveDownload, haveMetadata, haveProgress bool
	var total int64

	for scanner.Scan() {
		ev := parseLine(scanner.Text())
		switch ev.kind {
		case eventDownload:
			downloadPath, haveDownload = ev.path, true
		case eventMetadata:
			metadataPath, haveMetadata = ev.path, true
		case eventThumbnail:
			thumbnailPath = ev.path
		case eventProgress:
			total, haveProgress = ev.total, true
		}
		if haveDownload && haveMetadata && haveProgress {
			break
		}
	}

	if !(haveDownload && haveMetadata && haveProgress) {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, &domain.DownloadError{
			Stage: "protocol",
			Err:   fmt.Errorf("extractor exited before producing download/metadata/progress lines: %s", strings.TrimSpace(stderr.String())),
		}
	}

	file, err := dir.ClaimFile(filepath.Base(downloadPath))
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, &domain.DownloadError{Stage: "protocol", Err: err}
	}
	metaFile, err := dir.ClaimFile(filepath.Base(metadataPath))
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, &domain.DownloadError{Stage: "protocol", Err: err}
	}
	var thumbFile *scratch.File
	if thumbnailPath != "" {
		thumbFile, err = dir.ClaimFile(filepath.Base(thumbnailPath))
		if err != nil {
			d.logger.Warn("failed to claim thumbnail file", "path", thumbnailPath, "error", err)
			thumbFile = nil
		}
	}

	meta, err := readMetadata(metaFile.Path(), url)
	if err != nil {
		d.logger.Warn("failed to parse extractor metadata JSON", "path", metaFile.Path(), "error", err)
	}

	pw := newProgressWatch()
	pw.publish(domain.Progress{DownloadedBytes: 0, TotalBytes: total})
	complete := newCompleteSlot()

	var thumbHandle domain.ScratchFile
	if thumbFile != nil {
		thumbHandle = thumbFile
	}

	handle := &domain.DownloadHandle{
		File:          file,
		ThumbnailFile: thumbHandle,
		MetadataFile:  metaFile,
		Metadata:      meta,
		Progress:      pw,
		Complete:      complete,
	}

	go d.backgroundPhase(cmd, scanner, &stderr, pw, complete, total)

	return handle, nil
}

func (d *Driver) backgroundPhase(cmd *exec.Cmd, scanner *bufio.Scanner, stderr *bytes.Buffer, pw *progressWatch, complete *completeSlot, total int64) {
	downloaded := int64(0)
	for scanner.Scan() {
		ev := parseLine(scanner.Text())
		switch ev.kind {
		case eventProgress:
			downloaded, total = ev.downloaded, ev.total
			pw.publish(domain.Progress{DownloadedBytes: downloaded, TotalBytes: total})
			d.logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(downloaded)), "total", humanize.Bytes(uint64(total)))
		case eventComplete:
			downloaded = total
			pw.publish(domain.Progress{DownloadedBytes: downloaded, TotalBytes: total})
		}
	}

	err := cmd.Wait()
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		pw.close()
		complete.resolve(&domain.DownloadError{
			Stage: "command",
			Code:  code,
			Err:   fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
		})
		return
	}

	pw.publish(domain.Progress{DownloadedBytes: total, TotalBytes: total, Complete: true})
	pw.close()
	complete.resolve(nil)
}

func readMetadata(path string, fallbackURL string) (domain.Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Metadata{WebpageURL: fallbackURL}, err
	}
	var meta domain.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.Metadata{WebpageURL: fallbackURL}, err
	}
	if meta.WebpageURL == "" {
		meta.WebpageURL = fallbackURL
	}
	return meta, nil
}
