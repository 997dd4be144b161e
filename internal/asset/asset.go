// Package asset implements the content-addressed blob store (C3):
// filename/mime/digest metadata rows backed by a digest-deduplicated
// blob table. Callers build an UploadableAsset (from a local file or an
// HTTP download) and Insert it; Insert computes the digest and performs
// the insert-or-ignore dance so identical bytes never duplicate storage.
package asset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"github.com/haileys/hailsplay/internal/domain"
)

// MaxAssetSize is the maximum payload Download will accept, enforced
// against the advertised Content-Length and again against the running
// total while streaming the response body. Per spec.md §9, this cap is
// specific to the asset-download path (thumbnails); it does not apply
// to archived audio.
const MaxAssetSize = 4 * 1024 * 1024 // 4 MiB

var ErrTooLarge = fmt.Errorf("asset exceeds %d byte limit", MaxAssetSize)

// Repository is the persistence surface Store needs from the database.
// Implemented by internal/repository/sqlite.
type Repository interface {
	InsertBlob(ctx context.Context, digest domain.AssetDigest, data []byte) error
	InsertAsset(ctx context.Context, filename, mime string, digest domain.AssetDigest) (domain.AssetId, error)
	LoadAsset(ctx context.Context, id domain.AssetId) (domain.Asset, error)
	LoadBlob(ctx context.Context, digest domain.AssetDigest) ([]byte, error)
}

// Store is the asset store (C3).
type Store struct {
	repo    Repository
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New constructs a Store. limiter may be nil to disable bandwidth
// limiting on the Download path.
func New(repo Repository, httpClient *http.Client, limiter *rate.Limiter, logger *slog.Logger) *Store {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, http: httpClient, limiter: limiter, logger: logger}
}

// Upload builds an UploadableAsset from a local file, such as a
// --icon path passed to the add-station CLI command.
func (s *Store) Upload(path string) (domain.UploadableAsset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.UploadableAsset{}, fmt.Errorf("read asset file %q: %w", path, err)
	}
	filename := filepath.Base(path)
	return domain.UploadableAsset{
		Filename: filename,
		Mime:     detectMime(filename, data),
		Bytes:    data,
	}, nil
}

// Download fetches url over HTTP, refusing payloads over MaxAssetSize
// (checked against the advertised Content-Length up front, and again
// against the running total while reading the body).
func (s *Store) Download(ctx context.Context, rawURL string) (domain.UploadableAsset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.UploadableAsset{}, fmt.Errorf("build asset download request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return domain.UploadableAsset{}, fmt.Errorf("asset download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.UploadableAsset{}, fmt.Errorf("asset download: unexpected status %d", resp.StatusCode)
	}

	if resp.ContentLength > MaxAssetSize {
		return domain.UploadableAsset{}, ErrTooLarge
	}

	data, err := s.readLimited(ctx, resp.Body)
	if err != nil {
		return domain.UploadableAsset{}, err
	}

	filename := filenameFromURL(rawURL)
	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = detectMime(filename, data)
	}

	return domain.UploadableAsset{Filename: filename, Mime: contentType, Bytes: data}, nil
}

func (s *Store) readLimited(ctx context.Context, body io.Reader) ([]byte, error) {
	// Read one byte past the cap so an exact-cap stream doesn't false-positive,
	// while anything larger is caught without buffering the whole response.
	capped := io.LimitReader(body, MaxAssetSize+1)

	var buf []byte
	chunk := make([]byte, 32*1024)
	for {
		if s.limiter != nil {
			if err := s.limiter.WaitN(ctx, len(chunk)); err != nil {
				return nil, fmt.Errorf("asset download rate limit: %w", err)
			}
		}
		n, err := capped.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > MaxAssetSize {
				return nil, ErrTooLarge
			}
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read asset download body: %w", err)
		}
	}
}

// Insert computes a's digest, upserts its blob (insert-or-ignore, so
// identical bytes dedupe across assets), and inserts the asset row.
func (s *Store) Insert(ctx context.Context, a domain.UploadableAsset) (domain.AssetId, error) {
	sum := sha256.Sum256(a.Bytes)
	digest := domain.AssetDigest(hex.EncodeToString(sum[:]))

	if err := s.repo.InsertBlob(ctx, digest, a.Bytes); err != nil {
		return 0, fmt.Errorf("insert asset blob: %w", err)
	}

	id, err := s.repo.InsertAsset(ctx, sanitizeFilename(a.Filename), a.Mime, digest)
	if err != nil {
		return 0, fmt.Errorf("insert asset row: %w", err)
	}
	return id, nil
}

func (s *Store) LoadAsset(ctx context.Context, id domain.AssetId) (domain.Asset, error) {
	return s.repo.LoadAsset(ctx, id)
}

func (s *Store) LoadBlob(ctx context.Context, digest domain.AssetDigest) ([]byte, error) {
	return s.repo.LoadBlob(ctx, digest)
}

// detectMime sniffs data's content type, falling back to the filename
// extension table only when sniffing is inconclusive. Spec.md's
// Non-goals exclude MIME sniffing for the *streamed media* content-type
// derivation (C4); this is the separate, smaller asset-ingest surface
// the spec's expansion explicitly carves out for sniffing.
func detectMime(filename string, data []byte) string {
	if len(data) > 0 {
		if mt := mimetype.Detect(data); mt != nil && mt.String() != "application/octet-stream" {
			return mt.String()
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func filenameFromURL(rawURL string) string {
	idx := strings.LastIndexByte(rawURL, '/')
	if idx < 0 || idx == len(rawURL)-1 {
		return "asset"
	}
	name := rawURL[idx+1:]
	if q := strings.IndexByte(name, '?'); q >= 0 {
		name = name[:q]
	}
	if name == "" {
		return "asset"
	}
	return name
}

// sanitizeFilename strips path separators and control characters,
// mirroring the filenamify sanitization the reference implementation
// applies before storing a filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == '/' || r == '\\' {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if out == "" || out == "." || out == ".." {
		return "asset"
	}
	return out
}
