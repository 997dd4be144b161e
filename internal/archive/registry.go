// Package archive is the archive registry (C4): it unifies in-flight
// "downloading" records and persisted "archived" records behind one
// lookup, and drives the transition between them once a download
// finishes.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sync/singleflight"

	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/scratch"
)

// Database is the persistence surface the registry needs.
// internal/repository/sqlite's Pool implements it.
type Database interface {
	LoadByStreamId(ctx context.Context, id domain.StreamId) (domain.ArchiveRecord, error)
	InsertArchiveRecord(ctx context.Context, rec domain.ArchiveRecord) (int64, error)
}

// Extractor starts a new download against a freshly created scratch
// directory. internal/extractor's Driver implements it.
type Extractor interface {
	StartDownload(ctx context.Context, dir *scratch.Dir, url string) (*domain.DownloadHandle, error)
}

// AssetStore is the thumbnail-ingest surface the registry needs from
// C3. internal/asset's Store implements it.
type AssetStore interface {
	Download(ctx context.Context, rawURL string) (domain.UploadableAsset, error)
	Insert(ctx context.Context, a domain.UploadableAsset) (domain.AssetId, error)
}

// Registry is the archive registry (C4).
type Registry struct {
	db          Database
	working     *scratch.Root
	extractor   Extractor
	assets      AssetStore
	archiveRoot string
	logger      *slog.Logger

	// group collapses concurrent add_url calls for the same URL into a
	// single download, per spec.md's enrichment note.
	group singleflight.Group

	mu         sync.Mutex
	mediaByURL map[string]domain.StreamId
	media      map[domain.StreamId]*domain.MemoryRecord
}

// New constructs a Registry. archiveRoot is the directory persisted
// audio files are moved into once a download completes.
func New(db Database, working *scratch.Root, extractor Extractor, assets AssetStore, archiveRoot string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		db:          db,
		working:     working,
		extractor:   extractor,
		assets:      assets,
		archiveRoot: archiveRoot,
		logger:      logger,
		mediaByURL:  make(map[string]domain.StreamId),
		media:       make(map[domain.StreamId]*domain.MemoryRecord),
	}
}

// Load looks up id. Database records always take precedence over
// in-process state: after the memory-to-archive transition commits,
// every subsequent Load sees the persisted form even if the in-memory
// cleanup in archiveOnceDownloadComplete is momentarily still pending.
func (r *Registry) Load(ctx context.Context, id domain.StreamId) (Record, error) {
	rec, err := r.db.LoadByStreamId(ctx, id)
	if err == nil {
		return archiveRecord(rec), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Record{}, fmt.Errorf("load archive record: %w", err)
	}

	r.mu.Lock()
	mem, ok := r.media[id]
	r.mu.Unlock()
	if ok {
		return memoryRecord(mem), nil
	}

	return Record{}, domain.ErrNotFound
}

// AddURL allocates a StreamId, creates a scratch directory, and starts
// an extraction for url. Concurrent calls for the same URL collapse
// onto one download via singleflight rather than racing two extractor
// subprocesses against the same target.
func (r *Registry) AddURL(ctx context.Context, rawURL string) (Record, error) {
	v, err, _ := r.group.Do(rawURL, func() (any, error) {
		r.mu.Lock()
		if id, ok := r.mediaByURL[rawURL]; ok {
			mem := r.media[id]
			r.mu.Unlock()
			return mem, nil
		}
		r.mu.Unlock()

		id := domain.NewStreamId()
		dir, err := r.working.CreateDir(id.String())
		if err != nil {
			return nil, fmt.Errorf("create scratch directory: %w", err)
		}

		handle, err := r.extractor.StartDownload(ctx, dir, rawURL)
		dir.Release()
		if err != nil {
			return nil, err
		}

		mem := &domain.MemoryRecord{Id: id, URL: rawURL, Download: handle}

		r.mu.Lock()
		r.mediaByURL[rawURL] = id
		r.media[id] = mem
		r.mu.Unlock()

		go r.archiveOnceDownloadComplete(mem)

		return mem, nil
	})
	if err != nil {
		return Record{}, err
	}
	return memoryRecord(v.(*domain.MemoryRecord)), nil
}

// archiveOnceDownloadComplete waits for mem's download to finish and
// transitions it into a persisted ArchiveRecord. On any failure the
// MemoryRecord is removed and the scratch directory drops with it; the
// caller sees the failure the next time it observes a queue change. A
// database failure during the transition is the one exception: it is
// logged and the MemoryRecord is left live so the stream stays playable
// until the next restart, per spec.md's failure-isolation note.
func (r *Registry) archiveOnceDownloadComplete(mem *domain.MemoryRecord) {
	ctx := context.Background()
	log := r.logger.With("stream_id", mem.Id.String(), "url", mem.URL)

	if err := mem.Download.Complete.Wait(); err != nil {
		log.Error("download failed", "error", err)
		closeDownloadFiles(mem.Download)
		r.removeMemory(mem.Id, mem.URL)
		return
	}

	meta := mem.Download.Metadata

	var thumbnailAsset *domain.AssetId
	if meta.ThumbnailURL != "" {
		asset, err := r.assets.Download(ctx, meta.ThumbnailURL)
		if err != nil {
			log.Warn("thumbnail download failed, archiving without one", "error", err)
		} else if id, err := r.assets.Insert(ctx, asset); err != nil {
			log.Warn("thumbnail insert failed, archiving without one", "error", err)
		} else {
			thumbnailAsset = &id
		}
	}

	filename := filepath.Base(mem.Download.File.Path())
	archivePath := filepath.Join(r.archiveRoot, filename)

	if err := moveFile(mem.Download.File.Path(), archivePath); err != nil {
		log.Error("failed to move downloaded file into archive", "error", err)
		closeDownloadFiles(mem.Download)
		r.removeMemory(mem.Id, mem.URL)
		return
	}

	canonicalURL := meta.WebpageURL
	if canonicalURL == "" {
		canonicalURL = mem.URL
	}

	rec := domain.ArchiveRecord{
		Id:             mem.Id,
		URL:            canonicalURL,
		Filename:       filename,
		ThumbnailAsset: thumbnailAsset,
		Metadata:       meta,
	}

	if _, err := r.db.InsertArchiveRecord(ctx, rec); err != nil {
		log.Error("failed to persist archive row; stream remains in memory", "error", err)
		// Put the file back where the in-memory record's handle points, so
		// the stream stays servable from the scratch directory.
		if err := moveFile(archivePath, mem.Download.File.Path()); err != nil {
			log.Error("failed to move file back into scratch directory", "error", err)
		}
		return
	}

	// The file now lives at archivePath; the scratch handle's own Close
	// is a no-op remove (the path it guards is already gone) plus the
	// directory refcount decrement it's responsible for.
	_ = mem.Download.File.Close()
	if mem.Download.MetadataFile != nil {
		_ = mem.Download.MetadataFile.Close()
	}
	if mem.Download.ThumbnailFile != nil {
		_ = mem.Download.ThumbnailFile.Close()
	}

	r.removeMemory(mem.Id, mem.URL)
}

func (r *Registry) removeMemory(id domain.StreamId, url string) {
	r.mu.Lock()
	delete(r.media, id)
	delete(r.mediaByURL, url)
	r.mu.Unlock()
}

// closeDownloadFiles releases every scratch handle a DownloadHandle
// holds. Called on the failure branches of archiveOnceDownloadComplete,
// where no later success path will ever close them: without this, a
// download that fails after StartDownload already returned its handle
// (extractor exit failure, or a failed move into the archive) leaks the
// scratch directory and every file claimed from it, since scratch's
// cleanup is entirely reference-counted with no backing GC.
func closeDownloadFiles(h *domain.DownloadHandle) {
	if h == nil {
		return
	}
	if h.File != nil {
		_ = h.File.Close()
	}
	if h.MetadataFile != nil {
		_ = h.MetadataFile.Close()
	}
	if h.ThumbnailFile != nil {
		_ = h.ThumbnailFile.Close()
	}
}

// moveFile renames src to dst, falling back to copy-then-remove when
// the two paths are on different filesystems (the scratch working
// directory and the archive root are independently configured, so
// os.Rename's same-device requirement can't be assumed).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrInvalid) && !isCrossDevice(err) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
