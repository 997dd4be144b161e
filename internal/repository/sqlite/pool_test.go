package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"

	"github.com/haileys/hailsplay/internal/domain"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hailsplay.sqlite")
	pool, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestOpenIsIdempotentAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hailsplay.sqlite")

	pool, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	pool.Close()

	pool2, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("second Open against already-migrated database: %v", err)
	}
	pool2.Close()
}

func TestOpenRejectsUnknownFutureMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hailsplay.sqlite")

	pool, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := pool.db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, "999"); err != nil {
		t.Fatalf("seed unknown version: %v", err)
	}
	pool.Close()

	_, err = Open(context.Background(), path)
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("expected *MigrationError, got %v", err)
	}
	if len(migErr.UnknownVersions) != 1 || migErr.UnknownVersions[0] != "999" {
		t.Fatalf("unexpected unknown versions: %v", migErr.UnknownVersions)
	}
}

func insertTestAsset(t *testing.T, pool *Pool, filename string, data []byte) domain.AssetId {
	t.Helper()
	sum := sha256.Sum256(data)
	digest := domain.AssetDigest(hex.EncodeToString(sum[:]))
	ctx := context.Background()
	if err := pool.InsertBlob(ctx, digest, data); err != nil {
		t.Fatalf("InsertBlob: %v", err)
	}
	id, err := pool.InsertAsset(ctx, filename, "image/png", digest)
	if err != nil {
		t.Fatalf("InsertAsset: %v", err)
	}
	return id
}

func TestAssetRoundTrip(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	id := insertTestAsset(t, pool, "cover.png", []byte("pretend-png-bytes"))

	asset, err := pool.LoadAsset(ctx, id)
	if err != nil {
		t.Fatalf("LoadAsset: %v", err)
	}
	if asset.Filename != "cover.png" || asset.Mime != "image/png" {
		t.Fatalf("unexpected asset: %+v", asset)
	}

	blob, err := pool.LoadBlob(ctx, asset.Digest)
	if err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}
	if string(blob) != "pretend-png-bytes" {
		t.Fatalf("unexpected blob contents: %q", blob)
	}
}

func TestLoadAssetNotFound(t *testing.T) {
	pool := openTestPool(t)
	_, err := pool.LoadAsset(context.Background(), domain.AssetId(9999))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertBlobDedupesIdenticalDigest(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	data := []byte("same-bytes")
	sum := sha256.Sum256(data)
	digest := domain.AssetDigest(hex.EncodeToString(sum[:]))

	if err := pool.InsertBlob(ctx, digest, data); err != nil {
		t.Fatalf("first InsertBlob: %v", err)
	}
	if err := pool.InsertBlob(ctx, digest, data); err != nil {
		t.Fatalf("second InsertBlob (should be a no-op insert-or-ignore): %v", err)
	}

	blob, err := pool.LoadBlob(ctx, digest)
	if err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}
	if string(blob) != "same-bytes" {
		t.Fatalf("unexpected blob: %q", blob)
	}
}

func TestArchiveRecordRoundTrip(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	thumbID := insertTestAsset(t, pool, "thumb.jpg", []byte("thumb-bytes"))
	streamID := domain.NewStreamId()

	rec := domain.ArchiveRecord{
		Id:             streamID,
		URL:            "https://example.com/watch?v=abc",
		Filename:       "abc.opus",
		ThumbnailAsset: &thumbID,
		Metadata: domain.Metadata{
			Title:    "A Song",
			Uploader: "Someone",
		},
	}

	rowID, err := pool.InsertArchiveRecord(ctx, rec)
	if err != nil {
		t.Fatalf("InsertArchiveRecord: %v", err)
	}
	if rowID == 0 {
		t.Fatalf("expected nonzero row id")
	}

	loaded, err := pool.LoadByStreamId(ctx, streamID)
	if err != nil {
		t.Fatalf("LoadByStreamId: %v", err)
	}
	if loaded.Id != streamID {
		t.Fatalf("stream id mismatch: got %s want %s", loaded.Id, streamID)
	}
	if loaded.URL != rec.URL || loaded.Filename != rec.Filename {
		t.Fatalf("unexpected record: %+v", loaded)
	}
	if loaded.ThumbnailAsset == nil || *loaded.ThumbnailAsset != thumbID {
		t.Fatalf("thumbnail asset not preserved: %+v", loaded.ThumbnailAsset)
	}
	if loaded.Metadata.Title != "A Song" {
		t.Fatalf("metadata not preserved: %+v", loaded.Metadata)
	}
	if loaded.ArchivedAt.IsZero() {
		t.Fatalf("expected ArchivedAt to be defaulted, got zero value")
	}
}

func TestLoadByStreamIdNotFound(t *testing.T) {
	pool := openTestPool(t)
	_, err := pool.LoadByStreamId(context.Background(), domain.NewStreamId())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRadioStationRoundTrip(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	iconID := insertTestAsset(t, pool, "icon.png", []byte("icon-bytes"))

	station := domain.RadioStation{
		Name:        "Example FM",
		IconAssetId: iconID,
		StreamURL:   "https://stream.example.com/example.mp3",
	}
	id, err := pool.InsertStation(ctx, station)
	if err != nil {
		t.Fatalf("InsertStation: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected nonzero station id")
	}

	all, err := pool.AllStations(ctx)
	if err != nil {
		t.Fatalf("AllStations: %v", err)
	}
	if len(all) != 1 || all[0].Name != "Example FM" {
		t.Fatalf("unexpected stations: %+v", all)
	}

	found, err := pool.FindStationByURL(ctx, station.StreamURL)
	if err != nil {
		t.Fatalf("FindStationByURL: %v", err)
	}
	if found.Id != all[0].Id {
		t.Fatalf("FindStationByURL returned different row than AllStations")
	}
}

func TestFindStationByURLNotFound(t *testing.T) {
	pool := openTestPool(t)
	_, err := pool.FindStationByURL(context.Background(), "https://no-such-station.example.com")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
