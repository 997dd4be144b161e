package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/haileys/hailsplay/internal/domain"
)

// LoadByStreamId looks up the persisted archive row for id. Per spec.md
// §4.4, database lookups take precedence over the in-memory map: this
// is the query the archive registry's load() consults first.
func (p *Pool) LoadByStreamId(ctx context.Context, id domain.StreamId) (domain.ArchiveRecord, error) {
	var rowID int64
	var path, canonicalURL, archivedAt, streamUUID, metadataJSON string
	var thumbnailID sql.NullInt64

	err := p.db.QueryRowContext(ctx, `
		SELECT id, path, canonical_url, archived_at, stream_uuid, thumbnail_id, metadata
		FROM archived_media
		WHERE stream_uuid = ?
	`, id.String()).Scan(&rowID, &path, &canonicalURL, &archivedAt, &streamUUID, &thumbnailID, &metadataJSON)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.ArchiveRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ArchiveRecord{}, err
	}

	record, err := archiveRecordFromColumns(rowID, path, canonicalURL, archivedAt, streamUUID, thumbnailID, metadataJSON)
	if err != nil {
		return domain.ArchiveRecord{}, err
	}
	return record, nil
}

// InsertArchiveRecord inserts a new archived_media row and returns its
// assigned id. It is a single statement with no enclosing transaction: a
// thumbnail asset inserted beforehand is committed on its own and stays
// in place if this insert fails.
func (p *Pool) InsertArchiveRecord(ctx context.Context, rec domain.ArchiveRecord) (int64, error) {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return 0, err
	}

	var thumbnailID any
	if rec.ThumbnailAsset != nil {
		thumbnailID = int64(*rec.ThumbnailAsset)
	}

	archivedAt := rec.ArchivedAt
	if archivedAt.IsZero() {
		archivedAt = time.Now().UTC()
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO archived_media (path, canonical_url, archived_at, stream_uuid, thumbnail_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Filename, rec.URL, archivedAt.Format(time.RFC3339), rec.Id.String(), thumbnailID, string(metadataJSON))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func archiveRecordFromColumns(rowID int64, path, canonicalURL, archivedAt, streamUUID string, thumbnailID sql.NullInt64, metadataJSON string) (domain.ArchiveRecord, error) {
	id, err := domain.ParseStreamId(streamUUID)
	if err != nil {
		return domain.ArchiveRecord{}, err
	}

	var meta domain.Metadata
	if err := json.Unmarshal([]byte(metadataJSON), &meta); err != nil {
		return domain.ArchiveRecord{}, err
	}

	parsedAt, err := time.Parse(time.RFC3339, archivedAt)
	if err != nil {
		parsedAt = time.Time{}
	}

	record := domain.ArchiveRecord{
		RowId:      rowID,
		Id:         id,
		URL:        canonicalURL,
		Filename:   path,
		ArchivedAt: parsedAt,
		Metadata:   meta,
	}
	if thumbnailID.Valid {
		assetID := domain.AssetId(thumbnailID.Int64)
		record.ThumbnailAsset = &assetID
	}
	return record, nil
}
