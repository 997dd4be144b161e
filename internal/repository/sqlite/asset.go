package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/haileys/hailsplay/internal/domain"
)

// InsertBlob upserts data under digest (insert-or-ignore), so identical
// bytes submitted under two different filenames dedupe to one row.
func (p *Pool) InsertBlob(ctx context.Context, digest domain.AssetDigest, data []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO asset_blobs (digest_sha256, blob) VALUES (?, ?)`,
		string(digest), data)
	return err
}

func (p *Pool) InsertAsset(ctx context.Context, filename, mime string, digest domain.AssetDigest) (domain.AssetId, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO assets (filename, content_type, digest_sha256) VALUES (?, ?, ?)`,
		filename, mime, string(digest))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return domain.AssetId(id), nil
}

func (p *Pool) LoadAsset(ctx context.Context, id domain.AssetId) (domain.Asset, error) {
	var a domain.Asset
	var rowID int64
	var digest string
	err := p.db.QueryRowContext(ctx,
		`SELECT id, filename, content_type, digest_sha256 FROM assets WHERE id = ?`, int64(id),
	).Scan(&rowID, &a.Filename, &a.Mime, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Asset{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Asset{}, err
	}
	a.Id = domain.AssetId(rowID)
	a.Digest = domain.AssetDigest(digest)
	return a, nil
}

func (p *Pool) LoadBlob(ctx context.Context, digest domain.AssetDigest) ([]byte, error) {
	var blob []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT blob FROM asset_blobs WHERE digest_sha256 = ?`, string(digest),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return blob, err
}
