package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/haileys/hailsplay/internal/domain"
)

func (p *Pool) InsertStation(ctx context.Context, station domain.RadioStation) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO radio_stations (name, icon_id, stream_url) VALUES (?, ?, ?)`,
		station.Name, int64(station.IconAssetId), station.StreamURL)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (p *Pool) AllStations(ctx context.Context) ([]domain.RadioStation, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, name, icon_id, stream_url FROM radio_stations ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []domain.RadioStation
	for rows.Next() {
		var s domain.RadioStation
		var iconID int64
		if err := rows.Scan(&s.Id, &s.Name, &iconID, &s.StreamURL); err != nil {
			return nil, err
		}
		s.IconAssetId = domain.AssetId(iconID)
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

func (p *Pool) FindStationByURL(ctx context.Context, url string) (domain.RadioStation, error) {
	var s domain.RadioStation
	var iconID int64
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, icon_id, stream_url FROM radio_stations WHERE stream_url = ?`, url,
	).Scan(&s.Id, &s.Name, &iconID, &s.StreamURL)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RadioStation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RadioStation{}, err
	}
	s.IconAssetId = domain.AssetId(iconID)
	return s, nil
}
