package playlist

import (
	"context"
	"errors"
	"testing"

	"github.com/haileys/hailsplay/internal/archive"
	"github.com/haileys/hailsplay/internal/domain"
)

type fakeArchive struct {
	records map[domain.StreamId]archive.Record
}

func (f fakeArchive) Load(ctx context.Context, id domain.StreamId) (archive.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return archive.Record{}, domain.ErrNotFound
	}
	return rec, nil
}

type fakeRadio struct {
	stations map[string]domain.RadioStation
}

func (f fakeRadio) FindStationByURL(ctx context.Context, url string) (domain.RadioStation, error) {
	s, ok := f.stations[url]
	if !ok {
		return domain.RadioStation{}, domain.ErrNotFound
	}
	return s, nil
}

type fakeAssetURLs struct{}

func (fakeAssetURLs) URL(ctx context.Context, id domain.AssetId) (string, error) {
	return "https://hailsplay.example.com/assets/1/digest/icon.png", nil
}

func TestIdentifyMediaStream(t *testing.T) {
	streamID := domain.NewStreamId()
	rec := archive.Record{
		Kind: domain.RecordKindArchive,
		Archive: &domain.ArchiveRecord{
			Id:       streamID,
			Filename: "song.opus",
			Metadata: domain.Metadata{Title: "A Song", Uploader: "Someone"},
		},
	}
	id := New(fakeArchive{records: map[domain.StreamId]archive.Record{streamID: rec}}, fakeRadio{}, fakeAssetURLs{})

	item := domain.PlaylistItem{File: "/media/" + streamID.String() + "/stream"}
	track, err := id.Identify(context.Background(), item)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if track.Kind != domain.TrackKindMedia || track.StreamId != streamID {
		t.Fatalf("unexpected track: %+v", track)
	}

	info, err := id.TrackInfo(context.Background(), track)
	if err != nil {
		t.Fatalf("TrackInfo: %v", err)
	}
	if info.PrimaryLabel != "A Song" {
		t.Fatalf("unexpected primary label: %q", info.PrimaryLabel)
	}
	if info.SecondaryLabel == nil || *info.SecondaryLabel != "Someone" {
		t.Fatalf("unexpected secondary label: %v", info.SecondaryLabel)
	}
}

func TestIdentifyUnknownMediaUUIDFallsThroughToUnknown(t *testing.T) {
	id := New(fakeArchive{records: map[domain.StreamId]archive.Record{}}, fakeRadio{}, fakeAssetURLs{})
	item := domain.PlaylistItem{File: "/media/" + domain.NewStreamId().String() + "/stream", Title: "Untitled"}

	track, err := id.Identify(context.Background(), item)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if track.Kind != domain.TrackKindUnknown {
		t.Fatalf("expected Unknown for an unrecognized stream id, got %v", track.Kind)
	}

	info, err := id.TrackInfo(context.Background(), track)
	if err != nil {
		t.Fatalf("TrackInfo: %v", err)
	}
	if info.PrimaryLabel != "Untitled" {
		t.Fatalf("unexpected fallback primary label: %q", info.PrimaryLabel)
	}
}

func TestIdentifyRadioStation(t *testing.T) {
	station := domain.RadioStation{Id: 1, Name: "Example FM", IconAssetId: 1, StreamURL: "https://stream.example.com/a.mp3"}
	id := New(fakeArchive{records: map[domain.StreamId]archive.Record{}}, fakeRadio{stations: map[string]domain.RadioStation{station.StreamURL: station}}, fakeAssetURLs{})

	item := domain.PlaylistItem{File: station.StreamURL, Title: "Now Playing Title"}
	track, err := id.Identify(context.Background(), item)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if track.Kind != domain.TrackKindRadio || track.Station.Name != "Example FM" {
		t.Fatalf("unexpected track: %+v", track)
	}

	info, err := id.TrackInfo(context.Background(), track)
	if err != nil {
		t.Fatalf("TrackInfo: %v", err)
	}
	if info.PrimaryLabel != "Example FM" {
		t.Fatalf("unexpected primary label: %q", info.PrimaryLabel)
	}
	if info.SecondaryLabel == nil || *info.SecondaryLabel != "Now Playing Title" {
		t.Fatalf("unexpected secondary label: %v", info.SecondaryLabel)
	}
	if info.ImageURL == nil {
		t.Fatalf("expected radio station image url to be set")
	}
}

func TestIdentifyFallbackUsesFilenameWhenNoTitleOrName(t *testing.T) {
	id := New(fakeArchive{records: map[domain.StreamId]archive.Record{}}, fakeRadio{}, fakeAssetURLs{})
	item := domain.PlaylistItem{File: "https://example.com/path/to/track.mp3"}

	track, err := id.Identify(context.Background(), item)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	info, err := id.TrackInfo(context.Background(), track)
	if err != nil {
		t.Fatalf("TrackInfo: %v", err)
	}
	if info.PrimaryLabel != "track.mp3" {
		t.Fatalf("unexpected fallback label: %q", info.PrimaryLabel)
	}
}

func TestRadioLookupErrorPropagates(t *testing.T) {
	id := New(fakeArchive{records: map[domain.StreamId]archive.Record{}}, erroringRadio{}, fakeAssetURLs{})
	_, err := id.Identify(context.Background(), domain.PlaylistItem{File: "https://stream.example.com/a.mp3"})
	if err == nil {
		t.Fatalf("expected Identify to propagate a radio lookup error")
	}
}

type erroringRadio struct{}

func (erroringRadio) FindStationByURL(ctx context.Context, url string) (domain.RadioStation, error) {
	return domain.RadioStation{}, errors.New("database unavailable")
}
