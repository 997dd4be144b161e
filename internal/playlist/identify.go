// Package playlist identifies raw MPD playlist items against the
// archive registry and the radio station table (C8), and renders the
// identified result into the display form the queue listing and
// per-item track-info endpoint both need.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/haileys/hailsplay/internal/archive"
	"github.com/haileys/hailsplay/internal/domain"
)

// mediaStreamPattern matches the path component of an internal stream
// URL this server itself generated, e.g. "/media/<uuid>/stream".
var mediaStreamPattern = regexp.MustCompile(`^/media/([^/]+)/stream$`)

// ArchiveLoader is the archive-registry lookup surface Identify needs.
// internal/archive's Registry implements it.
type ArchiveLoader interface {
	Load(ctx context.Context, id domain.StreamId) (archive.Record, error)
}

// RadioStations is the radio-station lookup surface Identify needs.
// internal/repository/sqlite's Pool implements it.
type RadioStations interface {
	FindStationByURL(ctx context.Context, url string) (domain.RadioStation, error)
}

// AssetURLs resolves an asset id to an externally fetchable URL, used
// to render a radio station's icon. internal/asseturl's Builder
// implements it.
type AssetURLs interface {
	URL(ctx context.Context, id domain.AssetId) (string, error)
}

// Identifier is the playlist item identifier/enricher (C8).
type Identifier struct {
	archive ArchiveLoader
	radio   RadioStations
	assets  AssetURLs
}

func New(archiveLoader ArchiveLoader, radio RadioStations, assets AssetURLs) *Identifier {
	return &Identifier{archive: archiveLoader, radio: radio, assets: assets}
}

// Identify classifies item: a Media item if its file is one of this
// server's own internal stream URLs pointing at a record the archive
// registry can load, a Radio item if its file matches a configured
// station's stream URL, otherwise Unknown.
func (id *Identifier) Identify(ctx context.Context, item domain.PlaylistItem) (domain.IdentifiedTrack, error) {
	if streamID, ok := id.matchMediaStream(ctx, item.File); ok {
		return domain.IdentifiedTrack{Kind: domain.TrackKindMedia, StreamId: streamID, Item: item}, nil
	}

	station, ok, err := id.matchRadioStation(ctx, item.File)
	if err != nil {
		return domain.IdentifiedTrack{}, err
	}
	if ok {
		return domain.IdentifiedTrack{Kind: domain.TrackKindRadio, Station: station, Item: item}, nil
	}

	return domain.IdentifiedTrack{Kind: domain.TrackKindUnknown, Item: item}, nil
}

func (id *Identifier) matchMediaStream(ctx context.Context, file string) (domain.StreamId, bool) {
	parsed, err := url.Parse(file)
	if err != nil {
		return domain.StreamId{}, false
	}

	m := mediaStreamPattern.FindStringSubmatch(parsed.Path)
	if m == nil {
		return domain.StreamId{}, false
	}

	streamID, err := domain.ParseStreamId(m[1])
	if err != nil {
		return domain.StreamId{}, false
	}

	// Validate the parsed id by trying to load it: a well-formed UUID
	// that the registry doesn't recognize falls through to Unknown
	// rather than being reported as Media.
	if _, err := id.archive.Load(ctx, streamID); err != nil {
		return domain.StreamId{}, false
	}
	return streamID, true
}

func (id *Identifier) matchRadioStation(ctx context.Context, file string) (domain.RadioStation, bool, error) {
	station, err := id.radio.FindStationByURL(ctx, file)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.RadioStation{}, false, nil
	}
	if err != nil {
		return domain.RadioStation{}, false, err
	}
	return station, true, nil
}

// TrackInfo renders track's display form, dispatching on its Kind.
func (id *Identifier) TrackInfo(ctx context.Context, track domain.IdentifiedTrack) (domain.TrackInfo, error) {
	switch track.Kind {
	case domain.TrackKindMedia:
		return id.mediaTrackInfo(ctx, track.StreamId, track.Item)
	case domain.TrackKindRadio:
		return id.radioTrackInfo(ctx, track.Station, track.Item)
	default:
		return fallbackItem(track.Item), nil
	}
}

func fallbackItem(item domain.PlaylistItem) domain.TrackInfo {
	primary := item.Title
	if primary == "" {
		primary = item.Name
	}
	if primary == "" {
		if idx := strings.LastIndexByte(item.File, '/'); idx >= 0 {
			primary = item.File[idx+1:]
		} else {
			primary = item.File
		}
	}
	return domain.TrackInfo{PrimaryLabel: primary}
}

func (id *Identifier) radioTrackInfo(ctx context.Context, station domain.RadioStation, item domain.PlaylistItem) (domain.TrackInfo, error) {
	imageURL, err := id.assets.URL(ctx, station.IconAssetId)
	if err != nil {
		return domain.TrackInfo{}, fmt.Errorf("resolve station icon url: %w", err)
	}

	info := domain.TrackInfo{ImageURL: &imageURL, PrimaryLabel: station.Name}
	if item.Title != "" {
		title := item.Title
		info.SecondaryLabel = &title
	}
	return info, nil
}

func (id *Identifier) mediaTrackInfo(ctx context.Context, streamID domain.StreamId, item domain.PlaylistItem) (domain.TrackInfo, error) {
	record, err := id.archive.Load(ctx, streamID)
	if err != nil {
		return domain.TrackInfo{}, fmt.Errorf("load media record %s: %w", streamID, err)
	}

	meta, err := record.ParseMetadata()
	if err != nil {
		return domain.TrackInfo{}, fmt.Errorf("parse media record metadata: %w", err)
	}

	info := domain.TrackInfo{}
	if meta.ThumbnailURL != "" {
		thumb := meta.ThumbnailURL
		info.ImageURL = &thumb
	}

	info.PrimaryLabel = meta.Title
	if info.PrimaryLabel == "" {
		info.PrimaryLabel = record.Filename()
	}

	if meta.Uploader != "" {
		uploader := meta.Uploader
		info.SecondaryLabel = &uploader
	}

	return info, nil
}
