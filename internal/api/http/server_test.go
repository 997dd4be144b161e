package apihttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haileys/hailsplay/internal/archive"
	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/mpd"
)

type fakeArchive struct {
	addURL func(ctx context.Context, rawURL string) (archive.Record, error)
	load   func(ctx context.Context, id domain.StreamId) (archive.Record, error)
}

func (f fakeArchive) AddURL(ctx context.Context, rawURL string) (archive.Record, error) {
	return f.addURL(ctx, rawURL)
}

func (f fakeArchive) Load(ctx context.Context, id domain.StreamId) (archive.Record, error) {
	return f.load(ctx, id)
}

type fakeMetadata struct {
	meta domain.Metadata
	err  error
}

func (f fakeMetadata) FetchMetadata(ctx context.Context, rawURL string) (domain.Metadata, error) {
	return f.meta, f.err
}

type fakeRadioStations struct {
	stations []domain.RadioStation
}

func (f fakeRadioStations) AllStations(ctx context.Context) ([]domain.RadioStation, error) {
	return f.stations, nil
}

type fakeAssetLoader struct {
	asset domain.Asset
	blob  []byte
	err   error
}

func (f fakeAssetLoader) LoadAsset(ctx context.Context, id domain.AssetId) (domain.Asset, error) {
	if f.err != nil {
		return domain.Asset{}, f.err
	}
	return f.asset, nil
}

func (f fakeAssetLoader) LoadBlob(ctx context.Context, digest domain.AssetDigest) ([]byte, error) {
	return f.blob, nil
}

type fakeAssetURLs struct{}

func (fakeAssetURLs) URL(ctx context.Context, id domain.AssetId) (string, error) {
	return "https://hailsplay.example.com/assets/1/digest/icon.png", nil
}

type fakeIdentifier struct{}

func (fakeIdentifier) Identify(ctx context.Context, item domain.PlaylistItem) (domain.IdentifiedTrack, error) {
	return domain.IdentifiedTrack{Kind: domain.TrackKindUnknown, Item: item}, nil
}

func (fakeIdentifier) TrackInfo(ctx context.Context, track domain.IdentifiedTrack) (domain.TrackInfo, error) {
	return domain.TrackInfo{PrimaryLabel: track.Item.File}, nil
}

// startFakeMPD accepts one connection and answers every command from
// responses by exact line match.
func startFakeMPD(t *testing.T, responses map[string]string) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "mpd.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := conn.Write([]byte("OK MPD 0.23.5\n")); err != nil {
			return
		}
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := line[:len(line)-1]
			resp, ok := responses[cmd]
			if !ok {
				conn.Write([]byte("ACK [5@0] {} unknown command\n"))
				continue
			}
			conn.Write([]byte(resp))
		}
	}()

	return sockPath
}

func newTestServer(t *testing.T, sock string) *Server {
	t.Helper()
	dial := func() (*mpd.Conn, error) { return mpd.Dial(sock) }
	return NewServer(
		fakeArchive{},
		dial,
		WithMetadataFetcher(fakeMetadata{meta: domain.Metadata{Title: "A Song", Uploader: "Some Artist", ThumbnailURL: "https://example.com/t.jpg"}}),
		WithRadioStations(fakeRadioStations{stations: []domain.RadioStation{{Id: 1, Name: "Station", IconAssetId: 1, StreamURL: "https://stream.example.com/s.mp3"}}}),
		WithAssets(fakeAssetLoader{asset: domain.Asset{Id: 1, Filename: "icon.png", Mime: "image/png", Digest: "abc"}, blob: []byte("pngdata")}),
		WithAssetURLs(fakeAssetURLs{}),
		WithIdentifier(fakeIdentifier{}),
	)
}

func TestHandleMetadataReturnsExtractedFields(t *testing.T) {
	sock := startFakeMPD(t, nil)
	srv := newTestServer(t, sock)

	req := httptest.NewRequest(http.MethodGet, "/api/metadata?url=https://example.com/v1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp metadataResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Title != "A Song" || resp.Artist == nil || *resp.Artist != "Some Artist" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleMetadataMissingURLIsBadRequest(t *testing.T) {
	sock := startFakeMPD(t, nil)
	srv := newTestServer(t, sock)

	req := httptest.NewRequest(http.MethodGet, "/api/metadata", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Message == "" {
		t.Fatalf("expected a flat {message} body, got %s", rec.Body.String())
	}
}

func TestHandleRadioStations(t *testing.T) {
	sock := startFakeMPD(t, nil)
	srv := newTestServer(t, sock)

	req := httptest.NewRequest(http.MethodGet, "/api/radio/stations", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var stations []radioStationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stations); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stations) != 1 || stations[0].Name != "Station" || stations[0].StreamURL != "https://stream.example.com/s.mp3" {
		t.Fatalf("unexpected stations: %+v", stations)
	}
}

func TestHandlePlayerActionUnknownIsNotFound(t *testing.T) {
	sock := startFakeMPD(t, nil)
	srv := newTestServer(t, sock)

	req := httptest.NewRequest(http.MethodPost, "/api/player/rewind", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandlePlayerActionDispatchesToMPD(t *testing.T) {
	sock := startFakeMPD(t, map[string]string{"play": "OK\n"})
	srv := newTestServer(t, sock)

	req := httptest.NewRequest(http.MethodPost, "/api/player/play", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleQueueItemNotFound(t *testing.T) {
	sock := startFakeMPD(t, map[string]string{`playlistid "99"`: "ACK [50@0] {playlistid} No such song\n"})
	srv := newTestServer(t, sock)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/99", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleQueueItemFound(t *testing.T) {
	sock := startFakeMPD(t, map[string]string{
		`playlistid "1"`: "file: https://stream.example.com/s.mp3\nPos: 0\nId: 1\nOK\n",
	})
	srv := newTestServer(t, sock)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var info domain.TrackInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if info.PrimaryLabel != "https://stream.example.com/s.mp3" {
		t.Fatalf("unexpected track info: %+v", info)
	}
}

func TestHandleAssetServesBytesWithCacheHeader(t *testing.T) {
	sock := startFakeMPD(t, nil)
	srv := newTestServer(t, sock)

	req := httptest.NewRequest(http.MethodGet, "/assets/1/abc/icon.png", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "public, max-age=315360000" {
		t.Fatalf("unexpected cache-control: %q", rec.Header().Get("Cache-Control"))
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte("pngdata")) {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestHandleAssetNotFound(t *testing.T) {
	sock := startFakeMPD(t, nil)
	dial := func() (*mpd.Conn, error) { return mpd.Dial(sock) }
	srv := NewServer(fakeArchive{}, dial, WithAssets(fakeAssetLoader{err: domain.ErrNotFound}))

	req := httptest.NewRequest(http.MethodGet, "/assets/9/abc/icon.png", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleStreamNotFoundForUnknownId(t *testing.T) {
	sock := startFakeMPD(t, nil)
	dial := func() (*mpd.Conn, error) { return mpd.Dial(sock) }
	srv := NewServer(fakeArchive{load: func(ctx context.Context, id domain.StreamId) (archive.Record, error) {
		return archive.Record{}, domain.ErrNotFound
	}}, dial)

	req := httptest.NewRequest(http.MethodGet, "/media/"+domain.NewStreamId().String()+"/stream", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleAddQueueRejectsMissingURL(t *testing.T) {
	sock := startFakeMPD(t, nil)
	srv := newTestServer(t, sock)

	req := httptest.NewRequest(http.MethodPost, "/api/queue", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleAddQueueAutoplaysWhenQueueWasEmpty(t *testing.T) {
	streamID := domain.NewStreamId()
	sock := startFakeMPD(t, map[string]string{
		`addid "https://hailsplay.example.com/media/` + streamID.String() + `/stream"`: "Id: 7\nOK\n",
		"playlistinfo": "file: https://hailsplay.example.com/media/" + streamID.String() + "/stream\nPos: 0\nId: 7\nOK\n",
		`playid "7"`:   "OK\n",
	})
	dial := func() (*mpd.Conn, error) { return mpd.Dial(sock) }
	srv := NewServer(fakeArchive{addURL: func(ctx context.Context, rawURL string) (archive.Record, error) {
		return archive.Record{Kind: domain.RecordKindArchive, Archive: &domain.ArchiveRecord{Id: streamID, Filename: "song.opus"}}, nil
	}}, dial, WithInternalURL("https://hailsplay.example.com"))

	req := httptest.NewRequest(http.MethodPost, "/api/queue", strings.NewReader(`{"url":"https://example.com/v1"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp addQueueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.MPDId != "7" {
		t.Fatalf("unexpected mpd_id: %q", resp.MPDId)
	}
}
