// Package apihttp is the HTTP surface (C10): the route table in
// spec.md §6, wired against the archive registry (C4), the MPD client
// (C6), the WebSocket session loop (C7), and playlist item enrichment.
package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gorilla/websocket"

	"github.com/haileys/hailsplay/internal/archive"
	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/metrics"
	"github.com/haileys/hailsplay/internal/mpd"
	"github.com/haileys/hailsplay/internal/session"
	"github.com/haileys/hailsplay/internal/streambody"
	"github.com/haileys/hailsplay/internal/telemetry"
)

// ArchiveRegistry is the archive-registry surface (C4) the queue and
// media-stream handlers need. internal/archive's Registry implements it.
type ArchiveRegistry interface {
	AddURL(ctx context.Context, rawURL string) (archive.Record, error)
	Load(ctx context.Context, id domain.StreamId) (archive.Record, error)
}

// MetadataFetcher is the synchronous, download-free extractor surface
// GET /api/metadata needs. internal/extractor's Driver implements it.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, rawURL string) (domain.Metadata, error)
}

// RadioStations is the station-table surface the radio endpoints need.
// internal/repository/sqlite's Pool implements it.
type RadioStations interface {
	AllStations(ctx context.Context) ([]domain.RadioStation, error)
}

// AssetLoader is the asset-bytes surface GET /assets needs.
// internal/asset's Store implements it.
type AssetLoader interface {
	LoadAsset(ctx context.Context, id domain.AssetId) (domain.Asset, error)
	LoadBlob(ctx context.Context, digest domain.AssetDigest) ([]byte, error)
}

// AssetURLs resolves an asset id to an externally fetchable URL, used
// to render a radio station's icon_url. internal/asseturl's Builder
// implements it.
type AssetURLs interface {
	URL(ctx context.Context, id domain.AssetId) (string, error)
}

// Identifier is the playlist-item enrichment surface the queue
// endpoints and the WebSocket session both need.
// internal/playlist's Identifier implements it.
type Identifier interface {
	Identify(ctx context.Context, item domain.PlaylistItem) (domain.IdentifiedTrack, error)
	TrackInfo(ctx context.Context, track domain.IdentifiedTrack) (domain.TrackInfo, error)
}

// Server is the HTTP surface (C10).
type Server struct {
	archive     ArchiveRegistry
	metadata    MetadataFetcher
	radio       RadioStations
	assets      AssetLoader
	assetURLs   AssetURLs
	identifier  Identifier
	mpd         *mpdCommander
	dialMPD     func() (*mpd.Conn, error)
	archiveRoot string
	internalURL string
	logger      *slog.Logger
	handler     http.Handler
}

type ServerOption func(*Server)

func WithMetadataFetcher(m MetadataFetcher) ServerOption {
	return func(s *Server) { s.metadata = m }
}

func WithRadioStations(r RadioStations) ServerOption {
	return func(s *Server) { s.radio = r }
}

func WithAssets(a AssetLoader) ServerOption {
	return func(s *Server) { s.assets = a }
}

func WithAssetURLs(a AssetURLs) ServerOption {
	return func(s *Server) { s.assetURLs = a }
}

func WithIdentifier(id Identifier) ServerOption {
	return func(s *Server) { s.identifier = id }
}

func WithArchiveRoot(path string) ServerOption {
	return func(s *Server) { s.archiveRoot = path }
}

func WithInternalURL(url string) ServerOption {
	return func(s *Server) { s.internalURL = url }
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer builds the Server and its full middleware-wrapped handler.
// archiveReg and dialMPD are required; every other dependency is
// optional wiring set via ServerOption, mirroring how cmd/server/main.go
// assembles the rest of the dependency graph.
func NewServer(archiveReg ArchiveRegistry, dialMPD func() (*mpd.Conn, error), opts ...ServerOption) *Server {
	s := &Server{
		archive: archiveReg,
		dialMPD: dialMPD,
		mpd:     newMPDCommander(dialMPD),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/queue", s.handleQueue)
	mux.HandleFunc("/api/queue/", s.handleQueueItem)
	mux.HandleFunc("/api/metadata", s.handleMetadata)
	mux.HandleFunc("/api/radio/tune", s.handleRadioTune)
	mux.HandleFunc("/api/radio/stations", s.handleRadioStations)
	mux.HandleFunc("/api/player/", s.handlePlayerAction)
	mux.HandleFunc("/media/", s.handleStream)
	mux.HandleFunc("/assets/", s.handleAsset)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "hailsplay",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// --- /api/queue ---

type addQueueRequest struct {
	URL string `json:"url"`
}

type addQueueResponse struct {
	MPDId string `json:"mpd_id"`
}

type queueItemResponse struct {
	Id       string           `json:"id"`
	Position int64            `json:"position"`
	Track    domain.TrackInfo `json:"track"`
}

type queueListResponse struct {
	Items []queueItemResponse `json:"items"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListQueue(w, r)
	case http.MethodPost:
		s.handleAddQueue(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAddQueue adds url to the archive registry, enqueues its internal
// stream URL in MPD, and autoplays only if the queue was empty before
// this item, per spec.md's S1/S2 scenarios.
func (s *Server) handleAddQueue(w http.ResponseWriter, r *http.Request) {
	var req addQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	rec, err := s.archive.AddURL(r.Context(), req.URL)
	if err != nil {
		metrics.QueueAddTotal.WithLabelValues("failure").Inc()
		s.logger.Error("add url failed", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	telemetry.AnnotateStream(r.Context(), rec.StreamId().String())

	streamURL, err := rec.InternalStreamURL(s.internalURL)
	if err != nil {
		metrics.QueueAddTotal.WithLabelValues("failure").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var mpdID mpd.Id
	err = s.mpd.do(func(conn *mpd.Conn) error {
		id, err := conn.AddId(streamURL)
		if err != nil {
			return err
		}
		mpdID = id

		items, err := conn.PlaylistInfo()
		if err != nil {
			return err
		}
		if len(items) == 1 && mpd.Id(items[0].Id) == id {
			return conn.PlayId(id)
		}
		return nil
	})
	if err != nil {
		metrics.QueueAddTotal.WithLabelValues("failure").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.QueueAddTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, addQueueResponse{MPDId: string(mpdID)})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	var items []domain.PlaylistItem
	err := s.mpd.do(func(conn *mpd.Conn) error {
		var err error
		items, err = conn.PlaylistInfo()
		return err
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]queueItemResponse, 0, len(items))
	for _, item := range items {
		info, err := s.trackInfo(r.Context(), item)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, queueItemResponse{Id: item.Id, Position: item.Pos, Track: info})
	}
	writeJSON(w, http.StatusOK, queueListResponse{Items: out})
}

func (s *Server) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var item domain.PlaylistItem
	err := s.mpd.do(func(conn *mpd.Conn) error {
		var err error
		item, err = conn.PlaylistId(mpd.Id(id))
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	info, err := s.trackInfo(r.Context(), item)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) trackInfo(ctx context.Context, item domain.PlaylistItem) (domain.TrackInfo, error) {
	track, err := s.identifier.Identify(ctx, item)
	if err != nil {
		return domain.TrackInfo{}, err
	}
	return s.identifier.TrackInfo(ctx, track)
}

// --- /api/metadata ---

type metadataResponse struct {
	Title     string  `json:"title"`
	Artist    *string `json:"artist,omitempty"`
	Thumbnail *string `json:"thumbnail,omitempty"`
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rawURL := r.URL.Query().Get("url")
	if strings.TrimSpace(rawURL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	meta, err := s.metadata.FetchMetadata(r.Context(), rawURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := metadataResponse{Title: meta.Title}
	if meta.Uploader != "" {
		artist := meta.Uploader
		resp.Artist = &artist
	}
	if meta.ThumbnailURL != "" {
		thumb := meta.ThumbnailURL
		resp.Thumbnail = &thumb
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- /api/radio ---

type radioTuneRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleRadioTune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req radioTuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	err := s.mpd.do(func(conn *mpd.Conn) error {
		id, err := conn.AddId(req.URL)
		if err != nil {
			return err
		}
		if err := conn.Stop(); err != nil {
			return err
		}
		return conn.PlayId(id)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type radioStationResponse struct {
	Name      string `json:"name"`
	IconURL   string `json:"icon_url"`
	StreamURL string `json:"stream_url"`
}

func (s *Server) handleRadioStations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stations, err := s.radio.AllStations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]radioStationResponse, 0, len(stations))
	for _, station := range stations {
		iconURL, err := s.assetURLs.URL(r.Context(), station.IconAssetId)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, radioStationResponse{Name: station.Name, IconURL: iconURL, StreamURL: station.StreamURL})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- /api/player ---

var playerActions = map[string]func(*mpd.Conn) error{
	"play":      (*mpd.Conn).Play,
	"pause":     (*mpd.Conn).Pause,
	"stop":      (*mpd.Conn).Stop,
	"skip-next": (*mpd.Conn).Next,
	"skip-back": (*mpd.Conn).Previous,
}

func (s *Server) handlePlayerAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/api/player/")
	fn, ok := playerActions[action]
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.mpd.do(fn); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// --- /media/{stream_id}/stream ---

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/media/")
	rest = strings.TrimSuffix(rest, "/stream")
	id, err := domain.ParseStreamId(rest)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	telemetry.AnnotateStream(r.Context(), id.String())

	rec, err := s.archive.Load(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	file, err := os.Open(rec.DiskPath(s.archiveRoot))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var body *streambody.Body
	kind := "archive"
	if rec.Kind == domain.RecordKindMemory {
		kind = "memory"
		body = streambody.NewPartial(file, rec.Memory.Download.Progress)
	} else {
		info, err := file.Stat()
		if err != nil {
			file.Close()
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		body = streambody.NewComplete(file, info.Size())
	}
	defer body.Close()

	start := time.Now()
	if err := streambody.Serve(w, r, body, rec.ContentType()); err != nil {
		s.logger.Debug("stream body serve ended early", "stream_id", id.String(), "error", err)
	}
	metrics.StreamRangeRequestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// --- /assets/{id}/{digest}/{filename} ---

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/assets/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rawID := parts[0]
	idNum, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	asset, err := s.assets.LoadAsset(r.Context(), domain.AssetId(idNum))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	blob, err := s.assets.LoadBlob(r.Context(), asset.Digest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Content is content-addressed by digest, so it never changes under
	// a given URL: cache it for ten years, same as the reference
	// implementation's immutable-asset contract.
	w.Header().Set("Cache-Control", "public, max-age=315360000")
	w.Header().Set("Content-Type", asset.Mime)
	http.ServeContent(w, r, asset.Filename, time.Time{}, bytes.NewReader(blob))
}

// --- /ws ---

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	mpdConn, err := s.dialMPD()
	if err != nil {
		s.logger.Error("ws session could not dial mpd", "error", err)
		_ = wsConn.Close()
		return
	}

	// The session loop blocks in MPD's "idle" on mpdConn, which has no
	// context.Context cancellation; a disconnect is detected by this
	// read loop instead, and closing mpdConn out from under the blocked
	// Idle is what actually unblocks Session.Run, the same technique
	// internal/maint's Task.Stop uses.
	go func() {
		for {
			if _, _, err := wsConn.ReadMessage(); err != nil {
				mpdConn.Close()
				return
			}
		}
	}()

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wsConn.WriteJSON(v)
	}

	metrics.WebSocketSessionsActive.Inc()
	defer metrics.WebSocketSessionsActive.Dec()

	sess := session.New(mpdConn, s.identifier, s.logger)
	if err := sess.Run(r.Context(), send); err != nil {
		s.logger.Debug("ws session ended", "error", err)
	}
	_ = wsConn.Close()
}
