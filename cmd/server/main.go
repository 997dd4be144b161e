package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	apihttp "github.com/haileys/hailsplay/internal/api/http"
	"github.com/haileys/hailsplay/internal/app"
	"github.com/haileys/hailsplay/internal/archive"
	"github.com/haileys/hailsplay/internal/asset"
	"github.com/haileys/hailsplay/internal/asseturl"
	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/extractor"
	"github.com/haileys/hailsplay/internal/maint"
	"github.com/haileys/hailsplay/internal/metrics"
	"github.com/haileys/hailsplay/internal/mpd"
	"github.com/haileys/hailsplay/internal/playlist"
	"github.com/haileys/hailsplay/internal/repository/sqlite"
	"github.com/haileys/hailsplay/internal/scratch"
	"github.com/haileys/hailsplay/internal/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		runServer(os.Args[1:])
		return
	}

	switch os.Args[1] {
	case "add-station":
		runAddStation(os.Args[2:])
	case "server":
		runServer(os.Args[2:])
	default:
		runServer(os.Args[1:])
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	fs.Parse(args)

	cfg, err := app.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "hailsplay")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "hailsplay"),
		slog.String("httpListen", cfg.HTTP.Listen),
		slog.String("httpInternalURL", cfg.HTTP.InternalURL),
		slog.String("httpExternalURL", cfg.HTTP.ExternalURL),
		slog.String("mpdSocket", cfg.MPD.Socket),
		slog.String("archiveDir", cfg.Storage.Archive),
		slog.String("workingDir", cfg.Storage.Working),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer dbCancel()

	dbPath := cfg.Storage.Archive + "/hailsplay.db"
	if v := strings.TrimSpace(os.Getenv("HAILSPLAY_DB_PATH")); v != "" {
		dbPath = v
	}
	pool, err := sqlite.Open(dbCtx, dbPath)
	if err != nil {
		logger.Error("database open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("database close error", slog.String("error", err.Error()))
		}
	}()

	working, err := scratch.OpenOrCreate(cfg.Storage.Working, logger)
	if err != nil {
		logger.Error("working directory open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	extractorBin := strings.TrimSpace(os.Getenv("HAILSPLAY_EXTRACTOR_BIN"))
	extractorDriver := extractor.New(extractorBin, logger)

	assetLimiter := rate.NewLimiter(rate.Limit(4<<20), 8<<20) // 4 MiB/s sustained, 8 MiB burst
	assetStore := asset.New(pool, nil, assetLimiter, logger)

	archiveRegistry := archive.New(pool, working, extractorDriver, assetStore, cfg.Storage.Archive, logger)

	assetURLs := asseturl.New(assetStore, cfg.HTTP.ExternalURL)
	identifier := playlist.New(archiveRegistry, pool, assetURLs)

	dialMPD := func() (*mpd.Conn, error) { return mpd.Dial(cfg.MPD.Socket) }

	maintTask := maint.Start(dialMPD, identifier, logger)
	defer maintTask.Stop()

	srv := apihttp.NewServer(archiveRegistry, dialMPD,
		apihttp.WithMetadataFetcher(extractorDriver),
		apihttp.WithRadioStations(pool),
		apihttp.WithAssets(assetStore),
		apihttp.WithAssetURLs(assetURLs),
		apihttp.WithIdentifier(identifier),
		apihttp.WithArchiveRoot(cfg.Storage.Archive),
		apihttp.WithInternalURL(cfg.HTTP.InternalURL),
		apihttp.WithLogger(logger),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTP.Listen))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func runAddStation(args []string) {
	fs := flag.NewFlagSet("add-station", flag.ExitOnError)
	name := fs.String("name", "", "station display name")
	icon := fs.String("icon", "", "path to a local icon image file")
	streamURL := fs.String("stream-url", "", "internet radio stream URL")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*icon) == "" || strings.TrimSpace(*streamURL) == "" {
		fmt.Fprintln(os.Stderr, "add-station requires --name, --icon and --stream-url")
		os.Exit(1)
	}

	cfg, err := app.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbPath := cfg.Storage.Archive + "/hailsplay.db"
	if v := strings.TrimSpace(os.Getenv("HAILSPLAY_DB_PATH")); v != "" {
		dbPath = v
	}
	pool, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "database open:", err)
		os.Exit(1)
	}
	defer pool.Close()

	assetStore := asset.New(pool, nil, nil, logger)

	uploadable, err := assetStore.Upload(*icon)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read icon:", err)
		os.Exit(1)
	}
	iconID, err := assetStore.Insert(ctx, uploadable)
	if err != nil {
		fmt.Fprintln(os.Stderr, "insert icon asset:", err)
		os.Exit(1)
	}

	station := domain.RadioStation{
		Name:        *name,
		IconAssetId: iconID,
		StreamURL:   *streamURL,
	}
	if _, err := pool.InsertStation(ctx, station); err != nil {
		fmt.Fprintln(os.Stderr, "insert station:", err)
		os.Exit(1)
	}

	fmt.Printf("added station %q (%s)\n", *name, *streamURL)
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
