// Package session implements the WebSocket session loop (C7): one MPD
// connection per connected client, diffing playlist and player state on
// every idle wakeup and pushing the changes as JSON frames.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/mpd"
)

// Identifier is the playlist-item enrichment surface a session needs.
// internal/playlist's Identifier implements it.
type Identifier interface {
	Identify(ctx context.Context, item domain.PlaylistItem) (domain.IdentifiedTrack, error)
	TrackInfo(ctx context.Context, track domain.IdentifiedTrack) (domain.TrackInfo, error)
}

// Session drives a single WebSocket client's MPD-backed state. It owns
// conn for its entire lifetime: Run closes it before returning, whether
// it returns because of a conn error, a send failure, or ctx being
// canceled (which a caller implements by closing conn out from under a
// blocked Idle, the same adaptation internal/maint uses, since a Go
// net.Conn read has no context.Context cancellation).
type Session struct {
	conn       *mpd.Conn
	identifier Identifier
	logger     *slog.Logger
}

func New(conn *mpd.Conn, identifier Identifier, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{conn: conn, identifier: identifier, logger: logger}
}

// Send delivers one server-to-client frame. The HTTP layer's websocket
// writer implements it.
type Send func(v any) error

// Run loops until send or the MPD connection returns an error. Both
// dirty flags start true, so the first iteration always builds and
// sends a Queue frame and a Player frame (plus an initial TrackChange),
// giving callers the idempotent "identical initial frames for identical
// state" behavior regardless of how the dirty flags evolve afterward.
func (s *Session) Run(ctx context.Context, send Send) error {
	defer s.conn.Close()

	playlistDirty := true
	playerDirty := true

	var lastTrackId mpd.Id
	var lastHasSong bool
	sentTrackOnce := false

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if playlistDirty {
			msg, err := s.buildQueue(ctx)
			if err != nil {
				return err
			}
			if err := send(msg); err != nil {
				return err
			}
		}

		if playerDirty {
			status, err := s.conn.Status()
			if err != nil {
				return err
			}

			if !sentTrackOnce || status.HasSong != lastHasSong || status.SongId != lastTrackId {
				track, err := s.currentTrackInfo(ctx, status)
				if err != nil {
					return err
				}
				if err := send(trackChangeMessage{T: "track-change", Track: track}); err != nil {
					return err
				}
				sentTrackOnce = true
				lastHasSong = status.HasSong
				lastTrackId = status.SongId
			}

			if err := send(playerMessage{T: "player", Player: buildPlayerPayload(status)}); err != nil {
				return err
			}
		}

		playlistDirty = false
		playerDirty = false

		changed, err := s.conn.Idle()
		if err != nil {
			return err
		}
		for _, subsystem := range changed.Subsystems {
			switch subsystem {
			case "playlist":
				playlistDirty = true
			case "player":
				playerDirty = true
			default:
				s.logger.Debug("ignoring unhandled mpd subsystem change", "subsystem", subsystem)
			}
		}
	}
}

func (s *Session) buildQueue(ctx context.Context) (queueMessage, error) {
	items, err := s.conn.PlaylistInfo()
	if err != nil {
		return queueMessage{}, fmt.Errorf("playlistinfo: %w", err)
	}

	out := make([]queueItem, 0, len(items))
	for _, item := range items {
		info, err := s.trackInfo(ctx, item)
		if err != nil {
			return queueMessage{}, err
		}
		out = append(out, queueItem{Id: item.Id, Position: item.Pos, Track: info})
	}

	return queueMessage{T: "queue", Queue: queuePayload{Items: out}}, nil
}

// currentTrackInfo resolves the enriched track for status's current
// song, or nil if nothing is playing.
func (s *Session) currentTrackInfo(ctx context.Context, status mpd.Status) (*domain.TrackInfo, error) {
	if !status.HasSong {
		return nil, nil
	}
	item, err := s.conn.PlaylistId(status.SongId)
	if err != nil {
		return nil, fmt.Errorf("playlistid: %w", err)
	}
	info, err := s.trackInfo(ctx, item)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *Session) trackInfo(ctx context.Context, item domain.PlaylistItem) (domain.TrackInfo, error) {
	track, err := s.identifier.Identify(ctx, item)
	if err != nil {
		return domain.TrackInfo{}, fmt.Errorf("identify playlist item: %w", err)
	}
	info, err := s.identifier.TrackInfo(ctx, track)
	if err != nil {
		return domain.TrackInfo{}, fmt.Errorf("render track info: %w", err)
	}
	return info, nil
}
