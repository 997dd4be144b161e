// Package maint runs the maintenance task (C9): a background loop that
// holds its own MPD connection in "idle" and reacts to player-state
// changes by trimming radio stations out of playback history.
package maint

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/mpd"
	"github.com/haileys/hailsplay/internal/playlist"
)

// reconnectBackoff is the sleep between session attempts after a failed
// dial or a session that exited abnormally, per spec.md §4.10's bounded
// 1-5s reconnect policy (the reference implementation uses a flat 5s
// sleep specifically for this task).
const reconnectBackoff = 5 * time.Second

// Dialer opens a fresh MPD connection. Using a function instead of a
// fixed socket path lets tests substitute an in-memory fake.
type Dialer func() (*mpd.Conn, error)

// Task is the running maintenance loop. Stop ends it and waits for the
// current iteration to return. Go's net.Conn has no cancelable read, so
// unlike the reference implementation's select-on-a-keepalive-channel
// shutdown, Stop also closes whatever connection is currently blocked
// in Idle to unblock the loop.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *mpd.Conn
}

// Start spawns the maintenance loop in the background and returns a
// handle to stop it. The loop runs until Stop is called, not until any
// particular session ends, mirroring the reference implementation's
// keepalive-channel shutdown.
func Start(dial Dialer, identifier *playlist.Identifier, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t := &Task{cancel: cancel, done: done}

	go func() {
		defer close(done)
		t.runLoop(ctx, dial, identifier, logger)
	}()

	return t
}

func (t *Task) Stop() {
	t.cancel()
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.mu.Unlock()
	<-t.done
}

func (t *Task) runLoop(ctx context.Context, dial Dialer, identifier *playlist.Identifier, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := dial()
		if err != nil {
			logger.Warn("could not open mpd session in maintenance task, backing off", "error", err)
			if sleepOrDone(ctx, reconnectBackoff) {
				return
			}
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()

		err = runSession(ctx, conn, identifier, logger)
		conn.Close()
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			logger.Warn("maintenance session exited abnormally", "error", err)
			if sleepOrDone(ctx, reconnectBackoff) {
				return
			}
		}
	}
}

// runSession idles in a loop until ctx is canceled or the connection
// errors, clearing stale radio stations out of history on every Player
// subsystem change.
func runSession(ctx context.Context, conn *mpd.Conn, identifier *playlist.Identifier, logger *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		changed, err := conn.Idle()
		if err != nil {
			return err
		}

		for _, subsystem := range changed.Subsystems {
			if subsystem != "player" {
				continue
			}
			if err := clearRadioStationsFromHistory(ctx, conn, identifier); err != nil {
				return err
			}
		}
	}
}

// clearRadioStationsFromHistory removes every radio-station playlist
// item except the one currently playing, so tuning into a station
// doesn't pollute the queue with an ever-growing history of the same
// live stream entry.
func clearRadioStationsFromHistory(ctx context.Context, conn *mpd.Conn, identifier *playlist.Identifier) error {
	status, err := conn.Status()
	if err != nil {
		return err
	}

	items, err := conn.PlaylistInfo()
	if err != nil {
		return err
	}

	for _, item := range items {
		if status.HasSong && mpd.Id(item.Id) == status.SongId {
			continue
		}

		track, err := identifier.Identify(ctx, item)
		if err != nil {
			return err
		}
		if track.Kind != domain.TrackKindRadio {
			continue
		}

		if err := conn.DeleteId(mpd.Id(item.Id)); err != nil {
			return err
		}
	}

	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
