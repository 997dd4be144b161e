package apihttp

import (
	"fmt"
	"sync"

	"github.com/haileys/hailsplay/internal/metrics"
	"github.com/haileys/hailsplay/internal/mpd"
)

// mpdCommander serializes the one-shot MPD commands HTTP handlers issue
// (addid, playid, stop, ...) behind a single lazily-dialed connection.
// This is deliberately separate from the dedicated idle connections the
// WebSocket session (C7) and maintenance task (C9) each own: per
// spec.md §4.6 an MPD connection can have only one outstanding command
// at a time, and those two owners spend almost all of their time
// blocked in "idle", so they could never also serve a command on
// demand. A command failure drops and redials the connection on the
// next call rather than retrying inline, the same reconnect-on-next-use
// shape internal/maint's background loop uses on a timer instead.
type mpdCommander struct {
	dial func() (*mpd.Conn, error)

	mu   sync.Mutex
	conn *mpd.Conn
}

func newMPDCommander(dial func() (*mpd.Conn, error)) *mpdCommander {
	return &mpdCommander{dial: dial}
}

func (m *mpdCommander) do(fn func(*mpd.Conn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		conn, err := m.dial()
		if err != nil {
			return fmt.Errorf("dial mpd: %w", err)
		}
		m.conn = conn
	}

	if err := fn(m.conn); err != nil {
		metrics.MPDCommandErrorsTotal.Inc()
		m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}
