package mpd

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/haileys/hailsplay/internal/domain"
)

// Conn is a single connection to the daemon. It is not concurrent: one
// outstanding command at a time. Callers that need to issue a command
// while idle is pending must open a second Conn — exactly what the
// WebSocket session and maintenance task each do, per spec.md §4.6.
type Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	Version string
}

// Dial opens a Unix-domain connection to the daemon at socketPath and
// validates the handshake line.
func Dial(socketPath string) (*Conn, error) {
	nc, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial mpd socket %q: %w", socketPath, err)
	}
	r := bufio.NewReader(nc)
	version, err := readHello(r)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &Conn{conn: nc, r: r, Version: version}, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) command(name string, args ...string) (Attrs, error) {
	line, err := buildCommand(name, args...)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		return nil, fmt.Errorf("write mpd command %q: %w", name, err)
	}
	return readResponse(c.r)
}

// Id is an MPD playlist-item id: opaque text per spec.md §3, even though
// the protocol itself represents it as a decimal integer on the wire.
type Id string

// AddId enqueues uri and returns the newly assigned playlist item id.
func (c *Conn) AddId(uri string) (Id, error) {
	attrs, err := c.command("addid", uri)
	if err != nil {
		return "", err
	}
	id, ok := attrs.Get("Id")
	if !ok {
		return "", &ErrProtocol{Reason: "addid response missing Id"}
	}
	return Id(id), nil
}

// DeleteId removes the playlist item with the given id.
func (c *Conn) DeleteId(id Id) error {
	_, err := c.command("deleteid", string(id))
	return err
}

// Clear empties the playlist.
func (c *Conn) Clear() error {
	_, err := c.command("clear")
	return err
}

// PlaylistInfo returns every item currently queued.
func (c *Conn) PlaylistInfo() ([]domain.PlaylistItem, error) {
	attrs, err := c.command("playlistinfo")
	if err != nil {
		return nil, err
	}
	return parsePlaylistItems(attrs), nil
}

// PlaylistId returns the single playlist item with the given id.
func (c *Conn) PlaylistId(id Id) (domain.PlaylistItem, error) {
	attrs, err := c.command("playlistid", string(id))
	if err != nil {
		// MPD answers an unknown id with ACK error code 50 (no such song).
		var ack *ErrAck
		if errors.As(err, &ack) && strings.HasPrefix(ack.Text, "[50@") {
			return domain.PlaylistItem{}, domain.ErrNotFound
		}
		return domain.PlaylistItem{}, err
	}
	items := parsePlaylistItems(attrs)
	if len(items) == 0 {
		return domain.PlaylistItem{}, domain.ErrNotFound
	}
	return items[0], nil
}

func parsePlaylistItems(attrs Attrs) []domain.PlaylistItem {
	var items []domain.PlaylistItem
	for _, group := range attrs.SplitAt("file") {
		item := domain.PlaylistItem{}
		if v, ok := group.Get("file"); ok {
			item.File = v
		}
		if v, ok := group.Get("Pos"); ok {
			item.Pos, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := group.Get("Id"); ok {
			item.Id = v
		}
		if v, ok := group.Get("Title"); ok {
			item.Title = v
		}
		if v, ok := group.Get("Name"); ok {
			item.Name = v
		}
		items = append(items, item)
	}
	return items
}

// Changed is the result of an Idle call: the subsystems that changed.
type Changed struct {
	Subsystems []string
}

// Idle blocks until MPD reports a subsystem change. Per spec.md §4.6
// this client issues one outstanding command at a time, so a caller
// that wants to send another command while idle is pending must use a
// second Conn.
func (c *Conn) Idle() (Changed, error) {
	attrs, err := c.command("idle")
	if err != nil {
		return Changed{}, err
	}
	return Changed{Subsystems: attrs.GetAll("changed")}, nil
}

func (c *Conn) Play() error {
	_, err := c.command("play")
	return err
}

func (c *Conn) PlayId(id Id) error {
	_, err := c.command("playid", string(id))
	return err
}

func (c *Conn) Stop() error {
	_, err := c.command("stop")
	return err
}

func (c *Conn) Pause() error {
	_, err := c.command("pause")
	return err
}

func (c *Conn) Next() error {
	_, err := c.command("next")
	return err
}

func (c *Conn) Previous() error {
	_, err := c.command("previous")
	return err
}

// PlayState is the coarse playback state exposed in Status.
type PlayState int

const (
	PlayStateStopped PlayState = iota
	PlayStatePaused
	PlayStateLoading // state=play but no audio format reported yet
	PlayStatePlaying
)

// Status is the parsed result of the MPD "status" command.
type Status struct {
	State    PlayState
	SongId   Id
	HasSong  bool
	Elapsed  float64
	Duration float64
	HasTimes bool
	Audio    string
}

// Status fetches and parses the current player status. state is
// mandatory; songid/elapsed/duration/audio are optional. A state=play
// with no audio format means the stream is still warming up, exposed as
// PlayStateLoading — spec.md §9 flags this heuristic as MPD-version
// dependent.
func (c *Conn) Status() (Status, error) {
	attrs, err := c.command("status")
	if err != nil {
		return Status{}, err
	}

	rawState, ok := attrs.Get("state")
	if !ok {
		return Status{}, &ErrProtocol{Reason: "status response missing state"}
	}

	audio, hasAudio := attrs.Get("audio")

	var state PlayState
	switch rawState {
	case "stop":
		state = PlayStateStopped
	case "pause":
		state = PlayStatePaused
	case "play":
		if hasAudio {
			state = PlayStatePlaying
		} else {
			state = PlayStateLoading
		}
	default:
		return Status{}, &ErrProtocol{Reason: fmt.Sprintf("unknown state %q", rawState)}
	}

	status := Status{State: state, Audio: audio}

	if v, ok := attrs.Get("songid"); ok {
		status.SongId = Id(v)
		status.HasSong = true
	}
	elapsed, hasElapsed := attrs.Get("elapsed")
	duration, hasDuration := attrs.Get("duration")
	if hasElapsed && hasDuration {
		status.Elapsed, _ = strconv.ParseFloat(elapsed, 64)
		status.Duration, _ = strconv.ParseFloat(duration, 64)
		status.HasTimes = true
	}

	return status, nil
}
