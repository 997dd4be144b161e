package maint

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haileys/hailsplay/internal/archive"
	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/mpd"
	"github.com/haileys/hailsplay/internal/playlist"
)

// startFakeServer accepts one connection, sends the handshake, then
// answers every command from responses (matched by exact line, minus
// the trailing newline); deletedIds records every "deleteid" argument
// it receives. Only the first "idle" call gets a response — later idle
// calls hang until the connection is closed, so a single player-change
// event drives exactly one pass of the maintenance logic.
func startFakeServer(t *testing.T, responses map[string]string, deletedIds *[]string, mu *sync.Mutex) string {
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
		idleCalls := 0
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := line[:len(line)-1]

			if len(cmd) > len("deleteid ") && cmd[:len("deleteid ")] == "deleteid " {
				mu.Lock()
				*deletedIds = append(*deletedIds, strings.Trim(cmd[len("deleteid "):], `"`))
				mu.Unlock()
				conn.Write([]byte("OK\n"))
				continue
			}

			if cmd == "idle" {
				idleCalls++
				if idleCalls > 1 {
					// Don't respond; the client blocks waiting for a
					// reply until the test closes the connection via
					// Stop, at which point this read loop exits too.
					continue
				}
			}

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

func TestMaintClearsRadioStationsOnPlayerChange(t *testing.T) {
	var mu sync.Mutex
	var deletedIds []string

	streamID := domain.NewStreamId()
	radioURL := "https://stream.example.com/station.mp3"

	responses := map[string]string{
		"idle":         "changed: player\nOK\n",
		"status":       "state: play\nsongid: 2\naudio: 44100:16:2\nOK\n",
		"playlistinfo": "file: " + radioURL + "\nPos: 0\nId: 1\nfile: /media/" + streamID.String() + "/stream\nPos: 1\nId: 2\nOK\n",
	}
	sock := startFakeServer(t, responses, &deletedIds, &mu)

	station := domain.RadioStation{Id: 1, Name: "Station", IconAssetId: 1, StreamURL: radioURL}
	id := playlist.New(
		fakeArchiveLoader{records: map[domain.StreamId]archive.Record{
			streamID: {Kind: domain.RecordKindArchive, Archive: &domain.ArchiveRecord{Id: streamID, Filename: "song.opus"}},
		}},
		fakeRadio{stations: map[string]domain.RadioStation{radioURL: station}},
		fakeAssetURLs{},
	)

	dial := func() (*mpd.Conn, error) { return mpd.Dial(sock) }
	task := Start(dial, id, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(deletedIds)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	task.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(deletedIds) != 1 || deletedIds[0] != "1" {
		t.Fatalf("expected only the non-current radio item (id 1) to be deleted, got %v", deletedIds)
	}
}

type fakeArchiveLoader struct {
	records map[domain.StreamId]archive.Record
}

func (f fakeArchiveLoader) Load(ctx context.Context, id domain.StreamId) (archive.Record, error) {
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
