package session

import (
	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/mpd"
)

// Wire message shapes sent to the client, one struct per "t" frame kind.

type queueMessage struct {
	T     string       `json:"t"`
	Queue queuePayload `json:"queue"`
}

type queuePayload struct {
	Items []queueItem `json:"items"`
}

type queueItem struct {
	Id       string           `json:"id"`
	Position int64            `json:"position"`
	Track    domain.TrackInfo `json:"track"`
}

type trackChangeMessage struct {
	T     string            `json:"t"`
	Track *domain.TrackInfo `json:"track"`
}

type playerMessage struct {
	T      string        `json:"t"`
	Player playerPayload `json:"player"`
}

type playerPayload struct {
	Track    *string          `json:"track,omitempty"`
	State    string           `json:"state"`
	Position *positionPayload `json:"position,omitempty"`
}

// positionPayload is the internally-tagged PlayPosition enum: either
// "streaming" (a live stream with no known duration) or "elapsed" (a
// finite track with a known position and duration).
type positionPayload struct {
	T        string  `json:"t"`
	Time     float64 `json:"time,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// buildPlayerPayload renders an mpd.Status into the wire player shape.
// mpd.PlayState has four values (stopped, paused, loading, playing) but
// the wire enum only has three; paused folds into "stopped", matching
// the reference implementation's player status mapping, which likewise
// treats Pause the same as Stop (both report playing=false).
func buildPlayerPayload(status mpd.Status) playerPayload {
	payload := playerPayload{State: stateString(status.State)}

	if status.HasSong {
		track := string(status.SongId)
		payload.Track = &track
	}

	if status.State == mpd.PlayStatePlaying {
		if status.HasTimes {
			payload.Position = &positionPayload{T: "elapsed", Time: status.Elapsed, Duration: status.Duration}
		} else {
			// mpd.Status.HasTimes is false both when MPD reports elapsed
			// with no duration (a live stream — "streaming" is correct)
			// and when it reports neither (which original_source's
			// play_position treats as no position at all). The combined
			// flag can't tell the two apart; in practice a real MPD
			// daemon always reports elapsed once state is "play", so the
			// neither-present case is not known to be reachable here.
			payload.Position = &positionPayload{T: "streaming"}
		}
	}

	return payload
}

func stateString(state mpd.PlayState) string {
	switch state {
	case mpd.PlayStateLoading:
		return "loading"
	case mpd.PlayStatePlaying:
		return "playing"
	default: // PlayStateStopped, PlayStatePaused
		return "stopped"
	}
}
