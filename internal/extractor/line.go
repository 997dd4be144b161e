package extractor

import (
	"strconv"
	"strings"
)

type eventKind int

const (
	eventOther eventKind = iota
	eventThumbnail
	eventMetadata
	eventDownload
	eventProgress
	eventComplete
)

type lineEvent struct {
	kind       eventKind
	path       string
	downloaded int64
	total      int64
}

const (
	prefixThumbnail = "[info] Writing video thumbnail original to: "
	prefixMetadata  = "[info] Writing video metadata as JSON to: "
	prefixDownload  = "[download] Destination: "
	prefixProgress  = "hailsplay-progress:D="
	lineComplete    = "[download] 100%"
)

// parseLine recognizes exactly the line shapes documented for the
// extractor's stdout. Anything else is eventOther and carries no payload.
func parseLine(raw string) lineEvent {
	line := strings.TrimSpace(raw)

	if path, ok := strings.CutPrefix(line, prefixThumbnail); ok {
		return lineEvent{kind: eventThumbnail, path: path}
	}
	if path, ok := strings.CutPrefix(line, prefixMetadata); ok {
		return lineEvent{kind: eventMetadata, path: path}
	}
	if path, ok := strings.CutPrefix(line, prefixDownload); ok {
		return lineEvent{kind: eventDownload, path: path}
	}
	if d, total, ok := parseProgressLine(line); ok {
		return lineEvent{kind: eventProgress, downloaded: d, total: total}
	}
	if line == lineComplete {
		return lineEvent{kind: eventComplete}
	}
	return lineEvent{kind: eventOther}
}

func parseProgressLine(line string) (downloaded, total int64, ok bool) {
	rest, found := strings.CutPrefix(line, prefixProgress)
	if !found {
		return 0, 0, false
	}
	parts := strings.SplitN(rest, ":T=", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	d, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	t, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return d, t, true
}
