// Package mime derives content types for archived/in-flight media files
// from their extension. Unlike internal/asset's sniffing-based detector,
// the streamed audio path only ever needs a fixed, fast extension table.
package mime

import (
	"path/filepath"
	"strings"
)

const fallback = "application/octet-stream"

// FromPath returns the content type for path's extension, or the
// generic octet-stream fallback if the extension isn't recognized.
func FromPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return FromExtension(ext)
}

// FromExtension looks up ext (without its leading dot) directly.
func FromExtension(ext string) string {
	switch ext {
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/x-flac"
	case "gif":
		return "image/gif"
	case "jpg", "jpeg":
		return "image/jpg"
	case "m4a":
		return "audio/mp4"
	case "mka":
		return "audio/x-matroska"
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "opus":
		return "audio/ogg"
	case "png":
		return "image/png"
	case "wav":
		return "audio/wav"
	case "webm":
		return "audio/webm"
	case "webp":
		return "image/webp"
	default:
		return fallback
	}
}
