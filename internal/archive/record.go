package archive

import (
	"net/url"
	"path/filepath"

	"github.com/haileys/hailsplay/internal/domain"
	"github.com/haileys/hailsplay/internal/mime"
)

// Record is the sum type the archive registry hands back from Load and
// AddURL: either a still-downloading MemoryRecord or a persisted
// ArchiveRecord, behind one capability surface so callers above C4 never
// branch on which arm they hold.
type Record struct {
	Kind    domain.RecordKind
	Memory  *domain.MemoryRecord
	Archive *domain.ArchiveRecord
}

func memoryRecord(m *domain.MemoryRecord) Record {
	return Record{Kind: domain.RecordKindMemory, Memory: m}
}

func archiveRecord(a domain.ArchiveRecord) Record {
	return Record{Kind: domain.RecordKindArchive, Archive: &a}
}

func (r Record) path() string {
	if r.Kind == domain.RecordKindArchive {
		return r.Archive.Filename
	}
	return r.Memory.Download.File.Path()
}

// ContentType derives a content type from the record's filename
// extension, without reading the file.
func (r Record) ContentType() string {
	return mime.FromPath(r.path())
}

// DiskPath returns the absolute path to the record's audio file:
// archiveRoot/filename for a persisted record, the scratch file's own
// path for an in-flight one.
func (r Record) DiskPath(archiveRoot string) string {
	if r.Kind == domain.RecordKindArchive {
		return filepath.Join(archiveRoot, r.Archive.Filename)
	}
	return r.Memory.Download.File.Path()
}

func (r Record) Filename() string {
	if r.Kind == domain.RecordKindArchive {
		return r.Archive.Filename
	}
	return filepath.Base(r.Memory.Download.File.Path())
}

func (r Record) StreamId() domain.StreamId {
	if r.Kind == domain.RecordKindArchive {
		return r.Archive.Id
	}
	return r.Memory.Id
}

// InternalStreamURL builds the internal-facing URL the HTTP layer's own
// code uses to address this record's stream endpoint, joined against
// baseURL (the configured http.internal_url).
func (r Record) InternalStreamURL(baseURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	return base.JoinPath("media", r.StreamId().String(), "stream").String(), nil
}

// ParseMetadata returns the record's metadata. Both arms already carry
// it as a parsed domain.Metadata value (the archive row's JSON column is
// unmarshaled on load), so there is nothing left to parse here; the name
// matches the reference implementation's fallible accessor for symmetry.
func (r Record) ParseMetadata() (domain.Metadata, error) {
	if r.Kind == domain.RecordKindArchive {
		return r.Archive.Metadata, nil
	}
	return r.Memory.Download.Metadata, nil
}
