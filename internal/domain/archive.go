package domain

import "time"

// RecordKind distinguishes an archive record still backed by a live
// download (in memory only) from one that has finished and been
// persisted to the database. Both satisfy the same accessor surface so
// callers (C5, C7, C8) don't need to branch on which one they have.
type RecordKind int

const (
	RecordKindMemory RecordKind = iota
	RecordKindArchive
)

// MemoryRecord is an archive entry still in flight: the extractor
// subprocess that produced it may still be running, and its files live
// in the stream's own scratch directory under the working directory.
type MemoryRecord struct {
	Id       StreamId
	URL      string
	Download *DownloadHandle
}

// ArchiveRecord is a finished, persisted archive entry: a row in
// archived_media plus the audio file it names, which has been moved out
// of its scratch directory into the archive root.
type ArchiveRecord struct {
	RowId          int64
	Id             StreamId
	URL            string
	Filename       string
	ArchivedAt     time.Time
	ThumbnailAsset *AssetId
	Metadata       Metadata
}
