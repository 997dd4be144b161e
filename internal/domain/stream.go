package domain

import "github.com/google/uuid"

// StreamId identifies a submitted URL and its derived artifacts (audio
// file, thumbnail, metadata) for the life of the record, in memory and
// once archived.
type StreamId uuid.UUID

func NewStreamId() StreamId {
	return StreamId(uuid.New())
}

func (id StreamId) String() string {
	return uuid.UUID(id).String()
}

func ParseStreamId(s string) (StreamId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return StreamId{}, err
	}
	return StreamId(u), nil
}

// Progress is the latest known download state of an in-flight extraction.
// DownloadedBytes is monotonically non-decreasing; Complete is true once
// the extractor subprocess has exited zero and downloaded_bytes has been
// fixed up to equal total_bytes.
type Progress struct {
	DownloadedBytes int64
	TotalBytes      int64
	Complete        bool
}

// Metadata is the parsed contents of the extractor's info JSON sidecar.
type Metadata struct {
	Title        string `json:"title"`
	Uploader     string `json:"uploader"`
	WebpageURL   string `json:"webpage_url"`
	Ext          string `json:"ext"`
	ThumbnailURL string `json:"thumbnail,omitempty"`
}

// TrackInfo is the rendered display form of a playlist item, used both in
// the queue listing and the per-item track-info endpoint.
type TrackInfo struct {
	ImageURL       *string `json:"image_url,omitempty"`
	PrimaryLabel   string  `json:"primary_label"`
	SecondaryLabel *string `json:"secondary_label,omitempty"`
}
