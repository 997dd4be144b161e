package domain

// ScratchFile is the capability surface C1 (the working-directory
// manager) exposes to the rest of the system: a path to read/write plus
// a release that must be called exactly once. Concrete ownership and
// reference-counted directory cleanup live in internal/scratch; domain
// only needs the interface so packages above C1 don't import it.
type ScratchFile interface {
	Path() string
	Close() error
}

// ProgressWatch is a latest-wins broadcast of download Progress: new
// watchers observe the current value immediately, and Next blocks until
// either the value has advanced or the publisher has closed.
type ProgressWatch interface {
	// Current returns the most recently published Progress without
	// blocking.
	Current() Progress

	// Next blocks until a Progress is published that differs from last,
	// or the publisher closes. ok is false only once the publisher has
	// closed and no further updates will ever arrive.
	Next(last Progress) (p Progress, ok bool)
}

// DownloadError is the extractor's failure type. StartDownload returns it
// directly for the "spawn" and "protocol" stages (the subprocess did not
// start, or its startup lines were missing); a failed exit after that
// arrives on the complete slot with Stage "command".
type DownloadError struct {
	Stage string // "spawn", "protocol", "command"
	Code  int    // exit code, when Stage == "command"
	Err   error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return e.Stage + ": " + e.Err.Error()
	}
	return e.Stage
}

func (e *DownloadError) Unwrap() error { return e.Err }

// CompleteWaiter is a single-producer, multi-consumer one-shot slot:
// every call to Wait blocks until the extractor's background phase
// resolves it, then returns the same result to every caller.
type CompleteWaiter interface {
	Wait() error
}

// DownloadHandle is the in-memory record of an in-flight extraction.
// Fields become valid in this order during the startup phase: File,
// MetadataFile, Metadata are all set before the handle is returned to
// callers; ThumbnailFile is set only if the extractor reported one.
type DownloadHandle struct {
	File          ScratchFile
	ThumbnailFile ScratchFile // nil if no thumbnail was produced
	MetadataFile  ScratchFile
	Metadata      Metadata
	Progress      ProgressWatch
	Complete      CompleteWaiter
}
