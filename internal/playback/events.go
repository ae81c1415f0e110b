package playback

import "time"

// SeekStarted is published exactly once per external Seek call,
// strictly before the matching SeekCompleted (spec.md §3 invariant 6).
type SeekStarted struct {
	ID       uint64
	Position time.Duration
}

// SeekCompleted matches a SeekStarted by ID.
type SeekCompleted struct {
	ID       uint64
	Position time.Duration
}
