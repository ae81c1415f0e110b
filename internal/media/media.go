// Package media defines the value types shared by every layer of the
// playback controller: stream kinds, packets, codec configuration, and
// the small set of enums observed by callers.
package media

import (
	"fmt"
	"time"
)

// StreamKind identifies which elementary stream a packet, config, or
// buffer belongs to. The set is fixed at controller construction time.
type StreamKind int

const (
	Audio StreamKind = iota
	Video
	streamKindCount
)

// NumStreamKinds is the number of StreamKind values a controller may be
// initialized with.
const NumStreamKinds = int(streamKindCount)

func (k StreamKind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("StreamKind(%d)", int(k))
	}
}

// SeekGeneration is a monotonic id tagging packets produced after a given
// Seek, used to drop stale packets belonging to a prior generation.
type SeekGeneration uint64

// StreamConfig is an opaque codec descriptor, compared by value. The
// controller never inspects its contents; it only tests equality across
// a seek boundary to decide whether a destructive reconfiguration is
// required.
type StreamConfig struct {
	Kind      StreamKind
	MimeType  string
	Extradata []byte
}

// Equal reports whether two configs describe the same codec setup.
func (c StreamConfig) Equal(o StreamConfig) bool {
	if c.Kind != o.Kind || c.MimeType != o.MimeType {
		return false
	}
	if len(c.Extradata) != len(o.Extradata) {
		return false
	}
	for i := range c.Extradata {
		if c.Extradata[i] != o.Extradata[i] {
			return false
		}
	}
	return true
}

// Packet is a single access unit for one elementary stream. Exactly one
// of {len(Data) > 0, IsConfig, IsEOS} holds.
type Packet struct {
	Kind       StreamKind
	PTS        time.Duration
	DTS        time.Duration
	Data       []byte
	Keyframe   bool
	IsConfig   bool
	IsEOS      bool
	Generation SeekGeneration
	Config     StreamConfig // valid when IsConfig
	DRM        any          // opaque DRM handle, nil if clear
}

// Validate checks the packet-shape invariant from spec.md §3.
func (p Packet) Validate() error {
	n := 0
	if len(p.Data) > 0 {
		n++
	}
	if p.IsConfig {
		n++
	}
	if p.IsEOS {
		n++
	}
	if n != 1 {
		return fmt.Errorf("media: packet must be exactly one of {data, config, eos}, got %d", n)
	}
	return nil
}

// PlayerState is the observable playback state, as published by the
// controller on StateChanged.
type PlayerState int

const (
	StateIdle PlayerState = iota
	StatePrepared
	StatePlaying
	StatePaused
	StateSeeking
	StateError
	StateCompleted
)

func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	case StateError:
		return "error"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("PlayerState(%d)", int(s))
	}
}

// DataRequest is a buffer-fill hint emitted upstream by StreamBuffer.
type DataRequest struct {
	Stream         StreamKind
	BytesNeeded    int64
	DurationNeeded time.Duration
	IsBufferEmpty  bool
}
