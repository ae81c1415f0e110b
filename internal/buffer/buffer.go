// Package buffer implements StreamBuffer, the per-stream buffer-level
// accountant that ingests packet PTS on enqueue/dequeue and emits
// DataRequest hints, following distribution/streamstats.go's style of
// lock-free atomic counters on the hot path with a snapshot taken only
// when a caller asks for a DataRequest.
package buffer

import (
	"sync/atomic"
	"time"

	"github.com/ariharrison/esctl/internal/media"
)

// emptyEpsilon is the "small epsilon" of spec.md §4.2 below which the
// buffer is considered empty even if lastOut hasn't quite caught up to
// lastIn due to rounding.
const emptyEpsilon = 20 * time.Millisecond

// defaultAvgBitrate is used to translate a duration deficit into a byte
// estimate for DataRequest.BytesNeeded when no measured bitrate is
// available yet.
const defaultAvgBitrate = 2_000_000 // bits/sec, ~2 Mbps default estimate

// Accountant tracks one stream's buffer level.
type Accountant struct {
	kind   media.StreamKind
	target time.Duration

	lastInNS  atomic.Int64
	lastOutNS atomic.Int64
	haveIn    atomic.Bool
	haveOut   atomic.Bool
	eosSeen   atomic.Bool

	avgBitrateBps atomic.Int64

	fullBuffer   atomic.Bool
	actualBuffer atomic.Int64 // ns, as last reported by ReportActualBuffer
}

// New creates an Accountant targeting the given buffer depth (spec.md
// §6 TargetBufferDepth default 10s).
func New(kind media.StreamKind, target time.Duration) *Accountant {
	a := &Accountant{kind: kind, target: target}
	a.avgBitrateBps.Store(defaultAvgBitrate)
	return a
}

// DataIn records a packet's PTS as it enters storage.
func (a *Accountant) DataIn(pts time.Duration) {
	a.lastInNS.Store(int64(pts))
	a.haveIn.Store(true)
}

// DataOut records a packet's PTS as it leaves storage for the player.
func (a *Accountant) DataOut(pts time.Duration) {
	a.lastOutNS.Store(int64(pts))
	a.haveOut.Store(true)
}

// MarkEosDts records that end-of-stream has been observed, so
// IsBufferEmpty no longer signals starvation.
func (a *Accountant) MarkEosDts() {
	a.eosSeen.Store(true)
}

// UpdateBufferConfiguration adjusts the average-bitrate estimate used
// for DataRequest.BytesNeeded, e.g. from a codec's declared bitrate.
func (a *Accountant) UpdateBufferConfiguration(avgBitrateBps int64) {
	if avgBitrateBps > 0 {
		a.avgBitrateBps.Store(avgBitrateBps)
	}
}

// Reset clears all accumulated state, e.g. across a seek or
// reconfigure.
func (a *Accountant) Reset() {
	a.lastInNS.Store(0)
	a.lastOutNS.Store(0)
	a.haveIn.Store(false)
	a.haveOut.Store(false)
	a.eosSeen.Store(false)
	a.fullBuffer.Store(false)
	a.actualBuffer.Store(0)
}

// ReportFullBuffer marks the buffer as full, e.g. because the native
// player pushed back.
func (a *Accountant) ReportFullBuffer(full bool) {
	a.fullBuffer.Store(full)
}

// ReportActualBuffer records an externally measured buffer depth
// (e.g. from the native player), overriding the PTS-derived estimate.
func (a *Accountant) ReportActualBuffer(d time.Duration) {
	a.actualBuffer.Store(int64(d))
}

// bufferedDuration returns lastIn - lastOut, clamped to 0.
func (a *Accountant) bufferedDuration() time.Duration {
	if !a.haveIn.Load() {
		return 0
	}
	out := a.lastOutNS.Load()
	d := a.lastInNS.Load() - out
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// IsBufferEmpty reports whether the stream is at risk of underrun:
// lastIn - lastOut has fallen below emptyEpsilon and EOS has not been
// observed (spec.md §4.2).
func (a *Accountant) IsBufferEmpty() bool {
	if a.eosSeen.Load() {
		return false
	}
	if !a.haveIn.Load() {
		return true
	}
	return a.bufferedDuration() < emptyEpsilon
}

// GetDataRequest computes the current DataRequest hint: how much more
// duration/bytes are needed to reach TargetBufferDepth.
func (a *Accountant) GetDataRequest() media.DataRequest {
	current := a.bufferedDuration()
	if a.actualBuffer.Load() > 0 {
		current = time.Duration(a.actualBuffer.Load())
	}

	need := a.target - current
	if need < 0 || a.fullBuffer.Load() {
		need = 0
	}

	bitrate := a.avgBitrateBps.Load()
	bytesNeeded := int64(0)
	if need > 0 {
		bytesNeeded = int64(need.Seconds() * float64(bitrate) / 8)
	}

	return media.DataRequest{
		Stream:         a.kind,
		BytesNeeded:    bytesNeeded,
		DurationNeeded: need,
		IsBufferEmpty:  a.IsBufferEmpty(),
	}
}
