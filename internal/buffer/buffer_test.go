package buffer

import (
	"testing"
	"time"

	"github.com/ariharrison/esctl/internal/media"
)

func TestIsBufferEmptyInitially(t *testing.T) {
	t.Parallel()

	a := New(media.Video, 10*time.Second)
	if !a.IsBufferEmpty() {
		t.Fatal("expected empty buffer before any data")
	}
}

func TestIsBufferEmptyAfterFill(t *testing.T) {
	t.Parallel()

	a := New(media.Video, 10*time.Second)
	a.DataIn(3 * time.Second)

	if a.IsBufferEmpty() {
		t.Fatal("expected non-empty buffer after 3s of data with no dequeue")
	}
}

func TestIsBufferEmptyAfterDrain(t *testing.T) {
	t.Parallel()

	a := New(media.Video, 10*time.Second)
	a.DataIn(1 * time.Second)
	a.DataOut(990 * time.Millisecond)

	if !a.IsBufferEmpty() {
		t.Fatal("expected empty buffer when in-out gap is below epsilon")
	}
}

func TestIsBufferEmptyFalseAfterEOS(t *testing.T) {
	t.Parallel()

	a := New(media.Video, 10*time.Second)
	a.MarkEosDts()

	if a.IsBufferEmpty() {
		t.Fatal("EOS should suppress the empty-buffer signal")
	}
}

func TestGetDataRequestNeedsBytesWhenBelowTarget(t *testing.T) {
	t.Parallel()

	a := New(media.Audio, 10*time.Second)
	a.DataIn(2 * time.Second)

	dr := a.GetDataRequest()
	if dr.DurationNeeded != 8*time.Second {
		t.Errorf("DurationNeeded = %v, want 8s", dr.DurationNeeded)
	}
	if dr.BytesNeeded <= 0 {
		t.Errorf("BytesNeeded = %d, want > 0", dr.BytesNeeded)
	}
	if dr.Stream != media.Audio {
		t.Errorf("Stream = %v, want Audio", dr.Stream)
	}
}

func TestGetDataRequestZeroWhenAtOrAboveTarget(t *testing.T) {
	t.Parallel()

	a := New(media.Audio, 5*time.Second)
	a.DataIn(6 * time.Second)

	dr := a.GetDataRequest()
	if dr.DurationNeeded != 0 || dr.BytesNeeded != 0 {
		t.Errorf("expected zero need, got %+v", dr)
	}
}

func TestReportFullBufferSuppressesRequest(t *testing.T) {
	t.Parallel()

	a := New(media.Audio, 10*time.Second)
	a.ReportFullBuffer(true)

	dr := a.GetDataRequest()
	if dr.DurationNeeded != 0 || dr.BytesNeeded != 0 {
		t.Errorf("expected zero need when full, got %+v", dr)
	}
}

func TestResetClearsState(t *testing.T) {
	t.Parallel()

	a := New(media.Video, 10*time.Second)
	a.DataIn(5 * time.Second)
	a.MarkEosDts()
	a.Reset()

	if !a.IsBufferEmpty() {
		t.Fatal("expected empty buffer after Reset")
	}
}
