package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitRecorder struct {
	mu    sync.Mutex
	emits []bool
}

func (r *emitRecorder) record(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = append(r.emits, active)
}

func (r *emitRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.emits))
	copy(out, r.emits)
	return out
}

func TestTypingTrackerStartsOncePerWindow(t *testing.T) {
	rec := &emitRecorder{}
	tr := NewTypingTracker("me", rec.record)
	tr.Interval = 40 * time.Millisecond
	defer tr.Close()

	tr.Keystroke()
	tr.Keystroke()
	tr.Keystroke()

	assert.Equal(t, []bool{true}, rec.snapshot())
}

func TestTypingTrackerStopsExactlyOnceOnTimeout(t *testing.T) {
	rec := &emitRecorder{}
	tr := NewTypingTracker("me", rec.record)
	tr.Interval = 30 * time.Millisecond
	defer tr.Close()

	tr.Keystroke()
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	// no further stop fires once the window is closed
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.snapshot())

	// the next keystroke opens a fresh window
	tr.Keystroke()
	require.Eventually(t, func() bool {
		s := rec.snapshot()
		return len(s) == 4 && s[2] && !s[3]
	}, time.Second, 5*time.Millisecond)
}

func TestTypingTrackerKeystrokeExtendsWindow(t *testing.T) {
	rec := &emitRecorder{}
	tr := NewTypingTracker("me", rec.record)
	tr.Interval = 60 * time.Millisecond
	defer tr.Close()

	tr.Keystroke()
	time.Sleep(35 * time.Millisecond)
	tr.Keystroke()
	time.Sleep(35 * time.Millisecond)

	// 70ms elapsed but the second keystroke reset the timer
	assert.Equal(t, []bool{true}, rec.snapshot())

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestTypingTrackerStopNow(t *testing.T) {
	rec := &emitRecorder{}
	tr := NewTypingTracker("me", rec.record)
	tr.Interval = 40 * time.Millisecond
	defer tr.Close()

	tr.StopNow()
	assert.Empty(t, rec.snapshot())

	tr.Keystroke()
	tr.StopNow()
	assert.Equal(t, []bool{true, false}, rec.snapshot())

	// the cancelled timer must not fire a second stop
	time.Sleep(90 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestTypingTrackerPeerAggregation(t *testing.T) {
	tr := NewTypingTracker("me", func(bool) {})
	defer tr.Close()

	assert.Equal(t, "", tr.Label())

	tr.applyStart("me", "Me")
	assert.Equal(t, "", tr.Label())

	tr.applyStart("u1", "Bob")
	assert.Equal(t, "Bob is typing…", tr.Label())

	tr.applyStart("u2", "Cleo")
	assert.Equal(t, "Bob, Cleo are typing…", tr.Label())

	// repeated starts do not duplicate the peer
	tr.applyStart("u1", "Bob")
	assert.Equal(t, "Bob, Cleo are typing…", tr.Label())

	tr.applyStop("u1")
	assert.Equal(t, "Cleo is typing…", tr.Label())

	tr.applyStop("unknown")
	assert.Equal(t, "Cleo is typing…", tr.Label())

	tr.applyStop("u2")
	assert.Equal(t, "", tr.Label())
}

func TestTypingTrackerPeerExpiresWithoutStop(t *testing.T) {
	tr := NewTypingTracker("me", func(bool) {})
	tr.Interval = 30 * time.Millisecond
	defer tr.Close()

	// a peer whose stop frame never arrives drops out after the timeout
	tr.applyStart("u1", "Bob")
	assert.Equal(t, "Bob is typing…", tr.Label())

	require.Eventually(t, func() bool {
		return tr.Label() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestTypingTrackerPeerStartRefreshesExpiry(t *testing.T) {
	tr := NewTypingTracker("me", func(bool) {})
	tr.Interval = 30 * time.Millisecond
	defer tr.Close()

	// peerTimeout is 120ms here; a repeated start inside the window keeps
	// the peer alive past the original deadline
	tr.applyStart("u1", "Bob")
	time.Sleep(70 * time.Millisecond)
	tr.applyStart("u1", "Bob")
	time.Sleep(70 * time.Millisecond)
	assert.Equal(t, "Bob is typing…", tr.Label())

	require.Eventually(t, func() bool {
		return tr.Label() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestTypingTrackerCloseEndsOpenWindow(t *testing.T) {
	rec := &emitRecorder{}
	tr := NewTypingTracker("me", rec.record)
	tr.Interval = time.Hour

	tr.Keystroke()
	tr.Close()
	assert.Equal(t, []bool{true, false}, rec.snapshot())

	tr.Keystroke()
	assert.Equal(t, []bool{true, false}, rec.snapshot())
}
