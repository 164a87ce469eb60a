package client

import (
	"strings"
	"sync"
	"time"
)

// typingInterval is the inactivity window after the last keystroke before a
// typing:stop is emitted
const typingInterval = 2500 * time.Millisecond

// peerWindows is how many inactivity windows a peer entry survives without a
// fresh typing:start before it is dropped locally. The stop frame for a peer
// can be lost, so entries must not live forever on the strength of one start.
const peerWindows = 4

// TypingTracker debounces the local user's typing signal and aggregates the
// peers currently typing in the room. Outbound, a typing:start fires once per
// activity window and the matching typing:stop fires exactly once, either
// when the inactivity timer expires or when StopNow is called. Inbound, the
// local account is excluded so the user never sees themselves typing.
type TypingTracker struct {
	// Interval overrides the inactivity window; zero means typingInterval
	Interval time.Duration

	selfID string
	emit   func(active bool)

	mu     sync.Mutex
	active bool
	closed bool
	timer  *time.Timer
	peers  map[string]*peerEntry
	order  []string
}

type peerEntry struct {
	username string
	expiry   *time.Timer
}

// NewTypingTracker creates a tracker for the given account. emit is called
// with true for typing:start and false for typing:stop, never twice in a row
// with the same value.
func NewTypingTracker(selfID string, emit func(active bool)) *TypingTracker {
	return &TypingTracker{
		selfID: selfID,
		emit:   emit,
		peers:  make(map[string]*peerEntry),
	}
}

func (t *TypingTracker) interval() time.Duration {
	if t.Interval > 0 {
		return t.Interval
	}
	return typingInterval
}

func (t *TypingTracker) peerTimeout() time.Duration {
	return peerWindows * t.interval()
}

// Keystroke records local typing activity, emitting typing:start on the first
// keystroke of a window and pushing the stop timer out on every subsequent one
func (t *TypingTracker) Keystroke() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	started := false
	if !t.active {
		t.active = true
		started = true
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval(), t.expire)
	} else {
		t.timer.Stop()
		t.timer.Reset(t.interval())
	}
	t.mu.Unlock()

	if started {
		t.emit(true)
	}
}

func (t *TypingTracker) expire() {
	t.mu.Lock()
	if t.closed || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.mu.Unlock()

	t.emit(false)
}

// StopNow ends the current activity window immediately, as when the user
// sends the message they were typing. A no-op when no window is open.
func (t *TypingTracker) StopNow() {
	t.mu.Lock()
	if t.closed || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	t.emit(false)
}

// applyStart records a peer as typing. The local account is ignored because
// the channel echoes the room broadcast back to its sender. Each entry lives
// at most peerTimeout without a fresh start; the stop frame may never arrive.
func (t *TypingTracker) applyStart(accountID, username string) {
	if accountID == t.selfID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if entry, known := t.peers[accountID]; known {
		entry.username = username
		entry.expiry.Stop()
		entry.expiry.Reset(t.peerTimeout())
		return
	}
	t.order = append(t.order, accountID)
	t.peers[accountID] = &peerEntry{
		username: username,
		expiry:   time.AfterFunc(t.peerTimeout(), func() { t.applyStop(accountID) }),
	}
}

// applyStop clears a peer's typing state; unknown peers are a no-op
func (t *TypingTracker) applyStop(accountID string) {
	if accountID == t.selfID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, known := t.peers[accountID]
	if !known {
		return
	}
	entry.expiry.Stop()
	delete(t.peers, accountID)
	for i, id := range t.order {
		if id == accountID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Label renders the presence line for the room, or "" when nobody is typing
func (t *TypingTracker) Label() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return ""
	}
	names := make([]string, 0, len(t.order))
	for _, id := range t.order {
		names = append(names, t.peers[id].username)
	}
	verb := "is"
	if len(names) > 1 {
		verb = "are"
	}
	return strings.Join(names, ", ") + " " + verb + " typing…"
}

// Close cancels the stop timer and ends any open window. Keystrokes after
// Close are ignored.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	wasActive := t.active
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
	}
	for _, entry := range t.peers {
		entry.expiry.Stop()
	}
	t.mu.Unlock()

	if wasActive {
		t.emit(false)
	}
}
