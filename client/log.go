package client

import (
	"sync"

	"github.com/veridict/dispute-chat-api/models"
)

// messageLog is the ordered, id-deduplicated message collection for one
// session. The create acknowledgment and the message:created broadcast can
// both reference the same message in either order, so inserts are idempotent
// on id.
type messageLog struct {
	mu      sync.Mutex
	entries []models.Message
	byID    map[int64]int
}

func newMessageLog() *messageLog {
	return &messageLog{byID: make(map[int64]int)}
}

// replace seeds the log from join history, discarding prior content except
// entries with ids beyond the history's last id. A message created while the
// join was in flight can reach the log through its broadcast before the
// history snapshot that predates it arrives; dropping it would lose it until
// the next rejoin.
func (l *messageLog) replace(history []models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var maxID int64
	for _, m := range history {
		if m.ID > maxID {
			maxID = m.ID
		}
	}
	var carried []models.Message
	for _, m := range l.entries {
		if m.ID > maxID {
			carried = append(carried, m)
		}
	}

	l.entries = make([]models.Message, 0, len(history)+len(carried))
	l.byID = make(map[int64]int, len(history)+len(carried))
	for _, m := range history {
		if _, dup := l.byID[m.ID]; dup {
			continue
		}
		l.byID[m.ID] = len(l.entries)
		l.entries = append(l.entries, m)
	}
	for _, m := range carried {
		l.byID[m.ID] = len(l.entries)
		l.entries = append(l.entries, m)
	}
}

// insert appends the message unless its id is already present
func (l *messageLog) insert(m models.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.byID[m.ID]; dup {
		return false
	}
	l.byID[m.ID] = len(l.entries)
	l.entries = append(l.entries, m)
	return true
}

// remove drops the message with the given id; removing an unknown id is a
// no-op
func (l *messageLog) remove(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byID[id]
	if !ok {
		return false
	}
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	delete(l.byID, id)
	for i := idx; i < len(l.entries); i++ {
		l.byID[l.entries[i].ID] = i
	}
	return true
}

// addFiles appends attachments to the message with the given id, preserving
// existing attachments and their order. Unknown ids are a no-op: the message
// may not have arrived yet or may already be deleted.
func (l *messageLog) addFiles(id int64, files []models.Attachment) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byID[id]
	if !ok {
		return false
	}
	l.entries[idx].Attachments = append(l.entries[idx].Attachments, files...)
	return true
}

// get looks a message up by id
func (l *messageLog) get(id int64) (models.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return l.entries[idx], true
}

// snapshot returns a copy of the ordered log
func (l *messageLog) snapshot() []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Message, len(l.entries))
	copy(out, l.entries)
	return out
}
