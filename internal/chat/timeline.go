package chat

import (
	"sort"
	"sync"
)

// Timeline is the ordered, de-duplicated view of one chat's messages. It is
// seeded from a one-shot history fetch and appended to by live new_message
// events; the two sources overlap (a sender's own message comes back as an
// echo), so Append is idempotent by message ID.
type Timeline struct {
	mu   sync.RWMutex
	msgs []Message
	seen map[string]struct{}
}

func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[string]struct{})}
}

// Seed merges a batch of messages, typically the history fetch result.
// Duplicates of already-appended live messages are skipped.
func (t *Timeline) Seed(msgs []Message) {
	t.mu.Lock()
	for i := range msgs {
		t.insertLocked(msgs[i])
	}
	t.mu.Unlock()
}

// Append inserts one message keeping the sequence sorted by CreatedAt.
// Returns false when the ID was already present (the append is a no-op).
func (t *Timeline) Append(msg Message) bool {
	t.mu.Lock()
	ok := t.insertLocked(msg)
	t.mu.Unlock()
	return ok
}

// insertLocked places msg at its sort position. Equal timestamps keep
// arrival order (the new message goes after existing equals).
func (t *Timeline) insertLocked(msg Message) bool {
	if msg.ID != "" {
		if _, dup := t.seen[msg.ID]; dup {
			return false
		}
		t.seen[msg.ID] = struct{}{}
	}

	i := sort.Search(len(t.msgs), func(i int) bool {
		return t.msgs[i].CreatedAt.After(msg.CreatedAt)
	})
	t.msgs = append(t.msgs, Message{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = msg
	return true
}

// Snapshot returns a copy of the current sequence, oldest first. It can be
// re-queried at any time; the copy never changes under the caller.
func (t *Timeline) Snapshot() []Message {
	t.mu.RLock()
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	t.mu.RUnlock()
	return out
}

// Len returns the number of messages held.
func (t *Timeline) Len() int {
	t.mu.RLock()
	n := len(t.msgs)
	t.mu.RUnlock()
	return n
}
