package transcript

import (
	"strings"
	"sync"
	"time"
)

// Role tags a transcript message with its producing side of the call.
type Role string

const (
	RoleLocal  Role = "local"
	RoleRemote Role = "remote"
)

// Message is one committed transcript entry. Messages are append-only for the
// life of a session: never reordered, never deleted.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Log assembles finalized transcription fragments from both roles into an
// ordered message sequence. Append order matches arrival order of finalized
// fragments, not wall-clock order of the underlying speech. Partial fragments
// never enter the log; the latest partial per role is kept as a volatile
// caption only.
type Log struct {
	mu       sync.Mutex
	msgs     []Message
	partials map[Role]string
}

func NewLog() *Log {
	return &Log{partials: make(map[Role]string)}
}

// Append commits a finalized fragment as a new message. Empty or
// whitespace-only fragments are dropped. It reports whether a message was
// appended and clears the role's pending partial either way.
func (l *Log) Append(role Role, text string) bool {
	trimmed := strings.TrimSpace(text)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.partials, role)
	if trimmed == "" {
		return false
	}
	l.msgs = append(l.msgs, Message{Role: role, Text: trimmed, Timestamp: time.Now()})
	return true
}

// SetPartial records the latest still-updating fragment for a role.
func (l *Log) SetPartial(role Role, text string) {
	l.mu.Lock()
	l.partials[role] = text
	l.mu.Unlock()
}

// Partial returns the current partial caption for a role, if any.
func (l *Log) Partial(role Role) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.partials[role]
}

// ClearPartial drops the pending caption for a role without committing it.
func (l *Log) ClearPartial(role Role) {
	l.mu.Lock()
	delete(l.partials, role)
	l.mu.Unlock()
}

// Messages returns a copy of the committed sequence.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// Seed installs previously persisted messages ahead of any new appends. It is
// used by session recovery and is only valid before the first Append.
func (l *Log) Seed(msgs []Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.msgs) > 0 {
		return
	}
	l.msgs = append(l.msgs[:0], msgs...)
}
