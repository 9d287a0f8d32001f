package eventbus

import (
	"sync"

	"github.com/coachpo/eventframe/internal/domain/schema"
)

// EventLog is a bounded FIFO of dispatched events backed by a ring buffer.
type EventLog struct {
	mu    sync.Mutex
	buf   []*schema.Event
	start int
	size  int
}

// NewEventLog creates a log keeping at most capacity events.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultMaxHistory
	}
	return &EventLog{buf: make([]*schema.Event, capacity)}
}

// Append records evt, evicting the oldest entry once the log is full.
func (l *EventLog) Append(evt *schema.Event) {
	if evt == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.start+l.size)%capacity] = evt
		l.size++
		return
	}
	l.buf[l.start] = evt
	l.start = (l.start + 1) % capacity
}

// Snapshot returns the most recent limit events oldest first. limit <= 0 returns all.
func (l *EventLog) Snapshot(limit int) []*schema.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*schema.Event, 0, n)
	capacity := len(l.buf)
	for i := l.size - n; i < l.size; i++ {
		out = append(out, l.buf[(l.start+i)%capacity])
	}
	return out
}

// Clear drops every entry.
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buf)
	l.start = 0
	l.size = 0
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Cap returns the configured bound.
func (l *EventLog) Cap() int {
	return len(l.buf)
}
