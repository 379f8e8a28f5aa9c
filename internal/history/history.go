// Package history keeps the bounded record of slot check outcomes shared by
// the checker (writer) and the /log command (reader).
package history

import "sync"

// DefaultCapacity is used when a non-positive capacity is configured.
const DefaultCapacity = 200

// Stats is a consistent view of the attempt counters.
type Stats struct {
	Total      int
	Successful int
}

// Rate returns the success percentage, truncated. It is 0 when no attempts were made.
func (s Stats) Rate() int {
	total := s.Total
	if total == 0 {
		total = 1
	}
	return s.Successful * 100 / total
}

// Snapshot is a point-in-time copy of the log.
type Snapshot struct {
	Entries []string
	Stats   Stats
}

// Log is a fixed-capacity FIFO of outcome lines plus attempt counters.
// It is safe for concurrent use.
type Log struct {
	mu sync.Mutex

	buf   []string
	head  int // index of the oldest entry
	count int

	total      int
	successful int
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]string, capacity)}
}

func (l *Log) Capacity() int { return len(l.buf) }

// Record appends an outcome line and counts one attempt under one lock.
func (l *Log) Record(entry string, success bool) {
	l.mu.Lock()
	l.pushLocked(entry)
	l.total++
	if success {
		l.successful++
	}
	l.mu.Unlock()
}

func (l *Log) pushLocked(entry string) {
	capacity := len(l.buf)
	if l.count < capacity {
		l.buf[(l.head+l.count)%capacity] = entry
		l.count++
		return
	}
	// full: overwrite the oldest
	l.buf[l.head] = entry
	l.head = (l.head + 1) % capacity
}

// Entries returns the retained lines, oldest first.
func (l *Log) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entriesLocked()
}

func (l *Log) entriesLocked() []string {
	out := make([]string, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	return out
}

func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Total: l.total, Successful: l.successful}
}

// Snapshot returns entries and counters taken under the same lock.
func (l *Log) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Entries: l.entriesLocked(),
		Stats:   Stats{Total: l.total, Successful: l.successful},
	}
}
