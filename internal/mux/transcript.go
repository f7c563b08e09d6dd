package mux

import "sync"

// Transcript is the append-only output history of one channel. It carries a
// sequence counter so a snapshot can be stitched to a live event stream
// without gaps or replays: every appended chunk gets the next sequence
// number, and Snapshot reports the last sequence already included.
type Transcript struct {
	mu    sync.Mutex
	data  []byte
	limit int // 0 means unbounded
	seq   uint64
}

// NewTranscript creates an empty transcript. A positive limit caps retained
// bytes, trimming from the front; replay then covers only the retained tail.
func NewTranscript(limit int) *Transcript {
	return &Transcript{limit: limit}
}

// Append stores a chunk, assigns it the next sequence number and calls emit
// with that number before any later chunk can be appended. Holding the lock
// across emit is what makes snapshots and the event stream order-consistent;
// emit must therefore never block.
func (t *Transcript) Append(p []byte, emit func(seq uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data = append(t.data, p...)
	if t.limit > 0 && len(t.data) > t.limit {
		t.data = t.data[len(t.data)-t.limit:]
	}
	t.seq++
	if emit != nil {
		emit(t.seq)
	}
}

// Snapshot returns the accumulated output and the sequence number of the
// last chunk it includes. A consumer resuming from a live subscription can
// discard events with seq <= the returned value.
func (t *Transcript) Snapshot() (string, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.data), t.seq
}

// Len returns the current transcript length in bytes.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}
