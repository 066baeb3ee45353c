// Package matching holds the per-mode waiting queues and the pairing engine
// that drains them. Pairing is strict FIFO: the two longest-waiting eligible
// entries for a mode are always consumed first. Interest overlap is advisory
// UI copy only and never reorders the queue.
package matching

import "sync"

// Chat modes. Each mode is an independent matchmaking pool.
const (
	ModeText  = "text"
	ModeVideo = "video"
)

// Modes lists all valid modes in a stable order.
var Modes = []string{ModeText, ModeVideo}

// ValidMode reports whether mode names a known matchmaking pool.
func ValidMode(mode string) bool {
	return mode == ModeText || mode == ModeVideo
}

// Queues manages one FIFO of connection IDs per mode. Each mode has its own
// lock, so text and video operations proceed independently.
type Queues struct {
	modes map[string]*fifo
}

type fifo struct {
	mu      sync.Mutex
	entries []string
}

// NewQueues creates empty waiting queues for all modes.
func NewQueues() *Queues {
	q := &Queues{modes: make(map[string]*fifo, len(Modes))}
	for _, m := range Modes {
		q.modes[m] = &fifo{}
	}
	return q
}

// Enqueue appends a connection to the mode's queue and returns the resulting
// length. Callers must RemoveEverywhere first so a connection is never queued
// twice concurrently (covers the mode-switch and re-match cases).
func (q *Queues) Enqueue(mode, connID string) int {
	f := q.modes[mode]
	f.mu.Lock()
	f.entries = append(f.entries, connID)
	n := len(f.entries)
	f.mu.Unlock()
	return n
}

// RemoveEverywhere removes the connection from all mode queues. No-op if
// absent. Used on disconnect, explicit leave, and mode switch.
func (q *Queues) RemoveEverywhere(connID string) {
	for _, m := range Modes {
		q.remove(m, connID)
	}
}

// remove deletes the connection from one mode's queue. No-op if absent.
func (q *Queues) remove(mode, connID string) {
	f, ok := q.modes[mode]
	if !ok {
		return
	}
	f.mu.Lock()
	for i, id := range f.entries {
		if id == connID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
}

// Len returns the current length of the mode's queue. Observability hook for
// health and metrics; not consulted by queue logic.
func (q *Queues) Len(mode string) int {
	f, ok := q.modes[mode]
	if !ok {
		return 0
	}
	f.mu.Lock()
	n := len(f.entries)
	f.mu.Unlock()
	return n
}

// pop removes and returns the oldest entry of the mode's queue.
func (q *Queues) pop(mode string) (string, bool) {
	f := q.modes[mode]
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return "", false
	}
	id := f.entries[0]
	f.entries = f.entries[1:]
	return id, true
}

// pushFront returns an entry to the head of the mode's queue, preserving its
// arrival-order position after a failed pairing attempt.
func (q *Queues) pushFront(mode, connID string) {
	f := q.modes[mode]
	f.mu.Lock()
	f.entries = append([]string{connID}, f.entries...)
	f.mu.Unlock()
}
