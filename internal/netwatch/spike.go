package netwatch

import (
	"sync"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
)

// DefaultSpikeWindow is how long a link must hold a state after a flap
// before notifications resume for it.
const DefaultSpikeWindow = 3 * time.Minute

type spikeEntry struct {
	lastState  domain.ConnectionState
	lastChange time.Time
	spiking    bool
}

// Debouncer suppresses notifications for flapping links. The first observed
// state is trusted; any change afterwards marks the link as spiking until it
// holds the new state for the full window.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	entries map[int64]spikeEntry
}

// NewDebouncer creates a Debouncer. A non-positive window falls back to
// [DefaultSpikeWindow].
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultSpikeWindow
	}
	return &Debouncer{window: window, entries: make(map[int64]spikeEntry)}
}

// Spiking reports whether the client's link is inside an open spike window.
// The poller uses it to keep re-evaluating a flapped link on polls where the
// stored state did not change, so the settled notice is eventually released.
func (d *Debouncer) Spiking(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries[id].spiking
}

// Stable reports whether the client's link is steady enough to notify about.
func (d *Debouncer) Stable(id int64, state domain.ConnectionState, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok {
		d.entries[id] = spikeEntry{lastState: state, lastChange: now}
		return true
	}
	if e.lastState != state {
		d.entries[id] = spikeEntry{lastState: state, lastChange: now, spiking: true}
		return false
	}
	if e.spiking {
		if now.Sub(e.lastChange) >= d.window {
			e.spiking = false
			d.entries[id] = e
			return true
		}
		return false
	}
	return true
}
