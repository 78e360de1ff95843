// Package notify surfaces transient user-facing messages for the dashboard:
// one message at a time, auto-dismissed after a fixed duration. A newer
// message replaces the current one rather than stacking.
package notify

import (
	"sync"
	"time"
)

// Severity flavors a notification for display.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// Notification is one user-visible message.
type Notification struct {
	Severity Severity
	Message  string
	At       time.Time
}

// Sink receives every published notification, in order, before it can be
// replaced or dismissed. Display failures are best-effort and not reported
// back.
type Sink func(Notification)

const DefaultDismissAfter = 3 * time.Second

// Notifier keeps the most recent notification and dismisses it on a timer.
type Notifier struct {
	dismissAfter time.Duration
	sink         Sink

	mu      sync.Mutex
	current *Notification
	seq     uint64
	timer   *time.Timer
}

// New creates a Notifier. sink may be nil. A non-positive dismissAfter
// falls back to [DefaultDismissAfter].
func New(dismissAfter time.Duration, sink Sink) *Notifier {
	if dismissAfter <= 0 {
		dismissAfter = DefaultDismissAfter
	}
	return &Notifier{dismissAfter: dismissAfter, sink: sink}
}

// Publish surfaces a message, replacing any current one and resetting the
// dismissal timer.
func (n *Notifier) Publish(sev Severity, msg string) {
	note := Notification{Severity: sev, Message: msg, At: time.Now()}

	n.mu.Lock()
	n.seq++
	seq := n.seq
	n.current = &note
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.dismissAfter, func() { n.dismiss(seq) })
	sink := n.sink
	n.mu.Unlock()

	if sink != nil {
		sink(note)
	}
}

// Current returns the active notification, if any.
func (n *Notifier) Current() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Notification{}, false
	}
	return *n.current, true
}

// Close cancels any pending dismissal timer.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.current = nil
}

func (n *Notifier) dismiss(seq uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	// A newer Publish supersedes this timer.
	if n.seq != seq {
		return
	}
	n.current = nil
}
