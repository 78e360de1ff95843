package notify

import (
	"testing"
	"time"
)

func TestPublishReplacesCurrent(t *testing.T) {
	t.Parallel()

	var seen []Notification
	n := New(time.Minute, func(note Notification) { seen = append(seen, note) })
	defer n.Close()

	n.Publish(SeveritySuccess, "Juan is now UP")
	n.Publish(SeverityError, "Maria is now DOWN")

	cur, ok := n.Current()
	if !ok {
		t.Fatal("expected a current notification")
	}
	if cur.Message != "Maria is now DOWN" || cur.Severity != SeverityError {
		t.Fatalf("expected latest message to win, got %+v", cur)
	}
	// Both messages must have reached the sink; replacement never drops one
	// silently.
	if len(seen) != 2 {
		t.Fatalf("expected 2 sink deliveries, got %d", len(seen))
	}
}

func TestAutoDismiss(t *testing.T) {
	t.Parallel()

	n := New(20*time.Millisecond, nil)
	defer n.Close()

	n.Publish(SeverityInfo, "billing statuses updated")
	if _, ok := n.Current(); !ok {
		t.Fatal("expected notification before dismissal")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := n.Current(); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected notification to auto-dismiss")
}

func TestNewerPublishOutlivesOldTimer(t *testing.T) {
	t.Parallel()

	n := New(30*time.Millisecond, nil)
	defer n.Close()

	n.Publish(SeverityInfo, "first")
	time.Sleep(20 * time.Millisecond)
	n.Publish(SeverityInfo, "second")
	time.Sleep(20 * time.Millisecond)

	// The first timer would have fired by now; it must not dismiss the
	// second notification.
	cur, ok := n.Current()
	if !ok || cur.Message != "second" {
		t.Fatalf("stale timer dismissed a newer notification: %+v ok=%v", cur, ok)
	}
}
