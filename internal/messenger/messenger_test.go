package messenger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
)

type fakeLogStore struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]domain.MessageLog
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{entries: make(map[int64]domain.MessageLog)}
}

func (f *fakeLogStore) InsertMessageLog(ctx context.Context, m domain.MessageLog) (domain.MessageLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	f.entries[m.ID] = m
	return m, nil
}

func (f *fakeLogStore) SetMessageLogStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.entries[id]
	m.Status = status
	f.entries[id] = m
	return nil
}

func (f *fakeLogStore) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for id := int64(1); id <= f.nextID; id++ {
		out = append(out, f.entries[id].Status)
	}
	return out
}

func TestClientSendSuccess(t *testing.T) {
	t.Parallel()

	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("access_token")
		_, _ = w.Write([]byte(`{"recipient_id":"9001","message_id":"m_abc"}`))
	}))
	defer srv.Close()

	c := NewClient("tok-1", true, nil, WithEndpoint(srv.URL+"/v19.0/me/messages"))
	if err := c.Send(context.Background(), "9001", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/v19.0/me/messages" || gotToken != "tok-1" {
		t.Fatalf("unexpected request path=%q token=%q", gotPath, gotToken)
	}
}

func TestClientSendGraphError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid user id","code":100}}`))
	}))
	defer srv.Close()

	c := NewClient("tok-1", true, nil, WithEndpoint(srv.URL))
	if err := c.Send(context.Background(), "9001", "hello"); err == nil {
		t.Fatal("expected graph api error")
	}
}

func TestClientSendDisabled(t *testing.T) {
	t.Parallel()

	c := NewClient("tok-1", false, nil)
	err := c.Send(context.Background(), "9001", "hello")
	if !errors.Is(err, domain.ErrMessengerDisabled) {
		t.Fatalf("expected ErrMessengerDisabled, got %v", err)
	}
}

func TestClientSendMissingToken(t *testing.T) {
	t.Parallel()

	c := NewClient("", true, nil)
	err := c.Send(context.Background(), "9001", "hello")
	if err == nil || errors.Is(err, domain.ErrMessengerDisabled) {
		t.Fatalf("expected hard failure for missing token, got %v", err)
	}
}

type fakeSender struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeSender) Send(ctx context.Context, messengerID, text string) error {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	return f.err
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestServiceDeliverLogsOutcomes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		sendErr    error
		wantStatus string
		wantErr    bool
	}{
		{"sent", nil, domain.MessageStatusSent, false},
		{"skipped", domain.ErrMessengerDisabled, domain.MessageStatusSkipped, false},
		{"failed", errors.New("boom"), domain.MessageStatusFailed, true},
	}
	for _, tc := range cases {
		store := newFakeLogStore()
		svc := NewService(&fakeSender{err: tc.sendErr}, store, nil)

		err := svc.Deliver(context.Background(), domain.Client{ID: 1, MessengerID: "9001"}, "G1-PRIVATE-DOWN", "down")
		if tc.wantErr != (err != nil) {
			t.Fatalf("%s: unexpected err=%v", tc.name, err)
		}
		if tc.wantErr {
			var de *domain.DeliveryError
			if !errors.As(err, &de) || de.ClientID != 1 {
				t.Fatalf("%s: expected DeliveryError for client 1, got %v", tc.name, err)
			}
		}
		got := store.statuses()
		if len(got) != 1 || got[0] != tc.wantStatus {
			t.Fatalf("%s: expected status %q, got %v", tc.name, tc.wantStatus, got)
		}
	}
}

func mustEnqueue(t *testing.T, q *Queue, c domain.Client, title, text string) {
	t.Helper()
	if err := q.Enqueue(c, title, text); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestQueueHonorsGroupBudget(t *testing.T) {
	t.Parallel()

	q := NewQueue(NewService(&fakeSender{}, nil, nil), 2, nil)
	for i := 0; i < 5; i++ {
		mustEnqueue(t, q, domain.Client{ID: int64(i + 1), GroupName: "G1"}, "t", "m")
	}
	mustEnqueue(t, q, domain.Client{ID: 10, GroupName: "G2"}, "t", "m")

	now := time.Now()
	if got := q.take(now); len(got) != 3 {
		// 2 from G1's budget plus G2's single job.
		t.Fatalf("expected 3 jobs in first window, got %d", len(got))
	}
	if got := q.take(now.Add(200 * time.Millisecond)); len(got) != 0 {
		t.Fatalf("expected budget exhausted within the window, got %d", len(got))
	}
	if got := q.take(now.Add(1100 * time.Millisecond)); len(got) != 2 {
		t.Fatalf("expected fresh window budget of 2, got %d", len(got))
	}
	if q.Len("G1") != 1 {
		t.Fatalf("expected 1 pending job, got %d", q.Len("G1"))
	}
}

func TestQueueRejectsWhenBacklogFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(NewService(&fakeSender{}, nil, nil), 2, nil)
	q.backlog = 3
	for i := 0; i < 3; i++ {
		mustEnqueue(t, q, domain.Client{ID: int64(i + 1), GroupName: "G1"}, "t", "m")
	}

	err := q.Enqueue(domain.Client{ID: 4, GroupName: "G1"}, "t", "m")
	if !errors.Is(err, domain.ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.ClientID != 4 {
		t.Fatalf("expected DeliveryError for client 4, got %v", err)
	}

	// Another group is unaffected by G1's backlog.
	mustEnqueue(t, q, domain.Client{ID: 10, GroupName: "G2"}, "t", "m")

	// Draining G1 makes room again.
	q.take(time.Now())
	mustEnqueue(t, q, domain.Client{ID: 5, GroupName: "G1"}, "t", "m")
}

func TestQueueRunDrainsInOrder(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	q := NewQueue(NewService(sender, nil, nil), 10, nil)
	mustEnqueue(t, q, domain.Client{ID: 1, GroupName: "G1"}, "t", "first")
	mustEnqueue(t, q, domain.Client{ID: 2, GroupName: "G1"}, "t", "second")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sender.sent()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got := sender.sent()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected in-order drain, got %v", got)
	}
}
