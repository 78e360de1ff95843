package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/eventproto"
)

type fakeStore struct {
	mu      sync.Mutex
	clients map[int64]domain.Client
}

func newFakeStore(clients ...domain.Client) *fakeStore {
	f := &fakeStore{clients: make(map[int64]domain.Client)}
	for _, c := range clients {
		f.clients[c.ID] = c
	}
	return f
}

func (f *fakeStore) ListClients(ctx context.Context) ([]domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Client, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return domain.Client{}, domain.ErrClientNotFound
	}
	return c, nil
}

func (f *fakeStore) UpdateClientBilling(ctx context.Context, id int64, status domain.BillingStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return false, domain.ErrClientNotFound
	}
	if c.Status == status {
		return false, nil
	}
	c.Status = status
	f.clients[id] = c
	return true, nil
}

func (f *fakeStore) UpdateClient(ctx context.Context, c domain.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c.ID]; !ok {
		return domain.ErrClientNotFound
	}
	f.clients[c.ID] = c
	return nil
}

func (f *fakeStore) SetPaid(ctx context.Context, id int64, now time.Time) (domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return domain.Client{}, domain.ErrClientNotFound
	}
	var next time.Time
	if c.BillingDate != nil {
		next = c.BillingDate.AddDate(0, 1, 0)
	} else {
		next = now.AddDate(0, 1, 0)
	}
	c.Status = domain.BillingPaid
	c.BillingDate = &next
	f.clients[id] = c
	return c, nil
}

func (f *fakeStore) SetPaidBulk(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, err := f.SetPaid(ctx, id, now); err == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SetStatusBulk(ctx context.Context, ids []int64, status domain.BillingStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if c, ok := f.clients[id]; ok {
			c.Status = status
			f.clients[id] = c
			n++
		}
	}
	return n, nil
}

type fakeRouter struct {
	mu       sync.Mutex
	limits   map[string]string
	blocked  []string
	restored []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{limits: make(map[string]string)}
}

func (f *fakeRouter) SetSpeedLimit(ctx context.Context, queueName, speedLimit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits[queueName] = speedLimit
	return nil
}

func (f *fakeRouter) BlockClient(ctx context.Context, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = append(f.blocked, comment)
	return nil
}

func (f *fakeRouter) UnblockClient(ctx context.Context, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, comment)
	return nil
}

type fakeDeliverer struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeDeliverer) Deliver(ctx context.Context, client domain.Client, title, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	frames []eventproto.Frame
}

func (f *fakeBroadcaster) Broadcast(frame eventproto.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

type harness struct {
	store     *fakeStore
	router    *fakeRouter
	deliverer *fakeDeliverer
	bcast     *fakeBroadcaster
	engine    *Engine
}

func newHarness(now time.Time, clients ...domain.Client) *harness {
	h := &harness{
		store:     newFakeStore(clients...),
		router:    newFakeRouter(),
		deliverer: &fakeDeliverer{},
		bcast:     &fakeBroadcaster{},
	}
	h.engine = NewEngine(Config{
		Store:     h.store,
		RouterFor: func(group string) (RouterControl, bool) { return h.router, true },
		Deliverer: h.deliverer,
		Broadcast: h.bcast,
		Timezone:  time.UTC,
	})
	h.engine.now = func() time.Time { return now }
	return h
}

func dueOn(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

var testNow = time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

func TestCycleDueTodaySendsDueNotice(t *testing.T) {
	t.Parallel()

	h := newHarness(testNow, domain.Client{
		ID: 1, Name: "Juan", MessengerID: "9001", GroupName: "G1",
		ConnectionName: "PRIVATE-JUAN", Status: domain.BillingPaid,
		AmtMonthly: 500, BillingDate: dueOn(2026, 8, 28), SpeedLimit: unlimitedSpeed,
	})
	if err := h.engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := h.store.GetClient(context.Background(), 1)
	if got.Status != domain.BillingUnpaid {
		t.Fatalf("expected UNPAID on due date, got %q", got.Status)
	}
	if len(h.deliverer.titles) != 1 || h.deliverer.titles[0] != TitleDueNotice {
		t.Fatalf("expected due notice, got %v", h.deliverer.titles)
	}
	if len(h.bcast.frames) != 1 || h.bcast.frames[0].Event != eventproto.KindBillingUpdate {
		t.Fatalf("expected billing_update broadcast, got %+v", h.bcast.frames)
	}
	if h.bcast.frames[0].Status != string(domain.BillingUnpaid) {
		t.Fatalf("broadcast carries wrong status: %+v", h.bcast.frames[0])
	}
}

func TestCycleThrottlesAfterFourDays(t *testing.T) {
	t.Parallel()

	h := newHarness(testNow, domain.Client{
		ID: 1, MessengerID: "9001", GroupName: "G1",
		ConnectionName: "PRIVATE-JUAN", Status: domain.BillingUnpaid,
		BillingDate: dueOn(2026, 8, 23), // 5 days overdue
	})
	if err := h.engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := h.store.GetClient(context.Background(), 1)
	if got.Status != domain.BillingLimited || got.SpeedLimit != throttledSpeed {
		t.Fatalf("expected LIMITED at %s, got %+v", throttledSpeed, got)
	}
	if h.router.limits["PRIVATE-JUAN"] != throttledSpeed {
		t.Fatalf("router limit not applied: %v", h.router.limits)
	}
	if len(h.deliverer.titles) != 1 || h.deliverer.titles[0] != TitleThrottleNotice {
		t.Fatalf("expected throttle notice, got %v", h.deliverer.titles)
	}
}

func TestCycleCutsOffAfterSevenDays(t *testing.T) {
	t.Parallel()

	h := newHarness(testNow, domain.Client{
		ID: 1, MessengerID: "9001", GroupName: "G1",
		ConnectionName: "PRIVATE-JUAN", Status: domain.BillingLimited,
		BillingDate: dueOn(2026, 8, 20), // 8 days overdue
	})
	if err := h.engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := h.store.GetClient(context.Background(), 1)
	if got.Status != domain.BillingCutoff {
		t.Fatalf("expected CUTOFF, got %q", got.Status)
	}
	if len(h.router.blocked) != 1 || h.router.blocked[0] != "PRIVATE-JUAN" {
		t.Fatalf("expected firewall block, got %v", h.router.blocked)
	}
	if len(h.deliverer.titles) != 1 || h.deliverer.titles[0] != TitleDisconnectionNotice {
		t.Fatalf("expected disconnection notice, got %v", h.deliverer.titles)
	}
}

func TestCycleIsIdempotentPerTier(t *testing.T) {
	t.Parallel()

	h := newHarness(testNow, domain.Client{
		ID: 1, MessengerID: "9001", GroupName: "G1",
		ConnectionName: "PRIVATE-JUAN", Status: domain.BillingLimited,
		SpeedLimit: throttledSpeed, BillingDate: dueOn(2026, 8, 23),
	})
	if err := h.engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(h.deliverer.titles) != 0 {
		t.Fatalf("expected no repeated notice, got %v", h.deliverer.titles)
	}
	if len(h.bcast.frames) != 0 {
		t.Fatalf("expected no repeated broadcast, got %+v", h.bcast.frames)
	}
}

func TestCycleSkipsNonBillableClients(t *testing.T) {
	t.Parallel()

	h := newHarness(testNow,
		domain.Client{ID: 1, ConnectionName: "ISP-MAIN", GroupName: "G1", BillingDate: dueOn(2026, 8, 20)},
		domain.Client{ID: 2, ConnectionName: "PRIVATE-NODATE", GroupName: "G1"},
		domain.Client{ID: 3, ConnectionName: "PRIVATE-FUTURE", GroupName: "G1", BillingDate: dueOn(2026, 9, 10)},
	)
	if err := h.engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(h.deliverer.titles) != 0 || len(h.bcast.frames) != 0 {
		t.Fatalf("expected nothing to fire: notices=%v frames=%+v", h.deliverer.titles, h.bcast.frames)
	}
}

func TestCycleRestoresPaidClient(t *testing.T) {
	t.Parallel()

	h := newHarness(testNow, domain.Client{
		ID: 1, GroupName: "G1", ConnectionName: "PRIVATE-JUAN",
		Status: domain.BillingPaid, SpeedLimit: throttledSpeed,
		BillingDate: dueOn(2026, 8, 23),
	})
	if err := h.engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := h.store.GetClient(context.Background(), 1)
	if got.SpeedLimit != unlimitedSpeed {
		t.Fatalf("expected restored speed, got %q", got.SpeedLimit)
	}
	if len(h.router.restored) != 1 {
		t.Fatalf("expected unblock call, got %v", h.router.restored)
	}
}

func TestMarkPaidAdvancesCycleAndBroadcasts(t *testing.T) {
	t.Parallel()

	h := newHarness(testNow, domain.Client{
		ID: 1, GroupName: "G1", ConnectionName: "PRIVATE-JUAN",
		Status: domain.BillingCutoff, SpeedLimit: cutoffSpeed,
		BillingDate: dueOn(2026, 8, 15),
	})

	c, err := h.engine.MarkPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if c.Status != domain.BillingPaid {
		t.Fatalf("expected PAID, got %q", c.Status)
	}
	want := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	if c.BillingDate == nil || !c.BillingDate.Equal(want) {
		t.Fatalf("expected due date %v, got %v", want, c.BillingDate)
	}
	if len(h.bcast.frames) != 1 || h.bcast.frames[0].Event != eventproto.KindBillingUpdate {
		t.Fatalf("expected billing_update broadcast, got %+v", h.bcast.frames)
	}
	if h.bcast.frames[0].BillingDate != "2026-09-15" {
		t.Fatalf("broadcast carries wrong date: %+v", h.bcast.frames[0])
	}
	if len(h.router.restored) != 1 {
		t.Fatalf("expected service restore, got %v", h.router.restored)
	}
}

func TestMarkPaidBulkBroadcastsBulkEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(testNow,
		domain.Client{ID: 1, GroupName: "G1", ConnectionName: "PRIVATE-A", Status: domain.BillingUnpaid},
		domain.Client{ID: 2, GroupName: "G1", ConnectionName: "PRIVATE-B", Status: domain.BillingCutoff},
	)

	updated, err := h.engine.MarkPaidBulk(context.Background(), []int64{1, 2, 99})
	if err != nil {
		t.Fatalf("mark paid bulk: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 updates, got %d", updated)
	}
	if len(h.bcast.frames) != 1 || h.bcast.frames[0].Event != eventproto.KindBillingUpdateBulk {
		t.Fatalf("expected one bulk broadcast, got %+v", h.bcast.frames)
	}
}

func TestMarkUnpaidBulkReappliesPolicy(t *testing.T) {
	t.Parallel()

	h := newHarness(testNow, domain.Client{
		ID: 1, GroupName: "G1", ConnectionName: "PRIVATE-JUAN",
		Status: domain.BillingPaid, BillingDate: dueOn(2026, 8, 20), // 8 days overdue
	})

	if _, err := h.engine.MarkUnpaidBulk(context.Background(), []int64{1}); err != nil {
		t.Fatalf("mark unpaid bulk: %v", err)
	}
	got, _ := h.store.GetClient(context.Background(), 1)
	if got.Status != domain.BillingCutoff {
		t.Fatalf("expected policy to escalate to CUTOFF, got %q", got.Status)
	}
}

func TestDaysOverdue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 23, 30, 0, 0, time.UTC)
	cases := []struct {
		due  time.Time
		want int
	}{
		{time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC), 4},
		{time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), -4},
	}
	for _, tc := range cases {
		if got := daysOverdue(tc.due, now); got != tc.want {
			t.Fatalf("daysOverdue(%v) = %d, want %d", tc.due, got, tc.want)
		}
	}
}

func TestNextRunAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	if got := nextRunAt(now, 10); got.Day() != 28 || got.Hour() != 10 {
		t.Fatalf("expected same-day run, got %v", got)
	}
	if got := nextRunAt(now, 8); got.Day() != 29 || got.Hour() != 8 {
		t.Fatalf("expected next-day run, got %v", got)
	}
}
