package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "notify.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreateClient(t *testing.T, s *Store, c domain.Client) domain.Client {
	t.Helper()
	created, err := s.CreateClient(context.Background(), c)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return created
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	created := mustCreateClient(t, s, domain.Client{
		Name:           "Juan",
		MessengerID:    "9001",
		GroupName:      "G1",
		ConnectionName: "PRIVATE-JUAN",
		SpeedLimit:     "10M/10M",
		AmtMonthly:     500,
		BillingDate:    &due,
	})
	if created.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if created.State != domain.StateUnknown || created.Status != domain.BillingUnknown {
		t.Fatalf("expected UNKNOWN defaults, got %+v", created)
	}

	got, err := s.GetClient(ctx, created.ID)
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if got.Name != "Juan" || got.BillingDate == nil || !got.BillingDate.Equal(due) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	byConn, err := s.GetClientByConnectionName(ctx, "private-juan")
	if err != nil {
		t.Fatalf("get by connection name: %v", err)
	}
	if byConn.ID != created.ID {
		t.Fatalf("connection name lookup returned wrong record: %+v", byConn)
	}
}

func TestUpdateClientPersistsStateAndStatus(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	created := mustCreateClient(t, s, domain.Client{
		Name:           "Juan",
		ConnectionName: "PRIVATE-JUAN",
	})

	created.State = domain.StateDown
	created.Status = domain.BillingPaid
	created.SpeedLimit = "Unlimited"
	if err := s.UpdateClient(ctx, created); err != nil {
		t.Fatalf("update client: %v", err)
	}

	got, err := s.GetClient(ctx, created.ID)
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if got.State != domain.StateDown || got.Status != domain.BillingPaid {
		t.Fatalf("state/status not persisted: %+v", got)
	}
	if got.SpeedLimit != "Unlimited" {
		t.Fatalf("speed limit not persisted: %+v", got)
	}
}

func TestGetClientNotFound(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if _, err := s.GetClient(context.Background(), 999); !errors.Is(err, domain.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
	if _, err := s.GetClientByConnectionName(context.Background(), "nope"); !errors.Is(err, domain.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestUpdateClientStateReportsChange(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	c := mustCreateClient(t, s, domain.Client{Name: "Juan", ConnectionName: "ISP-MAIN"})

	changed, err := s.UpdateClientState(ctx, c.ID, domain.StateDown)
	if err != nil || !changed {
		t.Fatalf("expected first transition to report change, changed=%v err=%v", changed, err)
	}
	changed, err = s.UpdateClientState(ctx, c.ID, domain.StateDown)
	if err != nil || changed {
		t.Fatalf("expected redundant transition to be silent, changed=%v err=%v", changed, err)
	}

	got, _ := s.GetClient(ctx, c.ID)
	if got.State != domain.StateDown {
		t.Fatalf("state not persisted: %+v", got)
	}
}

func TestSetPaidAdvancesBillingDate(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	due := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	c := mustCreateClient(t, s, domain.Client{Name: "Maria", ConnectionName: "VENDO-MARIA", BillingDate: &due})
	if _, err := s.UpdateClientBilling(ctx, c.ID, domain.BillingCutoff); err != nil {
		t.Fatalf("set cutoff: %v", err)
	}

	updated, err := s.SetPaid(ctx, c.ID, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("set paid: %v", err)
	}
	if updated.Status != domain.BillingPaid {
		t.Fatalf("expected PAID, got %q", updated.Status)
	}
	want := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	if updated.BillingDate == nil || !updated.BillingDate.Equal(want) {
		t.Fatalf("expected due date %v, got %v", want, updated.BillingDate)
	}
}

func TestSetPaidBulkSkipsUnknownIDs(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	a := mustCreateClient(t, s, domain.Client{Name: "A", ConnectionName: "PRIVATE-A"})
	b := mustCreateClient(t, s, domain.Client{Name: "B", ConnectionName: "PRIVATE-B"})

	updated, err := s.SetPaidBulk(ctx, []int64{a.ID, b.ID, 999}, time.Now().UTC())
	if err != nil {
		t.Fatalf("set paid bulk: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 updates, got %d", updated)
	}
	for _, id := range []int64{a.ID, b.ID} {
		got, _ := s.GetClient(ctx, id)
		if got.Status != domain.BillingPaid {
			t.Fatalf("client %d not marked paid: %+v", id, got)
		}
		if got.BillingDate == nil {
			t.Fatalf("client %d missing new due date", id)
		}
	}
}

func TestSetStatusBulk(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	a := mustCreateClient(t, s, domain.Client{Name: "A", ConnectionName: "PRIVATE-A2"})
	b := mustCreateClient(t, s, domain.Client{Name: "B", ConnectionName: "PRIVATE-B2"})

	updated, err := s.SetStatusBulk(ctx, []int64{a.ID, b.ID}, domain.BillingUnpaid)
	if err != nil || updated != 2 {
		t.Fatalf("expected 2 updates, got %d err=%v", updated, err)
	}
	got, _ := s.GetClient(ctx, a.ID)
	if got.Status != domain.BillingUnpaid {
		t.Fatalf("expected UNPAID, got %q", got.Status)
	}
}

func TestTemplateLookupByTitle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	tpl, err := s.CreateTemplate(ctx, domain.Template{Title: "G1-PRIVATE-DOWN", Content: "Hi {name}, your connection is down."})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	got, err := s.GetTemplateByTitle(ctx, "g1-private-down")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != tpl.ID {
		t.Fatalf("lookup returned wrong template: %+v", got)
	}

	if _, err := s.GetTemplateByTitle(ctx, "G9-NOPE"); !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestMessageLogLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	m, err := s.InsertMessageLog(ctx, domain.MessageLog{
		ClientID: 1,
		Title:    "G1-PRIVATE-DOWN",
		Message:  "Hi Juan, your connection is down.",
		Status:   domain.MessageStatusPending,
	})
	if err != nil {
		t.Fatalf("insert log: %v", err)
	}
	if err := s.SetMessageLogStatus(ctx, m.ID, domain.MessageStatusSent); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	logs, err := s.ListMessageLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != domain.MessageStatusSent || logs[0].SentAt == nil {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	k, err := s.CreateAPIKey(ctx, "dashboard", "hash-1")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	id, err := s.ResolveAPIKeyID(ctx, "hash-1")
	if err != nil || id != k.ID {
		t.Fatalf("resolve: id=%q err=%v", id, err)
	}

	if err := s.RevokeAPIKey(ctx, k.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.ResolveAPIKeyID(ctx, "hash-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected revoked key to stop resolving, got %v", err)
	}
	if err := s.RevokeAPIKey(ctx, k.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected double revoke to fail, got %v", err)
	}
}

func TestMessengerSendSetting(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetMessengerSend(ctx); err != nil || ok {
		t.Fatalf("expected unset toggle, ok=%v err=%v", ok, err)
	}
	if err := s.SetMessengerSend(ctx, false); err != nil {
		t.Fatalf("set toggle: %v", err)
	}
	enabled, ok, err := s.GetMessengerSend(ctx)
	if err != nil || !ok || enabled {
		t.Fatalf("expected persisted false, enabled=%v ok=%v err=%v", enabled, ok, err)
	}
	if err := s.SetMessengerSend(ctx, true); err != nil {
		t.Fatalf("flip toggle: %v", err)
	}
	enabled, _, err = s.GetMessengerSend(ctx)
	if err != nil || !enabled {
		t.Fatalf("expected persisted true, enabled=%v err=%v", enabled, err)
	}
}

func TestResolveServerPepper(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.ResolveServerPepper(ctx, "pep-1")
	if err != nil || got != "pep-1" {
		t.Fatalf("first resolve: got=%q err=%v", got, err)
	}
	if _, err := s.ResolveServerPepper(ctx, "pep-2"); err == nil {
		t.Fatal("expected mismatched pepper to be rejected")
	}
	got, err = s.ResolveServerPepper(ctx, "")
	if err != nil || got != "pep-1" {
		t.Fatalf("empty suggestion must return stored pepper: got=%q err=%v", got, err)
	}
}
