package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
)

func TestPatchMutatesOnlyNamedEntry(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Replace([]domain.Client{
		{ID: 1, Name: "Juan", State: domain.StateUp},
		{ID: 2, Name: "Maria", State: domain.StateUp},
	})

	ok := s.Patch(1, func(c *domain.Client) { c.State = domain.StateDown })
	if !ok {
		t.Fatal("expected patch to find entry 1")
	}

	got, _ := s.Get(1)
	if got.State != domain.StateDown {
		t.Fatalf("expected DOWN, got %q", got.State)
	}
	if got.Name != "Juan" {
		t.Fatalf("patch clobbered unrelated field: %+v", got)
	}
	other, _ := s.Get(2)
	if other.State != domain.StateUp {
		t.Fatalf("patch leaked to entry 2: %+v", other)
	}
}

func TestPatchUnknownIDIsNoop(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Replace([]domain.Client{{ID: 1}})

	if ok := s.Patch(99, func(c *domain.Client) { c.State = domain.StateDown }); ok {
		t.Fatal("expected patch of unknown id to report false")
	}
	if s.Len() != 1 {
		t.Fatalf("patch must never insert entries, len=%d", s.Len())
	}
}

func TestInvalidateTriggersRefetch(t *testing.T) {
	t.Parallel()

	fetched := make(chan struct{})
	s := New(func(context.Context) ([]domain.Client, error) {
		close(fetched)
		return []domain.Client{{ID: 7, Name: "Pedro"}}, nil
	}, nil)

	s.Invalidate(context.Background())
	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatal("expected invalidate to trigger a fetch")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Get(7); ok && !s.Stale() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected refetched collection to replace the cache")
}

func TestInvalidateWithoutFetcherMarksStale(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Invalidate(context.Background())
	if !s.Stale() {
		t.Fatal("expected stale after invalidate")
	}
	s.Replace(nil)
	if s.Stale() {
		t.Fatal("expected replace to clear staleness")
	}
}

func TestSnapshotOrdered(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Replace([]domain.Client{{ID: 3}, {ID: 1}, {ID: 2}})
	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].ID != 1 || snap[2].ID != 3 {
		t.Fatalf("expected ordered snapshot, got %+v", snap)
	}
}
