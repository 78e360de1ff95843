// Package cache holds the dashboard's in-memory client collection. Incoming
// events patch individual records in place; a bulk update marks the whole
// collection stale and triggers a refetch instead, since bulk events do not
// enumerate which records changed.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/log"
)

// FetchFunc loads the full client collection from the server.
type FetchFunc func(ctx context.Context) ([]domain.Client, error)

// Store is a keyed collection of client records. Patches never insert or
// remove entries; the collection's membership only changes via Replace.
type Store struct {
	logger *slog.Logger
	fetch  FetchFunc

	mu         sync.RWMutex
	clients    map[int64]domain.Client
	stale      bool
	refreshing bool
}

// New creates an empty Store. fetch may be nil, in which case Invalidate
// only marks the collection stale.
func New(fetch FetchFunc, logger *slog.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	return &Store{
		logger:  logger,
		fetch:   fetch,
		clients: make(map[int64]domain.Client),
	}
}

// Replace swaps in a freshly fetched collection and clears staleness.
func (s *Store) Replace(clients []domain.Client) {
	next := make(map[int64]domain.Client, len(clients))
	for _, c := range clients {
		next[c.ID] = c
	}
	s.mu.Lock()
	s.clients = next
	s.stale = false
	s.mu.Unlock()
}

// Patch applies fn to the entry with the given id. It reports whether the
// entry existed; a missing id is a benign race (the record may have been
// deleted after the event was queued) and leaves the collection untouched.
func (s *Store) Patch(id int64, fn func(*domain.Client)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return false
	}
	fn(&c)
	s.clients[id] = c
	return true
}

// Get returns a copy of the entry with the given id.
func (s *Store) Get(id int64) (domain.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Stale reports whether the collection has been invalidated and not yet
// replaced.
func (s *Store) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// Snapshot returns all entries ordered by id.
func (s *Store) Snapshot() []domain.Client {
	s.mu.RLock()
	out := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Invalidate marks the collection stale and, when a fetcher is configured,
// kicks off a background refetch. At most one refetch runs at a time.
func (s *Store) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.stale = true
	if s.fetch == nil || s.refreshing {
		s.mu.Unlock()
		return
	}
	s.refreshing = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.refreshing = false
			s.mu.Unlock()
		}()
		clients, err := s.fetch(ctx)
		if err != nil {
			s.logger.Warn("client refetch failed", "err", err)
			return
		}
		s.Replace(clients)
	}()
}

// Refresh performs a synchronous fetch-and-replace.
func (s *Store) Refresh(ctx context.Context) error {
	if s.fetch == nil {
		return nil
	}
	clients, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.Replace(clients)
	return nil
}
