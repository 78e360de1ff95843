package messenger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/log"
)

// DefaultGroupRateLimit is how many messages per second each group may
// receive. Outage fanout to a whole group is spread out instead of bursting.
const DefaultGroupRateLimit = 5

// DefaultMaxBacklog caps how many undelivered jobs a single group may hold.
// A backlog this deep means deliveries are hopelessly behind; newer events
// would arrive stale anyway.
const DefaultMaxBacklog = 256

const workerInterval = 100 * time.Millisecond

type job struct {
	client domain.Client
	title  string
	text   string
}

// Queue fans deliveries out through a Service while holding each group to a
// per-second message budget. Jobs within a group are delivered in enqueue
// order.
type Queue struct {
	svc     *Service
	logger  *slog.Logger
	limit   int
	backlog int

	mu      sync.Mutex
	queues  map[string][]job
	windows map[string]time.Time
	counts  map[string]int
}

// NewQueue creates a Queue. A non-positive limit falls back to
// [DefaultGroupRateLimit].
func NewQueue(svc *Service, limit int, logger *slog.Logger) *Queue {
	if limit <= 0 {
		limit = DefaultGroupRateLimit
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Queue{
		svc:     svc,
		logger:  logger,
		limit:   limit,
		backlog: DefaultMaxBacklog,
		queues:  make(map[string][]job),
		windows: make(map[string]time.Time),
		counts:  make(map[string]int),
	}
}

// Enqueue schedules one delivery for the client's group. A group whose
// backlog is full rejects the job with [domain.ErrRateLimitExceeded].
func (q *Queue) Enqueue(client domain.Client, title, text string) error {
	group := client.GroupName
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queues[group]) >= q.backlog {
		return &domain.DeliveryError{ClientID: client.ID, Op: "enqueue", Err: domain.ErrRateLimitExceeded}
	}
	q.queues[group] = append(q.queues[group], job{client: client, title: title, text: text})
	return nil
}

// Len returns the number of pending jobs for a group.
func (q *Queue) Len(group string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[group])
}

// Run drains the queues until ctx is cancelled. Each group's per-second
// counter resets one second after its window opened.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(workerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, j := range q.take(now) {
				if err := q.svc.Deliver(ctx, j.client, j.title, j.text); err != nil {
					q.logger.Warn("queued delivery failed", "group", j.client.GroupName, "client", j.client.ID, "err", err)
				}
			}
		}
	}
}

// take pops the jobs every group may deliver in this tick.
func (q *Queue) take(now time.Time) []job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []job
	for group, pending := range q.queues {
		if len(pending) == 0 {
			continue
		}
		if now.Sub(q.windows[group]) > time.Second {
			q.windows[group] = now
			q.counts[group] = 0
		}
		budget := q.limit - q.counts[group]
		if budget <= 0 {
			continue
		}
		if budget > len(pending) {
			budget = len(pending)
		}
		out = append(out, pending[:budget]...)
		q.queues[group] = pending[budget:]
		q.counts[group] += budget
	}
	return out
}
