// Package billing evaluates client accounts against the overdue policy and
// applies enforcement: a due notice on the billing date, a speed limit after
// four days, and a cutoff after seven. Payments restore service and advance
// the billing cycle by one month.
package billing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/eventproto"
	"github.com/jjnetworks/notify/internal/log"
)

// Enforcement thresholds in days past the billing date.
const (
	throttleAfterDays = 4
	cutoffAfterDays   = 7
)

const (
	unlimitedSpeed = "Unlimited"
	throttledSpeed = "5M/5M"
	cutoffSpeed    = "0M/0M"
)

// Store is the persistence the engine needs.
type Store interface {
	ListClients(ctx context.Context) ([]domain.Client, error)
	GetClient(ctx context.Context, id int64) (domain.Client, error)
	UpdateClientBilling(ctx context.Context, id int64, status domain.BillingStatus) (bool, error)
	UpdateClient(ctx context.Context, c domain.Client) error
	SetPaid(ctx context.Context, id int64, now time.Time) (domain.Client, error)
	SetPaidBulk(ctx context.Context, ids []int64, now time.Time) (int64, error)
	SetStatusBulk(ctx context.Context, ids []int64, status domain.BillingStatus) (int64, error)
}

// RouterControl is the slice of a RouterOS client used for enforcement.
type RouterControl interface {
	SetSpeedLimit(ctx context.Context, queueName, speedLimit string) error
	BlockClient(ctx context.Context, comment string) error
	UnblockClient(ctx context.Context, comment string) error
}

// RouterFunc resolves the device serving a client group. A miss disables
// enforcement for that client while notices still go out.
type RouterFunc func(group string) (RouterControl, bool)

// Deliverer sends a billing notice to a client. Satisfied by
// [messenger.Service].
type Deliverer interface {
	Deliver(ctx context.Context, client domain.Client, title, text string) error
}

// Broadcaster pushes billing events to connected dashboards.
type Broadcaster interface {
	Broadcast(f eventproto.Frame)
}

// Engine runs the billing policy. All collaborators except the store are
// optional, degrading to evaluation without enforcement, notices, or
// broadcasts.
type Engine struct {
	store     Store
	routerFor RouterFunc
	deliver   Deliverer
	broadcast Broadcaster
	logger    *slog.Logger

	tz     *time.Location
	filter string // connection-name substring selecting billable clients
	now    func() time.Time
}

// Config wires an Engine.
type Config struct {
	Store     Store
	RouterFor RouterFunc
	Deliverer Deliverer
	Broadcast Broadcaster
	Logger    *slog.Logger
	Timezone  *time.Location
	Filter    string
}

// NewEngine creates an Engine. The default filter is "PRIVATE", matching the
// connection names of individually billed subscribers.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	tz := cfg.Timezone
	if tz == nil {
		tz = time.Local
	}
	filter := strings.ToUpper(strings.TrimSpace(cfg.Filter))
	if filter == "" {
		filter = domain.PrefixPrivate
	}
	return &Engine{
		store:     cfg.Store,
		routerFor: cfg.RouterFor,
		deliver:   cfg.Deliverer,
		broadcast: cfg.Broadcast,
		logger:    logger,
		tz:        tz,
		filter:    filter,
		now:       time.Now,
	}
}

// RunCycle evaluates every billable client once. Per-client failures are
// logged and do not abort the cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	now := e.now().In(e.tz)
	clients, err := e.store.ListClients(ctx)
	if err != nil {
		return err
	}

	evaluated := 0
	for _, c := range clients {
		if c.BillingDate == nil || c.ConnectionName == "" {
			continue
		}
		if !strings.Contains(strings.ToUpper(c.ConnectionName), e.filter) {
			continue
		}
		days := daysOverdue(*c.BillingDate, now)
		if days < 0 {
			continue
		}
		evaluated++
		e.applyRules(ctx, c, days, now)
	}
	e.logger.Info("billing cycle complete", "evaluated", evaluated, "total", len(clients))
	return nil
}

// applyRules transitions one client through the overdue policy. Each rule
// fires only on a status change, so repeated cycles stay quiet.
func (e *Engine) applyRules(ctx context.Context, c domain.Client, days int, now time.Time) {
	switch {
	case days == 0 && c.Status != domain.BillingUnpaid:
		// A fresh due date opens a new cycle regardless of the previous
		// status.
		e.restore(ctx, &c)
		e.transition(ctx, &c, domain.BillingUnpaid, now)
		e.notify(ctx, c, TitleDueNotice, DueNotice(*c.BillingDate, c.AmtMonthly))

	case c.Status == domain.BillingPaid:
		// Paid clients are shielded from the overdue tiers; they only
		// need service restored if a previous cycle limited them.
		if c.SpeedLimit != unlimitedSpeed {
			e.restore(ctx, &c)
			e.persistSpeed(ctx, c)
		}

	case days >= throttleAfterDays && days < cutoffAfterDays && c.Status != domain.BillingLimited:
		c.SpeedLimit = throttledSpeed
		e.applySpeed(ctx, c, throttledSpeed)
		e.transition(ctx, &c, domain.BillingLimited, now)
		e.notify(ctx, c, TitleThrottleNotice, throttleNotice)

	case days >= cutoffAfterDays && c.Status != domain.BillingCutoff:
		c.SpeedLimit = cutoffSpeed
		e.applySpeed(ctx, c, cutoffSpeed)
		e.block(ctx, c)
		e.transition(ctx, &c, domain.BillingCutoff, now)
		e.notify(ctx, c, TitleDisconnectionNotice, disconnectionNotice)
	}
}

// MarkPaid records a payment: status PAID, due date advanced one month,
// service restored, and a billing_update broadcast.
func (e *Engine) MarkPaid(ctx context.Context, id int64) (domain.Client, error) {
	now := e.now().In(e.tz)
	c, err := e.store.SetPaid(ctx, id, now)
	if err != nil {
		return domain.Client{}, err
	}
	e.restore(ctx, &c)
	e.persistSpeed(ctx, c)
	e.emitUpdate(c, now)
	return c, nil
}

// MarkPaidBulk records payments for many clients and broadcasts a single
// bulk event telling dashboards to refetch.
func (e *Engine) MarkPaidBulk(ctx context.Context, ids []int64) (int64, error) {
	now := e.now().In(e.tz)
	updated, err := e.store.SetPaidBulk(ctx, ids, now)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		c, err := e.store.GetClient(ctx, id)
		if err != nil {
			continue
		}
		e.restore(ctx, &c)
		e.persistSpeed(ctx, c)
	}
	if e.broadcast != nil {
		e.broadcast.Broadcast(eventproto.BillingUpdateBulk())
	}
	return updated, nil
}

// MarkUnpaidBulk reverts clients to UNPAID and re-runs the policy so the
// right enforcement tier is applied immediately.
func (e *Engine) MarkUnpaidBulk(ctx context.Context, ids []int64) (int64, error) {
	updated, err := e.store.SetStatusBulk(ctx, ids, domain.BillingUnpaid)
	if err != nil {
		return 0, err
	}
	now := e.now().In(e.tz)
	for _, id := range ids {
		c, err := e.store.GetClient(ctx, id)
		if err != nil || c.BillingDate == nil {
			continue
		}
		if days := daysOverdue(*c.BillingDate, now); days >= 0 {
			e.applyRules(ctx, c, days, now)
		}
	}
	if e.broadcast != nil {
		e.broadcast.Broadcast(eventproto.BillingUpdateBulk())
	}
	return updated, nil
}

func (e *Engine) transition(ctx context.Context, c *domain.Client, status domain.BillingStatus, now time.Time) {
	changed, err := e.store.UpdateClientBilling(ctx, c.ID, status)
	if err != nil {
		e.logger.Warn("billing status update failed", "client", c.ID, "status", status, "err", err)
		return
	}
	c.Status = status
	e.persistSpeed(ctx, *c)
	if changed {
		e.emitUpdate(*c, now)
	}
}

func (e *Engine) emitUpdate(c domain.Client, now time.Time) {
	if e.broadcast == nil {
		return
	}
	var due time.Time
	if c.BillingDate != nil {
		due = *c.BillingDate
	}
	e.broadcast.Broadcast(eventproto.BillingUpdate(c.ID, string(c.Status), due, now))
}

func (e *Engine) notify(ctx context.Context, c domain.Client, title, text string) {
	if e.deliver == nil || c.MessengerID == "" {
		return
	}
	if err := e.deliver.Deliver(ctx, c, title, text); err != nil {
		e.logger.Warn("billing notice delivery failed", "client", c.ID, "title", title, "err", err)
	}
}

func (e *Engine) restore(ctx context.Context, c *domain.Client) {
	c.SpeedLimit = unlimitedSpeed
	router, ok := e.router(c.GroupName)
	if !ok {
		return
	}
	if err := router.UnblockClient(ctx, c.ConnectionName); err != nil {
		e.logger.Warn("unblock failed", "client", c.ID, "err", err)
	}
	if err := router.SetSpeedLimit(ctx, c.ConnectionName, unlimitedSpeed); err != nil {
		e.logger.Warn("speed restore failed", "client", c.ID, "err", err)
	}
}

func (e *Engine) applySpeed(ctx context.Context, c domain.Client, limit string) {
	router, ok := e.router(c.GroupName)
	if !ok {
		return
	}
	if err := router.SetSpeedLimit(ctx, c.ConnectionName, limit); err != nil {
		e.logger.Warn("speed limit failed", "client", c.ID, "limit", limit, "err", err)
	}
}

func (e *Engine) block(ctx context.Context, c domain.Client) {
	router, ok := e.router(c.GroupName)
	if !ok {
		return
	}
	if err := router.BlockClient(ctx, c.ConnectionName); err != nil {
		e.logger.Warn("block failed", "client", c.ID, "err", err)
	}
}

func (e *Engine) persistSpeed(ctx context.Context, c domain.Client) {
	if err := e.store.UpdateClient(ctx, c); err != nil {
		e.logger.Warn("client update failed", "client", c.ID, "err", err)
	}
}

func (e *Engine) router(group string) (RouterControl, bool) {
	if e.routerFor == nil {
		return nil, false
	}
	return e.routerFor(group)
}

// daysOverdue counts whole calendar days from the due date to now, both
// interpreted in now's location. Negative means the due date is still ahead.
func daysOverdue(due, now time.Time) int {
	loc := now.Location()
	d := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, loc)
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return int(n.Sub(d) / (24 * time.Hour))
}
