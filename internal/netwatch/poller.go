// Package netwatch polls RouterOS netwatch rules and turns link changes into
// persisted state updates, dashboard broadcasts, and rate-limited client
// notifications. Flapping links are debounced before anyone is messaged.
package netwatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/eventproto"
	"github.com/jjnetworks/notify/internal/log"
	"github.com/jjnetworks/notify/internal/router"
)

// DefaultPollInterval is how often each device's netwatch table is read.
const DefaultPollInterval = 30 * time.Second

// Store is the persistence the poller needs.
type Store interface {
	GetClientByConnectionName(ctx context.Context, name string) (domain.Client, error)
	ListClientsByGroup(ctx context.Context, group string) ([]domain.Client, error)
	UpdateClientState(ctx context.Context, id int64, state domain.ConnectionState) (bool, error)
	GetTemplateByTitle(ctx context.Context, title string) (domain.Template, error)
}

// Source reads one device's netwatch table. Satisfied by [router.Client].
type Source interface {
	Netwatch(ctx context.Context) ([]router.NetwatchEntry, error)
}

// Enqueuer schedules a Messenger delivery. Satisfied by [messenger.Queue].
type Enqueuer interface {
	Enqueue(client domain.Client, title, text string) error
}

// Broadcaster pushes state events to connected dashboards.
type Broadcaster interface {
	Broadcast(f eventproto.Frame)
}

// Poller walks every configured device, reconciles netwatch status with the
// client table, and fans out the fallout of a change.
type Poller struct {
	store     Store
	sources   map[string]Source // group -> device
	queue     Enqueuer
	broadcast Broadcaster
	logger    *slog.Logger

	interval time.Duration
	debounce *Debouncer
	now      func() time.Time
}

// Config wires a Poller. Queue and Broadcast are optional.
type Config struct {
	Store        Store
	Sources      map[string]Source
	Queue        Enqueuer
	Broadcast    Broadcaster
	Logger       *slog.Logger
	PollInterval time.Duration
	SpikeWindow  time.Duration
}

// NewPoller creates a Poller.
func NewPoller(cfg Config) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:     cfg.Store,
		sources:   cfg.Sources,
		queue:     cfg.Queue,
		broadcast: cfg.Broadcast,
		logger:    logger,
		interval:  interval,
		debounce:  NewDebouncer(cfg.SpikeWindow),
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) {
	p.PollOnce(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce reads every device's netwatch table once. An unreachable device
// skips its group for this round; everything else proceeds.
func (p *Poller) PollOnce(ctx context.Context) {
	for group, src := range p.sources {
		entries, err := src.Netwatch(ctx)
		if err != nil {
			p.logger.Warn("netwatch poll failed", "group", group, "err", err)
			continue
		}
		for _, entry := range entries {
			if entry.Comment == "" {
				continue
			}
			p.reconcile(ctx, group, entry)
		}
	}
}

// reconcile applies one netwatch entry to its client record.
func (p *Poller) reconcile(ctx context.Context, group string, entry router.NetwatchEntry) {
	state := domain.ConnectionState(entry.Status)
	if !domain.ValidConnectionState(state) {
		p.logger.Debug("ignoring netwatch entry with unknown status", "comment", entry.Comment, "status", entry.Status)
		return
	}

	client, err := p.store.GetClientByConnectionName(ctx, entry.Comment)
	if errors.Is(err, domain.ErrClientNotFound) {
		p.logger.Debug("netwatch entry has no client record", "comment", entry.Comment)
		return
	}
	if err != nil {
		p.logger.Warn("client lookup failed", "comment", entry.Comment, "err", err)
		return
	}

	changed, err := p.store.UpdateClientState(ctx, client.ID, state)
	if err != nil {
		p.logger.Warn("state update failed", "client", client.ID, "err", err)
		return
	}
	if !changed {
		// A link that flapped earlier still owes its settled notice once it
		// has held this state for the full spike window.
		p.releaseSpike(ctx, client, state)
		return
	}
	client.State = state
	p.logger.Info("link state changed", "client", client.ID, "connection", client.ConnectionName, "state", state)

	if p.broadcast != nil {
		p.broadcast.Broadcast(eventproto.StateUpdate(client.ID, client.Name, client.ConnectionName, string(state)))
	}

	// UNKNOWN never notifies, and flapping links wait out the spike window.
	if state == domain.StateUnknown {
		return
	}
	if !p.debounce.Stable(client.ID, state, p.now()) {
		p.logger.Debug("link in spike, observing only", "client", client.ID, "state", state)
		return
	}
	p.fanout(ctx, client)
}

// releaseSpike sends the held notification for a flapped link once the
// unchanged state has outlived the spike window.
func (p *Poller) releaseSpike(ctx context.Context, client domain.Client, state domain.ConnectionState) {
	if state == domain.StateUnknown || !p.debounce.Spiking(client.ID) {
		return
	}
	if !p.debounce.Stable(client.ID, state, p.now()) {
		return
	}
	client.State = state
	p.logger.Info("link settled after spike", "client", client.ID, "connection", client.ConnectionName, "state", state)
	p.fanout(ctx, client)
}
