package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/eventproto"
	"github.com/jjnetworks/notify/internal/notify"
)

// dispatch decodes one raw frame and routes it by kind. It never returns an
// error: a malformed or unknown frame is logged and dropped so one bad
// payload cannot take down the session.
func (m *Manager) dispatch(ctx context.Context, raw []byte, reply func(eventproto.Frame) error) {
	frame, err := eventproto.Decode(raw)
	if err != nil {
		m.logger.Debug("dropping malformed event frame", "err", err)
		return
	}
	if m.hooks.OnEvent != nil {
		m.hooks.OnEvent(frame)
	}

	switch frame.Kind() {
	case eventproto.KindStateUpdate:
		m.applyStateUpdate(frame)
	case eventproto.KindBillingUpdate:
		m.applyBillingUpdate(frame)
	case eventproto.KindBillingUpdateBulk:
		m.applyBillingBulk(ctx)
	case eventproto.KindPing:
		if reply != nil {
			_ = reply(eventproto.Pong())
		}
	case eventproto.KindPong:
		// heartbeat ack, nothing to do
	default:
		m.logger.Debug("ignoring unknown event kind", "kind", frame.Kind())
	}
}

// applyStateUpdate patches the named record's connection state. Redundant
// events (state already current) are idempotent and raise no notification.
func (m *Manager) applyStateUpdate(frame eventproto.Frame) {
	id := int64(frame.ID)
	next := domain.ConnectionState(frame.State)
	if !domain.ValidConnectionState(next) {
		m.logger.Debug("dropping state update with unknown state", "id", id, "state", frame.State)
		return
	}

	name := frame.Client
	changed := false
	found := m.cache.Patch(id, func(c *domain.Client) {
		if name == "" {
			name = c.Name
		}
		if c.State != next {
			c.State = next
			changed = true
		}
	})
	if !found {
		// The record may have been deleted after the event was queued.
		m.logger.Debug("state update for unknown client", "id", id)
		return
	}
	if !changed {
		return
	}
	if name == "" {
		name = fmt.Sprintf("Client %d", id)
	}

	if next == domain.StateDown {
		m.notifyUser(notify.SeverityError, fmt.Sprintf("%s is now DOWN", name))
	} else {
		m.notifyUser(notify.SeveritySuccess, fmt.Sprintf("%s is now %s", name, next))
	}
}

// applyBillingUpdate patches the named record's billing fields. Only the
// fields present in the frame change; everything else is left alone.
func (m *Manager) applyBillingUpdate(frame eventproto.Frame) {
	id := int64(frame.ClientID)

	var nextDate *time.Time
	if frame.BillingDate != "" {
		d, err := time.Parse("2006-01-02", frame.BillingDate)
		if err != nil {
			m.logger.Debug("dropping unparsable billing date", "id", id, "billing_date", frame.BillingDate)
		} else {
			nextDate = &d
		}
	}

	next := domain.BillingStatus(frame.Status)
	if frame.Status != "" && !domain.ValidBillingStatus(next) {
		m.logger.Debug("dropping billing update with unknown status", "id", id, "status", frame.Status)
		return
	}

	var name string
	statusChanged := false
	found := m.cache.Patch(id, func(c *domain.Client) {
		name = c.Name
		if nextDate != nil {
			c.BillingDate = nextDate
		}
		if frame.Status != "" && c.Status != next {
			c.Status = next
			statusChanged = true
		}
	})
	if !found {
		m.logger.Debug("billing update for unknown client", "id", id)
		return
	}
	if !statusChanged {
		return
	}
	if name == "" {
		name = fmt.Sprintf("Client %d", id)
	}

	m.notifyUser(notify.SeverityInfo, fmt.Sprintf("%s billing status is now %s", name, next))
}

// applyBillingBulk handles a bulk billing event. Bulk frames carry no record
// ids, so the whole collection is invalidated and refetched instead of
// guessing at per-record patches.
func (m *Manager) applyBillingBulk(ctx context.Context) {
	m.notifyUser(notify.SeverityInfo, "Billing statuses updated; refreshing clients")
	m.cache.Invalidate(ctx)
}

func (m *Manager) notifyUser(sev notify.Severity, msg string) {
	if m.hooks.OnNotify != nil {
		m.hooks.OnNotify(sev, msg)
	}
}
