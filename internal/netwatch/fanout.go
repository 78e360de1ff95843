package netwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jjnetworks/notify/internal/domain"
)

// fanout routes the notification for a stable state change. An ISP link
// change goes to the whole group; a PRIVATE or VENDO change goes to the
// affected client plus the group's admins.
func (p *Poller) fanout(ctx context.Context, client domain.Client) {
	if p.queue == nil {
		return
	}
	prefix := extractPrefix(client.ConnectionName)
	key := templateKey(client.GroupName, prefix, client.State)
	content := p.templateContent(ctx, key, prefix, client.State)

	switch prefix {
	case domain.PrefixISP:
		p.notifyGroup(ctx, client.GroupName, key, content)
	case domain.PrefixPrivate, domain.PrefixVendo:
		p.enqueue(client, key, content)
		p.notifyAdmins(ctx, client, prefix, key, content)
	default:
		p.logger.Debug("unknown connection prefix", "connection", client.ConnectionName)
	}
}

// notifyGroup enqueues the message for every reachable, non-cutoff client in
// the group. Clients who are themselves down cannot receive it anyway.
func (p *Poller) notifyGroup(ctx context.Context, group, title, content string) {
	clients, err := p.store.ListClientsByGroup(ctx, group)
	if err != nil {
		p.logger.Warn("group fanout failed", "group", group, "err", err)
		return
	}
	for _, c := range clients {
		if c.State == domain.StateDown || c.Status == domain.BillingCutoff {
			continue
		}
		if c.MessengerID == "" {
			continue
		}
		p.enqueue(c, title, content)
	}
}

// notifyAdmins forwards the message to the group's admin contacts, with the
// generic subject replaced by the affected connection's name.
func (p *Poller) notifyAdmins(ctx context.Context, client domain.Client, prefix, title, content string) {
	clients, err := p.store.ListClientsByGroup(ctx, client.GroupName)
	if err != nil {
		p.logger.Warn("admin fanout failed", "group", client.GroupName, "err", err)
		return
	}
	switch prefix {
	case domain.PrefixPrivate:
		content = strings.ReplaceAll(content, "Your", client.ConnectionName)
	case domain.PrefixVendo:
		content = strings.ReplaceAll(content, "Vendo", client.ConnectionName)
	}
	for _, c := range clients {
		if extractPrefix(c.ConnectionName) != domain.PrefixAdmin || c.MessengerID == "" {
			continue
		}
		p.enqueue(c, title, content)
	}
}

// enqueue hands one message to the delivery queue, logging the drop when the
// group's backlog is full.
func (p *Poller) enqueue(client domain.Client, title, content string) {
	if err := p.queue.Enqueue(client, title, content); err != nil {
		p.logger.Warn("notification dropped", "client", client.ID, "title", title, "err", err)
	}
}

// templateContent resolves the routing key to its template body, falling
// back to a sensible default when no template is configured.
func (p *Poller) templateContent(ctx context.Context, key, prefix string, state domain.ConnectionState) string {
	tpl, err := p.store.GetTemplateByTitle(ctx, key)
	if err == nil {
		return tpl.Content
	}
	if !errors.Is(err, domain.ErrTemplateNotFound) {
		p.logger.Warn("template lookup failed", "key", key, "err", err)
	}
	return defaultContent(prefix, state)
}

func defaultContent(prefix string, state domain.ConnectionState) string {
	subject := "Your connection"
	switch prefix {
	case domain.PrefixPrivate:
		subject = "Your PRIVATE connection"
	case domain.PrefixVendo:
		subject = "Your VENDO"
	case domain.PrefixISP:
		subject = "The ISP link"
	}
	if state == domain.StateDown {
		return fmt.Sprintf("%s is currently down. Kindly check if the cables are properly connected and if all indicator lights are on.", subject)
	}
	return fmt.Sprintf("%s is up and running.", subject)
}

// extractPrefix returns the upper-cased first dash-separated token of a
// connection name, e.g. "PRIVATE-JUAN" -> "PRIVATE".
func extractPrefix(connectionName string) string {
	name := strings.ToUpper(strings.TrimSpace(connectionName))
	if i := strings.Index(name, "-"); i >= 0 {
		return name[:i]
	}
	return name
}

// templateKey builds the routing key for a state change, e.g.
// "G1-PRIVATE-DOWN".
func templateKey(group, prefix string, state domain.ConnectionState) string {
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(group), prefix, state)
}
