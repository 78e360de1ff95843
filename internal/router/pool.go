package router

import (
	"log/slog"
	"sort"
	"strings"
)

// Pool maps client groups to their RouterOS devices, built from the server's
// router map configuration.
type Pool struct {
	clients map[string]*Client
}

// NewPool creates a Pool from a group -> host map. All devices share one set
// of credentials.
func NewPool(hosts map[string]string, user, password string, logger *slog.Logger) *Pool {
	clients := make(map[string]*Client, len(hosts))
	for group, host := range hosts {
		clients[strings.ToUpper(strings.TrimSpace(group))] = New(host, user, password, logger)
	}
	return &Pool{clients: clients}
}

// ForGroup returns the device serving a client group.
func (p *Pool) ForGroup(group string) (*Client, bool) {
	c, ok := p.clients[strings.ToUpper(strings.TrimSpace(group))]
	return c, ok
}

// Groups returns the configured group names, sorted.
func (p *Pool) Groups() []string {
	out := make([]string, 0, len(p.clients))
	for g := range p.clients {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
