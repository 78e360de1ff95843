package client

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/notify"
)

// ANSI escape codes for terminal styling.
const (
	ansiReset     = "\033[0m"
	ansiBold      = "\033[1m"
	ansiDim       = "\033[2m"
	ansiRed       = "\033[31m"
	ansiGreen     = "\033[32m"
	ansiYellow    = "\033[33m"
	ansiCyan      = "\033[36m"
	ansiClearDown = "\033[J" // clear from cursor to end of screen
	ansiHome      = "\033[H" // move cursor to top-left
)

// displayFieldWidth is the column width for header field labels.
const displayFieldWidth = 18

// Display renders a full-screen terminal view of the client collection. It
// redraws the whole screen on every state change so the header, table, and
// current notification stay visible. Safe for concurrent use.
type Display struct {
	out   io.Writer
	mu    sync.Mutex
	color bool

	version   string
	serverURL string
	status    string // connection status: "open", "backoff", …

	clients []domain.Client
	note    *notify.Notification

	now func() time.Time
}

// NewDisplay creates a Display writing to stdout, with color enabled only
// when stdout is a terminal.
func NewDisplay(version, serverURL string) *Display {
	return &Display{
		out:       os.Stdout,
		color:     isTerminal(os.Stdout),
		version:   version,
		serverURL: serverURL,
		now:       time.Now,
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// SetStatus updates the connection status line and redraws.
func (d *Display) SetStatus(status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
	d.redraw()
}

// SetClients replaces the rendered collection and redraws.
func (d *Display) SetClients(clients []domain.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients = append([]domain.Client(nil), clients...)
	sort.Slice(d.clients, func(i, j int) bool { return d.clients[i].ID < d.clients[j].ID })
	d.redraw()
}

// SetNotification shows or clears the transient notification line.
func (d *Display) SetNotification(note *notify.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.note = note
	d.redraw()
}

// Update refreshes the whole view in one repaint. The watch loop calls this
// on a timer instead of chaining the individual setters.
func (d *Display) Update(status string, clients []domain.Client, note *notify.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
	d.clients = append(d.clients[:0], clients...)
	sort.Slice(d.clients, func(i, j int) bool { return d.clients[i].ID < d.clients[j].ID })
	d.note = note
	d.redraw()
}

// redraw repaints the entire screen. Caller must hold d.mu.
func (d *Display) redraw() {
	var b strings.Builder

	if d.color {
		b.WriteString(ansiHome)
		b.WriteString(ansiClearDown)
	}

	b.WriteString("\n")
	name := d.styled(ansiBold+ansiCyan, "notify")
	if d.version != "" {
		name += " " + d.styled(ansiDim, d.version)
	}
	hint := d.styled(ansiDim, "(Ctrl+C to quit)")
	fmt.Fprintf(&b, "%s    %s\n\n", name, hint)

	d.writeField(&b, "Server", d.serverURL)
	statusColor := ansiGreen
	if d.status != "open" {
		statusColor = ansiYellow
	}
	d.writeField(&b, "Session Status", d.styled(statusColor, d.status))
	d.writeField(&b, "Clients", fmt.Sprintf("%d", len(d.clients)))

	if d.note != nil {
		color := ansiCyan
		switch d.note.Severity {
		case notify.SeveritySuccess:
			color = ansiGreen
		case notify.SeverityError:
			color = ansiRed
		}
		d.writeField(&b, "Notice", d.styled(color, d.note.Message))
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "%-4s %-20s %-22s %-8s %-8s %s\n", "ID", "NAME", "CONNECTION", "STATE", "STATUS", "DUE")
	for _, c := range d.clients {
		due := ""
		if c.BillingDate != nil {
			due = c.BillingDate.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%-4d %-20s %-22s %-8s %-8s %s\n",
			c.ID,
			truncate(c.Name, 20),
			truncate(c.ConnectionName, 22),
			d.stateStyled(c.State),
			d.statusStyled(c.Status),
			due,
		)
	}

	_, _ = io.WriteString(d.out, b.String())
}

func (d *Display) stateStyled(state domain.ConnectionState) string {
	switch state {
	case domain.StateUp:
		return d.styled(ansiGreen, string(state))
	case domain.StateDown:
		return d.styled(ansiRed, string(state))
	default:
		return d.styled(ansiDim, string(state))
	}
}

func (d *Display) statusStyled(status domain.BillingStatus) string {
	switch status {
	case domain.BillingPaid:
		return d.styled(ansiGreen, string(status))
	case domain.BillingUnpaid, domain.BillingLimited:
		return d.styled(ansiYellow, string(status))
	case domain.BillingCutoff:
		return d.styled(ansiRed, string(status))
	default:
		return d.styled(ansiDim, string(status))
	}
}

func (d *Display) writeField(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%-*s %s\n", displayFieldWidth, label, value)
}

func (d *Display) styled(code, s string) string {
	if !d.color {
		return s
	}
	return code + s + ansiReset
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
