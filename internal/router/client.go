// Package router controls MikroTik devices over the RouterOS v7 REST API:
// netwatch polling, per-queue speed limits, and firewall address-list
// toggles for billing enforcement.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jjnetworks/notify/internal/log"
)

const requestTimeout = 10 * time.Second

// NetwatchEntry is one /tool/netwatch rule. Comment carries the connection
// name that links the rule to a client record.
type NetwatchEntry struct {
	Host    string
	Comment string
	Status  string // UP or DOWN, normalized to upper case
}

// Client talks to one RouterOS device.
type Client struct {
	httpClient *http.Client
	baseURL    string
	user       string
	password   string
	logger     *slog.Logger
}

// New creates a Client for the device at host. host may be a bare address or
// an http(s) URL; the REST prefix is appended automatically.
func New(host, user, password string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	base := strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    base + "/rest",
		user:       user,
		password:   password,
		logger:     logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("router: encode body: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("router: build request: %w", err)
	}
	req.SetBasicAuth(c.user, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("router: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("router: %s %s: http %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("router: decode %s response: %w", path, err)
	}
	return nil
}

// Netwatch fetches all netwatch rules from the device.
func (c *Client) Netwatch(ctx context.Context) ([]NetwatchEntry, error) {
	var raw []struct {
		Host    string `json:"host"`
		Comment string `json:"comment"`
		Status  string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/tool/netwatch", nil, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]NetwatchEntry, 0, len(raw))
	for _, r := range raw {
		out = append(out, NetwatchEntry{
			Host:    r.Host,
			Comment: r.Comment,
			Status:  strings.ToUpper(r.Status),
		})
	}
	return out, nil
}

type restObject struct {
	ID string `json:".id"`
}

// SetSpeedLimit applies a max-limit to the simple queue with the given name.
// An empty or "unlimited" limit removes the cap; a bare rate like "5M" is
// expanded to "5M/5M".
func (c *Client) SetSpeedLimit(ctx context.Context, queueName, speedLimit string) error {
	var queues []restObject
	q := url.Values{"name": {queueName}}
	if err := c.do(ctx, http.MethodGet, "/queue/simple", q, nil, &queues); err != nil {
		return err
	}
	if len(queues) == 0 {
		return fmt.Errorf("router: no queue named %q", queueName)
	}

	maxLimit := normalizeSpeedLimit(speedLimit)
	body := map[string]string{"max-limit": maxLimit}
	if err := c.do(ctx, http.MethodPatch, "/queue/simple/"+queues[0].ID, nil, body, nil); err != nil {
		return err
	}
	c.logger.Info("queue limit applied", "queue", queueName, "max_limit", maxLimit)
	return nil
}

// BlockClient enables the firewall address-list entries whose comment matches
// the client's connection name, cutting their access.
func (c *Client) BlockClient(ctx context.Context, comment string) error {
	return c.setAddressListDisabled(ctx, comment, false)
}

// UnblockClient disables the matching address-list entries, restoring access.
func (c *Client) UnblockClient(ctx context.Context, comment string) error {
	return c.setAddressListDisabled(ctx, comment, true)
}

func (c *Client) setAddressListDisabled(ctx context.Context, comment string, disabled bool) error {
	var entries []restObject
	q := url.Values{"comment": {comment}}
	if err := c.do(ctx, http.MethodGet, "/ip/firewall/address-list", q, nil, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("router: no address-list entry with comment %q", comment)
	}

	value := "no"
	if disabled {
		value = "yes"
	}
	for _, e := range entries {
		body := map[string]string{"disabled": value}
		if err := c.do(ctx, http.MethodPatch, "/ip/firewall/address-list/"+e.ID, nil, body, nil); err != nil {
			return err
		}
	}
	c.logger.Info("address-list updated", "comment", comment, "disabled", value, "entries", len(entries))
	return nil
}

func normalizeSpeedLimit(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "unlimited", "normal", "default":
		return "0/0"
	}
	if !strings.Contains(v, "/") {
		return v + "/" + v
	}
	return v
}
