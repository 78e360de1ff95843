// Package client implements the watch-side view of the notify server: a
// small REST client that loads the client collection, and a terminal display
// that renders connectivity, billing standing, and transient notifications.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jjnetworks/notify/internal/config"
	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/log"
)

// API talks to the notify server's REST surface.
type API struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAPI creates an API client from a watch config.
func NewAPI(cfg config.WatchConfig, logger *slog.Logger) *API {
	if logger == nil {
		logger = log.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &API{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type clientRecord struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	MessengerID    string  `json:"messenger_id"`
	GroupName      string  `json:"group_name"`
	ConnectionName string  `json:"connection_name"`
	State          string  `json:"state"`
	Status         string  `json:"status"`
	SpeedLimit     string  `json:"speed_limit"`
	AmtMonthly     float64 `json:"amt_monthly"`
	BillingDate    string  `json:"billing_date"`
}

// FetchClients loads the full client collection. It satisfies
// [cache.FetchFunc].
func (a *API) FetchClients(ctx context.Context) ([]domain.Client, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/clients", nil)
	if err != nil {
		return nil, err
	}
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch clients: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, domain.ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch clients: server returned %s", resp.Status)
	}

	var records []clientRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("fetch clients: %w", err)
	}

	clients := make([]domain.Client, 0, len(records))
	for _, r := range records {
		c := domain.Client{
			ID:             r.ID,
			Name:           r.Name,
			MessengerID:    r.MessengerID,
			GroupName:      r.GroupName,
			ConnectionName: r.ConnectionName,
			State:          domain.ConnectionState(r.State),
			Status:         domain.BillingStatus(r.Status),
			SpeedLimit:     r.SpeedLimit,
			AmtMonthly:     r.AmtMonthly,
		}
		if r.BillingDate != "" {
			due, err := time.Parse("2006-01-02", r.BillingDate)
			if err != nil {
				a.logger.Debug("skipping unparseable billing date", "client", r.ID, "value", r.BillingDate)
			} else {
				c.BillingDate = &due
			}
		}
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}
