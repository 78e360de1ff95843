// Package messenger delivers client notifications through the Facebook
// Messenger Send API, with delivery logging and per-group rate limiting so a
// mass outage cannot flood a group's subscribers.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/log"
)

const defaultEndpoint = "https://graph.facebook.com/v19.0/me/messages"
const sendTimeout = 10 * time.Second

// Sender pushes one message to a Messenger recipient.
type Sender interface {
	Send(ctx context.Context, messengerID, text string) error
}

// Client is a Facebook Graph Send API client. The zero access token is
// treated as a permanent delivery failure rather than a skip, matching how a
// misconfigured deployment should surface.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	accessToken string
	enabled     atomic.Bool
	logger      *slog.Logger
}

// Option tweaks Client construction.
type Option func(*Client)

// WithEndpoint overrides the Graph API endpoint, used by tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Messenger client. When enabled is false every Send
// returns [domain.ErrMessengerDisabled] so callers can log skipped
// deliveries without contacting the API.
func NewClient(accessToken string, enabled bool, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: sendTimeout},
		endpoint:    defaultEndpoint,
		accessToken: accessToken,
		logger:      logger,
	}
	c.enabled.Store(enabled)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether deliveries will be attempted.
func (c *Client) Enabled() bool { return c.enabled.Load() }

// SetEnabled flips outbound delivery at runtime. Queued and in-flight jobs
// observe the new value on their next Send.
func (c *Client) SetEnabled(enabled bool) { c.enabled.Store(enabled) }

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	Tag string `json:"tag"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send pushes a text message to the recipient. A response without a
// message_id counts as a failure even on HTTP 200, matching the Graph API's
// error reporting.
func (c *Client) Send(ctx context.Context, messengerID, text string) error {
	if !c.enabled.Load() {
		return domain.ErrMessengerDisabled
	}
	if c.accessToken == "" {
		return fmt.Errorf("messenger: missing page access token")
	}

	var payload sendRequest
	payload.Recipient.ID = messengerID
	payload.Message.Text = text
	payload.Tag = "CONFIRMED_EVENT_UPDATE"

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messenger: encode payload: %w", err)
	}

	endpoint := c.endpoint + "?access_token=" + url.QueryEscape(c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messenger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messenger: send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("messenger: decode response: %w", err)
	}
	if out.MessageID == "" {
		if out.Error != nil {
			return fmt.Errorf("messenger: graph api error %d: %s", out.Error.Code, out.Error.Message)
		}
		return fmt.Errorf("messenger: no message_id in response (http %d)", resp.StatusCode)
	}
	return nil
}
