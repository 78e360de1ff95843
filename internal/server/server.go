// Package server exposes the notify REST API and the /ws event stream that
// dashboards subscribe to. Mutating endpoints sit behind Basic auth, and the
// read surface can additionally be locked down with API keys.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jjnetworks/notify/internal/access"
	"github.com/jjnetworks/notify/internal/auth"
	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/eventproto"
	"github.com/jjnetworks/notify/internal/log"
)

const shutdownTimeout = 5 * time.Second

// Store is the persistence surface the HTTP handlers need. Satisfied by
// [sqlite.Store].
type Store interface {
	CreateClient(ctx context.Context, c domain.Client) (domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	GetClient(ctx context.Context, id int64) (domain.Client, error)
	UpdateClient(ctx context.Context, c domain.Client) error
	DeleteClient(ctx context.Context, id int64) error

	CreateTemplate(ctx context.Context, t domain.Template) (domain.Template, error)
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	UpdateTemplate(ctx context.Context, t domain.Template) error
	DeleteTemplate(ctx context.Context, id int64) error

	ListMessageLogs(ctx context.Context, limit int) ([]domain.MessageLog, error)

	ListAPIKeys(ctx context.Context) ([]domain.APIKey, error)
	ResolveAPIKeyID(ctx context.Context, keyHash string) (string, error)

	GetMessengerSend(ctx context.Context) (enabled, ok bool, err error)
	SetMessengerSend(ctx context.Context, enabled bool) error
}

// Billing drives payment state changes and the on-demand cycle run.
// Satisfied by [billing.Engine].
type Billing interface {
	RunCycle(ctx context.Context) error
	MarkPaid(ctx context.Context, id int64) (domain.Client, error)
	MarkPaidBulk(ctx context.Context, ids []int64) (int64, error)
	MarkUnpaidBulk(ctx context.Context, ids []int64) (int64, error)
}

// Deliverer sends a Messenger message to one client. Satisfied by
// [messenger.Service].
type Deliverer interface {
	Deliver(ctx context.Context, client domain.Client, title, text string) error
}

// MessengerControl flips outbound delivery at runtime. Satisfied by
// [messenger.Client].
type MessengerControl interface {
	Enabled() bool
	SetEnabled(enabled bool)
}

// Config wires a Server. Billing, Deliverer, and Messenger are optional; the
// matching endpoints answer 503 when absent.
type Config struct {
	Listen       string
	Store        Store
	Billing      Billing
	Deliverer    Deliverer
	Messenger    MessengerControl
	Guard        *access.Guard
	Logger       *slog.Logger
	APIKeyPepper string
}

// Server hosts the REST API and the dashboard event stream.
type Server struct {
	cfg       Config
	store     Store
	billing   Billing
	deliver   Deliverer
	messenger MessengerControl
	guard     *access.Guard
	log       *slog.Logger
	hub       *hub
	started   time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	guard := cfg.Guard
	if guard == nil {
		guard = access.New("", "")
	}
	return &Server{
		cfg:       cfg,
		store:     cfg.Store,
		billing:   cfg.Billing,
		deliver:   cfg.Deliverer,
		messenger: cfg.Messenger,
		guard:     guard,
		log:       logger,
		hub:       newHub(),
		started:   time.Now(),
	}
}

// Broadcast pushes an event frame to every connected dashboard.
func (s *Server) Broadcast(f eventproto.Frame) {
	s.hub.Broadcast(f)
}

// SetBilling wires the billing engine after construction. The engine itself
// broadcasts through the server, so the two cannot be built in one shot.
func (s *Server) SetBilling(b Billing) {
	s.billing = b
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("GET /ws", http.HandlerFunc(s.handleWS))

	mux.Handle("GET /clients", s.withAPIKey(http.HandlerFunc(s.handleListClients)))
	mux.Handle("POST /clients", s.guard.Require(http.HandlerFunc(s.handleCreateClient)))
	mux.Handle("GET /clients/{id}", s.withAPIKey(http.HandlerFunc(s.handleGetClient)))
	mux.Handle("PUT /clients/{id}", s.guard.Require(http.HandlerFunc(s.handleUpdateClient)))
	mux.Handle("DELETE /clients/{id}", s.guard.Require(http.HandlerFunc(s.handleDeleteClient)))

	mux.Handle("POST /clients/{id}/set_paid", s.guard.Require(http.HandlerFunc(s.handleSetPaid)))
	mux.Handle("POST /clients/set_paid_bulk", s.guard.Require(http.HandlerFunc(s.handleSetPaidBulk)))
	mux.Handle("POST /clients/set_unpaid_bulk", s.guard.Require(http.HandlerFunc(s.handleSetUnpaidBulk)))

	mux.Handle("GET /templates", s.withAPIKey(http.HandlerFunc(s.handleListTemplates)))
	mux.Handle("POST /templates", s.guard.Require(http.HandlerFunc(s.handleCreateTemplate)))
	mux.Handle("PUT /templates/{id}", s.guard.Require(http.HandlerFunc(s.handleUpdateTemplate)))
	mux.Handle("DELETE /templates/{id}", s.guard.Require(http.HandlerFunc(s.handleDeleteTemplate)))

	mux.Handle("GET /message_logs", s.withAPIKey(http.HandlerFunc(s.handleListMessageLogs)))
	mux.Handle("POST /messages/send", s.guard.Require(http.HandlerFunc(s.handleSendMessage)))
	mux.Handle("POST /billing/run", s.guard.Require(http.HandlerFunc(s.handleRunBilling)))

	mux.Handle("GET /system_status", s.withAPIKey(http.HandlerFunc(s.handleSystemStatus)))
	mux.Handle("GET /settings/messenger", s.withAPIKey(http.HandlerFunc(s.handleGetMessengerSetting)))
	mux.Handle("POST /settings/messenger", s.guard.Require(http.HandlerFunc(s.handleSetMessengerSetting)))

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// withAPIKey requires a valid API key once any keys exist. With no keys
// provisioned the endpoint stays open, which keeps first-run setup simple.
func (s *Server) withAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorizeAPIKey(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorizeWS(r *http.Request) bool {
	return s.authorizeAPIKey(r)
}

func (s *Server) authorizeAPIKey(r *http.Request) bool {
	keys, err := s.store.ListAPIKeys(r.Context())
	if err != nil {
		s.log.Warn("api key listing failed", "err", err)
		return false
	}
	active := 0
	for _, k := range keys {
		if k.RevokedAt == nil {
			active++
		}
	}
	if active == 0 {
		return true
	}

	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		// Browsers cannot set headers on a WebSocket handshake.
		key = strings.TrimSpace(r.URL.Query().Get("api_key"))
	}
	if key == "" {
		return false
	}
	_, err = s.store.ResolveAPIKeyID(r.Context(), auth.HashAPIKey(key, s.cfg.APIKeyPepper))
	return err == nil
}
