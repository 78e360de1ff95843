// Package stream implements the dashboard's real-time synchronization core:
// a reconnecting WebSocket session against the notify server's /ws endpoint
// that dispatches server-pushed events into targeted client-cache patches
// and user-facing notifications.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/eventproto"
	"github.com/jjnetworks/notify/internal/log"
	"github.com/jjnetworks/notify/internal/notify"
)

// State names the reconnection controller's lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateBackoff    State = "backoff"
	StateStopped    State = "stopped"
)

const (
	// DefaultBackoffFloor is the reconnect delay after the first failure
	// and the value the delay resets to on every successful open.
	DefaultBackoffFloor = 1 * time.Second
	// DefaultBackoffCeiling caps the doubled reconnect delay.
	DefaultBackoffCeiling = 30 * time.Second
	// DefaultHeartbeatInterval is how often a liveness probe is sent while
	// the connection is open.
	DefaultHeartbeatInterval = 30 * time.Second

	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 15 * time.Second
	frameBufferSize    = 64
)

// Conn is the slice of a websocket connection the manager needs. Satisfied
// by [websocket.Conn]; tests substitute an in-memory fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a new connection to the event endpoint.
type DialFunc func(ctx context.Context) (Conn, error)

// CachePatcher is the capability the dispatcher uses to mutate the client
// collection: targeted single-record patches, or a full invalidation when an
// event does not enumerate which records changed.
type CachePatcher interface {
	Patch(id int64, fn func(*domain.Client)) bool
	Invalidate(ctx context.Context)
}

// Hooks are the manager's outward-facing callbacks. Both are optional and
// are invoked from the dispatch loop, one at a time.
type Hooks struct {
	// OnNotify surfaces a user-facing message describing a mutation.
	OnNotify func(sev notify.Severity, msg string)
	// OnEvent observes every decoded frame before it is dispatched.
	OnEvent func(f eventproto.Frame)
}

// Config holds the manager's connection parameters.
type Config struct {
	URL               string // ws:// event endpoint
	APIKey            string
	HeartbeatInterval time.Duration
	BackoffFloor      time.Duration
	BackoffCeiling    time.Duration
}

// Manager owns the event-stream connection lifecycle: strictly sequential
// reconnect attempts with exponential backoff, a heartbeat tied 1:1 to the
// live connection, and a single-goroutine dispatch loop fed by the read
// pump. At most one live connection exists at any time.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	cache  CachePatcher
	hooks  Hooks
	dial   DialFunc

	mu    sync.Mutex
	state State
	gen   uint64 // connection generation; distinguishes stale sockets
	delay time.Duration

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager. cache must not be nil.
func New(cfg Config, cache CachePatcher, hooks Hooks, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = DefaultBackoffFloor
	}
	if cfg.BackoffCeiling < cfg.BackoffFloor {
		cfg.BackoffCeiling = DefaultBackoffCeiling
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger,
		cache:  cache,
		hooks:  hooks,
		state:  StateIdle,
		delay:  cfg.BackoffFloor,
	}
	m.dial = m.dialWebSocket
	return m
}

// WSURL derives the event endpoint from a server base URL, e.g.
// "http://10.0.0.2:8000" -> "ws://10.0.0.2:8000/ws".
func WSURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// State returns the controller's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Generation returns the current connection generation counter.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Delay returns the most recently scheduled backoff delay.
func (m *Manager) Delay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delay
}

// Start launches the reconnect loop in the background. It is a no-op when
// already running.
func (m *Manager) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
}

// Stop cancels any pending backoff or heartbeat timer, closes the live
// connection, and waits for the loop to exit. After Stop no further
// connection attempt is made.
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.runMu.Unlock()

	if cancel == nil {
		m.setState(StateStopped)
		return
	}
	cancel()
	<-done
}

// Run drives the connection lifecycle until ctx is cancelled. Attempts are
// strictly sequential: a new dial never starts while a previous connection
// is still live, and a stale connection's close never schedules a second
// backoff cycle after cancellation.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateStopped)

	delay := m.cfg.BackoffFloor
	for {
		if ctx.Err() != nil {
			return nil
		}
		gen := m.bumpGeneration()
		m.setState(StateConnecting)

		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("event stream connect failed", "err", err, "conn", gen, "retry_in", delay.String())
			if !m.backoff(ctx, delay) {
				return nil
			}
			delay = nextDelay(delay, m.cfg.BackoffCeiling)
			continue
		}

		// Successful open resets the backoff delay to its floor.
		delay = m.cfg.BackoffFloor
		m.setDelay(delay)
		m.setState(StateOpen)
		m.logger.Info("event stream connected", "conn", gen)

		err = m.session(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		m.logger.Warn("event stream disconnected; reconnecting", "err", err, "conn", gen, "retry_in", delay.String())
		if !m.backoff(ctx, delay) {
			return nil
		}
		delay = nextDelay(delay, m.cfg.BackoffCeiling)
	}
}

// session pumps one live connection: a heartbeat goroutine, a read pump, and
// a single dispatch loop consuming frames in delivery order. It returns when
// the connection fails or ctx is cancelled; the connection is closed before
// return so the caller can immediately schedule the next attempt.
func (m *Manager) session(ctx context.Context, conn Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	var writeMu sync.Mutex
	writeFrame := func(f eventproto.Frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if d, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
			_ = d.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			defer func() { _ = d.SetWriteDeadline(time.Time{}) }()
		}
		err := conn.WriteJSON(f)
		if err != nil {
			_ = conn.Close()
		}
		return err
	}

	keepaliveErr := make(chan error, 1)
	if m.cfg.HeartbeatInterval > 0 {
		go func() {
			ticker := time.NewTicker(m.cfg.HeartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sessionCtx.Done():
					return
				case <-ticker.C:
					if err := writeFrame(eventproto.Ping()); err != nil {
						select {
						case keepaliveErr <- err:
						default:
						}
						return
					}
				}
			}
		}()
	}

	frames := make(chan []byte, frameBufferSize)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case readErr <- err:
				default:
				}
				return
			}
			select {
			case frames <- data:
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-sessionCtx.Done():
			return sessionCtx.Err()
		case err := <-keepaliveErr:
			if sessionCtx.Err() != nil {
				return sessionCtx.Err()
			}
			return err
		case err := <-readErr:
			if sessionCtx.Err() != nil {
				return sessionCtx.Err()
			}
			return err
		case data := <-frames:
			m.dispatch(sessionCtx, data, writeFrame)
		}
	}
}

// backoff waits out delay in the Backoff state. It returns false when ctx
// was cancelled first, in which case no further attempt must be made.
func (m *Manager) backoff(ctx context.Context, delay time.Duration) bool {
	m.setDelay(delay)
	m.setState(StateBackoff)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) dialWebSocket(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	var hdr http.Header
	if m.cfg.APIKey != "" {
		hdr = http.Header{"X-API-Key": {m.cfg.APIKey}}
	}
	conn, _, err := dialer.DialContext(ctx, m.cfg.URL, hdr)
	if err != nil {
		return nil, fmt.Errorf("ws connect: %w", err)
	}
	return conn, nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

func (m *Manager) bumpGeneration() uint64 {
	m.mu.Lock()
	m.gen++
	g := m.gen
	m.mu.Unlock()
	return g
}

// nextDelay doubles the backoff delay up to the ceiling. The sequence is
// deterministic so reconnect timing is predictable: min(floor*2^N, ceiling).
func nextDelay(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		next = ceiling
	}
	return next
}
