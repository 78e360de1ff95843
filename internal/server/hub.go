package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jjnetworks/notify/internal/eventproto"
)

const (
	// pendingBufferLimit caps how many broadcasts are held for delivery
	// while no dashboard is connected yet. Older events are dropped first.
	pendingBufferLimit = 100

	wsWriteTimeout = 10 * time.Second
	subControlCap  = 8
	subEventCap    = 256
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	pump *eventproto.WSWritePump
}

// hub fans event frames out to every connected dashboard. Broadcasts made
// before the first subscriber arrives are buffered and replayed to it.
type hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	pending []eventproto.Frame
	served  bool // a subscriber has connected at least once
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

// Broadcast queues a frame for every subscriber. A subscriber whose pump
// reports backpressure or a dead connection is pruned.
func (h *hub) Broadcast(f eventproto.Frame) {
	h.mu.Lock()
	if len(h.subs) == 0 && !h.served {
		h.pending = append(h.pending, f)
		if len(h.pending) > pendingBufferLimit {
			h.pending = h.pending[len(h.pending)-pendingBufferLimit:]
		}
		h.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.pump.WriteEvent(f); err != nil {
			h.remove(sub)
		}
	}
}

// add registers a subscriber and replays any buffered frames to it.
func (h *hub) add(sub *subscriber) []eventproto.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
	h.served = true
	replay := h.pending
	h.pending = nil
	return replay
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		sub.pump.Close()
		_ = sub.conn.Close()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleWS upgrades a dashboard connection and pumps events to it until it
// drops. Inbound traffic is limited to liveness probes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWS(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "err", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		pump: eventproto.NewWSWritePump(conn, wsWriteTimeout, subControlCap, subEventCap),
	}
	replay := s.hub.add(sub)
	s.log.Info("dashboard connected", "remote", conn.RemoteAddr().String(), "replayed", len(replay))
	for _, f := range replay {
		if err := sub.pump.WriteEvent(f); err != nil {
			s.hub.remove(sub)
			return
		}
	}

	defer func() {
		s.hub.remove(sub)
		s.log.Info("dashboard disconnected", "remote", conn.RemoteAddr().String())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := eventproto.Decode(data)
		if err != nil {
			s.log.Debug("dropping malformed dashboard frame", "err", err)
			continue
		}
		switch frame.Kind() {
		case eventproto.KindPing:
			if err := sub.pump.WriteControl(eventproto.Pong()); err != nil {
				return
			}
		case eventproto.KindPong:
			// reply to our own probe, nothing to do
		default:
			s.log.Debug("ignoring dashboard frame", "kind", frame.Kind())
		}
	}
}
