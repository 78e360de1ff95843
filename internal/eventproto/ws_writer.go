package eventproto

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrWSWritePumpClosed = errors.New("websocket write pump closed")
var ErrWSWritePumpBackpressure = errors.New("websocket write pump backpressure")

const (
	defaultWSWriteControlEnqueueTimeout = 2 * time.Second
	defaultWSWriteEventEnqueueTimeout   = 500 * time.Millisecond
)

type wsWriteRequest struct {
	frame Frame
	done  chan error
}

// WSWritePump serializes websocket writes for one dashboard connection,
// prioritizing control traffic (pong replies) ahead of event broadcasts. A
// dashboard that stops draining its socket is closed rather than allowed to
// stall the hub's broadcast fan-out.
type WSWritePump struct {
	writeFn        func(Frame) error
	closeFn        func()
	control        chan wsWriteRequest
	events         chan wsWriteRequest
	stop           chan struct{}
	done           chan struct{}
	closed         atomic.Bool
	stopOnce       sync.Once
	controlTimeout time.Duration
	eventTimeout   time.Duration
}

// NewWSWritePump starts a pump writing JSON frames to conn with the given
// per-write deadline.
func NewWSWritePump(conn *websocket.Conn, writeTimeout time.Duration, controlCap, eventCap int) *WSWritePump {
	return newWSWritePumpWithWriter(func(f Frame) error {
		if conn == nil {
			return ErrWSWritePumpClosed
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			_ = conn.Close()
			return err
		}
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
		err := conn.WriteJSON(f)
		if err != nil {
			_ = conn.Close()
		}
		return err
	}, func() {
		if conn != nil {
			_ = conn.Close()
		}
	}, controlCap, eventCap, defaultWSWriteControlEnqueueTimeout, defaultWSWriteEventEnqueueTimeout)
}

func newWSWritePumpWithWriter(
	writeFn func(Frame) error,
	closeFn func(),
	controlCap, eventCap int,
	controlTimeout, eventTimeout time.Duration,
) *WSWritePump {
	if controlCap <= 0 {
		controlCap = 1
	}
	if eventCap <= 0 {
		eventCap = 1
	}
	if controlTimeout <= 0 {
		controlTimeout = defaultWSWriteControlEnqueueTimeout
	}
	if eventTimeout <= 0 {
		eventTimeout = defaultWSWriteEventEnqueueTimeout
	}
	p := &WSWritePump{
		writeFn:        writeFn,
		closeFn:        closeFn,
		control:        make(chan wsWriteRequest, controlCap),
		events:         make(chan wsWriteRequest, eventCap),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		controlTimeout: controlTimeout,
		eventTimeout:   eventTimeout,
	}
	go p.run()
	return p
}

// WriteControl enqueues a control frame (ping/pong) ahead of event traffic.
func (p *WSWritePump) WriteControl(f Frame) error {
	return p.enqueue(wsWriteRequest{frame: f, done: make(chan error, 1)}, true)
}

// WriteEvent enqueues a broadcast event frame.
func (p *WSWritePump) WriteEvent(f Frame) error {
	return p.enqueue(wsWriteRequest{frame: f, done: make(chan error, 1)}, false)
}

// Close stops the pump and waits for the writer goroutine to exit.
func (p *WSWritePump) Close() {
	p.closed.Store(true)
	p.signalStop()
	<-p.done
}

func (p *WSWritePump) enqueue(req wsWriteRequest, control bool) error {
	if p.closed.Load() {
		return ErrWSWritePumpClosed
	}

	target := p.events
	wait := p.eventTimeout
	if control {
		target = p.control
		wait = p.controlTimeout
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-p.stop:
		return ErrWSWritePumpClosed
	case target <- req:
	case <-timer.C:
		p.triggerBackpressure()
		return ErrWSWritePumpBackpressure
	}

	return <-req.done
}

func (p *WSWritePump) run() {
	defer close(p.done)

	for {
		req, ok := p.next()
		if !ok {
			p.failPending(ErrWSWritePumpClosed)
			return
		}
		err := p.write(req)
		req.done <- err
		if err != nil {
			p.closed.Store(true)
			p.signalStop()
			p.failPending(err)
			return
		}
		if p.closed.Load() {
			p.signalStop()
			p.failPending(ErrWSWritePumpClosed)
			return
		}
	}
}

func (p *WSWritePump) next() (wsWriteRequest, bool) {
	select {
	case req := <-p.control:
		return req, true
	default:
	}

	select {
	case <-p.stop:
		return wsWriteRequest{}, false
	case req := <-p.control:
		return req, true
	case req := <-p.events:
		return req, true
	}
}

func (p *WSWritePump) write(req wsWriteRequest) error {
	if p.writeFn == nil {
		return io.ErrClosedPipe
	}
	return p.writeFn(req.frame)
}

func (p *WSWritePump) failPending(err error) {
	for {
		select {
		case req := <-p.control:
			req.done <- err
		case req := <-p.events:
			req.done <- err
		default:
			return
		}
	}
}

func (p *WSWritePump) signalStop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

func (p *WSWritePump) triggerBackpressure() {
	if p.closed.Swap(true) {
		return
	}
	if p.closeFn != nil {
		p.closeFn()
	}
	p.signalStop()
}
