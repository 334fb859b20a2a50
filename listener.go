package cdpdrive

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
)

// idleNonInteractive and idleInteractive are the two idle windows a
// Listener can be configured with: a Listener is considered idle once no
// frame has been read for this long. Interactive mode (a human driving a
// REPL) gets a larger window so a slow typist doesn't see spurious idle
// events mid-thought; non-interactive (production) mode is tightened so
// polling code doesn't wait longer than it has to.
const (
	idleNonInteractive = 100 * time.Millisecond
	idleInteractive     = 750 * time.Millisecond
)

// idleEvent is a level-triggered flag with edge-style Set/Clear, roughly
// the Go equivalent of asyncio.Event used for idle tracking in the
// original implementation.
type idleEvent struct {
	mu sync.Mutex
	ch chan struct{}
}

func newIdleEvent() *idleEvent {
	return &idleEvent{ch: make(chan struct{})}
}

// Set marks the event as signaled, waking any current and future waiters
// until the next Clear.
func (e *idleEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
	default:
		close(e.ch)
	}
}

// Clear un-signals the event.
func (e *idleEvent) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
	}
}

// Wait blocks until Set is called or ctx is done.
func (e *idleEvent) Wait(ctx context.Context) error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deadlineSetter is implemented by transports (such as *Conn, via its
// embedded *websocket.Conn) that support per-read deadlines. The Listener
// uses this to implement its idle-timeout polling loop without needing a
// dedicated cancellable-read API on Transport.
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// Listener is the single background reader for one Connection. It reads
// frames off the transport and either completes a pending Transaction (by
// id) or parses and dispatches an event to registered handlers.
type Listener struct {
	conn      *Connection
	transport Transport

	idleWindow time.Duration
	idle       *idleEvent

	history   []*EventTransaction
	maxHist   int
	histMu    sync.Mutex

	done chan struct{}
	// stopErr records why the loop stopped (nil on clean cancellation).
	stopErr error
	stopMu  sync.Mutex
}

func newListener(conn *Connection, transport Transport, interactive bool) *Listener {
	window := idleNonInteractive
	if interactive {
		window = idleInteractive
	}
	return &Listener{
		conn:       conn,
		transport:  transport,
		idleWindow: window,
		idle:       newIdleEvent(),
		maxHist:    1000,
		done:       make(chan struct{}),
	}
}

// running reports whether the Listener's read loop is still active.
func (l *Listener) running() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// err returns the error that stopped the loop, if any.
func (l *Listener) err() error {
	l.stopMu.Lock()
	defer l.stopMu.Unlock()
	return l.stopErr
}

func (l *Listener) setErr(err error) {
	l.stopMu.Lock()
	l.stopErr = err
	l.stopMu.Unlock()
}

// start launches the read loop. It returns once the loop goroutine has
// been scheduled; the loop itself runs until ctx is cancelled or the
// transport fails.
func (l *Listener) start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	ds, hasDeadline := l.transport.(deadlineSetter)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if hasDeadline {
			_ = ds.SetReadDeadline(time.Now().Add(l.idleWindow))
		}

		msg, err := l.transport.Read()
		if err != nil {
			if isTimeout(err) {
				l.idle.Set()
				continue
			}
			// Socket closed or a genuine transport failure: stop the
			// loop and fail every pending transaction so no caller of
			// Send is left hanging forever.
			l.setErr(err)
			l.conn.failPending(err)
			return
		}

		l.idle.Clear()

		if msg.Method != "" {
			l.dispatchEvent(ctx, msg)
			continue
		}
		l.dispatchResponse(msg)
	}
}

func isTimeout(err error) bool {
	var te *TransportError
	if as, ok := err.(*TransportError); ok {
		te = as
	}
	var cause error = err
	if te != nil {
		cause = te.Err
	}
	if ne, ok := cause.(net.Error); ok {
		return ne.Timeout()
	}
	return false
}

// dispatchResponse completes the pending Transaction matching msg.ID, or
// the reserved oneshot Transaction if msg.ID == -2.
func (l *Listener) dispatchResponse(msg *cdproto.Message) {
	l.conn.completePending(msg)
}

// dispatchEvent parses an event frame and runs every handler registered
// for its method type. Async-style handlers (ordinary funcs here, since
// Go has no separate coroutine/plain-function distinction at the type
// level) are scheduled as goroutines so a slow handler never blocks the
// read loop; dispatch order matches read order, but handler completion
// order is not guaranteed.
func (l *Listener) dispatchEvent(ctx context.Context, msg *cdproto.Message) {
	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		l.conn.errf("could not unmarshal event %s: %v", msg.Method, err)
		return
	}

	tx := newEventTransaction(msg.Method, ev)
	l.recordHistory(tx)

	handlers := l.conn.handlersFor(msg.Method)
	for _, h := range handlers {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					l.conn.errf("handler for %s panicked: %v", msg.Method, r)
				}
			}()
			h(ev)
		}()
	}
}

func (l *Listener) recordHistory(tx *EventTransaction) {
	l.histMu.Lock()
	defer l.histMu.Unlock()
	l.history = append(l.history, tx)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
}
