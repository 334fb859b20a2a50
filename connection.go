package cdpdrive

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/mailru/easyjson"
)

// Handler is called for every event matching the cdproto.MethodType it was
// registered under. Handlers run concurrently with the read loop and with
// each other; a handler that needs ordering with respect to other events
// must do its own synchronization.
type Handler func(event interface{})

// Connection is a single websocket connection to one CDP target (the
// browser endpoint itself, or one page/worker/frame target), plus the
// bookkeeping needed to correlate commands with responses, dispatch
// events, and keep the set of enabled CDP domains in sync with the
// handlers currently registered.
//
// A Connection implements cdp.Executor, so generated cdproto command
// params (which expose a .Do(ctx) method) can be driven directly once
// the connection is installed into a context via cdp.WithExecutor.
type Connection struct {
	urlstr string

	logf func(string, ...interface{})
	errf func(string, ...interface{})

	interactive bool

	dialOpts []DialOption

	mu        sync.Mutex
	transport Transport
	listener  *Listener

	counter int64
	pending map[int64]*Transaction
	oneshot *Transaction

	handlers       map[cdproto.MethodType][]Handler
	enabledDomains map[string]bool

	closed   bool
	closedCh chan struct{}
}

// NewConnection builds a Connection for urlstr. The socket is not dialed
// until Open is called.
func NewConnection(urlstr string, opts ...ConnOption) *Connection {
	c := &Connection{
		urlstr:         urlstr,
		logf:           NewLogrusLogf(nil),
		pending:        make(map[int64]*Transaction),
		handlers:       make(map[cdproto.MethodType][]Handler),
		enabledDomains: make(map[string]bool),
		closedCh:       make(chan struct{}),
	}
	c.errf = NewLogrusErrf(nil)
	for _, o := range opts {
		o(c)
	}
	return c
}

// ConnOption configures a Connection at construction time.
type ConnOption func(*Connection)

// WithConnLogf sets the connection's informational logger.
func WithConnLogf(f func(string, ...interface{})) ConnOption {
	return func(c *Connection) { c.logf = f }
}

// WithConnErrf sets the connection's error logger.
func WithConnErrf(f func(string, ...interface{})) ConnOption {
	return func(c *Connection) { c.errf = f }
}

// WithInteractive widens the Listener's idle window, for connections
// driven by an interactive caller (e.g. a REPL) rather than a program.
func WithInteractive(interactive bool) ConnOption {
	return func(c *Connection) { c.interactive = interactive }
}

// WithDialOptions passes DialOptions through to DialContext when Open
// dials the socket.
func WithDialOptions(opts ...DialOption) ConnOption {
	return func(c *Connection) { c.dialOpts = append(c.dialOpts, opts...) }
}

// Open dials the websocket and starts the Listener, unless already open.
// It is safe to call more than once; subsequent calls are no-ops.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.transport != nil || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := DialContext(ctx, c.urlstr, c.dialOpts...)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrConnectionClosed
	}
	c.transport = conn
	c.listener = newListener(c, conn, c.interactive)
	c.mu.Unlock()

	c.listener.start(ctx)
	return nil
}

// Close shuts down the transport and fails any transaction still in
// flight. It is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	transport := c.transport
	close(c.closedCh)
	c.mu.Unlock()

	if transport == nil {
		return nil
	}
	err := transport.Close()
	c.failPending(ErrConnectionClosed)
	return err
}

// Wait blocks until the Listener has observed at least idleWindow with no
// incoming frame, i.e. until the connection goes quiet. If min > 0, Wait
// guarantees it blocks for at least that long even if the connection is
// already idle when called.
func (c *Connection) Wait(ctx context.Context, min time.Duration) error {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l == nil {
		return ErrNoListener
	}

	if min > 0 {
		t := time.NewTimer(min)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return l.idle.Wait(ctx)
}

// next allocates the id for the next outbound command. Per this package's
// id-allocation contract, the counter resets to 0 whenever the pending
// map is empty at the moment a new id is needed, so a quiescent
// connection's next command always starts back at 0.
func (c *Connection) next() int64 {
	if len(c.pending) == 0 {
		c.counter = 0
	}
	id := c.counter
	c.counter++
	return id
}

// send issues a command and blocks until its response arrives, ctx is
// done, or the Connection is closed. isUpdate marks internal/bookkeeping
// sends (currently only domain enable/disable during reconciliation) that
// must not themselves trigger another round of reconciliation.
func (c *Connection) send(ctx context.Context, method cdproto.MethodType, params easyjson.Marshaler, isUpdate bool) (*cdproto.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.mu.Unlock()

	if err := c.Open(ctx); err != nil {
		return nil, err
	}

	if !isUpdate {
		c.reconcileDomains(ctx)
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	id := c.next()
	tx := newTransaction(id, method, raw)
	c.pending[id] = tx
	transport := c.transport
	c.mu.Unlock()

	msg := &cdproto.Message{
		ID:     id,
		Method: method,
		Params: raw,
	}
	if err := transport.Write(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-tx.done:
		if !ok {
			if tx.err != nil {
				return nil, tx.err
			}
			return nil, ErrChannelClosed
		}
		if resp.Error != nil {
			return nil, &ProtocolError{
				Message: resp.Error.Message,
				Code:    resp.Error.Code,
				Method:  string(method),
				Params:  string(raw),
			}
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closedCh:
		return nil, ErrConnectionClosed
	}
}

// sendOneshot sends a command under the reserved id -2, used for
// best-effort internal sends whose result (or failure) the caller
// tolerates. Only one oneshot may be in flight at a time per Connection.
func (c *Connection) sendOneshot(ctx context.Context, method cdproto.MethodType, params easyjson.Marshaler) (*cdproto.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		if err := c.Open(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		transport = c.transport
		c.mu.Unlock()
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	const oneshotID = -2
	tx := newTransaction(oneshotID, method, raw)
	c.mu.Lock()
	c.oneshot = tx
	c.mu.Unlock()

	msg := &cdproto.Message{ID: oneshotID, Method: method, Params: raw}
	if err := transport.Write(msg); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-tx.done:
		if !ok {
			if tx.err != nil {
				return nil, tx.err
			}
			return nil, ErrChannelClosed
		}
		if resp.Error != nil {
			return nil, &ProtocolError{Message: resp.Error.Message, Code: resp.Error.Code, Method: string(method)}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func marshalParams(params easyjson.Marshaler) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	return easyjson.Marshal(params)
}

// Execute implements cdp.Executor, letting generated cdproto command
// params be driven directly via their own .Do(ctx) method once this
// Connection is installed into a context.
func (c *Connection) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	msg, err := c.send(ctx, cdproto.MethodType(method), params, false)
	if err != nil {
		return err
	}
	if res != nil && len(msg.Result) > 0 {
		return easyjson.Unmarshal(msg.Result, res)
	}
	return nil
}

// completePending resolves the Transaction matching msg.ID (or the
// reserved oneshot slot for id -2), logging and discarding unmatched
// responses rather than failing the whole connection.
func (c *Connection) completePending(msg *cdproto.Message) {
	c.mu.Lock()
	if msg.ID == -2 {
		tx := c.oneshot
		c.oneshot = nil
		c.mu.Unlock()
		if tx != nil {
			tx.complete(msg)
		} else {
			c.errf("oneshot response received with nothing pending")
		}
		return
	}
	tx, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.errf("id %d not present in response map", msg.ID)
		return
	}
	tx.complete(msg)
}

// failPending resolves every Transaction still in flight with err, e.g.
// when the Listener's read loop stops because the socket died.
func (c *Connection) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*Transaction)
	oneshot := c.oneshot
	c.oneshot = nil
	c.mu.Unlock()

	for _, tx := range pending {
		tx.fail(err)
	}
	if oneshot != nil {
		oneshot.fail(err)
	}
}

// AddHandler registers handler for eventType. Handlers for the same event
// type run in registration order but concurrently with each other.
func (c *Connection) AddHandler(eventType cdproto.MethodType, handler Handler) {
	c.mu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
	c.mu.Unlock()
}

// AddDomainHandler registers handler for every event type this package
// knows belongs to domain (see domains.go). Unlike AddHandler, later
// additions to the domain's known event set (if any) are not retroactively
// subscribed -- call AddDomainHandler again if that matters.
func (c *Connection) AddDomainHandler(domain string, handler Handler) {
	for _, et := range domainEventTypes[domain] {
		c.AddHandler(et, handler)
	}
}

// RemoveHandlers removes registrations matching eventType and handler.
// An empty eventType clears every handler for every event type; a nil
// handler with a non-empty eventType clears every handler for that event
// type. A non-nil handler with an empty eventType is a usage error: there
// is no stable way to find a handler without knowing what it was
// registered under.
func (c *Connection) RemoveHandlers(eventType cdproto.MethodType, handler Handler) error {
	if handler != nil && eventType == "" {
		return UsageError("RemoveHandlers: handler given without an event type")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if eventType == "" {
		c.handlers = make(map[cdproto.MethodType][]Handler)
		return nil
	}
	if handler == nil {
		delete(c.handlers, eventType)
		return nil
	}
	hs := c.handlers[eventType]
	out := hs[:0:0]
	removed := false
	for _, h := range hs {
		if !removed && sameHandler(h, handler) {
			removed = true
			continue
		}
		out = append(out, h)
	}
	c.handlers[eventType] = out
	return nil
}

func (c *Connection) handlersFor(eventType cdproto.MethodType) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.handlers[eventType]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}
