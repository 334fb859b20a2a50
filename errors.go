package cdpdrive

import "fmt"

// Error is a cdpdrive sentinel error, following the same fixed-string
// pattern the wider chromedp ecosystem uses for its error values.
type Error string

// Error satisfies the error interface.
func (err Error) Error() string {
	return string(err)
}

// Error values.
const (
	// ErrConnectionClosed is returned by Connection.Execute when called
	// after Connection.Close. The original Python implementation this
	// package is modeled on returns a bare nil in that situation; this
	// package takes the stricter contract instead (see DESIGN.md).
	ErrConnectionClosed Error = "connection closed"

	// ErrChannelClosed is the channel closed error: a pending
	// transaction's result channel closed without a value and without a
	// recorded cause. When the Listener shuts down or the Connection is
	// closed with commands in flight, the waiter gets the recorded cause
	// (the Listener's stop error, or ErrConnectionClosed) instead.
	ErrChannelClosed Error = "channel closed"

	// ErrInvalidWebsocketMessage is the invalid websocket message error.
	ErrInvalidWebsocketMessage Error = "invalid websocket message"

	// ErrNoListener is returned by Connection.Wait when called before
	// the socket has ever been opened.
	ErrNoListener Error = "no listener created yet"

	// ErrNotStarted is returned by Browser operations that require the
	// browser to have completed Start.
	ErrNotStarted Error = "browser not yet started"

	// ErrNoPageTarget is returned by Browser.Get when a target it created
	// does not appear in the Browser's target registry within 10s.
	ErrNoPageTarget Error = "no page target available"
)

// ProtocolError is a CDP {"error": ...} response to a command. It carries
// the offending method/params alongside CDP's own message/code so a
// caller can diagnose which command failed.
type ProtocolError struct {
	Message string
	Code    int64
	Method  string
	Params  string
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d): method %s, params %s", e.Message, e.Code, e.Method, e.Params)
	}
	return fmt.Sprintf("%s: method %s, params %s", e.Message, e.Method, e.Params)
}

// TransportError wraps a lower-level socket error (dial, read, write,
// unexpected close) so callers can distinguish connectivity failures
// from protocol failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BrowserStartupError describes a launched browser process that never
// produced a usable debugger endpoint within the retry budget. Nothing in
// this module constructs it: probe.Wait reports that failure as a plain
// wrapped error.
type BrowserStartupError struct {
	Attempts int
	Stderr   string
	Err      error
}

func (e *BrowserStartupError) Error() string {
	return fmt.Sprintf("browser did not become ready after %d attempts: %v\nstderr: %s", e.Attempts, e.Err, e.Stderr)
}

func (e *BrowserStartupError) Unwrap() error {
	return e.Err
}

// UsageError signals an invalid call by the caller, as opposed to a
// protocol-level or transport-level failure.
type UsageError string

func (e UsageError) Error() string {
	return string(e)
}

// KeyCompileError is the error kind for a key/modifier/event-shape
// combination that can't be compiled. Package kb does not return it: its
// Compile and CompileSequence report such failures as plain errors.
type KeyCompileError string

func (e KeyCompileError) Error() string {
	return string(e)
}

// BindingError is the error kind for failures in the page binding bridge:
// an unknown binding name, a malformed bindingCalled payload, or a host
// function that returned an error. The binding bridge does not construct
// it: dispatchBindingCall delivers a failing host function's error message
// to the in-page promise as a rejection directly, and drops unknown names
// and malformed payloads.
type BindingError string

func (e BindingError) Error() string {
	return string(e)
}
