package cdpdrive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/corvus-labs/cdpdrive/kb"
)

// Tab is the per-target convenience API: navigate, wait for load, evaluate
// script, dispatch input. Each Tab owns its own Connection, dialed
// directly at the target's own debugger websocket URL -- per this
// package's contract, every target owns its own Connection rather than
// multiplexing over the browser's root socket.
type Tab struct {
	browser *Browser
	conn    *Connection

	mu       sync.RWMutex
	info     *target.Info
	detached bool
	bind     *bindings
}

func newTab(b *Browser, info *target.Info) *Tab {
	wsURL := fmt.Sprintf("ws://%s/devtools/page/%s", targetHostFromRoot(b), info.TargetID)
	t := &Tab{
		browser: b,
		info:    info,
		conn: NewConnection(wsURL,
			WithConnLogf(b.logf), WithConnErrf(b.errf),
			WithInteractive(b.interactive), WithDialOptions(b.dialOpts...)),
	}
	return t
}

// targetHostFromRoot extracts host:port from the browser's root
// connection URL so per-target websocket URLs can be built directly,
// without a round trip through the HTTP /json listing.
func targetHostFromRoot(b *Browser) string {
	urlstr := b.root.urlstr
	const wsPrefix = "ws://"
	if len(urlstr) > len(wsPrefix) && urlstr[:len(wsPrefix)] == wsPrefix {
		rest := urlstr[len(wsPrefix):]
		for i := 0; i < len(rest); i++ {
			if rest[i] == '/' {
				return rest[:i]
			}
		}
		return rest
	}
	return urlstr
}

// Execute implements cdp.Executor, so generated cdproto command params
// can be driven directly against this Tab via cdp.WithExecutor.
func (t *Tab) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	return t.conn.Execute(ctx, method, params, res)
}

// Info returns a snapshot of the target's current TargetInfo.
func (t *Tab) Info() *target.Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := *t.info
	return &cp
}

func (t *Tab) updateInfo(info *target.Info) {
	t.mu.Lock()
	t.info = info
	t.mu.Unlock()
}

func (t *Tab) markDetached() {
	t.mu.Lock()
	t.detached = true
	t.mu.Unlock()
	_ = t.conn.Close()
}

// Detached reports whether the underlying target has been destroyed.
func (t *Tab) Detached() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.detached
}

// Navigate navigates the tab to url and waits for the Page.loadEventFired
// event, or ctx cancellation.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := page.Enable().Do(cdp.WithExecutor(ctx, t.conn)); err != nil {
		return fmt.Errorf("enabling Page domain: %w", err)
	}

	loaded := make(chan struct{}, 1)
	var once sync.Once
	handler := func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			once.Do(func() { loaded <- struct{}{} })
		}
	}
	t.conn.AddHandler(domainEventTypes["Page"][0], handler) // loadEventFired
	defer func() { _ = t.conn.RemoveHandlers(domainEventTypes["Page"][0], handler) }()

	_, _, errText, err := page.Navigate(url).Do(cdp.WithExecutor(ctx, t.conn))
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	if errText != "" {
		return fmt.Errorf("navigation to %s failed: %s", url, errText)
	}

	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdle blocks until the tab's Connection has been quiet (no frames
// received) for the current idle window, or at least min if given.
func (t *Tab) WaitIdle(ctx context.Context, min time.Duration) error {
	return t.conn.Wait(ctx, min)
}

// Evaluate runs expr in the tab's main frame and unmarshals the result
// into out (if non-nil) via the evalresult package's tagged-union
// decoder. Any EvaluateOptions (EvalObjectGroup, EvalWithCommandLineAPI,
// EvalIgnoreExceptions) are applied to the underlying command before it
// is sent.
func (t *Tab) Evaluate(ctx context.Context, expr string, out interface{}, opts ...EvaluateOption) error {
	p := runtime.Evaluate(expr).
		WithReturnByValue(true).
		WithAwaitPromise(true)
	for _, o := range opts {
		p = o(p)
	}
	res, exc, err := p.Do(cdp.WithExecutor(ctx, t.conn))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if exc != nil {
		return fmt.Errorf("evaluate: exception: %s", exc.Text)
	}
	return decodeRemoteObject(res, out)
}

// DispatchKeys compiles events (using package kb) and dispatches the
// resulting payloads via Input.dispatchKeyEvent/Input.dispatchKeyEvent
// with type "char", in order.
func (t *Tab) DispatchKeys(ctx context.Context, events []kb.Event) error {
	payloads, err := kb.CompileSequence(events)
	if err != nil {
		return err
	}
	for _, p := range payloads {
		cmd := input.DispatchKeyEvent(input.KeyType(p.Type)).
			WithModifiers(input.Modifiers(p.Modifiers)).
			WithText(p.Text).
			WithKey(p.Key).
			WithCode(p.Code).
			WithWindowsVirtualKeyCode(p.WindowsVirtualKeyCode).
			WithNativeVirtualKeyCode(p.NativeVirtualKeyCode)
		if err := cmd.Do(cdp.WithExecutor(ctx, t.conn)); err != nil {
			return fmt.Errorf("dispatching key event %s: %w", p.Type, err)
		}
	}
	return nil
}

// SetDownloadBehavior sets the tab's download handling behavior and
// records it on the owning Browser so DownloadExpectation can restore
// whatever was previously in effect.
func (t *Tab) SetDownloadBehavior(ctx context.Context, behavior string, downloadPath string) error {
	err := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehavior(behavior)).
		WithDownloadPath(downloadPath).
		WithEventsEnabled(true).
		Do(cdp.WithExecutor(ctx, t.conn))
	if err != nil {
		return err
	}
	t.browser.recordDownloadBehavior(behavior)
	return nil
}

// Close requests the target be closed.
func (t *Tab) Close(ctx context.Context) error {
	return target.CloseTarget(t.Info().TargetID).Do(cdp.WithExecutor(ctx, t.browser.root))
}
