// Package cdpdrive is a Chrome DevTools Protocol transport and session
// layer: connection/transaction bookkeeping, a target registry, a tab
// facade, a key-event compiler, event expectations, and a page binding
// bridge, built on top of the generated CDP bindings in
// github.com/chromedp/cdproto.
package cdpdrive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"

	"github.com/corvus-labs/cdpdrive/cookiejar"
)

// Browser is the process-wide owner of a launched or attached Chrome
// process: the root Connection to the browser endpoint, the set of
// per-target Connections/Tabs, configuration, and the cookie facade.
type Browser struct {
	// Process, if set, is the already-started browser process this
	// Browser is attached to. Browser does not know how to launch one
	// itself; spawning and profile management are external concerns
	// (see the proc package for the lifecycle half of that contract).
	Process ProcessHandle

	root *Connection

	logf func(string, ...interface{})
	errf func(string, ...interface{})

	interactive bool
	dialOpts    []DialOption

	mu      sync.Mutex
	tabs    map[target.ID]*Tab
	started bool

	downloadBehaviorMu sync.Mutex
	downloadBehavior   string

	Cookies *cookiejar.Jar
}

// ProcessHandle is the minimal surface Browser needs from a launched
// browser process; the proc package's *proc.Handle satisfies it.
type ProcessHandle interface {
	Signal(sig int) error
	Wait(ctx context.Context) error
	Pid() int
}

// BrowserOption configures a Browser at construction time.
type BrowserOption func(*Browser) error

// WithLogf sets the Browser's informational logger.
func WithLogf(f func(string, ...interface{})) BrowserOption {
	return func(b *Browser) error { b.logf = f; return nil }
}

// WithErrorf sets the Browser's error logger.
func WithErrorf(f func(string, ...interface{})) BrowserOption {
	return func(b *Browser) error { b.errf = f; return nil }
}

// WithBrowserInteractive marks every Connection this Browser opens as
// interactive, widening the Listener idle window from 100ms to 750ms.
func WithBrowserInteractive(interactive bool) BrowserOption {
	return func(b *Browser) error { b.interactive = interactive; return nil }
}

// WithBrowserDialOptions passes DialOptions through to every websocket
// this Browser dials, for the root connection and every Tab's.
func WithBrowserDialOptions(opts ...DialOption) BrowserOption {
	return func(b *Browser) error { b.dialOpts = append(b.dialOpts, opts...); return nil }
}

// WithProcess attaches an already-running browser process handle, used
// by Stop to escalate from graceful to forceful shutdown.
func WithProcess(p ProcessHandle) BrowserOption {
	return func(b *Browser) error { b.Process = p; return nil }
}

// NewBrowser constructs a Browser that will talk to the debugger endpoint
// at urlstr once Start is called.
func NewBrowser(urlstr string, opts ...BrowserOption) (*Browser, error) {
	b := &Browser{
		logf: NewLogrusLogf(nil),
		tabs: make(map[target.ID]*Tab),
	}
	b.errf = NewLogrusErrf(nil)
	for _, o := range opts {
		if err := o(b); err != nil {
			return nil, err
		}
	}
	b.root = NewConnection(ForceIP(urlstr),
		WithConnLogf(b.logf), WithConnErrf(b.errf),
		WithInteractive(b.interactive), WithDialOptions(b.dialOpts...))
	b.Cookies = cookiejar.New(b.root)
	return b, nil
}

// Start opens the root Connection, enables the always-on domains, enables
// target discovery, and fetches the set of existing targets.
func (b *Browser) Start(ctx context.Context) error {
	if err := b.root.Open(ctx); err != nil {
		return err
	}
	b.root.enableAlwaysOnDomains(ctx)

	b.root.AddHandler(domainEventTypes["Target"][0], b.onTargetCreated)  // targetCreated
	b.root.AddHandler(domainEventTypes["Target"][1], b.onTargetInfoChanged) // targetInfoChanged
	b.root.AddHandler(domainEventTypes["Target"][2], b.onTargetDestroyed) // targetDestroyed

	if err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, b.root)); err != nil {
		return fmt.Errorf("enabling target discovery: %w", err)
	}

	infos, err := target.GetTargets().Do(cdp.WithExecutor(ctx, b.root))
	if err != nil {
		return fmt.Errorf("fetching initial targets: %w", err)
	}
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	for _, info := range infos {
		b.registerTarget(info)
	}
	return nil
}

func (b *Browser) onTargetCreated(ev interface{}) {
	e, ok := ev.(*target.EventTargetCreated)
	if !ok {
		return
	}
	b.registerTarget(e.TargetInfo)
}

func (b *Browser) onTargetInfoChanged(ev interface{}) {
	e, ok := ev.(*target.EventTargetInfoChanged)
	if !ok {
		return
	}
	b.mu.Lock()
	t, ok := b.tabs[e.TargetInfo.TargetID]
	b.mu.Unlock()
	if !ok {
		return
	}
	t.updateInfo(e.TargetInfo)
}

func (b *Browser) onTargetDestroyed(ev interface{}) {
	e, ok := ev.(*target.EventTargetDestroyed)
	if !ok {
		return
	}
	b.mu.Lock()
	t, ok := b.tabs[e.TargetID]
	delete(b.tabs, e.TargetID)
	b.mu.Unlock()
	if ok {
		t.markDetached()
	}
}

// registerTarget mints a Tab and its own Connection for a newly observed
// target, unless one already exists.
func (b *Browser) registerTarget(info *target.Info) *Tab {
	b.mu.Lock()
	if t, ok := b.tabs[info.TargetID]; ok {
		b.mu.Unlock()
		return t
	}
	b.mu.Unlock()

	t := newTab(b, info)
	b.mu.Lock()
	b.tabs[info.TargetID] = t
	b.mu.Unlock()
	return t
}

// Targets returns a snapshot of the currently known tabs.
func (b *Browser) Targets() []*Tab {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Tab, 0, len(b.tabs))
	for _, t := range b.tabs {
		out = append(out, t)
	}
	return out
}

// Get returns a page Tab, creating one via target.CreateTarget if
// newTab is true or no page target currently exists. A created tab is
// returned as soon as it appears in the registry (polled for up to 10s);
// Get does not wait for its navigation. An existing page tab is navigated
// to url, and Get then waits (up to 10s) for its URL to change away from
// about:blank when an explicit url other than about:blank is requested.
func (b *Browser) Get(ctx context.Context, url string, newTab bool) (*Tab, error) {
	if !b.isStarted() {
		return nil, ErrNotStarted
	}

	var t *Tab
	if !newTab {
		for _, c := range b.Targets() {
			if c.Info().Type == "page" {
				t = c
				break
			}
		}
	}

	if t == nil {
		if url == "" {
			url = "about:blank"
		}
		targetID, err := target.CreateTarget(url).Do(cdp.WithExecutor(ctx, b.root))
		if err != nil {
			return nil, fmt.Errorf("creating target: %w", err)
		}
		deadline := time.Now().Add(10 * time.Second)
		for t == nil && time.Now().Before(deadline) {
			b.mu.Lock()
			t = b.tabs[targetID]
			b.mu.Unlock()
			if t == nil {
				time.Sleep(25 * time.Millisecond)
			}
		}
		if t == nil {
			return nil, ErrNoPageTarget
		}
		return t, nil
	}

	if url == "" || url == "about:blank" {
		return t, nil
	}

	waitCh := make(chan struct{}, 1)
	handler := func(ev interface{}) {
		e, ok := ev.(*target.EventTargetInfoChanged)
		if !ok || e.TargetInfo.TargetID != t.info.TargetID {
			return
		}
		if e.TargetInfo.URL != "about:blank" {
			select {
			case waitCh <- struct{}{}:
			default:
			}
		}
	}
	b.root.AddHandler(cdproto_Target_targetInfoChanged, handler)
	defer func() { _ = b.root.RemoveHandlers(cdproto_Target_targetInfoChanged, handler) }()

	if err := t.Navigate(ctx, url); err != nil {
		return nil, err
	}

	select {
	case <-waitCh:
	case <-time.After(10 * time.Second):
		b.errf("Get: timed out waiting for %s to navigate away from about:blank", url)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return t, nil
}

func (b *Browser) isStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Stop sends Browser.close, closes the root Connection, escalates
// SIGTERM to SIGKILL against the owned process (if any), and cleans the
// temporary profile when the process handle has a Cleanup method (as
// *proc.Handle does), grounded on the original implementation's
// stop()/_cleanup_temporary_profile().
func (b *Browser) Stop(ctx context.Context) error {
	if err := browserClose(ctx, b.root); err != nil {
		b.errf("could not send Browser.close: %v", err)
	}
	closeErr := b.root.Close()

	if b.Process != nil {
		if err := stopProcessGraceful(ctx, b.Process); err != nil {
			b.errf("could not stop browser process cleanly: %v", err)
		}
		if c, ok := b.Process.(interface{ Cleanup() error }); ok {
			if err := c.Cleanup(); err != nil {
				b.errf("could not remove temporary profile: %v", err)
			}
		}
	}
	return closeErr
}

// recordDownloadBehavior is called by every SetDownloadBehavior so
// DownloadExpectation can snapshot and restore "prior behavior" the way
// the original implementation's dynamic attribute did.
func (b *Browser) recordDownloadBehavior(behavior string) {
	b.downloadBehaviorMu.Lock()
	b.downloadBehavior = behavior
	b.downloadBehaviorMu.Unlock()
}

func (b *Browser) currentDownloadBehavior() string {
	b.downloadBehaviorMu.Lock()
	defer b.downloadBehaviorMu.Unlock()
	return b.downloadBehavior
}

func browserClose(ctx context.Context, c *Connection) error {
	_, err := c.send(ctx, "Browser.close", nil, true)
	return err
}

// cdproto_Target_* are local aliases to the method types already listed
// in domainEventTypes["Target"], spelled out for readability at call
// sites that need just one of them.
var (
	cdproto_Target_targetInfoChanged = domainEventTypes["Target"][1]
)
