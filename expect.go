package cdpdrive

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
)

// RequestExpectation watches for the first network request whose URL
// fully matches pattern, scoped to the lifetime of the Watch call.
// Register it before triggering the action that causes the request, the
// same way the original's async context manager has to wrap the
// triggering code.
type RequestExpectation struct {
	tab     *Tab
	pattern *regexp.Regexp

	once      sync.Once
	requestID network.RequestID
	request   chan *network.EventRequestWillBeSent
	response  chan *network.EventResponseReceived
}

// NewRequestExpectation builds an expectation for the tab, matching
// request URLs fully against pattern.
func NewRequestExpectation(tab *Tab, pattern string) (*RequestExpectation, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("compiling request url pattern: %w", err)
	}
	return &RequestExpectation{
		tab:      tab,
		pattern:  re,
		request:  make(chan *network.EventRequestWillBeSent, 1),
		response: make(chan *network.EventResponseReceived, 1),
	}, nil
}

func (e *RequestExpectation) requestHandler(ev interface{}) {
	wbs, ok := ev.(*network.EventRequestWillBeSent)
	if !ok || !e.pattern.MatchString(wbs.Request.URL) {
		return
	}
	e.once.Do(func() {
		e.requestID = wbs.RequestID
		e.tab.conn.RemoveHandlers(domainEventTypes["Network"][0], e.requestHandler)
		e.request <- wbs
	})
}

func (e *RequestExpectation) responseHandler(ev interface{}) {
	rr, ok := ev.(*network.EventResponseReceived)
	if !ok || e.requestID == "" || rr.RequestID != e.requestID {
		return
	}
	select {
	case e.response <- rr:
		e.tab.conn.RemoveHandlers(domainEventTypes["Network"][1], e.responseHandler)
	default:
	}
}

// Watch registers the request/response handlers for the duration of run,
// then removes them unconditionally on return.
func (e *RequestExpectation) Watch(ctx context.Context, run func(context.Context) error) error {
	if err := network.Enable().Do(cdp.WithExecutor(ctx, e.tab.conn)); err != nil {
		return fmt.Errorf("enabling Network domain: %w", err)
	}
	e.tab.conn.AddHandler(domainEventTypes["Network"][0], e.requestHandler)
	e.tab.conn.AddHandler(domainEventTypes["Network"][1], e.responseHandler)
	defer func() {
		e.tab.conn.RemoveHandlers(domainEventTypes["Network"][0], e.requestHandler)
		e.tab.conn.RemoveHandlers(domainEventTypes["Network"][1], e.responseHandler)
	}()
	return run(ctx)
}

// Request blocks until the matching request fires, or ctx is cancelled.
func (e *RequestExpectation) Request(ctx context.Context) (*network.EventRequestWillBeSent, error) {
	select {
	case ev := <-e.request:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Response blocks until the matching response fires, or ctx is cancelled.
func (e *RequestExpectation) Response(ctx context.Context) (*network.EventResponseReceived, error) {
	select {
	case ev := <-e.response:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResponseBody fetches the response body for the matched request. The
// matching request must have already fired.
func (e *RequestExpectation) ResponseBody(ctx context.Context) ([]byte, error) {
	if e.requestID == "" {
		return nil, fmt.Errorf("expect: no matched request yet")
	}
	body, base64Encoded, err := network.GetResponseBody(e.requestID).Do(cdp.WithExecutor(ctx, e.tab.conn))
	if err != nil {
		return nil, err
	}
	if !base64Encoded {
		return body, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 response body: %w", err)
	}
	return decoded, nil
}

// DownloadExpectation denies downloads for the duration of Watch, then
// restores whatever download behavior was previously in effect, handing
// back the page.EventDownloadWillBegin that would otherwise have started
// a download.
type DownloadExpectation struct {
	tab *Tab

	once  sync.Once
	event chan *page.EventDownloadWillBegin
}

// NewDownloadExpectation builds a download expectation for the tab.
func NewDownloadExpectation(tab *Tab) *DownloadExpectation {
	return &DownloadExpectation{
		tab:   tab,
		event: make(chan *page.EventDownloadWillBegin, 1),
	}
}

func (e *DownloadExpectation) handler(ev interface{}) {
	dw, ok := ev.(*page.EventDownloadWillBegin)
	if !ok {
		return
	}
	e.once.Do(func() {
		e.tab.conn.RemoveHandlers(domainEventTypes["Page"][4], e.handler)
		e.event <- dw
	})
}

// Watch denies downloads, runs run, then restores the previous download
// behavior and removes the handler unconditionally.
func (e *DownloadExpectation) Watch(ctx context.Context, run func(context.Context) error) error {
	previous := e.tab.browser.currentDownloadBehavior()

	deny := browser.SetDownloadBehaviorBehaviorDeny
	if err := browser.SetDownloadBehavior(deny).Do(cdp.WithExecutor(ctx, e.tab.conn)); err != nil {
		return fmt.Errorf("denying downloads: %w", err)
	}
	e.tab.browser.recordDownloadBehavior(string(deny))
	e.tab.conn.AddHandler(domainEventTypes["Page"][4], e.handler)

	defer func() {
		restore := browser.SetDownloadBehaviorBehavior(previous)
		if restore == "" {
			restore = browser.SetDownloadBehaviorBehaviorDefault
		}
		_ = browser.SetDownloadBehavior(restore).Do(cdp.WithExecutor(ctx, e.tab.conn))
		e.tab.browser.recordDownloadBehavior(string(restore))
		e.tab.conn.RemoveHandlers(domainEventTypes["Page"][4], e.handler)
	}()

	return run(ctx)
}

// Value blocks until the denied download fires, or ctx is cancelled.
func (e *DownloadExpectation) Value(ctx context.Context) (*page.EventDownloadWillBegin, error) {
	select {
	case ev := <-e.event:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
