package cdpdrive

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
)

func newTestTabWithBrowser(transport Transport) *Tab {
	tab := newTestTab(transport)
	tab.browser = &Browser{}
	return tab
}

func TestRequestExpectationMatchesByURLPattern(t *testing.T) {
	st := newScriptedTransport(func(method string, _ []byte) ([]byte, *cdproto.Error) {
		return []byte(`{}`), nil
	})
	tab := newTestTab(st)
	tab.conn.listener.start(context.Background())

	exp, err := NewRequestExpectation(tab, `.*/api/widgets$`)
	if err != nil {
		t.Fatalf("NewRequestExpectation: %v", err)
	}

	ran := make(chan struct{})
	go func() {
		_ = exp.Watch(context.Background(), func(ctx context.Context) error {
			close(ran)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-ran
	// Give Watch's AddHandler calls a moment to land before events fire.
	time.Sleep(10 * time.Millisecond)

	st.push(&cdproto.Message{
		Method: domainEventTypes["Network"][0],
		Params: []byte(`{"requestId":"R1","loaderId":"L1","documentURL":"https://x","request":{"url":"https://example.com/other","method":"GET"},"timestamp":1,"wallTime":1,"initiator":{"type":"other"}}`),
	})
	st.push(&cdproto.Message{
		Method: domainEventTypes["Network"][0],
		Params: []byte(`{"requestId":"R2","loaderId":"L1","documentURL":"https://x","request":{"url":"https://example.com/api/widgets","method":"GET"},"timestamp":1,"wallTime":1,"initiator":{"type":"other"}}`),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := exp.Request(ctx)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if ev.RequestID != "R2" {
		t.Errorf("matched request id = %s, want R2 (the non-matching request must be ignored)", ev.RequestID)
	}
}

func TestRequestExpectationResponseBodyDecodesBase64(t *testing.T) {
	st := newScriptedTransport(func(method string, _ []byte) ([]byte, *cdproto.Error) {
		switch method {
		case "Network.getResponseBody":
			return []byte(`{"body":"aGVsbG8=","base64Encoded":true}`), nil
		default:
			return []byte(`{}`), nil
		}
	})
	tab := newTestTab(st)
	tab.conn.listener.start(context.Background())

	exp, err := NewRequestExpectation(tab, `.*`)
	if err != nil {
		t.Fatalf("NewRequestExpectation: %v", err)
	}

	if _, err := exp.ResponseBody(context.Background()); err == nil {
		t.Error("expected ResponseBody to fail before a request has matched")
	}

	ran := make(chan struct{})
	go func() {
		_ = exp.Watch(context.Background(), func(ctx context.Context) error {
			close(ran)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-ran
	time.Sleep(10 * time.Millisecond)

	st.push(&cdproto.Message{
		Method: domainEventTypes["Network"][0],
		Params: []byte(`{"requestId":"R1","loaderId":"L1","documentURL":"https://x","request":{"url":"https://example.com/x","method":"GET"},"timestamp":1,"wallTime":1,"initiator":{"type":"other"}}`),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := exp.Request(ctx); err != nil {
		t.Fatalf("Request: %v", err)
	}

	body, err := exp.ResponseBody(context.Background())
	if err != nil {
		t.Fatalf("ResponseBody: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("ResponseBody = %q, want %q", body, "hello")
	}
}

func TestDownloadExpectationDeniesThenRestoresPreviousBehavior(t *testing.T) {
	var seenBehaviors []string
	st := newScriptedTransport(func(method string, params []byte) ([]byte, *cdproto.Error) {
		if method == "Browser.setDownloadBehavior" {
			seenBehaviors = append(seenBehaviors, string(params))
		}
		return []byte(`{}`), nil
	})
	tab := newTestTabWithBrowser(st)
	tab.conn.listener.start(context.Background())
	tab.browser.recordDownloadBehavior("allow")

	exp := NewDownloadExpectation(tab)
	err := exp.Watch(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if len(seenBehaviors) != 2 {
		t.Fatalf("expected exactly 2 Browser.setDownloadBehavior calls (deny, restore), got %d: %v", len(seenBehaviors), seenBehaviors)
	}
	if tab.browser.currentDownloadBehavior() != "allow" {
		t.Errorf("expected previous behavior 'allow' to be restored, got %q", tab.browser.currentDownloadBehavior())
	}
}

func TestDownloadExpectationDeliversDownloadWillBegin(t *testing.T) {
	st := newScriptedTransport(func(method string, _ []byte) ([]byte, *cdproto.Error) {
		return []byte(`{}`), nil
	})
	tab := newTestTabWithBrowser(st)
	tab.conn.listener.start(context.Background())

	exp := NewDownloadExpectation(tab)
	ran := make(chan struct{})
	go func() {
		_ = exp.Watch(context.Background(), func(ctx context.Context) error {
			close(ran)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-ran
	time.Sleep(10 * time.Millisecond)

	st.push(&cdproto.Message{
		Method: domainEventTypes["Page"][4],
		Params: []byte(`{"frameId":"F1","guid":"G1","url":"https://example.com/file.zip","suggestedFilename":"file.zip"}`),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dw, err := exp.Value(ctx)
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if dw.SuggestedFilename != "file.zip" {
		t.Errorf("SuggestedFilename = %q, want %q", dw.SuggestedFilename, "file.zip")
	}
}
