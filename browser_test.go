package cdpdrive

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
)

func newTestBrowser(t *testing.T, st *scriptedTransport) *Browser {
	t.Helper()
	b, err := NewBrowser("ws://127.0.0.1:0/devtools/browser/test")
	if err != nil {
		t.Fatalf("NewBrowser: %v", err)
	}
	b.root.transport = st
	b.root.listener = newListener(b.root, st, false)
	return b
}

func TestBrowserStartRegistersExistingTargets(t *testing.T) {
	st := newScriptedTransport(func(method string, _ []byte) ([]byte, *cdproto.Error) {
		switch method {
		case "Target.getTargets":
			return []byte(`{"targetInfos":[
				{"targetId":"T1","type":"page","title":"one","url":"https://one.example","attached":true},
				{"targetId":"T2","type":"page","title":"two","url":"https://two.example","attached":true}
			]}`), nil
		default:
			return []byte(`{}`), nil
		}
	})
	b := newTestBrowser(t, st)
	b.root.listener.start(context.Background())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	targets := b.Targets()
	if len(targets) != 2 {
		t.Fatalf("expected 2 registered tabs, got %d", len(targets))
	}
	seen := map[string]bool{}
	for _, tab := range targets {
		seen[string(tab.Info().TargetID)] = true
	}
	if !seen["T1"] || !seen["T2"] {
		t.Errorf("expected targets T1 and T2, got %v", seen)
	}
}

func TestBrowserOnTargetCreatedAndDestroyedUpdateRegistry(t *testing.T) {
	st := newScriptedTransport(func(method string, _ []byte) ([]byte, *cdproto.Error) {
		if method == "Target.getTargets" {
			return []byte(`{"targetInfos":[]}`), nil
		}
		return []byte(`{}`), nil
	})
	b := newTestBrowser(t, st)
	b.root.listener.start(context.Background())
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st.push(&cdproto.Message{
		Method: domainEventTypes["Target"][0],
		Params: []byte(`{"targetInfo":{"targetId":"T3","type":"page","title":"three","url":"https://three.example","attached":true}}`),
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(b.Targets()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	targets := b.Targets()
	if len(targets) != 1 || targets[0].Info().TargetID != target.ID("T3") {
		t.Fatalf("expected exactly tab T3 to be registered, got %d tabs", len(targets))
	}

	st.push(&cdproto.Message{
		Method: domainEventTypes["Target"][2],
		Params: []byte(`{"targetId":"T3"}`),
	})

	deadline = time.Now().Add(2 * time.Second)
	for len(b.Targets()) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(b.Targets()) != 0 {
		t.Fatal("expected T3 to be removed from the registry after targetDestroyed")
	}
	if !targets[0].Detached() {
		t.Error("expected the removed Tab to be marked detached")
	}
}

func TestBrowserGetReturnsExistingPageWithoutCreatingANewOne(t *testing.T) {
	var createCalls int
	st := newScriptedTransport(func(method string, _ []byte) ([]byte, *cdproto.Error) {
		switch method {
		case "Target.getTargets":
			return []byte(`{"targetInfos":[{"targetId":"T1","type":"page","title":"one","url":"about:blank","attached":true}]}`), nil
		case "Target.createTarget":
			createCalls++
			return []byte(`{"targetId":"TNEW"}`), nil
		default:
			return []byte(`{}`), nil
		}
	})
	b := newTestBrowser(t, st)
	b.root.listener.start(context.Background())
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tab, err := b.Get(context.Background(), "", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tab.Info().TargetID != target.ID("T1") {
		t.Errorf("expected the existing page T1 to be reused, got %s", tab.Info().TargetID)
	}
	if createCalls != 0 {
		t.Errorf("expected no Target.createTarget calls, got %d", createCalls)
	}
}

func TestBrowserGetBeforeStartFails(t *testing.T) {
	st := newScriptedTransport(func(method string, _ []byte) ([]byte, *cdproto.Error) {
		return []byte(`{}`), nil
	})
	b := newTestBrowser(t, st)
	_, err := b.Get(context.Background(), "", false)
	if err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestBrowserStopSendsBrowserCloseAndClosesRoot(t *testing.T) {
	var sawClose bool
	st := newScriptedTransport(func(method string, _ []byte) ([]byte, *cdproto.Error) {
		if method == "Browser.close" {
			sawClose = true
		}
		return []byte(`{}`), nil
	})
	b := newTestBrowser(t, st)
	b.root.listener.start(context.Background())
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !sawClose {
		t.Error("expected Browser.close to be sent")
	}
	if _, err := b.root.send(context.Background(), "Page.enable", nil, true); err != ErrConnectionClosed {
		t.Errorf("expected the root connection to be closed after Stop, got %v", err)
	}
}

func TestNewBrowserAppliesOptions(t *testing.T) {
	var logged []string
	proc := &fakeProcessHandle{exitAfter: time.Millisecond}

	b, err := NewBrowser("ws://127.0.0.1:0/devtools/browser/test",
		WithLogf(func(format string, args ...interface{}) { logged = append(logged, format) }),
		WithErrorf(func(format string, args ...interface{}) { logged = append(logged, format) }),
		WithBrowserInteractive(true),
		WithBrowserDialOptions(WithMaxFrameSize(1024)),
		WithProcess(proc),
	)
	if err != nil {
		t.Fatalf("NewBrowser: %v", err)
	}
	if !b.interactive {
		t.Error("expected WithBrowserInteractive(true) to be applied")
	}
	if len(b.dialOpts) != 1 {
		t.Fatalf("expected 1 dial option to be recorded, got %d", len(b.dialOpts))
	}
	if b.Process == nil || b.Process.Pid() != 1234 {
		t.Errorf("expected WithProcess to attach the given ProcessHandle, got %v", b.Process)
	}

	b.logf("hello logf")
	b.errf("hello errf")
	if len(logged) != 2 {
		t.Errorf("expected both logf and errf to be wired through, got %v", logged)
	}
}

func TestBrowserDownloadBehaviorRecordAndCurrent(t *testing.T) {
	b := &Browser{}
	if b.currentDownloadBehavior() != "" {
		t.Error("expected no download behavior recorded initially")
	}
	b.recordDownloadBehavior("deny")
	if b.currentDownloadBehavior() != "deny" {
		t.Errorf("currentDownloadBehavior() = %q, want %q", b.currentDownloadBehavior(), "deny")
	}
}
