package cdpdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

// BindingFunc is a Go function exposed to page script via Tab.Expose. It
// receives the single string argument the page passed and returns a
// string result (or an error, delivered to the page as a rejected
// promise).
type BindingFunc func(args string) (string, error)

// HandleBindingFunc is a Go function exposed to page script via
// Tab.ExposeWithHandle. Unlike BindingFunc, it receives a live remote
// object handle for the page-side argument instead of a serialized
// string, so it can retain the argument (e.g. hold a DOM element or
// other JS object live) across separate calls instead of only ever
// seeing a one-shot snapshot of it.
type HandleBindingFunc func(handle *runtime.RemoteObject) (string, error)

// bindingCalledPayload mirrors the JSON payload the injected page binding
// shim sends back through Runtime.bindingCalled.
type bindingCalledPayload struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Seq  int64  `json:"seq"`
	Args string `json:"args"`
}

// bindings holds the per-Tab exposed-function table, lazily installed on
// the first Expose call. A name lives in exactly one of fns/handleFns,
// matching whether it was installed via Expose or ExposeWithHandle.
type bindings struct {
	once      sync.Once
	mu        sync.RWMutex
	fns       map[string]BindingFunc
	handleFns map[string]HandleBindingFunc
}

// Expose installs fn as window[fnName] in the tab, for every existing and
// future document the tab navigates to. When called from page script,
// window[fnName](arg) returns a Promise that resolves with fn's return
// value (or rejects with fn's error).
func (t *Tab) Expose(ctx context.Context, fnName string, fn BindingFunc) error {
	return t.exposeBinding(ctx, fnName, false, func(b *bindings) { b.fns[fnName] = fn })
}

// ExposeWithHandle is like Expose, but the page-side stub never
// serializes its argument: it stashes the live value and sends only a
// sequence number, and the host side retrieves a remote object handle
// for it (via the injected takeBindingHandle) before invoking fn. Use it
// when fn needs to hold onto the page-side argument as a live object
// across separate calls rather than reading a one-shot value.
func (t *Tab) ExposeWithHandle(ctx context.Context, fnName string, fn HandleBindingFunc) error {
	return t.exposeBinding(ctx, fnName, true, func(b *bindings) { b.handleFns[fnName] = fn })
}

func (t *Tab) exposeBinding(ctx context.Context, fnName string, needsHandle bool, register func(*bindings)) error {
	t.mu.Lock()
	if t.bind == nil {
		t.bind = &bindings{
			fns:       make(map[string]BindingFunc),
			handleFns: make(map[string]HandleBindingFunc),
		}
	}
	b := t.bind
	t.mu.Unlock()

	b.once.Do(func() {
		t.conn.AddHandler(domainEventTypes["Runtime"][0], t.dispatchBindingCall) // bindingCalled
		if _, err := page.AddScriptToEvaluateOnNewDocument(bindingShimJS).Do(cdp.WithExecutor(ctx, t.conn)); err != nil {
			t.browser.errf("could not install page binding shim: %v", err)
		}
	})

	b.mu.Lock()
	if _, exists := b.fns[fnName]; exists {
		b.mu.Unlock()
		return fmt.Errorf("cdpdrive: binding %q already exposed on this tab", fnName)
	}
	if _, exists := b.handleFns[fnName]; exists {
		b.mu.Unlock()
		return fmt.Errorf("cdpdrive: binding %q already exposed on this tab", fnName)
	}
	register(b)
	b.mu.Unlock()

	if err := runtime.AddBinding(fnName).Do(cdp.WithExecutor(ctx, t.conn)); err != nil {
		return fmt.Errorf("adding binding %q: %w", fnName, err)
	}

	install := fmt.Sprintf("installPageBinding(%q, %t);", fnName, needsHandle)
	if _, err := page.AddScriptToEvaluateOnNewDocument(install).Do(cdp.WithExecutor(ctx, t.conn)); err != nil {
		return fmt.Errorf("installing binding %q on future documents: %w", fnName, err)
	}
	return nil
}

func (t *Tab) dispatchBindingCall(ev interface{}) {
	bc, ok := ev.(*runtime.EventBindingCalled)
	if !ok {
		return
	}

	var payload bindingCalledPayload
	if err := json.Unmarshal([]byte(bc.Payload), &payload); err != nil {
		t.browser.errf("could not decode binding payload: %v", err)
		return
	}

	t.mu.RLock()
	b := t.bind
	t.mu.RUnlock()
	if b == nil {
		return
	}

	b.mu.RLock()
	fn, isPlain := b.fns[payload.Name]
	handleFn, isHandle := b.handleFns[payload.Name]
	b.mu.RUnlock()

	// Retrieving a handle (isHandle) and delivering the result both need
	// a CDP round-trip, so the whole dispatch runs off-handler like the
	// result delivery below always has.
	go func() {
		ctx := context.Background()
		var expr string
		switch {
		case isHandle:
			handle, err := t.takeBindingHandle(ctx, bc.ExecutionContextID, payload.Name, payload.Seq)
			if err != nil {
				expr = deliverBindingError(payload.Name, payload.Seq, err.Error(), "")
			} else if res, err := handleFn(handle); err != nil {
				expr = deliverBindingError(payload.Name, payload.Seq, err.Error(), err.Error())
			} else {
				expr = deliverBindingResult(payload.Name, payload.Seq, res)
			}
		case isPlain:
			if res, err := fn(payload.Args); err != nil {
				expr = deliverBindingError(payload.Name, payload.Seq, err.Error(), err.Error())
			} else {
				expr = deliverBindingResult(payload.Name, payload.Seq, res)
			}
		default:
			expr = deliverBindingError(payload.Name, payload.Seq, fmt.Sprintf("no binding named %q", payload.Name), "")
		}

		_, exc, err := runtime.Evaluate(expr).
			WithContextID(bc.ExecutionContextID).
			Do(cdp.WithExecutor(ctx, t.conn))
		if err != nil {
			t.browser.errf("could not deliver binding result for %s: %v", payload.Name, err)
		} else if exc != nil {
			t.browser.errf("delivering binding result for %s raised: %s", payload.Name, exc.Text)
		}
	}()
}

// takeBindingHandle retrieves the live remote object the page-side stub
// stashed for (name, seq) instead of serializing, by evaluating the
// shim's takeBindingHandle with ReturnByValue left false so CDP hands
// back an object reference rather than a JSON snapshot.
func (t *Tab) takeBindingHandle(ctx context.Context, execCtx runtime.ExecutionContextID, name string, seq int64) (*runtime.RemoteObject, error) {
	expr := fmt.Sprintf("takeBindingHandle(%q,%d)", name, seq)
	obj, exc, err := runtime.Evaluate(expr).
		WithContextID(execCtx).
		WithReturnByValue(false).
		Do(cdp.WithExecutor(ctx, t.conn))
	if err != nil {
		return nil, fmt.Errorf("retrieving handle for %q: %w", name, err)
	}
	if exc != nil {
		return nil, fmt.Errorf("retrieving handle for %q: %s", name, exc.Text)
	}
	return obj, nil
}

// bindingShimJS replaces the raw CDP binding installed by
// Runtime.addBinding with a promise-returning wrapper, matching the
// invocation shape used elsewhere in the reference pack for exposed
// functions: one argument in, one string result (or rejection) out. A
// binding installed with needsHandle true never serializes its argument:
// it stashes the live value in a per-binding handle table and sends only
// a sequence number, so the host side can retrieve the same live object
// via takeBindingHandle instead of a value snapshot.
const bindingShimJS = `
function deliverBindingError(name, seq, message, stack) {
	const error = new Error(message);
	error.stack = stack;
	window[name].callbacks.get(seq).reject(error);
	window[name].callbacks.delete(seq);
}

function deliverBindingResult(name, seq, result) {
	window[name].callbacks.get(seq).resolve(result);
	window[name].callbacks.delete(seq);
}

function takeBindingHandle(name, seq) {
	const binding = window[name];
	const handle = binding.handles.get(seq);
	binding.handles.delete(seq);
	return handle;
}

function installPageBinding(name, needsHandle) {
	const callCDP = window[name];
	Object.assign(window, {
		[name](arg) {
			const binding = window[name];
			if (!binding.callbacks) {
				binding.callbacks = new Map();
			}
			const seq = (binding.lastSeq || 0) + 1;
			binding.lastSeq = seq;
			if (needsHandle) {
				if (!binding.handles) {
					binding.handles = new Map();
				}
				binding.handles.set(seq, arg);
				callCDP(JSON.stringify({type: "binding", name, seq, args: ""}));
			} else {
				if (typeof arg !== "string") {
					return Promise.reject(new Error(name + " takes exactly one string argument"));
				}
				callCDP(JSON.stringify({type: "binding", name, seq, args: arg}));
			}
			return new Promise((resolve, reject) => {
				binding.callbacks.set(seq, {resolve, reject});
			});
		},
	});
}
`

func deliverBindingError(name string, seq int64, message, stack string) string {
	return fmt.Sprintf("deliverBindingError(%q,%d,%q,%q);", name, seq, message, stack)
}

func deliverBindingResult(name string, seq int64, result string) string {
	return fmt.Sprintf("deliverBindingResult(%q,%d,%q);", name, seq, result)
}
