package cdpdrive

import (
	"context"

	"github.com/chromedp/cdproto"
)

// alwaysEnabledDomains are never touched by reconciliation: Target must
// stay enabled for the lifetime of the Browser connection so target
// creation/destruction is always observable, and Storage is enabled
// unconditionally so the cookiejar package can query/mutate cookies at
// any time without first registering a handler.
var alwaysEnabledDomains = map[string]bool{
	"Target":  true,
	"Storage": true,
}

// domainEventTypes lists, for each CDP domain this package has a reason
// to observe, the event method types AddDomainHandler subscribes a single
// handler to. It is necessarily a subset of the full CDP event surface:
// cdproto has no runtime registry of "every event type in domain X", so
// this table only needs to cover the domains this package's own
// components (tab navigation, network expectations, download tracking,
// page bindings, target bookkeeping) actually observe.
var domainEventTypes = map[string][]cdproto.MethodType{
	"Target": {
		cdproto.MethodType("Target.targetCreated"),
		cdproto.MethodType("Target.targetInfoChanged"),
		cdproto.MethodType("Target.targetDestroyed"),
		cdproto.MethodType("Target.targetCrashed"),
		cdproto.MethodType("Target.attachedToTarget"),
		cdproto.MethodType("Target.detachedFromTarget"),
		cdproto.MethodType("Target.receivedMessageFromTarget"),
	},
	"Page": {
		cdproto.MethodType("Page.loadEventFired"),
		cdproto.MethodType("Page.domContentEventFired"),
		cdproto.MethodType("Page.frameNavigated"),
		cdproto.MethodType("Page.frameStoppedLoading"),
		cdproto.MethodType("Page.downloadWillBegin"),
		cdproto.MethodType("Page.downloadProgress"),
		cdproto.MethodType("Page.javascriptDialogOpening"),
	},
	"Network": {
		cdproto.MethodType("Network.requestWillBeSent"),
		cdproto.MethodType("Network.responseReceived"),
		cdproto.MethodType("Network.loadingFinished"),
		cdproto.MethodType("Network.loadingFailed"),
	},
	"Runtime": {
		cdproto.MethodType("Runtime.bindingCalled"),
		cdproto.MethodType("Runtime.executionContextCreated"),
		cdproto.MethodType("Runtime.executionContextDestroyed"),
		cdproto.MethodType("Runtime.executionContextsCleared"),
		cdproto.MethodType("Runtime.consoleAPICalled"),
		cdproto.MethodType("Runtime.exceptionThrown"),
	},
	"Log": {
		cdproto.MethodType("Log.entryAdded"),
	},
	"Inspector": {
		cdproto.MethodType("Inspector.detached"),
		cdproto.MethodType("Inspector.targetCrashed"),
	},
}

// reconcileDomains enables every domain with at least one live handler
// and disables every previously-enabled domain that no longer has one,
// except the always-enabled set. It is called before every non-internal
// Send, mirroring the original implementation's per-command handler
// registration pass, but batches the comparison against the domain set
// rather than walking handlers one at a time.
//
// Failures enabling or disabling an individual domain are logged and
// otherwise ignored: a misbehaving domain must never abort the caller's
// command.
func (c *Connection) reconcileDomains(ctx context.Context) {
	c.mu.Lock()
	needed := make(map[string]bool)
	for et, hs := range c.handlers {
		if len(hs) == 0 {
			continue
		}
		needed[et.Domain()] = true
	}
	enabled := make(map[string]bool, len(c.enabledDomains))
	for d := range c.enabledDomains {
		enabled[d] = true
	}
	c.mu.Unlock()

	for domain := range needed {
		if alwaysEnabledDomains[domain] || enabled[domain] {
			continue
		}
		if _, err := c.send(ctx, cdproto.MethodType(domain+".enable"), nil, true); err != nil {
			c.errf("could not enable domain %s: %v", domain, err)
			continue
		}
		c.mu.Lock()
		c.enabledDomains[domain] = true
		c.mu.Unlock()
	}

	for domain := range enabled {
		if alwaysEnabledDomains[domain] || needed[domain] {
			continue
		}
		if _, err := c.send(ctx, cdproto.MethodType(domain+".disable"), nil, true); err != nil {
			c.errf("could not disable domain %s: %v", domain, err)
			continue
		}
		c.mu.Lock()
		delete(c.enabledDomains, domain)
		c.mu.Unlock()
	}
}

// enableAlwaysOnDomains enables Target and Storage unconditionally. Only
// Browser.Start calls it, once, on the root Connection right after opening
// it; Tab Connections never call it.
func (c *Connection) enableAlwaysOnDomains(ctx context.Context) {
	for domain := range alwaysEnabledDomains {
		if _, err := c.send(ctx, cdproto.MethodType(domain+".enable"), nil, true); err != nil {
			c.errf("could not enable domain %s: %v", domain, err)
			continue
		}
		c.mu.Lock()
		c.enabledDomains[domain] = true
		c.mu.Unlock()
	}
}

func sameHandler(a, b Handler) bool {
	return handlerPtr(a) == handlerPtr(b)
}
