package cdpdrive

import "testing"

func TestAlwaysEnabledDomainsNeverReconciled(t *testing.T) {
	for _, domain := range []string{"Target", "Storage"} {
		if !alwaysEnabledDomains[domain] {
			t.Errorf("expected %s to be in alwaysEnabledDomains", domain)
		}
	}
}

func TestDomainEventTypesBelongToTheirOwnDomain(t *testing.T) {
	for domain, events := range domainEventTypes {
		for _, et := range events {
			if got := et.Domain(); got != domain {
				t.Errorf("event %s listed under %q reports domain %q", et, domain, got)
			}
		}
	}
}

func TestDomainEventTypesHasNoDuplicatesWithinADomain(t *testing.T) {
	for domain, events := range domainEventTypes {
		seen := make(map[string]bool, len(events))
		for _, et := range events {
			if seen[string(et)] {
				t.Errorf("domain %s lists %s more than once", domain, et)
			}
			seen[string(et)] = true
		}
	}
}

// A handful of call sites reach into domainEventTypes by index rather than
// by value (tab.go's Navigate, expect.go's request/response/download
// watchers) because AddHandler needs the exact MethodType to later call
// RemoveHandlers with. This guards those fixed offsets against the table
// being reordered out from under them.
func TestDomainEventTypesFixedOffsetsUsedElsewhere(t *testing.T) {
	cases := []struct {
		domain string
		index  int
		want   string
	}{
		{"Page", 0, "Page.loadEventFired"},
		{"Page", 4, "Page.downloadWillBegin"},
		{"Network", 0, "Network.requestWillBeSent"},
		{"Network", 1, "Network.responseReceived"},
	}
	for _, c := range cases {
		events := domainEventTypes[c.domain]
		if c.index >= len(events) {
			t.Fatalf("%s has only %d event types, index %d out of range", c.domain, len(events), c.index)
		}
		if got := string(events[c.index]); got != c.want {
			t.Errorf("%s[%d] = %s, want %s", c.domain, c.index, got, c.want)
		}
	}
}

func TestSameHandlerIdentity(t *testing.T) {
	h1 := func(interface{}) {}
	h2 := func(interface{}) {}
	if !sameHandler(h1, h1) {
		t.Errorf("expected a handler to be sameHandler as itself")
	}
	if sameHandler(h1, h2) {
		t.Errorf("expected two distinct closures not to be sameHandler")
	}
}
