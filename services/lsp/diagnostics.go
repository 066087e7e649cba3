// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/lspengine/pkg/logging"
)

// SubscriptionID identifies a diagnostics subscription.
type SubscriptionID string

// DiagnosticsHandler receives the full diagnostics list of one document.
// The slice is the handler's own copy.
type DiagnosticsHandler func(uri string, diagnostics []Diagnostic)

type subscriber struct {
	id   SubscriptionID
	fn   DiagnosticsHandler
	done chan struct{}
}

// closedChan is returned by Done for subscriptions that no longer exist.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// DiagnosticsStore keeps the latest diagnostics per document and fans
// changes out to subscribers.
//
// Description:
//
//	Every publish replaces the stored list for its URI; lists are never
//	merged. Records survive document close and are only dropped by Reset.
//
//	Subscribers are called synchronously, in subscription order, on the
//	goroutine that publishes. A new subscriber is immediately called once
//	per stored URI (sorted by URI) before Subscribe returns. A panicking
//	subscriber is logged at error and does not affect the others.
//
//	Catch-up and fan-out are serialized, so a subscriber never sees an
//	older list for a URI after a newer one.
//
// Thread Safety:
//
//	Safe for concurrent use. Handlers run without the store lock held and
//	may read the store or unsubscribe, but must not Publish or Subscribe.
type DiagnosticsStore struct {
	sink logging.Sink

	// deliverMu orders deliveries; mu guards the fields below.
	deliverMu sync.Mutex

	mu      sync.Mutex
	records map[string][]Diagnostic
	subs    []subscriber
}

// NewDiagnosticsStore creates an empty store logging to sink.
func NewDiagnosticsStore(sink logging.Sink) *DiagnosticsStore {
	if sink == nil {
		sink = logging.Nop()
	}
	return &DiagnosticsStore{
		sink:    sink,
		records: make(map[string][]Diagnostic),
	}
}

// Publish replaces the diagnostics for uri and notifies every subscriber.
func (s *DiagnosticsStore) Publish(uri string, diagnostics []Diagnostic) {
	stored := cloneDiagnostics(diagnostics)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.records[uri] = stored
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	worst := AggregateSeverity(stored)
	diagnosticsPublished.WithLabelValues(worst.String()).Inc()
	s.sink.Log(logging.LevelInfo, fmt.Sprintf("lsp: %d diagnostics for %s (worst: %s)", len(stored), uri, worst))

	for _, sub := range subs {
		s.deliver(sub, uri, stored)
	}
}

// Subscribe registers fn and replays every stored record to it.
//
// Outputs:
//
//	SubscriptionID - Handle for Unsubscribe
func (s *DiagnosticsStore) Subscribe(fn DiagnosticsHandler) SubscriptionID {
	sub := subscriber{
		id:   SubscriptionID(uuid.NewString()),
		fn:   fn,
		done: make(chan struct{}),
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	snapshot := make(map[string][]Diagnostic, len(s.records))
	for uri, diags := range s.records {
		snapshot[uri] = diags
	}
	s.mu.Unlock()

	uris := make([]string, 0, len(snapshot))
	for uri := range snapshot {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	for _, uri := range uris {
		s.deliver(sub, uri, snapshot[uri])
	}
	return sub.id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (s *DiagnosticsStore) Unsubscribe(id SubscriptionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool {
		if sub.id != id {
			return false
		}
		close(sub.done)
		return true
	})
}

// ClearSubscribers removes every subscription. Stored records are kept.
func (s *DiagnosticsStore) ClearSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropSubscribersLocked()
}

// Reset drops every record and every subscription.
func (s *DiagnosticsStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string][]Diagnostic)
	s.dropSubscribersLocked()
}

func (s *DiagnosticsStore) dropSubscribersLocked() {
	for _, sub := range s.subs {
		close(sub.done)
	}
	s.subs = nil
}

// Done returns a channel that is closed once the subscription is removed,
// whether by Unsubscribe, ClearSubscribers or Reset. Unknown ids get an
// already closed channel.
func (s *DiagnosticsStore) Done(id SubscriptionID) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.id == id {
			return sub.done
		}
	}
	return closedChan
}

// Subscribers returns the number of registered subscriptions.
func (s *DiagnosticsStore) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Get returns a copy of the diagnostics for uri. Never nil.
func (s *DiagnosticsStore) Get(uri string) []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneDiagnostics(s.records[uri])
}

// All returns a copy of every record. Never nil.
func (s *DiagnosticsStore) All() map[string][]Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Diagnostic, len(s.records))
	for uri, diags := range s.records {
		out[uri] = cloneDiagnostics(diags)
	}
	return out
}

// handlePublish validates and stores a publishDiagnostics payload.
func (s *DiagnosticsStore) handlePublish(params json.RawMessage) {
	var raw struct {
		URI         string          `json:"uri"`
		Diagnostics json.RawMessage `json:"diagnostics"`
	}
	if err := json.Unmarshal(params, &raw); err != nil {
		s.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: malformed publishDiagnostics params: %v", err))
		return
	}
	if raw.URI == "" {
		s.sink.Log(logging.LevelWarning, "lsp: publishDiagnostics without uri dropped")
		return
	}
	trimmed := bytes.TrimSpace(raw.Diagnostics)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		s.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: publishDiagnostics for %s without diagnostics array dropped", raw.URI))
		return
	}

	var diags []Diagnostic
	if err := json.Unmarshal(trimmed, &diags); err != nil {
		s.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: malformed diagnostics for %s: %v", raw.URI, err))
		return
	}
	s.Publish(raw.URI, diags)
}

func (s *DiagnosticsStore) deliver(sub subscriber, uri string, diags []Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			subscriberPanics.Inc()
			s.sink.Log(logging.LevelError, fmt.Sprintf("lsp: diagnostics subscriber %s panicked for %s: %v", sub.id, uri, r))
		}
	}()
	sub.fn(uri, cloneDiagnostics(diags))
}

// AggregateSeverity returns the most severe (numerically lowest) severity in
// diagnostics. A diagnostic without a severity counts as a hint. An empty
// list aggregates to SeverityNone.
func AggregateSeverity(diagnostics []Diagnostic) DiagnosticSeverity {
	worst := SeverityNone
	for _, d := range diagnostics {
		sev := d.EffectiveSeverity()
		if worst == SeverityNone || sev < worst {
			worst = sev
		}
	}
	return worst
}

func cloneDiagnostics(diags []Diagnostic) []Diagnostic {
	if diags == nil {
		return []Diagnostic{}
	}
	return slices.Clone(diags)
}
