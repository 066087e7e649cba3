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
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lspengine/pkg/logging"
)

type delivery struct {
	uri   string
	diags []Diagnostic
}

func collect(deliveries *[]delivery) DiagnosticsHandler {
	return func(uri string, diags []Diagnostic) {
		*deliveries = append(*deliveries, delivery{uri, diags})
	}
}

func diag(sev DiagnosticSeverity, msg string) Diagnostic {
	return Diagnostic{Severity: sev, Message: msg}
}

func TestDiagnosticsStore_Publish(t *testing.T) {
	t.Run("publish replaces rather than merges", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		s.Publish("file:///a.go", []Diagnostic{diag(SeverityError, "one"), diag(SeverityWarning, "two")})
		s.Publish("file:///a.go", []Diagnostic{diag(SeverityHint, "three")})

		got := s.Get("file:///a.go")
		require.Len(t, got, 1)
		assert.Equal(t, "three", got[0].Message)
	})

	t.Run("empty publish clears a document", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		s.Publish("file:///a.go", []Diagnostic{diag(SeverityError, "x")})
		s.Publish("file:///a.go", nil)

		got := s.Get("file:///a.go")
		assert.NotNil(t, got)
		assert.Empty(t, got)
		assert.Contains(t, s.All(), "file:///a.go")
	})

	t.Run("unknown uri returns an empty list", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		got := s.Get("file:///none.go")
		assert.NotNil(t, got)
		assert.Empty(t, got)
		assert.NotNil(t, s.All())
	})

	t.Run("stored records are isolated from callers", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		in := []Diagnostic{diag(SeverityError, "orig")}
		s.Publish("file:///a.go", in)
		in[0].Message = "mutated"

		out := s.Get("file:///a.go")
		out[0].Message = "mutated again"
		assert.Equal(t, "orig", s.Get("file:///a.go")[0].Message)
	})

	t.Run("publish is logged at info", func(t *testing.T) {
		rec := &logging.Recorder{}
		s := NewDiagnosticsStore(rec)
		s.Publish("file:///a.go", []Diagnostic{diag(SeverityWarning, "w"), diag(SeverityError, "e")})
		assert.True(t, rec.Contains(logging.LevelInfo, "2 diagnostics for file:///a.go (worst: error)"))
	})
}

func TestDiagnosticsStore_Subscribe(t *testing.T) {
	t.Run("subscribers receive publishes in order", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		var order []string
		s.Subscribe(func(uri string, _ []Diagnostic) { order = append(order, "first:"+uri) })
		s.Subscribe(func(uri string, _ []Diagnostic) { order = append(order, "second:"+uri) })

		s.Publish("file:///a.go", nil)
		assert.Equal(t, []string{"first:file:///a.go", "second:file:///a.go"}, order)
	})

	t.Run("new subscriber catches up once per stored uri", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		s.Publish("file:///b.go", []Diagnostic{diag(SeverityWarning, "b")})
		s.Publish("file:///a.go", []Diagnostic{diag(SeverityError, "a1")})
		s.Publish("file:///a.go", []Diagnostic{diag(SeverityError, "a2")})

		var got []delivery
		s.Subscribe(collect(&got))

		require.Len(t, got, 2)
		assert.Equal(t, "file:///a.go", got[0].uri)
		assert.Equal(t, "a2", got[0].diags[0].Message)
		assert.Equal(t, "file:///b.go", got[1].uri)
	})

	t.Run("no catch-up on an empty store", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		var got []delivery
		s.Subscribe(collect(&got))
		assert.Empty(t, got)
	})

	t.Run("panicking subscriber does not affect others", func(t *testing.T) {
		rec := &logging.Recorder{}
		s := NewDiagnosticsStore(rec)
		var got []delivery
		s.Subscribe(func(string, []Diagnostic) { panic("boom") })
		s.Subscribe(collect(&got))

		s.Publish("file:///a.go", []Diagnostic{diag(SeverityError, "x")})

		require.Len(t, got, 1)
		assert.True(t, rec.Contains(logging.LevelError, "panicked"))
		assert.Len(t, s.Get("file:///a.go"), 1)
	})

	t.Run("unsubscribe stops delivery and is idempotent", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		var got []delivery
		id := s.Subscribe(collect(&got))
		assert.NotEmpty(t, id)

		s.Unsubscribe(id)
		s.Unsubscribe(id)
		s.Unsubscribe("never-issued")
		s.Publish("file:///a.go", nil)

		assert.Empty(t, got)
		assert.Equal(t, 0, s.Subscribers())
	})

	t.Run("subscription ids are unique", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		a := s.Subscribe(func(string, []Diagnostic) {})
		b := s.Subscribe(func(string, []Diagnostic) {})
		assert.NotEqual(t, a, b)
	})

	t.Run("handler may call back into the store", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		var seen int
		s.Subscribe(func(uri string, _ []Diagnostic) { seen = len(s.Get(uri)) })
		s.Publish("file:///a.go", []Diagnostic{diag(SeverityError, "x")})
		assert.Equal(t, 1, seen)
	})

	t.Run("clear subscribers keeps records and reset drops both", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		s.Subscribe(func(string, []Diagnostic) {})
		s.Publish("file:///a.go", []Diagnostic{diag(SeverityError, "x")})

		s.ClearSubscribers()
		assert.Equal(t, 0, s.Subscribers())
		assert.Len(t, s.Get("file:///a.go"), 1)

		s.Subscribe(func(string, []Diagnostic) {})
		s.Reset()
		assert.Equal(t, 0, s.Subscribers())
		assert.Empty(t, s.All())
	})

	t.Run("done closes when the subscription is removed", func(t *testing.T) {
		s := NewDiagnosticsStore(nil)
		a := s.Subscribe(func(string, []Diagnostic) {})
		b := s.Subscribe(func(string, []Diagnostic) {})
		c := s.Subscribe(func(string, []Diagnostic) {})

		doneA, doneB, doneC := s.Done(a), s.Done(b), s.Done(c)
		assertOpen := func(ch <-chan struct{}) {
			select {
			case <-ch:
				t.Fatal("done closed while subscribed")
			default:
			}
		}
		assertOpen(doneA)

		s.Unsubscribe(a)
		assert.True(t, chanClosed(doneA))
		assertOpen(doneB)

		s.ClearSubscribers()
		assert.True(t, chanClosed(doneB))

		d := s.Subscribe(func(string, []Diagnostic) {})
		doneD := s.Done(d)
		s.Reset()
		assert.True(t, chanClosed(doneD))

		assert.True(t, chanClosed(doneC))
		assert.True(t, chanClosed(s.Done("never-issued")))
	})
}

func chanClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestDiagnosticsStore_CatchUpNeverRegresses(t *testing.T) {
	const uri = "file:///a.go"
	const publishes = 200

	for round := 0; round < 20; round++ {
		s := NewDiagnosticsStore(nil)
		s.Publish(uri, []Diagnostic{diag(SeverityError, "0")})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := 1; v <= publishes; v++ {
				s.Publish(uri, []Diagnostic{diag(SeverityError, strconv.Itoa(v))})
			}
		}()

		var mu sync.Mutex
		var seen []int
		s.Subscribe(func(_ string, diags []Diagnostic) {
			v, err := strconv.Atoi(diags[0].Message)
			if err != nil {
				return
			}
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		})
		wg.Wait()

		mu.Lock()
		require.NotEmpty(t, seen)
		for i := 1; i < len(seen); i++ {
			require.Greater(t, seen[i], seen[i-1], "delivery order %v", seen)
		}
		assert.Equal(t, publishes, seen[len(seen)-1])
		mu.Unlock()
	}
}

func TestDiagnosticsStore_HandlePublish(t *testing.T) {
	tests := []struct {
		name      string
		params    string
		wantURI   string
		wantCount int
		wantWarn  string
	}{
		{
			name:      "valid payload",
			params:    `{"uri":"file:///a.go","diagnostics":[{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"severity":1,"message":"bad"}]}`,
			wantURI:   "file:///a.go",
			wantCount: 1,
		},
		{
			name:      "empty array clears",
			params:    `{"uri":"file:///a.go","diagnostics":[]}`,
			wantURI:   "file:///a.go",
			wantCount: 0,
		},
		{name: "missing uri", params: `{"diagnostics":[]}`, wantWarn: "without uri"},
		{name: "missing diagnostics", params: `{"uri":"file:///a.go"}`, wantWarn: "without diagnostics array"},
		{name: "diagnostics not an array", params: `{"uri":"file:///a.go","diagnostics":{}}`, wantWarn: "without diagnostics array"},
		{name: "not an object", params: `[1,2]`, wantWarn: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &logging.Recorder{}
			s := NewDiagnosticsStore(rec)
			var got []delivery
			s.Subscribe(collect(&got))

			s.handlePublish(json.RawMessage(tt.params))

			if tt.wantWarn != "" {
				assert.Empty(t, got)
				assert.Empty(t, s.All())
				assert.True(t, rec.Contains(logging.LevelWarning, tt.wantWarn))
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantURI, got[0].uri)
			assert.Len(t, s.Get(tt.wantURI), tt.wantCount)
		})
	}
}

func TestAggregateSeverity(t *testing.T) {
	tests := []struct {
		name  string
		diags []Diagnostic
		want  DiagnosticSeverity
	}{
		{name: "empty", diags: nil, want: SeverityNone},
		{name: "error beats warning", diags: []Diagnostic{diag(SeverityWarning, ""), diag(SeverityError, "")}, want: SeverityError},
		{name: "warning beats hint", diags: []Diagnostic{diag(SeverityHint, ""), diag(SeverityWarning, "")}, want: SeverityWarning},
		{name: "absent severity is a hint", diags: []Diagnostic{{Message: "no severity"}}, want: SeverityHint},
		{name: "absent and information", diags: []Diagnostic{{}, diag(SeverityInformation, "")}, want: SeverityInformation},
		{name: "out of range treated as hint", diags: []Diagnostic{diag(9, "")}, want: SeverityHint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateSeverity(tt.diags))
		})
	}

	assert.Equal(t, "error", AggregateSeverity([]Diagnostic{diag(2, ""), diag(1, "")}).String())
	assert.Equal(t, "none", SeverityNone.String())
}
