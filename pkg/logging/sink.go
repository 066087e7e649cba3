// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"log/slog"
	"sync"
)

// Sink is the leveled logging capability consumed by the protocol engine.
//
// Implementations must not block for long and must not panic. The engine
// never inspects the outcome of a Log call.
type Sink interface {
	Log(level Level, msg string)
}

// SinkFunc adapts an ordinary function to the Sink interface.
//
// Example:
//
//	sink := logging.SinkFunc(func(level logging.Level, msg string) {
//	    fmt.Fprintf(os.Stderr, "[%s] %s\n", level, msg)
//	})
type SinkFunc func(level Level, msg string)

// Log calls f(level, msg).
func (f SinkFunc) Log(level Level, msg string) {
	f(level, msg)
}

type nopSink struct{}

func (nopSink) Log(Level, string) {}

// Nop returns a Sink that discards everything.
func Nop() Sink {
	return nopSink{}
}

// FromSlog returns a Sink that writes through an existing slog.Logger.
//
// A nil logger resolves to slog.Default() at each call.
func FromSlog(l *slog.Logger) Sink {
	return SinkFunc(func(level Level, msg string) {
		target := l
		if target == nil {
			target = slog.Default()
		}
		target.Log(context.Background(), level.toSlogLevel(), msg)
	})
}

// Filter drops entries below min before forwarding them to next.
func Filter(next Sink, min Level) Sink {
	return SinkFunc(func(level Level, msg string) {
		if level >= min {
			next.Log(level, msg)
		}
	})
}

// Record is a single entry captured by a Recorder.
type Record struct {
	Level   Level
	Message string
}

// Recorder is a Sink that keeps every entry in memory.
//
// Useful in tests to assert on what the engine logged:
//
//	rec := &logging.Recorder{}
//	client := lsp.NewClient(lsp.ClientConfig{Sink: rec})
//	...
//	assert.True(t, rec.Contains(logging.LevelWarning, "hover"))
//
// Thread Safety: safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// Log implements Sink.
func (r *Recorder) Log(level Level, msg string) {
	r.mu.Lock()
	r.records = append(r.records, Record{Level: level, Message: msg})
	r.mu.Unlock()
}

// Records returns a copy of every captured entry in order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Contains reports whether any entry at the given level contains substr.
func (r *Recorder) Contains(level Level, substr string) bool {
	for _, rec := range r.Records() {
		if rec.Level == level && containsFold(rec.Message, substr) {
			return true
		}
	}
	return false
}

// Reset discards all captured entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.records = nil
	r.mu.Unlock()
}
