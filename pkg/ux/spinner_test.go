// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// lockedBuffer is written by the spinner goroutine and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_Defaults(t *testing.T) {
	p := &Printer{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}, Mode: ModeRich}
	spin := p.Spinner("Starting gopls")
	if spin.message != "Starting gopls" {
		t.Errorf("expected message 'Starting gopls', got %q", spin.message)
	}
	if spin.spinType != SpinnerDots {
		t.Errorf("expected SpinnerDots, got %v", spin.spinType)
	}
	if spin.WithType(SpinnerCompass).spinType != SpinnerCompass {
		t.Error("WithType should set the type and return the spinner")
	}
}

func TestSpinner_MachineMode(t *testing.T) {
	var out, errOut bytes.Buffer
	p := &Printer{Out: &out, Err: &errOut, Mode: ModeMachine}

	spin := p.Spinner("Waiting for diagnostics")
	spin.Start()
	spin.Start()
	spin.Stop()
	spin.Stop()

	if got := errOut.String(); got != "PROGRESS: Waiting for diagnostics\n" {
		t.Errorf("unexpected progress output %q", got)
	}
	if out.Len() != 0 {
		t.Errorf("spinner must not write to Out, got %q", out.String())
	}
}

func TestSpinner_MinimalMode(t *testing.T) {
	var errOut bytes.Buffer
	p := &Printer{Out: &bytes.Buffer{}, Err: &errOut, Mode: ModeMinimal}

	spin := p.Spinner("Indexing")
	spin.Start()
	spin.Stop()

	if got := errOut.String(); got != "Indexing...\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestSpinner_RichMode_AnimatesAndClears(t *testing.T) {
	errOut := &lockedBuffer{}
	p := &Printer{Out: &bytes.Buffer{}, Err: errOut, Mode: ModeRich}

	spin := p.Spinner("Starting")
	spin.Start()
	time.Sleep(200 * time.Millisecond)
	spin.UpdateMessage("Initializing")
	time.Sleep(200 * time.Millisecond)
	spin.Stop()

	got := errOut.String()
	if !strings.Contains(got, "Starting") || !strings.Contains(got, "Initializing") {
		t.Errorf("expected both messages in output, got %q", got)
	}
	if !strings.HasSuffix(got, "\r\033[K") {
		t.Errorf("expected the line to be cleared on stop, got %q", got)
	}
}

func TestWithSpinner(t *testing.T) {
	var errOut bytes.Buffer
	p := &Printer{Out: &bytes.Buffer{}, Err: &errOut, Mode: ModeMachine}

	if err := p.WithSpinner("ok", func() error { return nil }); err != nil {
		t.Errorf("unexpected error %v", err)
	}

	want := errors.New("boom")
	if err := p.WithSpinner("fails", func() error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
	if !strings.Contains(errOut.String(), "PROGRESS: fails") {
		t.Errorf("expected progress line, got %q", errOut.String())
	}
}
