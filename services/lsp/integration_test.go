// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/lspengine/services/lsp"
)

// These tests drive a real gopls through ExecSpawner and are skipped when
// it is not on PATH.

func goplsProject(t *testing.T) (string, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping gopls integration test in short mode")
	}
	if _, err := exec.LookPath("gopls"); err != nil {
		t.Skip("gopls not installed")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module test\n\ngo 1.21\n"), 0644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	main := filepath.Join(dir, "main.go")
	if err := os.WriteFile(main, []byte(goplsSource), 0644); err != nil {
		t.Fatalf("write main.go: %v", err)
	}
	return dir, main
}

const goplsSource = `package main

// Answer returns the answer.
func Answer() int { return 42 }

func main() {
	_ = Answer()
	_ = undefinedName
}
`

func newGoplsClient(t *testing.T) *lsp.Client {
	t.Helper()
	preset, ok := lsp.NewPresetRegistry().Get("go")
	if !ok {
		t.Fatal("go preset missing")
	}
	cfg := preset.ClientConfig()
	cfg.RequestTimeout = 30 * time.Second
	client := lsp.NewClient(cfg)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGopls_Integration(t *testing.T) {
	dir, main := goplsProject(t)
	client := newGoplsClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := client.Initialize(ctx, dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if client.State() != lsp.StateInitialized {
		t.Errorf("State() = %v, want initialized", client.State())
	}
	caps := client.Capabilities()
	if !caps.HasHoverProvider() {
		t.Error("gopls should advertise hover")
	}

	published := make(chan []lsp.Diagnostic, 16)
	uri, err := lsp.PathToURI(main)
	if err != nil {
		t.Fatalf("PathToURI: %v", err)
	}
	client.SubscribeToDiagnostics(func(u string, diags []lsp.Diagnostic) {
		if u == uri && len(diags) > 0 {
			select {
			case published <- diags:
			default:
			}
		}
	})

	if err := client.OpenDocument(ctx, uri, goplsSource, "go"); err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}

	hover, err := client.GetInfoOnLocation(ctx, uri, lsp.Position{Line: 6, Character: 6})
	if err != nil {
		t.Fatalf("GetInfoOnLocation: %v", err)
	}
	if !strings.Contains(hover, "func Answer() int") {
		t.Errorf("hover = %q, want the Answer signature", hover)
	}

	select {
	case diags := <-published:
		found := false
		for _, d := range diags {
			if strings.Contains(d.Message, "undefinedName") {
				found = true
			}
		}
		if !found {
			t.Errorf("expected an undefinedName diagnostic, got %+v", diags)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for diagnostics")
	}

	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if client.State() != lsp.StateStopped {
		t.Errorf("State() = %v, want stopped", client.State())
	}
}

func TestGopls_ConcurrentInitialize_Integration(t *testing.T) {
	dir, _ := goplsProject(t)
	client := newGoplsClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- client.Initialize(ctx, dir)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Initialize error: %v", err)
		}
	}
	if client.State() != lsp.StateInitialized {
		t.Errorf("State() = %v, want initialized", client.State())
	}
}

func TestGopls_Restart_Integration(t *testing.T) {
	dir, main := goplsProject(t)
	client := newGoplsClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := client.Initialize(ctx, dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	uri, _ := lsp.PathToURI(main)
	if err := client.OpenDocument(ctx, uri, goplsSource, "go"); err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}

	if err := client.Restart(ctx, dir); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if client.State() != lsp.StateInitialized {
		t.Errorf("State() = %v, want initialized", client.State())
	}
	if client.IsDocumentOpen(uri) {
		t.Error("restart should forget open documents")
	}

	// The new process accepts the document again at version 1.
	if err := client.OpenDocument(ctx, uri, goplsSource, "go"); err != nil {
		t.Fatalf("OpenDocument after restart: %v", err)
	}
	if v, _ := client.DocumentVersion(uri); v != 1 {
		t.Errorf("DocumentVersion = %d, want 1", v)
	}
}
