// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lspengine/pkg/logging"
	"github.com/AleutianAI/lspengine/services/lsp"
)

type syncCall struct {
	op         string
	uri        string
	text       string
	languageID string
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []syncCall
	err   error
}

func (f *fakeSyncer) OpenDocument(_ context.Context, uri, text, languageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, syncCall{op: "open", uri: uri, text: text, languageID: languageID})
	return nil
}

func (f *fakeSyncer) CloseDocument(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, syncCall{op: "close", uri: uri})
	return nil
}

func (f *fakeSyncer) snapshot() []syncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncCall(nil), f.calls...)
}

func newTestWatcher(t *testing.T, syncer DocumentSyncer, mutate ...func(*Options)) (*Watcher, string) {
	t.Helper()
	root := t.TempDir()
	opts := Options{
		LanguageID:        "go",
		Extensions:        []string{".go"},
		Debounce:          20 * time.Millisecond,
		MaxSyncsPerSecond: 1000,
		Burst:             100,
	}
	for _, m := range mutate {
		m(&opts)
	}
	w, err := New(root, syncer, opts)
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w, w.Root()
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func uriOf(t *testing.T, path string) string {
	t.Helper()
	uri, err := lsp.PathToURI(path)
	require.NoError(t, err)
	return uri
}

func TestNew(t *testing.T) {
	t.Run("nil syncer", func(t *testing.T) {
		_, err := New(t.TempDir(), nil, Options{})
		assert.Error(t, err)
	})

	t.Run("zero options take defaults", func(t *testing.T) {
		w, err := New(t.TempDir(), &fakeSyncer{}, Options{})
		require.NoError(t, err)
		defer w.Stop()

		assert.Equal(t, 200*time.Millisecond, w.opts.Debounce)
		assert.Equal(t, DefaultOptions().Ignore, w.opts.Ignore)
		assert.False(t, w.IsWatching())
	})
}

func TestDeduplicateChanges(t *testing.T) {
	in := []FileChange{
		{Path: "/a", Op: FileOpCreate},
		{Path: "/b", Op: FileOpWrite},
		{Path: "/a", Op: FileOpRemove},
	}
	got := deduplicateChanges(in)
	require.Len(t, got, 2)
	assert.Equal(t, FileChange{Path: "/a", Op: FileOpRemove}, got[0])
	assert.Equal(t, "/b", got[1].Path)
}

func TestWatcher_Filters(t *testing.T) {
	w, root := newTestWatcher(t, &fakeSyncer{}, func(o *Options) {
		o.Ignore = []string{".git", "vendor", "*.tmp"}
	})

	tests := []struct {
		path       string
		wantIgnore bool
		wantMatch  bool
	}{
		{"main.go", false, true},
		{"pkg/util.go", false, true},
		{"README.md", false, false},
		{"vendor/x/y.go", true, true},
		{".git/HEAD", true, false},
		{"scratch.tmp", true, false},
		{"MAIN.GO", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			path := filepath.Join(root, tt.path)
			assert.Equal(t, tt.wantIgnore, w.shouldIgnore(path))
			assert.Equal(t, tt.wantMatch, w.matches(path))
		})
	}

	assert.False(t, w.shouldIgnore(root), "root itself is never ignored")
}

func TestWatcher_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("write opens with contents, remove closes", func(t *testing.T) {
		syncer := &fakeSyncer{}
		w, root := newTestWatcher(t, syncer)
		path := filepath.Join(root, "main.go")
		writeFile(t, path, "package main\n")

		w.apply(ctx, []FileChange{{Path: path, Op: FileOpWrite}, {Path: path, Op: FileOpRemove}})

		assert.Equal(t, []syncCall{
			{op: "open", uri: uriOf(t, path), text: "package main\n", languageID: "go"},
			{op: "close", uri: uriOf(t, path)},
		}, syncer.snapshot())
		assert.Equal(t, Stats{Opened: 1, Closed: 1}, w.Stats())
	})

	t.Run("vanished file is skipped quietly", func(t *testing.T) {
		syncer := &fakeSyncer{}
		w, root := newTestWatcher(t, syncer)

		w.apply(ctx, []FileChange{{Path: filepath.Join(root, "gone.go"), Op: FileOpWrite}})

		assert.Empty(t, syncer.snapshot())
		assert.Equal(t, Stats{}, w.Stats())
	})

	t.Run("syncer failure is counted and logged", func(t *testing.T) {
		rec := &logging.Recorder{}
		syncer := &fakeSyncer{err: errors.New("not initialized")}
		w, root := newTestWatcher(t, syncer, func(o *Options) { o.Sink = rec })
		path := filepath.Join(root, "main.go")
		writeFile(t, path, "package main\n")

		w.apply(ctx, []FileChange{{Path: path, Op: FileOpCreate}})

		assert.Equal(t, int64(1), w.Stats().Failed)
		assert.True(t, rec.Contains(logging.LevelWarning, "not initialized"))
	})

	t.Run("canceled context stops syncing", func(t *testing.T) {
		syncer := &fakeSyncer{}
		w, root := newTestWatcher(t, syncer)
		path := filepath.Join(root, "main.go")
		writeFile(t, path, "package main\n")

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		w.apply(canceled, []FileChange{{Path: path, Op: FileOpWrite}})

		assert.Empty(t, syncer.snapshot())
	})
}

func TestWatcher_OpenExisting(t *testing.T) {
	syncer := &fakeSyncer{}
	w, root := newTestWatcher(t, syncer)
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "pkg", "util.go"), "package pkg\n")
	writeFile(t, filepath.Join(root, "vendor", "dep", "dep.go"), "package dep\n")
	writeFile(t, filepath.Join(root, "notes.txt"), "hello")

	require.NoError(t, w.OpenExisting(context.Background()))

	var uris []string
	for _, c := range syncer.snapshot() {
		assert.Equal(t, "open", c.op)
		uris = append(uris, c.uri)
	}
	assert.Equal(t, []string{
		uriOf(t, filepath.Join(root, "main.go")),
		uriOf(t, filepath.Join(root, "pkg", "util.go")),
	}, uris)
}

func TestWatcher_Events(t *testing.T) {
	syncer := &fakeSyncer{}
	w, root := newTestWatcher(t, syncer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx), "second start is a no-op")
	assert.True(t, w.IsWatching())

	path := filepath.Join(root, "main.go")
	writeFile(t, path, "package main\n")

	assert.Eventually(t, func() bool {
		for _, c := range syncer.snapshot() {
			if c.op == "open" && c.uri == uriOf(t, path) && c.text == "package main\n" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	t.Run("new subdirectories are watched", func(t *testing.T) {
		nested := filepath.Join(root, "sub", "nested.go")
		require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
		time.Sleep(50 * time.Millisecond)
		writeFile(t, nested, "package sub\n")

		assert.Eventually(t, func() bool {
			for _, c := range syncer.snapshot() {
				if c.op == "open" && c.uri == uriOf(t, nested) {
					return true
				}
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("remove closes", func(t *testing.T) {
		require.NoError(t, os.Remove(path))
		assert.Eventually(t, func() bool {
			calls := syncer.snapshot()
			last := calls[len(calls)-1]
			return last.op == "close" && last.uri == uriOf(t, path)
		}, 2*time.Second, 10*time.Millisecond)
	})

	w.Stop()
	assert.False(t, w.IsWatching())
}
