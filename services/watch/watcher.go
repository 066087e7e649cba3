// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch keeps the documents of an lsp.Client in sync with a
// directory tree.
//
// Every debounced create or write re-opens the file (the client turns a
// re-open into a full-text didChange); every remove or rename closes it.
// Syncs are rate limited so a mass checkout cannot flood the server.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/lspengine/pkg/logging"
	"github.com/AleutianAI/lspengine/services/lsp"
)

// FileChange represents a file system change event.
type FileChange struct {
	// Path is the absolute path to the changed file.
	Path string

	// Op is the type of change.
	Op FileOp

	// Time is when the change was detected.
	Time time.Time
}

// FileOp represents the type of file operation.
type FileOp int

const (
	// FileOpCreate indicates a file was created.
	FileOpCreate FileOp = iota

	// FileOpWrite indicates a file was modified.
	FileOpWrite

	// FileOpRemove indicates a file was deleted.
	FileOpRemove

	// FileOpRename indicates a file was renamed away.
	FileOpRename
)

// String returns the string representation of the operation.
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "create"
	case FileOpWrite:
		return "write"
	case FileOpRemove:
		return "remove"
	case FileOpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// DocumentSyncer is the part of lsp.Client the watcher drives.
type DocumentSyncer interface {
	OpenDocument(ctx context.Context, uri, text, languageID string) error
	CloseDocument(ctx context.Context, uri string) error
}

var _ DocumentSyncer = (*lsp.Client)(nil)

// Options configures a Watcher.
type Options struct {
	// LanguageID is sent with every didOpen.
	LanguageID string

	// Extensions limits syncing to these file extensions (e.g., ".go").
	// Empty syncs every file.
	Extensions []string

	// Debounce is how long to wait for more changes before syncing.
	// Default: 200ms
	Debounce time.Duration

	// Ignore are base names or glob patterns of files and directories to skip.
	Ignore []string

	// MaxSyncsPerSecond and Burst bound how fast documents are sent.
	// Default: 20 per second, burst 10
	MaxSyncsPerSecond float64
	Burst             int

	// BufferSize is the size of the change channel.
	// Default: 1000
	BufferSize int

	// Sink receives watcher logs. Default: discard.
	Sink logging.Sink
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Debounce:          200 * time.Millisecond,
		Ignore:            []string{".git", "node_modules", "vendor", ".idea", "*.swp", "*.tmp", "*~"},
		MaxSyncsPerSecond: 20,
		Burst:             10,
		BufferSize:        1000,
	}
}

// Stats counts what the watcher has done.
type Stats struct {
	Opened int64
	Closed int64
	Failed int64
}

// Watcher syncs file changes under a root into a DocumentSyncer.
//
// # Thread Safety
//
// Safe for concurrent use. Syncs happen on a single goroutine, in the
// order the debounced batch was collected.
type Watcher struct {
	root    string
	syncer  DocumentSyncer
	opts    Options
	sink    logging.Sink
	limiter *rate.Limiter
	watcher *fsnotify.Watcher

	changes  chan FileChange
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.RWMutex
	watching bool

	opened atomic.Int64
	closed atomic.Int64
	failed atomic.Int64
}

// New creates a Watcher for root. Call Start to begin watching.
//
// # Inputs
//
//   - root: Directory to watch recursively.
//   - syncer: Receives open and close calls, normally an *lsp.Client.
//   - opts: Configuration. Zero fields take DefaultOptions values.
func New(root string, syncer DocumentSyncer, opts Options) (*Watcher, error) {
	if syncer == nil {
		return nil, errors.New("syncer must not be nil")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	defaults := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = defaults.Debounce
	}
	if opts.Ignore == nil {
		opts.Ignore = defaults.Ignore
	}
	if opts.MaxSyncsPerSecond <= 0 {
		opts.MaxSyncsPerSecond = defaults.MaxSyncsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = defaults.Burst
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	sink := opts.Sink
	if sink == nil {
		sink = logging.Nop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:    abs,
		syncer:  syncer,
		opts:    opts,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(opts.MaxSyncsPerSecond), opts.Burst),
		watcher: fw,
		changes: make(chan FileChange, opts.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Start begins watching for file changes.
//
// # Description
//
// Recursively watches the root directory and spawns the event and
// debounce goroutines. Both exit when Stop is called or ctx is canceled.
// Starting an already running watcher does nothing.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.sink.Log(logging.LevelInfo, fmt.Sprintf("watch: watching %s", w.root))
	return nil
}

// Stop stops the watcher and waits for pending syncs to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
	w.wg.Wait()
}

// IsWatching returns true if the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// Stats returns the running totals.
func (w *Watcher) Stats() Stats {
	return Stats{
		Opened: w.opened.Load(),
		Closed: w.closed.Load(),
		Failed: w.failed.Load(),
	}
}

// OpenExisting opens every matching file already under the root.
func (w *Watcher) OpenExisting(ctx context.Context) error {
	var batch []FileChange
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if w.shouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && w.matches(path) {
			batch = append(batch, FileChange{Path: path, Op: FileOpCreate, Time: time.Now()})
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.apply(ctx, batch)
	return nil
}

// addRecursive adds a directory and all subdirectories to the watch list.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// shouldIgnore checks the path components below the root against the
// ignore patterns.
func (w *Watcher) shouldIgnore(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		for _, pattern := range w.opts.Ignore {
			if part == pattern {
				return true
			}
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}

// matches reports whether path has one of the configured extensions.
func (w *Watcher) matches(path string) bool {
	if len(w.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range w.opts.Extensions {
		if strings.ToLower(want) == ext {
			return true
		}
	}
	return false
}

// processEvents converts fsnotify events to FileChange and queues them.
func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if isDir(event.Name) {
					if err := w.addRecursive(event.Name); err != nil {
						w.sink.Log(logging.LevelWarning, fmt.Sprintf("watch: cannot watch %s: %v", event.Name, err))
					}
					continue
				}
			}
			if !w.matches(event.Name) {
				continue
			}

			change := FileChange{Path: event.Name, Op: convertOp(event.Op), Time: time.Now()}
			select {
			case w.changes <- change:
			default:
				w.sink.Log(logging.LevelWarning, fmt.Sprintf("watch: change buffer full, dropped %s", event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sink.Log(logging.LevelError, fmt.Sprintf("watch: %v", err))
		}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// convertOp converts fsnotify.Op to FileOp.
func convertOp(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	case op.Has(fsnotify.Create):
		return FileOpCreate
	default:
		return FileOpWrite
	}
}

// debounceLoop batches changes and syncs them after the debounce window.
func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	var batch []FileChange
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			w.apply(ctx, deduplicateChanges(batch))
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// deduplicateChanges keeps the most recent change per path, in order of
// first appearance.
func deduplicateChanges(changes []FileChange) []FileChange {
	seen := make(map[string]int)
	result := make([]FileChange, 0, len(changes))

	for _, change := range changes {
		if idx, exists := seen[change.Path]; exists {
			result[idx] = change
		} else {
			seen[change.Path] = len(result)
			result = append(result, change)
		}
	}
	return result
}

// apply sends one open or close per change, waiting on the rate limiter.
func (w *Watcher) apply(ctx context.Context, changes []FileChange) {
	for _, change := range changes {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		uri, err := lsp.PathToURI(change.Path)
		if err != nil {
			w.failed.Add(1)
			w.sink.Log(logging.LevelWarning, fmt.Sprintf("watch: %v", err))
			continue
		}

		switch change.Op {
		case FileOpRemove, FileOpRename:
			if err := w.syncer.CloseDocument(ctx, uri); err != nil {
				w.failed.Add(1)
				w.sink.Log(logging.LevelWarning, fmt.Sprintf("watch: close %s: %v", uri, err))
				continue
			}
			w.closed.Add(1)
			w.sink.Log(logging.LevelDebug, fmt.Sprintf("watch: closed %s", uri))

		default:
			data, err := os.ReadFile(change.Path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					w.failed.Add(1)
					w.sink.Log(logging.LevelWarning, fmt.Sprintf("watch: read %s: %v", change.Path, err))
				}
				continue
			}
			if err := w.syncer.OpenDocument(ctx, uri, string(data), w.opts.LanguageID); err != nil {
				w.failed.Add(1)
				w.sink.Log(logging.LevelWarning, fmt.Sprintf("watch: open %s: %v", uri, err))
				continue
			}
			w.opened.Add(1)
			w.sink.Log(logging.LevelDebug, fmt.Sprintf("watch: synced %s (%s)", uri, change.Op))
		}
	}
}
