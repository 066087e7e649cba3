// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lspengine/services/lsp"
	"github.com/AleutianAI/lspengine/services/watch"
)

// runWatch keeps a server in sync with a directory and prints every
// diagnostics publish until interrupted.
func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	root := rootDir
	if root == "" {
		root = dir
	}

	client, lang, err := env.startClient(ctx, "", root)
	if err != nil {
		return err
	}
	defer client.Close()

	w, err := newWatcher(dir, client, lang)
	if err != nil {
		return err
	}

	sub := client.SubscribeToDiagnostics(func(uri string, diags []lsp.Diagnostic) {
		path, err := lsp.URIToPath(uri)
		if err != nil {
			path = uri
		} else if rel, err := filepath.Rel(w.Root(), path); err == nil {
			path = rel
		}
		if len(diags) == 0 {
			env.printer.Success(path + " clean")
			return
		}
		for _, d := range diags {
			env.printer.Diagnostic(diagnosticLine(path, d))
		}
	})
	err = runWatcher(ctx, w)
	client.UnsubscribeFromDiagnostics(sub)
	if err != nil {
		return err
	}

	stats := w.Stats()
	env.printer.Info(fmt.Sprintf("Synced %d opens, %d closes, %d failures", stats.Opened, stats.Closed, stats.Failed))
	return nil
}

// newWatcher builds a watcher for dir using the preset's extensions unless
// the configuration lists its own.
func newWatcher(dir string, client *lsp.Client, lang string) (*watch.Watcher, error) {
	opts := watch.DefaultOptions()
	opts.LanguageID = lang
	if preset, ok := env.presets.Get(lang); ok {
		opts.Extensions = preset.Extensions
	}
	if len(env.cfg.Watch.Extensions) > 0 {
		opts.Extensions = env.cfg.Watch.Extensions
	}
	if len(env.cfg.Watch.Ignore) > 0 {
		opts.Ignore = env.cfg.Watch.Ignore
	}
	opts.Debounce = env.cfg.Watch.Debounce
	opts.MaxSyncsPerSecond = env.cfg.Watch.MaxSyncsPerSecond
	opts.Burst = env.cfg.Watch.Burst
	opts.Sink = env.logger
	return watch.New(dir, client, opts)
}

// runWatcher opens the files already present, then watches until ctx ends.
func runWatcher(ctx context.Context, w *watch.Watcher) error {
	if err := w.OpenExisting(ctx); err != nil {
		return fmt.Errorf("failed to open existing files: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}
