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
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/lspengine/services/api"
	"github.com/AleutianAI/lspengine/services/lsp"
)

var errWatchNeedsRoot = errors.New("--watch requires a workspace root (--root or server.root_directory)")

// runServe exposes one client over HTTP until interrupted.
//
// With a root (--root or server.root_directory) the server is initialized
// before listening; otherwise clients call POST /v1/lsp/initialize.
// --watch additionally keeps the root in sync through the file watcher.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := env.cfg

	if cfg.HTTP.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := cfg.HTTP.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	root := rootDir
	if root == "" {
		root = cfg.Server.RootDirectory
	}
	if serveWatch && root == "" {
		return errWatchNeedsRoot
	}

	lang := env.languageFor("")
	var client *lsp.Client
	if root != "" {
		c, _, err := env.startClient(ctx, "", root)
		if err != nil {
			return err
		}
		client = c
	} else {
		cc, _, err := env.clientConfig(lang)
		if err != nil {
			return err
		}
		client = lsp.NewClient(cc)
	}
	defer client.Close()

	logger := env.logger.Slog()
	handlers := api.NewHandlers(client, logger)
	router := api.NewRouter(handlers, cfg.Telemetry.ServiceName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, addr, router, logger)
	})
	if serveWatch {
		w, err := newWatcher(root, client, lang)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return runWatcher(gctx, w)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
