// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/lspengine/pkg/telemetry"
)

// RegisterRoutes registers all /lsp routes on rg.
//
// Description:
//
//	The router group should already have any required middleware applied.
//
// Endpoints:
//
//	GET  /lsp/health - Liveness
//	GET  /lsp/state - Lifecycle state and capabilities
//	POST /lsp/initialize - Start and handshake
//	POST /lsp/restart - Restart the server
//	POST /lsp/shutdown - Graceful shutdown
//	GET  /lsp/documents - Open documents
//	POST /lsp/documents/open - Open or update a document
//	POST /lsp/documents/close - Close a document
//	GET  /lsp/diagnostics - Stored diagnostics
//	GET  /lsp/diagnostics/stream - Diagnostics websocket
//	POST /lsp/hover - Hover text
//	POST /lsp/completion - Completion items
//	POST /lsp/code-actions - Code actions
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	lsp := rg.Group("/lsp")
	{
		lsp.GET("/health", h.HandleHealth)
		lsp.GET("/state", h.HandleState)
		lsp.POST("/initialize", h.HandleInitialize)
		lsp.POST("/restart", h.HandleRestart)
		lsp.POST("/shutdown", h.HandleShutdown)

		lsp.GET("/documents", h.HandleListDocuments)
		lsp.POST("/documents/open", h.HandleOpenDocument)
		lsp.POST("/documents/close", h.HandleCloseDocument)

		lsp.GET("/diagnostics", h.HandleDiagnostics)
		lsp.GET("/diagnostics/stream", h.HandleDiagnosticsStream)

		lsp.POST("/hover", h.HandleHover)
		lsp.POST("/completion", h.HandleCompletion)
		lsp.POST("/code-actions", h.HandleCodeActions)
	}
}

// NewRouter builds the gin engine serving h under /v1, plus /metrics when
// the telemetry metrics handler is installed.
func NewRouter(h *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	RegisterRoutes(router.Group("/v1"), h)

	if metrics := telemetry.MetricsHandler(); metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}

// Serve runs handler on addr until ctx is canceled, then shuts the server
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
