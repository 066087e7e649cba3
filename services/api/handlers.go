// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes an lsp.Client over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/AleutianAI/lspengine/pkg/telemetry"
	"github.com/AleutianAI/lspengine/services/lsp"
)

// ServiceVersion is reported by GET /health.
const ServiceVersion = "0.1.0"

// Engine is the part of *lsp.Client the handlers use.
type Engine interface {
	State() lsp.ClientState
	Capabilities() lsp.ServerCapabilities
	ServerInfo() *lsp.ServerInfo
	RootDirectory() string

	Initialize(ctx context.Context, rootDirectory string) error
	Restart(ctx context.Context, rootDirectory string) error
	Shutdown(ctx context.Context) error

	OpenDocument(ctx context.Context, uri, text, languageID string) error
	CloseDocument(ctx context.Context, uri string) error
	IsDocumentOpen(uri string) bool
	ListOpenDocuments() []string
	DocumentVersion(uri string) (int, bool)

	GetDiagnostics(uri string) []lsp.Diagnostic
	GetAllDiagnostics() map[string][]lsp.Diagnostic
	SubscribeToDiagnostics(fn lsp.DiagnosticsHandler) lsp.SubscriptionID
	UnsubscribeFromDiagnostics(id lsp.SubscriptionID)
	DiagnosticsSubscriptionDone(id lsp.SubscriptionID) <-chan struct{}

	GetInfoOnLocation(ctx context.Context, uri string, pos lsp.Position) (string, error)
	GetCompletion(ctx context.Context, uri string, pos lsp.Position) ([]lsp.CompletionItem, error)
	GetCodeActions(ctx context.Context, uri string, rng lsp.Range) ([]lsp.CodeAction, error)
}

var _ Engine = (*lsp.Client)(nil)

// Handlers contains the HTTP handlers for one Engine.
type Handlers struct {
	engine Engine
	logger *slog.Logger
	read   lsp.DocumentReader
}

// NewHandlers creates handlers for engine. A nil logger uses slog.Default().
func NewHandlers(engine Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, logger: logger, read: lsp.ReadFromDisk}
}

// WithDocumentReader replaces the reader used to render code action diffs.
func (h *Handlers) WithDocumentReader(read lsp.DocumentReader) *Handlers {
	h.read = read
	return h
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// HandleHealth handles GET /v1/lsp/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleState handles GET /v1/lsp/state.
func (h *Handlers) HandleState(c *gin.Context) {
	c.JSON(http.StatusOK, h.state())
}

// HandleInitialize handles POST /v1/lsp/initialize.
//
// Description:
//
//	Starts the server if needed and runs the handshake. Calling it on an
//	initialized client returns the current state.
//
// Response:
//
//	200 OK: StateResponse
//	400 Bad Request: Malformed body
//	409 Conflict: Client is shutting down or stopped
//	502 Bad Gateway: Server failed the handshake
func (h *Handlers) HandleInitialize(c *gin.Context) {
	logger := h.requestLogger(c, "HandleInitialize")

	var req InitializeRequest
	if !h.bindOptional(c, logger, &req) {
		return
	}

	if err := h.engine.Initialize(c.Request.Context(), req.RootDirectory); err != nil {
		h.fail(c, logger, "initialize failed", err)
		return
	}
	logger.Info("Language server initialized", slog.String("root", h.engine.RootDirectory()))
	c.JSON(http.StatusOK, h.state())
}

// HandleRestart handles POST /v1/lsp/restart.
func (h *Handlers) HandleRestart(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRestart")

	var req InitializeRequest
	if !h.bindOptional(c, logger, &req) {
		return
	}

	if err := h.engine.Restart(c.Request.Context(), req.RootDirectory); err != nil {
		h.fail(c, logger, "restart failed", err)
		return
	}
	logger.Info("Language server restarted", slog.String("state", h.engine.State().String()))
	c.JSON(http.StatusOK, h.state())
}

// HandleShutdown handles POST /v1/lsp/shutdown.
func (h *Handlers) HandleShutdown(c *gin.Context) {
	logger := h.requestLogger(c, "HandleShutdown")

	if err := h.engine.Shutdown(c.Request.Context()); err != nil {
		h.fail(c, logger, "shutdown failed", err)
		return
	}
	logger.Info("Language server shut down")
	c.JSON(http.StatusOK, h.state())
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// HandleOpenDocument handles POST /v1/lsp/documents/open.
//
// Description:
//
//	Opens the document, or sends its full new text when already open.
//
// Response:
//
//	200 OK: DocumentResponse with the version sent to the server
//	400 Bad Request: Malformed body or URI
//	409 Conflict: Client not initialized
func (h *Handlers) HandleOpenDocument(c *gin.Context) {
	logger := h.requestLogger(c, "HandleOpenDocument")

	var req OpenDocumentRequest
	if !h.bind(c, logger, &req) || !h.validURI(c, req.URI) {
		return
	}

	if err := h.engine.OpenDocument(c.Request.Context(), req.URI, req.Text, req.LanguageID); err != nil {
		h.fail(c, logger, "open failed", err)
		return
	}
	version, _ := h.engine.DocumentVersion(req.URI)
	c.JSON(http.StatusOK, DocumentResponse{URI: req.URI, Open: true, Version: version})
}

// HandleCloseDocument handles POST /v1/lsp/documents/close. Closing a
// document that is not open succeeds.
func (h *Handlers) HandleCloseDocument(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCloseDocument")

	var req CloseDocumentRequest
	if !h.bind(c, logger, &req) || !h.validURI(c, req.URI) {
		return
	}

	if err := h.engine.CloseDocument(c.Request.Context(), req.URI); err != nil {
		h.fail(c, logger, "close failed", err)
		return
	}
	c.JSON(http.StatusOK, DocumentResponse{URI: req.URI, Open: h.engine.IsDocumentOpen(req.URI)})
}

// HandleListDocuments handles GET /v1/lsp/documents.
func (h *Handlers) HandleListDocuments(c *gin.Context) {
	uris := h.engine.ListOpenDocuments()
	docs := make([]DocumentInfo, 0, len(uris))
	for _, uri := range uris {
		version, ok := h.engine.DocumentVersion(uri)
		if !ok {
			continue
		}
		docs = append(docs, DocumentInfo{URI: uri, Version: version})
	}
	c.JSON(http.StatusOK, DocumentsResponse{Documents: docs})
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// HandleDiagnostics handles GET /v1/lsp/diagnostics.
//
// Query Parameters:
//
//	uri - Optional. Restricts the result to one document.
func (h *Handlers) HandleDiagnostics(c *gin.Context) {
	if uri := c.Query("uri"); uri != "" {
		if !h.validURI(c, uri) {
			return
		}
		c.JSON(http.StatusOK, DiagnosticsResponse{Files: []FileDiagnostics{fileDiagnostics(uri, h.engine.GetDiagnostics(uri))}})
		return
	}

	all := h.engine.GetAllDiagnostics()
	uris := make([]string, 0, len(all))
	for uri := range all {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	files := make([]FileDiagnostics, 0, len(uris))
	for _, uri := range uris {
		files = append(files, fileDiagnostics(uri, all[uri]))
	}
	c.JSON(http.StatusOK, DiagnosticsResponse{Files: files})
}

func fileDiagnostics(uri string, diags []lsp.Diagnostic) FileDiagnostics {
	if diags == nil {
		diags = []lsp.Diagnostic{}
	}
	return FileDiagnostics{
		URI:         uri,
		Severity:    lsp.AggregateSeverity(diags).String(),
		Diagnostics: diags,
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// HandleHover handles POST /v1/lsp/hover.
//
// Response:
//
//	200 OK: HoverResponse. Contents is empty when the server had nothing
//	        or the request failed.
//	409 Conflict: Client not initialized
func (h *Handlers) HandleHover(c *gin.Context) {
	logger := h.requestLogger(c, "HandleHover")

	var req PositionRequest
	if !h.bind(c, logger, &req) || !h.validURI(c, req.URI) {
		return
	}

	text, err := h.engine.GetInfoOnLocation(c.Request.Context(), req.URI, lsp.Position{Line: req.Line, Character: req.Character})
	if err != nil {
		h.fail(c, logger, "hover failed", err)
		return
	}
	c.JSON(http.StatusOK, HoverResponse{Contents: text})
}

// HandleCompletion handles POST /v1/lsp/completion.
func (h *Handlers) HandleCompletion(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCompletion")

	var req PositionRequest
	if !h.bind(c, logger, &req) || !h.validURI(c, req.URI) {
		return
	}

	items, err := h.engine.GetCompletion(c.Request.Context(), req.URI, lsp.Position{Line: req.Line, Character: req.Character})
	if err != nil {
		h.fail(c, logger, "completion failed", err)
		return
	}
	c.JSON(http.StatusOK, CompletionResponse{Items: items})
}

// HandleCodeActions handles POST /v1/lsp/code-actions.
//
// Description:
//
//	Returns the code actions for the range. With diff set, every action
//	that carries a WorkspaceEdit is also rendered as a unified diff
//	against the files on disk; actions whose diff cannot be rendered are
//	left out of Diffs.
func (h *Handlers) HandleCodeActions(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCodeActions")

	var req CodeActionsRequest
	if !h.bind(c, logger, &req) || !h.validURI(c, req.URI) {
		return
	}

	actions, err := h.engine.GetCodeActions(c.Request.Context(), req.URI, req.Range)
	if err != nil {
		h.fail(c, logger, "code actions failed", err)
		return
	}

	resp := CodeActionsResponse{Actions: actions}
	if req.Diff {
		resp.Diffs = make(map[int]string)
		for i, action := range actions {
			if action.Edit == nil {
				continue
			}
			d, err := lsp.RenderWorkspaceEdit(*action.Edit, h.read)
			if err != nil {
				logger.Warn("Cannot render code action diff",
					slog.String("title", action.Title), slog.String("error", err.Error()))
				continue
			}
			resp.Diffs[i] = d
		}
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handlers) state() StateResponse {
	caps := h.engine.Capabilities()
	return StateResponse{
		State:         h.engine.State().String(),
		RootDirectory: h.engine.RootDirectory(),
		ServerInfo:    h.engine.ServerInfo(),
		Capabilities: CapabilitySet{
			Hover:      caps.HasHoverProvider(),
			Completion: caps.HasCompletionProvider(),
			CodeAction: caps.HasCodeActionProvider(),
			Definition: caps.HasDefinitionProvider(),
		},
	}
}

// requestLogger tags the request with an id and returns a logger for it.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", handler))
	if traceID := telemetry.TraceID(c.Request.Context()); traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}
	return logger
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (h *Handlers) bind(c *gin.Context, logger *slog.Logger, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return false
	}
	return true
}

// bindOptional binds a body that may be absent.
func (h *Handlers) bindOptional(c *gin.Context, logger *slog.Logger, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.bind(c, logger, req)
}

func (h *Handlers) validURI(c *gin.Context, uri string) bool {
	if strfmt.Default.Validates("uri", uri) {
		return true
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: fmt.Sprintf("invalid document uri %q", uri),
		Code:  "INVALID_URI",
	})
	return false
}

// fail maps an engine error onto a status code.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()))
	} else {
		logger.Warn(msg, slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func statusForError(err error) (int, string) {
	var respErr *lsp.ResponseError
	switch {
	case errors.Is(err, lsp.ErrNotInitialized):
		return http.StatusConflict, "NOT_INITIALIZED"
	case errors.Is(err, lsp.ErrNotStarted):
		return http.StatusConflict, "NOT_STARTED"
	case errors.Is(err, lsp.ErrClosed):
		return http.StatusServiceUnavailable, "CLIENT_CLOSED"
	case errors.Is(err, lsp.ErrServerNotInstalled):
		return http.StatusServiceUnavailable, "SERVER_NOT_INSTALLED"
	case errors.Is(err, lsp.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, lsp.ErrServerCrashed):
		return http.StatusBadGateway, "SERVER_CRASHED"
	case errors.As(err, &respErr):
		return http.StatusBadGateway, "SERVER_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
