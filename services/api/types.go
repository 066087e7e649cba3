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
	"github.com/AleutianAI/lspengine/services/lsp"
)

// =============================================================================
// REQUESTS
// =============================================================================

// InitializeRequest is the body of POST /initialize and POST /restart.
type InitializeRequest struct {
	// RootDirectory is the workspace root. Empty uses the server's cwd.
	RootDirectory string `json:"root_directory"`
}

// OpenDocumentRequest is the body of POST /documents/open.
type OpenDocumentRequest struct {
	URI        string `json:"uri" binding:"required"`
	Text       string `json:"text"`
	LanguageID string `json:"language_id" binding:"required"`
}

// CloseDocumentRequest is the body of POST /documents/close.
type CloseDocumentRequest struct {
	URI string `json:"uri" binding:"required"`
}

// PositionRequest is the body of POST /hover and POST /completion.
// Line and Character are 0-based; Character counts UTF-16 code units.
type PositionRequest struct {
	URI       string `json:"uri" binding:"required"`
	Line      int    `json:"line" binding:"gte=0"`
	Character int    `json:"character" binding:"gte=0"`
}

// CodeActionsRequest is the body of POST /code-actions.
type CodeActionsRequest struct {
	URI   string    `json:"uri" binding:"required"`
	Range lsp.Range `json:"range"`

	// Diff renders the edits of every action as a unified diff against the
	// files on disk.
	Diff bool `json:"diff"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// StateResponse describes the client lifecycle.
type StateResponse struct {
	State         string          `json:"state"`
	RootDirectory string          `json:"root_directory,omitempty"`
	ServerInfo    *lsp.ServerInfo `json:"server_info,omitempty"`
	Capabilities  CapabilitySet   `json:"capabilities"`
}

// CapabilitySet summarizes which queries the server supports.
type CapabilitySet struct {
	Hover      bool `json:"hover"`
	Completion bool `json:"completion"`
	CodeAction bool `json:"code_action"`
	Definition bool `json:"definition"`
}

// DocumentInfo is one open document.
type DocumentInfo struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// DocumentResponse is returned by POST /documents/open and /documents/close.
type DocumentResponse struct {
	URI     string `json:"uri"`
	Open    bool   `json:"open"`
	Version int    `json:"version,omitempty"`
}

// DocumentsResponse is returned by GET /documents.
type DocumentsResponse struct {
	Documents []DocumentInfo `json:"documents"`
}

// FileDiagnostics is the diagnostics list of one URI.
type FileDiagnostics struct {
	URI         string           `json:"uri"`
	Severity    string           `json:"severity"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics"`
}

// DiagnosticsResponse is returned by GET /diagnostics.
type DiagnosticsResponse struct {
	Files []FileDiagnostics `json:"files"`
}

// HoverResponse is returned by POST /hover.
type HoverResponse struct {
	Contents string `json:"contents"`
}

// CompletionResponse is returned by POST /completion.
type CompletionResponse struct {
	Items []lsp.CompletionItem `json:"items"`
}

// CodeActionsResponse is returned by POST /code-actions.
type CodeActionsResponse struct {
	Actions []lsp.CodeAction `json:"actions"`

	// Diffs holds one unified diff per action that carries an edit, keyed by
	// the action's index. Only filled when the request asked for diffs.
	Diffs map[int]string `json:"diffs,omitempty"`
}

// StreamEvent is one websocket frame of GET /diagnostics/stream.
type StreamEvent struct {
	// Type is "subscribed" for the first frame and "diagnostics" afterwards.
	Type         string           `json:"type"`
	Subscription string           `json:"subscription,omitempty"`
	URI          string           `json:"uri,omitempty"`
	Severity     string           `json:"severity,omitempty"`
	Diagnostics  []lsp.Diagnostic `json:"diagnostics,omitempty"`
}
