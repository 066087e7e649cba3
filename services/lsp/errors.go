// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for LSP operations.
var (
	// ErrNotStarted indicates no server process is running.
	ErrNotStarted = errors.New("lsp server not started")

	// ErrNotInitialized indicates the operation requires the Initialized state.
	ErrNotInitialized = errors.New("lsp client not initialized")

	// ErrAlreadyStarted indicates Start was called while a process is running.
	ErrAlreadyStarted = errors.New("lsp server already started")

	// ErrRequestTimeout indicates no response arrived within the request timeout.
	ErrRequestTimeout = errors.New("lsp request timeout")

	// ErrServerCrashed indicates the server process went away while a
	// request was in flight.
	ErrServerCrashed = errors.New("lsp server crashed")

	// ErrInvalidMessage indicates a frame payload is not a valid JSON-RPC message.
	ErrInvalidMessage = errors.New("invalid lsp message")

	// ErrFrameTooLarge indicates a frame header advertised more than the maximum size.
	ErrFrameTooLarge = errors.New("lsp frame exceeds maximum size")

	// ErrServerNotInstalled indicates the server binary was not found on PATH.
	ErrServerNotInstalled = errors.New("lsp server not installed")

	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("lsp client closed")
)

// JSON-RPC and LSP error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
)

// ResponseError is the error member of a JSON-RPC response.
//
// It doubles as the Go error returned to callers when the server answers
// a request with an error, so callers can inspect the code with errors.As:
//
//	var rerr *lsp.ResponseError
//	if errors.As(err, &rerr) && rerr.IsMethodNotFound() {
//	    ...
//	}
type ResponseError struct {
	// Code is the JSON-RPC error code.
	Code int `json:"code"`

	// Message is the error message from the server.
	Message string `json:"message"`

	// Data contains optional additional data about the error.
	Data json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("LSP error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("LSP error %d: %s", e.Code, e.Message)
}

// IsParseError returns true if this is a JSON-RPC parse error.
func (e *ResponseError) IsParseError() bool {
	return e.Code == CodeParseError
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *ResponseError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *ResponseError) IsRequestCancelled() bool {
	return e.Code == CodeRequestCancelled
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *ResponseError) IsServerNotInitialized() bool {
	return e.Code == CodeServerNotInitialized
}
