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
	"strings"

	"github.com/AleutianAI/lspengine/pkg/logging"
)

// LSP method names used by the engine.
const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodDidClose           = "textDocument/didClose"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodHover              = "textDocument/hover"
	MethodCompletion         = "textDocument/completion"
	MethodCodeAction         = "textDocument/codeAction"
	MethodLogMessage         = "window/logMessage"
	MethodShowMessage        = "window/showMessage"
	MethodConfiguration      = "workspace/configuration"
)

// levelForMethod picks the log level used when tracing a message on the wire.
func levelForMethod(method string) logging.Level {
	switch {
	case method == MethodPublishDiagnostics:
		return logging.LevelInfo
	case strings.HasPrefix(method, "textDocument/did"):
		return logging.LevelDebug
	case method == MethodInitialize, method == MethodInitialized,
		method == MethodShutdown, method == MethodExit:
		return logging.LevelNotice
	default:
		return logging.LevelDebug
	}
}

// levelForMessageType maps window/logMessage types onto sink levels.
func levelForMessageType(t MessageType) logging.Level {
	switch t {
	case MessageTypeError:
		return logging.LevelError
	case MessageTypeWarning:
		return logging.LevelWarning
	case MessageTypeInfo:
		return logging.LevelInfo
	default:
		return logging.LevelDebug
	}
}
