// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp is a client-side Language Server Protocol engine.
//
// It spawns an external language server, speaks the LSP base protocol over
// the server's stdio, and exposes a small host-facing API: document
// lifecycle, diagnostics, hover, completion and code actions.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                               Client                                  │
//	│  Initialize / Shutdown / Restart      OpenDocument / CloseDocument    │
//	│          │                                     │                      │
//	│          ▼                                     ▼                      │
//	│     Correlator ── framed writes ──►  server stdin                     │
//	│          ▲                                                            │
//	│          │ responses                                                  │
//	│    dispatch loop ◄── Message channel ◄── Decoder ◄── server stdout    │
//	│          │ notifications                                              │
//	│          ▼                                                            │
//	│   DiagnosticsStore ──► subscribers                                    │
//	└──────────────────────────────────────────────────────────────────────┘
//
// # Components
//
//   - Decoder: reassembles Content-Length frames from arbitrary byte chunks
//   - dispatch loop: one goroutine per server process, handles messages in order
//   - Correlator: request ids, pending calls and timeouts
//   - DiagnosticsStore: latest diagnostics per URI plus subscriber fan-out
//   - documentSet: open documents and their versions
//   - Client: process lifecycle and the public operations
//
// # Lifecycle
//
//	Unstarted ──Start──► Started ──Initialize──► Initialized
//	                                                 │
//	                                             Shutdown
//	                                                 ▼
//	                                   ShuttingDown ──► Stopped
//
// Restart tears down the current process and every piece of per-process
// state (request ids, pending calls, documents, diagnostics, subscribers)
// and spawns a fresh one.
//
// # Thread Safety
//
// All exported types are safe for concurrent use unless noted otherwise.
//
// # Example
//
//	client := lsp.NewClient(lsp.ClientConfig{
//	    Command: "gopls",
//	    Sink:    logger,
//	})
//	defer client.Close()
//
//	if err := client.Initialize(ctx, "/path/to/project"); err != nil {
//	    return err
//	}
//	_ = client.OpenDocument(ctx, "file:///path/to/project/main.go", src, "go")
//	text, _ := client.GetInfoOnLocation(ctx, "file:///path/to/project/main.go", lsp.Position{Line: 3, Character: 5})
package lsp
