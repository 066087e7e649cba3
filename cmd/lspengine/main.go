// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lspengine drives a language server from the command line.
//
// Usage:
//
//	lspengine hover main.go 12 5
//	lspengine complete main.go 12 9
//	lspengine actions main.go 3 5 --diff
//	lspengine diagnostics main.go util.go --wait 5s
//	lspengine watch ./src
//	lspengine serve --root . --watch
//
// Positions on the command line are 1-based, as editors display them.
//
// Example requests against serve:
//
//	# Initialize
//	curl -X POST http://127.0.0.1:12230/v1/lsp/initialize \
//	  -H "Content-Type: application/json" \
//	  -d '{"root_directory": "/path/to/project"}'
//
//	# Hover
//	curl -X POST http://127.0.0.1:12230/v1/lsp/hover \
//	  -H "Content-Type: application/json" \
//	  -d '{"uri": "file:///path/to/project/main.go", "line": 11, "character": 4}'
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeEnv()
	if err != nil {
		os.Exit(1)
	}
}
