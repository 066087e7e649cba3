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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lspengine/pkg/ux"
	"github.com/AleutianAI/lspengine/services/lsp"
)

type fileDiagnosticsOutput struct {
	File        string           `json:"file"`
	URI         string           `json:"uri"`
	Severity    string           `json:"severity"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics"`
}

// runDiagnostics opens every file on one server and waits until each has
// received at least one publish, or --wait elapses.
func runDiagnostics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, lang, err := env.startClient(ctx, args[0], "")
	if err != nil {
		return err
	}
	defer client.Close()

	var mu sync.Mutex
	seen := make(map[string]bool)
	notify := make(chan struct{}, 1)
	sub := client.SubscribeToDiagnostics(func(uri string, _ []lsp.Diagnostic) {
		mu.Lock()
		seen[uri] = true
		mu.Unlock()
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer client.UnsubscribeFromDiagnostics(sub)

	uris := make([]string, len(args))
	for i, path := range args {
		fileLang := lang
		if l, ok := env.presets.LanguageIDForPath(path); ok && languageID == "" {
			fileLang = l
		}
		if uris[i], err = openFile(ctx, client, path, fileLang); err != nil {
			return err
		}
	}

	allSeen := func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, uri := range uris {
			if !seen[uri] {
				return false
			}
		}
		return true
	}

	spin := env.printer.Spinner(fmt.Sprintf("Waiting for diagnostics on %d file(s)", len(uris)))
	spin.Start()
	timer := time.NewTimer(waitFor)
	defer timer.Stop()
wait:
	for !allSeen() {
		select {
		case <-notify:
		case <-timer.C:
			env.logger.Debug("stopped waiting for diagnostics", "wait", waitFor.String())
			break wait
		case <-ctx.Done():
			spin.Stop()
			return ctx.Err()
		}
	}
	spin.Stop()

	if jsonOutput {
		out := make([]fileDiagnosticsOutput, len(args))
		for i, path := range args {
			diags := client.GetDiagnostics(uris[i])
			out[i] = fileDiagnosticsOutput{
				File:        path,
				URI:         uris[i],
				Severity:    lsp.AggregateSeverity(diags).String(),
				Diagnostics: diags,
			}
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	var lines []ux.DiagnosticLine
	for i, path := range args {
		for _, d := range client.GetDiagnostics(uris[i]) {
			line := diagnosticLine(path, d)
			env.printer.Diagnostic(line)
			lines = append(lines, line)
		}
	}
	env.printer.DiagnosticSummary(lines)
	return nil
}

// diagnosticLine converts d for display, with 1-based positions.
func diagnosticLine(path string, d lsp.Diagnostic) ux.DiagnosticLine {
	return ux.DiagnosticLine{
		Path:     path,
		Line:     d.Range.Start.Line + 1,
		Column:   d.Range.Start.Character + 1,
		Severity: int(d.EffectiveSeverity()),
		Message:  d.Message,
		Source:   d.Source,
		Code:     strings.Trim(string(d.Code), `"`),
	}
}
