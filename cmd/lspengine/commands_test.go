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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lspengine/pkg/ux"
	"github.com/AleutianAI/lspengine/services/lsp"
	"github.com/AleutianAI/lspengine/services/lsp/lsptest"
)

const testConfig = `server:
  language_id: go
  command: fake-ls
engine:
  request_timeout: 1s
logging:
  level: error
  quiet: true
telemetry:
  service_name: lspengine-test
  trace_exporter: none
  metric_exporter: none
watch:
  debounce: 10ms
`

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// cli runs the root command against in-memory language servers.
type cli struct {
	t       *testing.T
	config  string
	spawner *lsptest.Spawner
}

func newCLI(t *testing.T, setup func(*lsptest.Server)) *cli {
	t.Helper()
	t.Setenv(ux.ModeEnv, string(ux.ModeMachine))

	path := filepath.Join(t.TempDir(), "lspengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0644))

	c := &cli{t: t, config: path, spawner: &lsptest.Spawner{Setup: setup}}
	spawner = c.spawner
	t.Cleanup(func() { spawner = nil })
	return c
}

func (c *cli) run(args ...string) cliResult {
	return c.runContext(context.Background(), args...)
}

func (c *cli) runContext(ctx context.Context, args ...string) cliResult {
	c.t.Helper()
	resetFlags(rootCmd)
	defer closeEnv()

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", c.config}, args...))

	err := rootCmd.ExecuteContext(ctx)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// resetFlags restores every flag to its default between runs, since the
// command tree is shared.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func writeSource(t *testing.T, dir, name, text string) (string, string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	uri, err := lsp.PathToURI(path)
	require.NoError(t, err)
	return path, uri
}

// publishOnOpen makes the server publish diags for every opened document.
func publishOnOpen(diags []lsp.Diagnostic) func(*lsptest.Server) {
	return func(s *lsptest.Server) {
		s.Handle(lsp.MethodDidOpen, func(params json.RawMessage) (interface{}, *lsp.ResponseError) {
			var p lsp.DidOpenTextDocumentParams
			if err := json.Unmarshal(params, &p); err == nil {
				_ = s.PublishDiagnostics(p.TextDocument.URI, diags)
			}
			return nil, nil
		})
	}
}

// =============================================================================
// Argument parsing
// =============================================================================

func TestParsePosition(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		col     string
		want    lsp.Position
		wantErr bool
	}{
		{name: "first character", line: "1", col: "1", want: lsp.Position{}},
		{name: "converts to zero based", line: "12", col: "5", want: lsp.Position{Line: 11, Character: 4}},
		{name: "zero line", line: "0", col: "1", wantErr: true},
		{name: "negative column", line: "1", col: "-3", wantErr: true},
		{name: "not a number", line: "x", col: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePosition(tt.line, tt.col)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Queries
// =============================================================================

func TestHoverCommand(t *testing.T) {
	c := newCLI(t, func(s *lsptest.Server) {
		s.HandleRaw(lsp.MethodHover, `{"contents":{"kind":"markdown","value":"func Foo() int"}}`)
	})
	path, uri := writeSource(t, t.TempDir(), "main.go", "package main\n\nfunc Foo() int { return 1 }\n")

	res := c.run("hover", path, "3", "6")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, path+":3:6:")
	assert.Contains(t, res.stdout, "func Foo() int")

	srv := c.spawner.Last()
	require.NotNil(t, srv)
	hovers := srv.Messages(lsp.MethodHover)
	require.Len(t, hovers, 1)
	var params lsp.HoverParams
	require.NoError(t, json.Unmarshal(hovers[0].Params, &params))
	assert.Equal(t, uri, params.TextDocument.URI)
	assert.Equal(t, lsp.Position{Line: 2, Character: 5}, params.Position)

	assert.Len(t, srv.Messages(lsp.MethodShutdown), 1, "client must shut the server down")
}

func TestHoverCommand_JSON(t *testing.T) {
	c := newCLI(t, func(s *lsptest.Server) {
		s.HandleRaw(lsp.MethodHover, `{"contents":"plain text"}`)
	})
	path, _ := writeSource(t, t.TempDir(), "main.go", "package main\n")

	res := c.run("hover", "--json", path, "1", "1")
	require.NoError(t, res.err, res.stderr)

	var out hoverOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "plain text", out.Contents)
	assert.Equal(t, 0, out.Line)
}

func TestHoverCommand_InvalidPosition(t *testing.T) {
	c := newCLI(t, nil)
	path, _ := writeSource(t, t.TempDir(), "main.go", "package main\n")

	res := c.run("hover", path, "0", "1")
	assert.Error(t, res.err)
	assert.Empty(t, c.spawner.Servers(), "no server is started for bad arguments")
}

func TestCompleteCommand(t *testing.T) {
	c := newCLI(t, func(s *lsptest.Server) {
		s.HandleRaw(lsp.MethodCompletion, `{"isIncomplete":false,"items":[
			{"label":"Println","detail":"func(a ...any)"},
			{"label":"Printf","detail":"func(format string, a ...any)"}]}`)
	})
	path, _ := writeSource(t, t.TempDir(), "main.go", "package main\n")

	res := c.run("complete", path, "1", "1")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Println\tfunc(a ...any)\n")
	assert.Contains(t, res.stdout, "Printf\tfunc(format string, a ...any)\n")
}

func TestActionsCommand_Diff(t *testing.T) {
	dir := t.TempDir()
	path, uri := writeSource(t, dir, "main.go", "package main\n\nvar x = 1\n")

	c := newCLI(t, func(s *lsptest.Server) {
		s.HandleResult(lsp.MethodCodeAction, []interface{}{
			lsp.CodeAction{
				Title: "Rename x to y",
				Kind:  "refactor.rewrite",
				Edit: &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
					uri: {{
						Range:   lsp.Range{Start: lsp.Position{Line: 2, Character: 4}, End: lsp.Position{Line: 2, Character: 5}},
						NewText: "y",
					}},
				}},
			},
			lsp.Command{Title: "Organize imports", Command: "source.organizeImports"},
		})
	})

	res := c.run("actions", "--diff", path, "3", "5")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "1. Rename x to y\trefactor.rewrite\n")
	assert.Contains(t, res.stdout, "-var x = 1\n")
	assert.Contains(t, res.stdout, "+var y = 1\n")
	assert.Contains(t, res.stdout, "2. Organize imports\tcommand: source.organizeImports\n")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nvar x = 1\n", string(content), "preview must not touch the file")
}

func TestActionsCommand_Range(t *testing.T) {
	c := newCLI(t, func(s *lsptest.Server) {
		s.HandleRaw(lsp.MethodCodeAction, `[]`)
	})
	path, _ := writeSource(t, t.TempDir(), "main.go", "package main\n")

	t.Run("end before start", func(t *testing.T) {
		res := c.run("actions", path, "3", "1", "2", "1")
		assert.ErrorContains(t, res.err, "before start")
	})

	t.Run("explicit range", func(t *testing.T) {
		res := c.run("actions", path, "1", "1", "1", "8")
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "No code actions")

		var params lsp.CodeActionParams
		msgs := c.spawner.Last().Messages(lsp.MethodCodeAction)
		require.Len(t, msgs, 1)
		require.NoError(t, json.Unmarshal(msgs[0].Params, &params))
		assert.Equal(t, lsp.Position{Line: 0, Character: 7}, params.Range.End)
	})

	t.Run("wrong arity", func(t *testing.T) {
		res := c.run("actions", path, "1", "1", "2")
		assert.Error(t, res.err)
	})
}

// =============================================================================
// Diagnostics
// =============================================================================

func TestDiagnosticsCommand(t *testing.T) {
	c := newCLI(t, publishOnOpen([]lsp.Diagnostic{
		{
			Range:    lsp.Range{Start: lsp.Position{Line: 3, Character: 1}},
			Severity: lsp.SeverityError,
			Source:   "compiler",
			Code:     json.RawMessage(`"UndeclaredName"`),
			Message:  "undefined: x",
		},
		{Message: "consider simplifying"},
	}))
	dir := t.TempDir()
	a, _ := writeSource(t, dir, "a.go", "package main\n")
	b, _ := writeSource(t, dir, "b.go", "package main\n")

	res := c.run("diagnostics", "--wait", "2s", a, b)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, a+":4:2: error: undefined: x [compiler UndeclaredName]\n")
	assert.Contains(t, res.stdout, b+":1:1: hint: consider simplifying\n")
	assert.Contains(t, res.stdout, "SUMMARY: errors=2 warnings=0 info=0 hints=2\n")
	assert.Len(t, c.spawner.Servers(), 1, "all files share one server")
}

func TestDiagnosticsCommand_JSON(t *testing.T) {
	c := newCLI(t, publishOnOpen([]lsp.Diagnostic{{Severity: lsp.SeverityWarning, Message: "unused"}}))
	path, uri := writeSource(t, t.TempDir(), "main.go", "package main\n")

	res := c.run("diagnostics", "--json", path)
	require.NoError(t, res.err, res.stderr)

	var out []fileDiagnosticsOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out, 1)
	assert.Equal(t, uri, out[0].URI)
	assert.Equal(t, "warning", out[0].Severity)
	require.Len(t, out[0].Diagnostics, 1)
}

func TestDiagnosticsCommand_WaitElapses(t *testing.T) {
	c := newCLI(t, nil)
	path, _ := writeSource(t, t.TempDir(), "main.go", "package main\n")

	start := time.Now()
	res := c.run("diagnostics", "--wait", "50ms", path)
	require.NoError(t, res.err, res.stderr)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, res.stdout, "SUMMARY: errors=0 warnings=0 info=0 hints=0\n")
}

// =============================================================================
// Long running commands
// =============================================================================

func TestWatchCommand(t *testing.T) {
	c := newCLI(t, publishOnOpen(nil))
	dir := t.TempDir()
	_, uri := writeSource(t, dir, "main.go", "package main\n")
	writeSource(t, dir, "README.md", "# readme\n")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	res := c.runContext(ctx, "watch", dir)
	require.NoError(t, res.err, res.stderr)

	srv := c.spawner.Last()
	require.NotNil(t, srv)
	opens := srv.Messages(lsp.MethodDidOpen)
	require.Len(t, opens, 1, "only files of the preset's extensions are opened")
	var params lsp.DidOpenTextDocumentParams
	require.NoError(t, json.Unmarshal(opens[0].Params, &params))
	assert.Equal(t, uri, params.TextDocument.URI)
	assert.Equal(t, "go", params.TextDocument.LanguageID)

	assert.Contains(t, res.stdout, "OK: main.go clean\n")
	assert.Contains(t, res.stdout, "Synced 1 opens, 0 closes, 0 failures\n")
}

func TestServeCommand(t *testing.T) {
	c := newCLI(t, nil)
	root := t.TempDir()

	t.Run("initializes root and shuts down on cancel", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		res := c.runContext(ctx, "serve", "--addr", "127.0.0.1:0", "--root", root)
		require.NoError(t, res.err, res.stderr)

		srv := c.spawner.Last()
		require.NotNil(t, srv)
		assert.Len(t, srv.Messages(lsp.MethodInitialize), 1)
		assert.Len(t, srv.Messages(lsp.MethodShutdown), 1)
	})

	t.Run("watch requires a root", func(t *testing.T) {
		res := c.run("serve", "--addr", "127.0.0.1:0", "--watch")
		assert.ErrorIs(t, res.err, errWatchNeedsRoot)
	})
}

// =============================================================================
// Setup and utilities
// =============================================================================

func TestUnknownLanguage(t *testing.T) {
	c := newCLI(t, nil)
	require.NoError(t, os.WriteFile(c.config, []byte(`server:
  language_id: cobol
telemetry:
  metric_exporter: none
logging:
  quiet: true
`), 0644))
	path, _ := writeSource(t, t.TempDir(), "ledger.cbl", "IDENTIFICATION DIVISION.\n")

	res := c.run("hover", path, "1", "1")
	assert.ErrorIs(t, res.err, errUnknownLanguage)
	assert.Empty(t, c.spawner.Servers())
}

func TestInvalidLogLevel(t *testing.T) {
	c := newCLI(t, nil)
	path, _ := writeSource(t, t.TempDir(), "main.go", "package main\n")

	res := c.run("--log-level", "loud", "hover", path, "1", "1")
	assert.ErrorContains(t, res.err, "invalid --log-level")
}

func TestConfigCommands(t *testing.T) {
	c := newCLI(t, nil)
	c.config = filepath.Join(t.TempDir(), "nested", "lspengine.yaml")

	res := c.run("config", "init")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "OK: Wrote "+c.config)
	assert.FileExists(t, c.config)

	res = c.run("config", "init")
	assert.ErrorIs(t, res.err, errConfigExists)

	res = c.run("config", "init", "--force")
	require.NoError(t, res.err, res.stderr)

	res = c.run("config", "show")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "language_id: go")
	assert.Contains(t, res.stdout, "request_timeout: 10s")
}

func TestVersionAndLanguages(t *testing.T) {
	c := newCLI(t, nil)

	res := c.run("version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "lspengine "+version)

	res = c.run("languages", "--json")
	require.NoError(t, res.err)
	var langs []languageOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &langs))
	var goFound bool
	for _, l := range langs {
		if l.Language == "go" {
			goFound = true
			assert.Equal(t, "gopls", l.Command)
			assert.Contains(t, l.Extensions, ".go")
		}
	}
	assert.True(t, goFound)
}
