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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lspengine/pkg/config"
	"github.com/AleutianAI/lspengine/pkg/logging"
	"github.com/AleutianAI/lspengine/pkg/telemetry"
	"github.com/AleutianAI/lspengine/pkg/ux"
	"github.com/AleutianAI/lspengine/services/lsp"
)

var errUnknownLanguage = errors.New("no language server preset for language")

// spawner starts language servers. Nil uses lsp.ExecSpawner; tests swap in
// an in-memory spawner.
var spawner lsp.Spawner

// env is the per-invocation state built by setupEnv.
var env *cliEnv

type cliEnv struct {
	cfg      config.Config
	logger   *logging.Logger
	printer  *ux.Printer
	presets  *lsp.PresetRegistry
	shutdown func(context.Context) error
}

// setupEnv loads the configuration and brings up logging and telemetry.
// It runs before every command that talks to a language server.
func setupEnv(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		cfg.Logging.Level = logLevel
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.New(logCfg)

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		StdoutWriter:   cmd.ErrOrStderr(),
	})
	if err != nil {
		_ = logger.Close()
		return err
	}

	env = &cliEnv{
		cfg:      cfg,
		logger:   logger,
		printer:  newPrinter(cmd),
		presets:  lsp.NewPresetRegistry(),
		shutdown: shutdown,
	}
	return nil
}

func skipSetup(*cobra.Command, []string) error { return nil }

// closeEnv flushes telemetry and closes the logger. Safe to call when
// setupEnv never ran.
func closeEnv() {
	if env == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.shutdown(ctx); err != nil {
		env.logger.Warning("telemetry shutdown failed", "error", err)
	}
	_ = env.logger.Close()
	env = nil
}

func newPrinter(cmd *cobra.Command) *ux.Printer {
	f, _ := cmd.OutOrStdout().(*os.File)
	mode := ux.DetectMode(f)
	if jsonOutput {
		mode = ux.ModeMachine
	}
	return &ux.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr(), Mode: mode}
}

// =============================================================================
// Client construction
// =============================================================================

// languageFor resolves the language id: --language, then the file's
// extension, then the configured default.
func (e *cliEnv) languageFor(path string) string {
	if languageID != "" {
		return languageID
	}
	if path != "" {
		if lang, ok := e.presets.LanguageIDForPath(path); ok {
			return lang
		}
	}
	return e.cfg.Server.LanguageID
}

// clientConfig builds the lsp.ClientConfig for lang. A configured
// server.command replaces the preset's command and args.
func (e *cliEnv) clientConfig(lang string) (lsp.ClientConfig, lsp.ServerPreset, error) {
	preset, ok := e.presets.Get(lang)

	var cc lsp.ClientConfig
	switch {
	case e.cfg.Server.Command != "":
		cc = lsp.ClientConfig{
			Command: e.cfg.Server.Command,
			Args:    append([]string(nil), e.cfg.Server.Args...),
		}
		if ok {
			cc.InitializationOptions = preset.InitializationOptions
		} else {
			preset = lsp.ServerPreset{LanguageID: lang}
		}
	case ok:
		cc = preset.ClientConfig()
	default:
		return lsp.ClientConfig{}, lsp.ServerPreset{}, fmt.Errorf("%w %q (known: %s)",
			errUnknownLanguage, lang, strings.Join(e.presets.Languages(), ", "))
	}

	cc.Dir = e.cfg.Server.WorkingDir
	cc.Env = e.cfg.Server.Env
	cc.ClientName = "lspengine"
	cc.ClientVersion = version
	cc.RequestTimeout = e.cfg.Engine.RequestTimeout
	cc.MaxFrameSize = e.cfg.Engine.MaxFrameSize
	cc.MaxBufferSize = e.cfg.Engine.MaxBufferSize
	cc.QueueSize = e.cfg.Engine.QueueSize
	cc.Spawner = spawner
	cc.Sink = e.logger
	return cc, preset, nil
}

// rootFor picks the workspace root: --root, then the configured root,
// then the preset's project root above path.
func (e *cliEnv) rootFor(preset lsp.ServerPreset, path string) string {
	switch {
	case rootDir != "":
		return rootDir
	case e.cfg.Server.RootDirectory != "":
		return e.cfg.Server.RootDirectory
	case path != "":
		return preset.FindRoot(path)
	default:
		return "."
	}
}

// startClient launches and initializes a server suited to path. An empty
// root is resolved by rootFor. The caller must Close the client.
func (e *cliEnv) startClient(ctx context.Context, path, root string) (*lsp.Client, string, error) {
	lang := e.languageFor(path)
	cc, preset, err := e.clientConfig(lang)
	if err != nil {
		return nil, "", err
	}

	if root == "" {
		root = e.rootFor(preset, path)
	}
	client := lsp.NewClient(cc)
	err = e.printer.WithSpinner(fmt.Sprintf("Starting %s", cc.Command), func() error {
		return client.Initialize(ctx, root)
	})
	if err != nil {
		_ = client.Close()
		return nil, "", fmt.Errorf("failed to initialize %s: %w", cc.Command, err)
	}
	e.logger.Debug("language server ready", "language", lang, "root", root)
	return client, lang, nil
}

// openFile reads path from disk and opens it on client.
func openFile(ctx context.Context, client *lsp.Client, path, lang string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	text, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	uri, err := lsp.PathToURI(abs)
	if err != nil {
		return "", err
	}
	if err := client.OpenDocument(ctx, uri, string(text), lang); err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	return uri, nil
}

// =============================================================================
// Argument helpers
// =============================================================================

// parsePosition converts 1-based LINE and COLUMN arguments to an LSP
// position.
func parsePosition(lineArg, colArg string) (lsp.Position, error) {
	line, err := strconv.Atoi(lineArg)
	if err != nil || line < 1 {
		return lsp.Position{}, fmt.Errorf("invalid line %q: must be a positive integer", lineArg)
	}
	col, err := strconv.Atoi(colArg)
	if err != nil || col < 1 {
		return lsp.Position{}, fmt.Errorf("invalid column %q: must be a positive integer", colArg)
	}
	return lsp.Position{Line: line - 1, Character: col - 1}, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
