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
	"time"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	jsonOutput bool
	languageID string
	rootDir    string

	showDiff    bool
	waitFor     time.Duration
	serveAddr   string
	serveWatch  bool
	forceConfig bool

	rootCmd = &cobra.Command{
		Use:   "lspengine",
		Short: "Drive a language server from the command line",
		Long: `lspengine starts a language server, performs the LSP handshake and
translates hover, completion, code action and diagnostics requests into
protocol traffic. It can also watch a directory or expose the engine over HTTP.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupEnv,
	}

	// --- Queries ---
	hoverCmd = &cobra.Command{
		Use:   "hover FILE LINE COLUMN",
		Short: "Show hover information at a position",
		Args:  cobra.ExactArgs(3),
		RunE:  runHover, // Defined in cmd_query.go
	}
	completeCmd = &cobra.Command{
		Use:     "complete FILE LINE COLUMN",
		Short:   "List completion items at a position",
		Aliases: []string{"completion"},
		Args:    cobra.ExactArgs(3),
		RunE:    runComplete, // Defined in cmd_query.go
	}
	actionsCmd = &cobra.Command{
		Use:   "actions FILE LINE COLUMN [END_LINE END_COLUMN]",
		Short: "List code actions for a position or range",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 3 || len(args) == 5 {
				return nil
			}
			return cobra.ExactArgs(3)(cmd, args)
		},
		RunE: runActions, // Defined in cmd_query.go
	}

	// --- Diagnostics ---
	diagnosticsCmd = &cobra.Command{
		Use:     "diagnostics FILE...",
		Short:   "Open files and print the diagnostics the server publishes",
		Aliases: []string{"diag"},
		Args:    cobra.MinimumNArgs(1),
		RunE:    runDiagnostics, // Defined in cmd_diagnostics.go
	}

	// --- Long running ---
	watchCmd = &cobra.Command{
		Use:   "watch [DIR]",
		Short: "Keep the server in sync with a directory and print diagnostics",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Expose the engine over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Utilities ---
	languagesCmd = &cobra.Command{
		Use:               "languages",
		Short:             "List the built-in language server presets",
		Args:              cobra.NoArgs,
		PersistentPreRunE: skipSetup,
		RunE:              runLanguages, // Defined in cmd_config.go
	}
	versionCmd = &cobra.Command{
		Use:               "version",
		Short:             "Print the lspengine version",
		Args:              cobra.NoArgs,
		PersistentPreRunE: skipSetup,
		RunE:              runVersion, // Defined in cmd_config.go
	}
	configCmd = &cobra.Command{
		Use:               "config",
		Short:             "Inspect or create the configuration file",
		PersistentPreRunE: skipSetup,
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow, // Defined in cmd_config.go
	}
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit, // Defined in cmd_config.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.lspengine/lspengine.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, notice, warning, error)")
	pf.BoolVar(&jsonOutput, "json", false, "print results as JSON")
	pf.StringVar(&languageID, "language", "", "language id; defaults to the file extension's preset")
	pf.StringVar(&rootDir, "root", "", "workspace root; defaults to the nearest project root")

	actionsCmd.Flags().BoolVar(&showDiff, "diff", false, "render each action's edit as a unified diff")
	diagnosticsCmd.Flags().DurationVar(&waitFor, "wait", 3*time.Second, "how long to wait for every file's diagnostics")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also watch --root and sync changed files")
	configInitCmd.Flags().BoolVar(&forceConfig, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(
		hoverCmd,
		completeCmd,
		actionsCmd,
		diagnosticsCmd,
		watchCmd,
		serveCmd,
		languagesCmd,
		versionCmd,
		configCmd,
	)
}
