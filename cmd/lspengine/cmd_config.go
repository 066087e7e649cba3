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
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/lspengine/pkg/config"
	"github.com/AleutianAI/lspengine/services/lsp"
)

var errConfigExists = errors.New("config file already exists (use --force to overwrite)")

type languageOutput struct {
	Language   string   `json:"language"`
	Command    string   `json:"command"`
	Args       []string `json:"args,omitempty"`
	Extensions []string `json:"extensions"`
}

func runVersion(cmd *cobra.Command, _ []string) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]string{
			"version": version,
			"go":      runtime.Version(),
			"os":      runtime.GOOS,
			"arch":    runtime.GOARCH,
		})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "lspengine %s (%s, %s/%s)\n",
		version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return err
}

func runLanguages(cmd *cobra.Command, _ []string) error {
	presets := lsp.NewPresetRegistry()

	var out []languageOutput
	for _, lang := range presets.Languages() {
		p, _ := presets.Get(lang)
		out = append(out, languageOutput{
			Language:   lang,
			Command:    p.Command,
			Args:       p.Args,
			Extensions: p.Extensions,
		})
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), out)
	}

	printer := newPrinter(cmd)
	for _, l := range out {
		command := strings.TrimSpace(l.Command + " " + strings.Join(l.Args, " "))
		printer.Item(l.Language, fmt.Sprintf("%s [%s]", command, strings.Join(l.Extensions, " ")))
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && !forceConfig {
		return fmt.Errorf("%w: %s", errConfigExists, path)
	}
	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return err
	}
	newPrinter(cmd).Success("Wrote " + path)
	return nil
}
