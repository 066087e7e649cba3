// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ModeEnv overrides output mode detection.
const ModeEnv = "LSPENGINE_OUTPUT"

// Mode defines the richness of CLI output
type Mode string

const (
	// ModeRich enables colors, icons and boxes
	ModeRich Mode = "rich"

	// ModeMinimal uses icons without colors or boxes
	ModeMinimal Mode = "minimal"

	// ModeMachine outputs plain, line-oriented text for scripts and editors
	ModeMachine Mode = "machine"
)

// ParseMode converts a string to a Mode. Unknown values yield ModeRich.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return ModeMinimal
	case "machine", "plain", "quiet", "q":
		return ModeMachine
	default:
		return ModeRich
	}
}

// DetectMode picks the mode for f: ModeEnv wins, then a non-terminal
// yields ModeMachine, otherwise ModeRich.
func DetectMode(f *os.File) Mode {
	if env := os.Getenv(ModeEnv); env != "" {
		return ParseMode(env)
	}
	if f == nil || !isTerminal(f.Fd()) {
		return ModeMachine
	}
	return ModeRich
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
