// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the lspengine CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights
	ColorTealPrimary = lipgloss.Color("#20B9B4") // titles, paths
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorInfo    = lipgloss.Color("#5DADE2")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Path      lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Info      lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Path:      lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Info:      lipgloss.NewStyle().Foreground(ColorInfo),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconInfo    Icon = "ℹ"
	IconHint    Icon = "•"
	IconArrow   Icon = "→"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconInfo:
		return Styles.Info.Render(string(i))
	case IconHint:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes styled output for one Mode. Results go to Out and
// status messages (warnings, errors) to Err.
type Printer struct {
	Out  io.Writer
	Err  io.Writer
	Mode Mode
}

// NewPrinter returns a Printer on stdout/stderr with the detected mode.
func NewPrinter() *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Mode: DetectMode(os.Stdout)}
}

// Title prints a styled title. Machine mode prints nothing.
func (p *Printer) Title(text string) {
	if p.Mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Out, "OK: %s\n", text)
	case ModeMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
	case ModeMinimal:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning, text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
	case ModeMinimal:
		fmt.Fprintf(p.Err, "%s %s\n", IconError, text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational line
func (p *Printer) Info(text string) {
	if p.Mode == ModeMachine {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Box prints content in a rounded box under title.
func (p *Printer) Box(title, content string) {
	if p.Mode != ModeRich {
		if title != "" {
			fmt.Fprintf(p.Out, "%s:\n", title)
		}
		fmt.Fprintln(p.Out, content)
		return
	}
	body := content
	if title != "" {
		body = Styles.Title.Render(title) + "\n" + content
	}
	fmt.Fprintln(p.Out, Styles.Box.Render(body))
}

// Item prints one list entry with an optional muted detail.
func (p *Printer) Item(label, detail string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Out, "%s\t%s\n", label, detail)
	default:
		if detail == "" {
			fmt.Fprintf(p.Out, "%s %s\n", IconArrow, label)
			return
		}
		fmt.Fprintf(p.Out, "%s %s %s\n", IconArrow, Styles.Bold.Render(label), Styles.Muted.Render(detail))
	}
}

// Diff prints a unified diff, coloring added and removed lines.
func (p *Printer) Diff(unified string) {
	if p.Mode != ModeRich {
		fmt.Fprint(p.Out, unified)
		return
	}
	for _, line := range strings.SplitAfter(unified, "\n") {
		if line == "" {
			continue
		}
		trimmed := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(trimmed, "+++"), strings.HasPrefix(trimmed, "---"):
			fmt.Fprintln(p.Out, Styles.Bold.Render(trimmed))
		case strings.HasPrefix(trimmed, "@@"):
			fmt.Fprintln(p.Out, Styles.Info.Render(trimmed))
		case strings.HasPrefix(trimmed, "+"):
			fmt.Fprintln(p.Out, Styles.Success.Render(trimmed))
		case strings.HasPrefix(trimmed, "-"):
			fmt.Fprintln(p.Out, Styles.Error.Render(trimmed))
		default:
			fmt.Fprintln(p.Out, trimmed)
		}
	}
}
