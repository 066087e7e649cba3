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
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// DiagnosticLine is one diagnostic ready for display. Line and Column are
// 1-based. Severity uses the LSP scale: 1 error, 2 warning, 3 information,
// 4 hint.
type DiagnosticLine struct {
	Path     string
	Line     int
	Column   int
	Severity int
	Message  string
	Source   string
	Code     string
}

// SeverityName returns the display name for an LSP severity.
func SeverityName(severity int) string {
	switch severity {
	case 1:
		return "error"
	case 2:
		return "warning"
	case 3:
		return "info"
	default:
		return "hint"
	}
}

// SeverityIcon returns the icon for an LSP severity.
func SeverityIcon(severity int) Icon {
	switch severity {
	case 1:
		return IconError
	case 2:
		return IconWarning
	case 3:
		return IconInfo
	default:
		return IconHint
	}
}

// Diagnostic prints one diagnostic.
//
// Machine mode uses the compiler convention
// "path:line:col: severity: message [source code]" so editors can jump to it.
func (p *Printer) Diagnostic(d DiagnosticLine) {
	loc := fmt.Sprintf("%s:%d:%d", d.Path, d.Line, d.Column)
	name := SeverityName(d.Severity)
	tag := sourceTag(d)

	switch p.Mode {
	case ModeMachine:
		if tag != "" {
			tag = " [" + tag + "]"
		}
		fmt.Fprintf(p.Out, "%s: %s: %s%s\n", loc, name, d.Message, tag)
	case ModeMinimal:
		fmt.Fprintf(p.Out, "%s %s %s %s\n", SeverityIcon(d.Severity), loc, name, d.Message)
	default:
		line := fmt.Sprintf("%s %s %s %s",
			SeverityIcon(d.Severity).Render(), Styles.Path.Render(loc), severityStyle(d.Severity).Render(name), d.Message)
		if tag != "" {
			line += " " + Styles.Muted.Render("("+tag+")")
		}
		fmt.Fprintln(p.Out, line)
	}
}

// DiagnosticSummary prints the per-severity totals of lines.
func (p *Printer) DiagnosticSummary(lines []DiagnosticLine) {
	var counts [5]int
	for _, d := range lines {
		sev := d.Severity
		if sev < 1 || sev > 4 {
			sev = 4
		}
		counts[sev]++
	}

	if p.Mode == ModeMachine {
		fmt.Fprintf(p.Out, "SUMMARY: errors=%d warnings=%d info=%d hints=%d\n",
			counts[1], counts[2], counts[3], counts[4])
		return
	}
	if len(lines) == 0 {
		p.Success("no diagnostics")
		return
	}
	fmt.Fprintf(p.Out, "\n%s %s  %s %s  %s %s  %s %s\n",
		Styles.Error.Render(fmt.Sprint(counts[1])), Styles.Muted.Render("errors"),
		Styles.Warning.Render(fmt.Sprint(counts[2])), Styles.Muted.Render("warnings"),
		Styles.Info.Render(fmt.Sprint(counts[3])), Styles.Muted.Render("info"),
		Styles.Bold.Render(fmt.Sprint(counts[4])), Styles.Muted.Render("hints"),
	)
}

func severityStyle(severity int) lipgloss.Style {
	switch severity {
	case 1:
		return Styles.Error
	case 2:
		return Styles.Warning
	case 3:
		return Styles.Info
	default:
		return Styles.Muted
	}
}

func sourceTag(d DiagnosticLine) string {
	switch {
	case d.Source != "" && d.Code != "":
		return d.Source + " " + d.Code
	case d.Source != "":
		return d.Source
	default:
		return d.Code
	}
}
