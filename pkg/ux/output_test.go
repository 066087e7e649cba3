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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestPrinter(mode Mode) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Printer{Out: &out, Err: &errOut, Mode: mode}, &out, &errOut
}

// =============================================================================
// Mode Tests
// =============================================================================

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"rich", ModeRich},
		{"", ModeRich},
		{"bogus", ModeRich},
		{"MIN", ModeMinimal},
		{"minimal", ModeMinimal},
		{"machine", ModeMachine},
		{" plain ", ModeMachine},
		{"q", ModeMachine},
	}
	for _, tt := range tests {
		if got := ParseMode(tt.in); got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectMode(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	t.Run("non-terminal is machine", func(t *testing.T) {
		t.Setenv(ModeEnv, "")
		if got := DetectMode(f); got != ModeMachine {
			t.Errorf("DetectMode(file) = %q, want %q", got, ModeMachine)
		}
	})

	t.Run("nil file is machine", func(t *testing.T) {
		t.Setenv(ModeEnv, "")
		if got := DetectMode(nil); got != ModeMachine {
			t.Errorf("DetectMode(nil) = %q, want %q", got, ModeMachine)
		}
	})

	t.Run("env wins", func(t *testing.T) {
		t.Setenv(ModeEnv, "minimal")
		if got := DetectMode(f); got != ModeMinimal {
			t.Errorf("DetectMode(file) = %q, want %q", got, ModeMinimal)
		}
	})
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_Machine(t *testing.T) {
	p, out, errOut := newTestPrinter(ModeMachine)

	p.Title("ignored")
	p.Success("done")
	p.Info("plain line")
	p.Warning("careful")
	p.Error("broken")
	p.Item("Println", "func(a ...any)")

	wantOut := "OK: done\nplain line\nPrintln\tfunc(a ...any)\n"
	if out.String() != wantOut {
		t.Errorf("stdout = %q, want %q", out.String(), wantOut)
	}
	wantErr := "WARN: careful\nERROR: broken\n"
	if errOut.String() != wantErr {
		t.Errorf("stderr = %q, want %q", errOut.String(), wantErr)
	}
}

func TestPrinter_Minimal(t *testing.T) {
	p, out, errOut := newTestPrinter(ModeMinimal)

	p.Success("done")
	p.Error("broken")
	p.Box("Hover", "func Println()")

	if !strings.Contains(out.String(), "✓ done") {
		t.Errorf("stdout missing success line: %q", out.String())
	}
	if !strings.Contains(out.String(), "Hover:\nfunc Println()\n") {
		t.Errorf("stdout missing plain box: %q", out.String())
	}
	if !strings.Contains(errOut.String(), "✗ broken") {
		t.Errorf("stderr missing error line: %q", errOut.String())
	}
}

func TestPrinter_Rich(t *testing.T) {
	p, out, _ := newTestPrinter(ModeRich)

	p.Title("Diagnostics")
	p.Box("Hover", "func Println()")
	p.Item("Printf", "")

	for _, want := range []string{"Diagnostics", "Hover", "func Println()", "→ Printf"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("rich output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrinter_Diff(t *testing.T) {
	unified := "--- a/x.go\n+++ b/x.go\n@@ -1,1 +1,1 @@\n-old\n+new\n"

	t.Run("machine passes through", func(t *testing.T) {
		p, out, _ := newTestPrinter(ModeMachine)
		p.Diff(unified)
		if out.String() != unified {
			t.Errorf("Diff() = %q, want %q", out.String(), unified)
		}
	})

	t.Run("rich keeps every line", func(t *testing.T) {
		p, out, _ := newTestPrinter(ModeRich)
		p.Diff(unified)
		for _, want := range []string{"--- a/x.go", "+++ b/x.go", "@@ -1,1 +1,1 @@", "-old", "+new"} {
			if !strings.Contains(out.String(), want) {
				t.Errorf("rich diff missing %q", want)
			}
		}
	})
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconInfo, IconHint, IconArrow} {
		if !strings.Contains(icon.Render(), string(icon)) {
			t.Errorf("Render() of %q lost the glyph", icon)
		}
	}
}
