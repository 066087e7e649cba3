// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sourcegraph/go-diff/diff"
)

// diffContextLines is the number of unchanged lines shown around a change.
const diffContextLines = 3

var (
	// ErrOverlappingEdits indicates two text edits touch the same region.
	ErrOverlappingEdits = errors.New("overlapping text edits")

	// ErrPositionOutOfRange indicates an edit position outside the document.
	ErrPositionOutOfRange = errors.New("position out of range")
)

// DocumentReader returns the current content of a document.
type DocumentReader func(uri string) (string, error)

// ReadFromDisk is a DocumentReader for file URIs.
func ReadFromDisk(uri string) (string, error) {
	path, err := URIToPath(uri)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileEdits flattens a WorkspaceEdit into edits per URI. Entries from
// documentChanges follow entries from changes for the same URI.
func FileEdits(edit WorkspaceEdit) map[string][]TextEdit {
	out := make(map[string][]TextEdit, len(edit.Changes)+len(edit.DocumentChanges))
	for uri, edits := range edit.Changes {
		out[uri] = append(out[uri], edits...)
	}
	for _, dc := range edit.DocumentChanges {
		out[dc.TextDocument.URI] = append(out[dc.TextDocument.URI], dc.Edits...)
	}
	return out
}

// ApplyTextEdits applies LSP text edits to text.
//
// Description:
//
//	Positions are zero-based lines and UTF-16 code unit offsets, as on the
//	wire. Edits must not overlap; edits inserting at the same position are
//	applied in array order.
//
// Errors:
//
//	ErrOverlappingEdits - Two edits overlap
//	ErrPositionOutOfRange - A position lies beyond the document
func ApplyTextEdits(text string, edits []TextEdit) (string, error) {
	if len(edits) == 0 {
		return text, nil
	}

	type span struct {
		start, end int
		newText    string
		order      int
	}
	lineStarts := computeLineStarts(text)
	spans := make([]span, 0, len(edits))
	for i, e := range edits {
		start, err := positionOffset(text, lineStarts, e.Range.Start)
		if err != nil {
			return "", err
		}
		end, err := positionOffset(text, lineStarts, e.Range.End)
		if err != nil {
			return "", err
		}
		if end < start {
			return "", fmt.Errorf("%w: edit %d ends before it starts", ErrPositionOutOfRange, i)
		}
		spans = append(spans, span{start: start, end: end, newText: e.NewText, order: i})
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].order < spans[j].order
	})

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, s := range spans {
		if s.start < cursor {
			return "", ErrOverlappingEdits
		}
		b.WriteString(text[cursor:s.start])
		b.WriteString(s.newText)
		cursor = s.end
	}
	b.WriteString(text[cursor:])
	return b.String(), nil
}

// RenderWorkspaceEdit renders a WorkspaceEdit as a unified diff.
//
// Description:
//
//	Reads the current content of every affected document through read,
//	applies its edits in memory and prints one file diff per document,
//	ordered by URI. Documents whose content does not change are omitted.
//
// Outputs:
//
//	string - The multi-file unified diff (empty when nothing changes)
//	error - Non-nil if a document cannot be read or an edit cannot apply
func RenderWorkspaceEdit(edit WorkspaceEdit, read DocumentReader) (string, error) {
	perFile := FileEdits(edit)
	uris := make([]string, 0, len(perFile))
	for uri := range perFile {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	var fileDiffs []*diff.FileDiff
	for _, uri := range uris {
		orig, err := read(uri)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", uri, err)
		}
		updated, err := ApplyTextEdits(orig, perFile[uri])
		if err != nil {
			return "", fmt.Errorf("apply edits to %s: %w", uri, err)
		}
		if fd := buildFileDiff(displayName(uri), orig, updated); fd != nil {
			fileDiffs = append(fileDiffs, fd)
		}
	}

	if len(fileDiffs) == 0 {
		return "", nil
	}
	out, err := diff.PrintMultiFileDiff(fileDiffs)
	if err != nil {
		return "", fmt.Errorf("print diff: %w", err)
	}
	return string(out), nil
}

// buildFileDiff returns a single-hunk diff covering the changed region of
// orig, or nil when the contents are equal.
func buildFileDiff(name, orig, updated string) *diff.FileDiff {
	if orig == updated {
		return nil
	}
	a := splitLines(orig)
	b := splitLines(updated)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	ctxStart := max(prefix-diffContextLines, 0)
	aEnd := min(len(a)-suffix+diffContextLines, len(a))
	bEnd := min(len(b)-suffix+diffContextLines, len(b))

	var body strings.Builder
	for _, line := range a[ctxStart:prefix] {
		writeDiffLine(&body, ' ', line)
	}
	for _, line := range a[prefix : len(a)-suffix] {
		writeDiffLine(&body, '-', line)
	}
	for _, line := range b[prefix : len(b)-suffix] {
		writeDiffLine(&body, '+', line)
	}
	for _, line := range a[len(a)-suffix : aEnd] {
		writeDiffLine(&body, ' ', line)
	}

	origLines := aEnd - ctxStart
	newLines := bEnd - ctxStart
	return &diff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
		Hunks: []*diff.Hunk{{
			OrigStartLine: hunkStart(ctxStart, origLines),
			OrigLines:     int32(origLines),
			NewStartLine:  hunkStart(ctxStart, newLines),
			NewLines:      int32(newLines),
			Body:          []byte(body.String()),
		}},
	}
}

// hunkStart converts a zero-based line index into the unified diff start
// line. Empty ranges name the line before them.
func hunkStart(idx, count int) int32 {
	if count == 0 {
		return int32(idx)
	}
	return int32(idx + 1)
}

func writeDiffLine(b *strings.Builder, op byte, line string) {
	b.WriteByte(op)
	b.WriteString(strings.TrimSuffix(line, "\n"))
	b.WriteByte('\n')
}

// splitLines splits text into lines that keep their terminator.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func displayName(uri string) string {
	if path, err := URIToPath(uri); err == nil {
		return strings.TrimPrefix(path, "/")
	}
	return uri
}

func computeLineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// positionOffset converts an LSP position into a byte offset in text.
// A character past the end of its line clamps to the line end.
func positionOffset(text string, lineStarts []int, pos Position) (int, error) {
	if pos.Line < 0 || pos.Character < 0 {
		return 0, fmt.Errorf("%w: %d:%d", ErrPositionOutOfRange, pos.Line, pos.Character)
	}
	if pos.Line >= len(lineStarts) {
		if pos.Line == len(lineStarts) && pos.Character == 0 {
			return len(text), nil
		}
		return 0, fmt.Errorf("%w: line %d of %d", ErrPositionOutOfRange, pos.Line, len(lineStarts))
	}

	start := lineStarts[pos.Line]
	end := len(text)
	if pos.Line+1 < len(lineStarts) {
		end = lineStarts[pos.Line+1] - 1
	}

	offset := start
	units := 0
	for offset < end && units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[offset:end])
		if r >= 0x10000 {
			units += 2
		} else {
			units++
		}
		offset += size
	}
	return offset, nil
}
