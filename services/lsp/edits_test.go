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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func edit(sl, sc, el, ec int, text string) TextEdit {
	return TextEdit{
		Range:   Range{Start: Position{Line: sl, Character: sc}, End: Position{Line: el, Character: ec}},
		NewText: text,
	}
}

func TestApplyTextEdits(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		edits   []TextEdit
		want    string
		wantErr error
	}{
		{name: "no edits", text: "abc", want: "abc"},
		{name: "replace word", text: "hello world\n", edits: []TextEdit{edit(0, 6, 0, 11, "there")}, want: "hello there\n"},
		{name: "insert at start", text: "b\n", edits: []TextEdit{edit(0, 0, 0, 0, "a")}, want: "ab\n"},
		{name: "delete line", text: "a\nb\nc\n", edits: []TextEdit{edit(1, 0, 2, 0, "")}, want: "a\nc\n"},
		{name: "unordered edits", text: "one two three", edits: []TextEdit{edit(0, 8, 0, 13, "3"), edit(0, 0, 0, 3, "1")}, want: "1 two 3"},
		{name: "same position inserts keep order", text: "x", edits: []TextEdit{edit(0, 0, 0, 0, "a"), edit(0, 0, 0, 0, "b")}, want: "abx"},
		{name: "append at end of text", text: "a\n", edits: []TextEdit{edit(1, 0, 1, 0, "b\n")}, want: "a\nb\n"},
		{name: "character past line end clamps", text: "ab\ncd", edits: []TextEdit{edit(0, 99, 0, 99, "!")}, want: "ab!\ncd"},
		{name: "utf-16 surrogate pair", text: "a😀b", edits: []TextEdit{edit(0, 3, 0, 4, "B")}, want: "a😀B"},
		{name: "bmp multibyte", text: "héllo", edits: []TextEdit{edit(0, 1, 0, 2, "e")}, want: "hello"},
		{name: "overlapping", text: "abcdef", edits: []TextEdit{edit(0, 0, 0, 3, "x"), edit(0, 2, 0, 4, "y")}, wantErr: ErrOverlappingEdits},
		{name: "line out of range", text: "a", edits: []TextEdit{edit(5, 0, 5, 0, "x")}, wantErr: ErrPositionOutOfRange},
		{name: "end before start", text: "abc", edits: []TextEdit{edit(0, 2, 0, 1, "x")}, wantErr: ErrPositionOutOfRange},
		{name: "negative position", text: "abc", edits: []TextEdit{edit(-1, 0, 0, 0, "x")}, wantErr: ErrPositionOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyTextEdits(tt.text, tt.edits)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileEdits(t *testing.T) {
	v := 3
	we := WorkspaceEdit{
		Changes: map[string][]TextEdit{"file:///a.go": {edit(0, 0, 0, 0, "x")}},
		DocumentChanges: []TextDocumentEdit{
			{TextDocument: OptionalVersionedTextDocumentIdentifier{URI: "file:///a.go", Version: &v}, Edits: []TextEdit{edit(1, 0, 1, 0, "y")}},
			{TextDocument: OptionalVersionedTextDocumentIdentifier{URI: "file:///b.go"}, Edits: []TextEdit{edit(0, 0, 0, 0, "z")}},
		},
	}

	got := FileEdits(we)
	require.Len(t, got, 2)
	require.Len(t, got["file:///a.go"], 2)
	assert.Equal(t, "x", got["file:///a.go"][0].NewText)
	assert.Equal(t, "y", got["file:///a.go"][1].NewText)
	assert.Len(t, got["file:///b.go"], 1)
}

func TestRenderWorkspaceEdit(t *testing.T) {
	files := map[string]string{
		"file:///src/a.go": "package a\n\nfunc f() {\n\treturn\n}\n",
		"file:///src/b.go": "package b\n",
	}
	read := func(uri string) (string, error) {
		text, ok := files[uri]
		if !ok {
			return "", errors.New("no such file")
		}
		return text, nil
	}

	t.Run("renders a unified diff per file", func(t *testing.T) {
		we := WorkspaceEdit{Changes: map[string][]TextEdit{
			"file:///src/b.go": {edit(0, 8, 0, 9, "bee")},
			"file:///src/a.go": {edit(2, 5, 2, 6, "g")},
		}}

		out, err := RenderWorkspaceEdit(we, read)
		require.NoError(t, err)

		assert.Contains(t, out, "--- a/src/a.go\n+++ b/src/a.go\n")
		assert.Contains(t, out, "@@ -1,5 +1,5 @@")
		assert.Contains(t, out, "-func f() {\n+func g() {\n")
		assert.Contains(t, out, " \treturn\n")
		assert.Contains(t, out, "--- a/src/b.go\n+++ b/src/b.go\n")
		assert.Contains(t, out, "-package b\n+package bee\n")
		assert.Less(t, strings.Index(out, "src/a.go"), strings.Index(out, "src/b.go"))
	})

	t.Run("unchanged content renders nothing", func(t *testing.T) {
		we := WorkspaceEdit{Changes: map[string][]TextEdit{
			"file:///src/b.go": {edit(0, 0, 0, 7, "package")},
		}}
		out, err := RenderWorkspaceEdit(we, read)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("read failure is returned", func(t *testing.T) {
		we := WorkspaceEdit{Changes: map[string][]TextEdit{"file:///missing.go": {edit(0, 0, 0, 0, "x")}}}
		_, err := RenderWorkspaceEdit(we, read)
		assert.ErrorContains(t, err, "file:///missing.go")
	})

	t.Run("edit failure is returned", func(t *testing.T) {
		we := WorkspaceEdit{Changes: map[string][]TextEdit{"file:///src/b.go": {edit(9, 0, 9, 0, "x")}}}
		_, err := RenderWorkspaceEdit(we, read)
		assert.ErrorIs(t, err, ErrPositionOutOfRange)
	})
}

func TestReadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0644))
	uri, err := PathToURI(path)
	require.NoError(t, err)

	got, err := ReadFromDisk(uri)
	require.NoError(t, err)
	assert.Equal(t, "package a\n", got)

	_, err = ReadFromDisk(uri + ".missing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = ReadFromDisk("untitled:Untitled-1")
	assert.Error(t, err)
}
