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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ServerPreset is a known language server and the files it handles.
type ServerPreset struct {
	// LanguageID is the LSP languageId sent in didOpen (e.g., "go").
	LanguageID string

	// Command is the executable name or path.
	Command string

	// Args are command-line arguments to pass to the server.
	Args []string

	// Extensions are file extensions this preset handles (e.g., ".go").
	Extensions []string

	// RootFiles are files that indicate a project root (e.g., "go.mod").
	RootFiles []string

	// InitializationOptions are custom options passed during initialize.
	InitializationOptions interface{}
}

// ClientConfig returns a ClientConfig that launches this preset's server.
func (p ServerPreset) ClientConfig() ClientConfig {
	return ClientConfig{
		Command:               p.Command,
		Args:                  append([]string(nil), p.Args...),
		InitializationOptions: p.InitializationOptions,
	}
}

// PresetRegistry maps languages and file extensions to server presets.
//
// Thread Safety: Safe for concurrent use.
type PresetRegistry struct {
	mu     sync.RWMutex
	byLang map[string]ServerPreset
	byExt  map[string]string // extension -> languageId
}

// NewPresetRegistry creates a registry with the default presets.
//
// Description:
//
//	Pre-populated with gopls, pyright, typescript-language-server,
//	rust-analyzer, jdtls and clangd.
func NewPresetRegistry() *PresetRegistry {
	r := &PresetRegistry{
		byLang: make(map[string]ServerPreset),
		byExt:  make(map[string]string),
	}
	r.registerDefaults()
	return r
}

func (r *PresetRegistry) registerDefaults() {
	r.Register(ServerPreset{
		LanguageID: "go",
		Command:    "gopls",
		Args:       []string{"serve"},
		Extensions: []string{".go"},
		RootFiles:  []string{"go.mod", "go.work"},
	})

	r.Register(ServerPreset{
		LanguageID: "python",
		Command:    "pyright-langserver",
		Args:       []string{"--stdio"},
		Extensions: []string{".py", ".pyi"},
		RootFiles:  []string{"pyproject.toml", "requirements.txt", "setup.py"},
	})

	r.Register(ServerPreset{
		LanguageID: "typescript",
		Command:    "typescript-language-server",
		Args:       []string{"--stdio"},
		Extensions: []string{".ts", ".mts", ".cts"},
		RootFiles:  []string{"tsconfig.json", "package.json"},
	})

	r.Register(ServerPreset{
		LanguageID: "typescriptreact",
		Command:    "typescript-language-server",
		Args:       []string{"--stdio"},
		Extensions: []string{".tsx"},
		RootFiles:  []string{"tsconfig.json", "package.json"},
	})

	r.Register(ServerPreset{
		LanguageID: "javascript",
		Command:    "typescript-language-server",
		Args:       []string{"--stdio"},
		Extensions: []string{".js", ".mjs", ".cjs"},
		RootFiles:  []string{"package.json", "jsconfig.json"},
	})

	r.Register(ServerPreset{
		LanguageID: "javascriptreact",
		Command:    "typescript-language-server",
		Args:       []string{"--stdio"},
		Extensions: []string{".jsx"},
		RootFiles:  []string{"package.json", "jsconfig.json"},
	})

	r.Register(ServerPreset{
		LanguageID: "rust",
		Command:    "rust-analyzer",
		Extensions: []string{".rs"},
		RootFiles:  []string{"Cargo.toml"},
	})

	r.Register(ServerPreset{
		LanguageID: "java",
		Command:    "jdtls",
		Extensions: []string{".java"},
		RootFiles:  []string{"pom.xml", "build.gradle", "build.gradle.kts"},
	})

	r.Register(ServerPreset{
		LanguageID: "c",
		Command:    "clangd",
		Extensions: []string{".c", ".h"},
		RootFiles:  []string{"compile_commands.json", "CMakeLists.txt", "Makefile"},
	})

	r.Register(ServerPreset{
		LanguageID: "cpp",
		Command:    "clangd",
		Extensions: []string{".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx"},
		RootFiles:  []string{"compile_commands.json", "CMakeLists.txt", "Makefile"},
	})
}

// Register adds or replaces the preset for p.LanguageID and maps its
// extensions to it.
func (r *PresetRegistry) Register(p ServerPreset) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLang[p.LanguageID] = p
	for _, ext := range p.Extensions {
		r.byExt[strings.ToLower(ext)] = p.LanguageID
	}
}

// Get returns the preset for a languageId.
func (r *PresetRegistry) Get(languageID string) (ServerPreset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byLang[languageID]
	return p, ok
}

// ForPath returns the preset that handles path, by extension.
func (r *PresetRegistry) ForPath(path string) (ServerPreset, bool) {
	lang, ok := r.LanguageIDForPath(path)
	if !ok {
		return ServerPreset{}, false
	}
	return r.Get(lang)
}

// LanguageIDForPath maps a file path to its languageId by extension.
//
// Outputs:
//
//	string - The languageId (empty if the extension is unknown)
//	bool - True if a mapping was found
func (r *PresetRegistry) LanguageIDForPath(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.byExt[ext]
	return lang, ok
}

// Languages returns every registered languageId, sorted.
func (r *PresetRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]string, 0, len(r.byLang))
	for lang := range r.byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Extensions returns every mapped file extension, sorted.
func (r *PresetRegistry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// FindRoot walks up from path looking for one of the preset's root files.
// It returns the directory of path itself when none is found.
func (p ServerPreset) FindRoot(path string) string {
	start, err := filepath.Abs(path)
	if err != nil {
		return filepath.Dir(path)
	}
	if info, err := os.Stat(start); err == nil && !info.IsDir() {
		start = filepath.Dir(start)
	}

	for dir := start; ; {
		for _, name := range p.RootFiles {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}
