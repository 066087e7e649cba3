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
	"bytes"
	"encoding/json"
)

// =============================================================================
// POSITION TYPES
// =============================================================================

// Position is a zero-based line and UTF-16 character offset.
type Position struct {
	// Line is the zero-based line number.
	Line int `json:"line"`

	// Character is the zero-based character offset.
	Character int `json:"character"`
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Overlaps reports whether two ranges share at least one position.
// Touching ranges count as overlapping.
func (r Range) Overlaps(o Range) bool {
	return !r.End.Before(o.Start) && !o.End.Before(r.Start)
}

// Location is a range inside a document.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// =============================================================================
// DOCUMENT SYNC TYPES
// =============================================================================

// TextDocumentIdentifier identifies a document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// VersionedTextDocumentIdentifier identifies a specific document version.
type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// TextDocumentItem is the full content of a document sent on open.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// DidOpenTextDocumentParams are the params of textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// TextDocumentContentChangeEvent carries a change. A nil Range means the
// Text replaces the whole document.
type TextDocumentContentChangeEvent struct {
	Range *Range `json:"range,omitempty"`
	Text  string `json:"text"`
}

// DidChangeTextDocumentParams are the params of textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// DidCloseTextDocumentParams are the params of textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// TextDocumentPositionParams addresses a position inside a document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// DiagnosticSeverity ranks diagnostics. Lower is more severe.
type DiagnosticSeverity int

const (
	// SeverityNone is the aggregate severity of an empty diagnostics list.
	SeverityNone DiagnosticSeverity = 0

	// SeverityError reports an error.
	SeverityError DiagnosticSeverity = 1

	// SeverityWarning reports a warning.
	SeverityWarning DiagnosticSeverity = 2

	// SeverityInformation reports an information.
	SeverityInformation DiagnosticSeverity = 3

	// SeverityHint reports a hint. Diagnostics without a severity count as hints.
	SeverityHint DiagnosticSeverity = 4
)

// String returns "error", "warning", "information", "hint" or "none".
func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return "none"
	}
}

// Diagnostic is a compiler error, warning or hint attached to a range.
type Diagnostic struct {
	Range              Range                          `json:"range"`
	Severity           DiagnosticSeverity             `json:"severity,omitempty"`
	Code               json.RawMessage                `json:"code,omitempty"`
	Source             string                         `json:"source,omitempty"`
	Message            string                         `json:"message"`
	Tags               []int                          `json:"tags,omitempty"`
	RelatedInformation []DiagnosticRelatedInformation `json:"relatedInformation,omitempty"`
}

// EffectiveSeverity returns the severity, treating an absent one as a hint.
func (d Diagnostic) EffectiveSeverity() DiagnosticSeverity {
	if d.Severity < SeverityError || d.Severity > SeverityHint {
		return SeverityHint
	}
	return d.Severity
}

// DiagnosticRelatedInformation points at a related location.
type DiagnosticRelatedInformation struct {
	Location Location `json:"location"`
	Message  string   `json:"message"`
}

// PublishDiagnosticsParams are the params of textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     *int         `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// =============================================================================
// HOVER
// =============================================================================

// MarkupContent is documentation text with a declared kind.
type MarkupContent struct {
	// Kind is "plaintext" or "markdown".
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// HoverParams are the params of textDocument/hover.
type HoverParams = TextDocumentPositionParams

// =============================================================================
// COMPLETION
// =============================================================================

// CompletionParams are the params of textDocument/completion.
type CompletionParams = TextDocumentPositionParams

// Documentation accepts either a plain string or a MarkupContent on the
// wire and keeps only the text.
type Documentation string

// UnmarshalJSON implements json.Unmarshaler.
func (d *Documentation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Documentation(s)
		return nil
	}
	var mc MarkupContent
	if err := json.Unmarshal(data, &mc); err != nil {
		return err
	}
	*d = Documentation(mc.Value)
	return nil
}

// CompletionItem is one completion proposal.
type CompletionItem struct {
	Label         string        `json:"label"`
	Kind          int           `json:"kind,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	Documentation Documentation `json:"documentation,omitempty"`
	SortText      string        `json:"sortText,omitempty"`
	FilterText    string        `json:"filterText,omitempty"`
	InsertText    string        `json:"insertText,omitempty"`
}

// CompletionList is the wrapped form of a completion result.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// =============================================================================
// CODE ACTIONS
// =============================================================================

// Command is a reference to a server-side command.
type Command struct {
	Title     string            `json:"title"`
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// TextEdit replaces the text in Range with NewText.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// OptionalVersionedTextDocumentIdentifier allows a null version.
type OptionalVersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version *int   `json:"version"`
}

// TextDocumentEdit is a set of edits for one document version.
type TextDocumentEdit struct {
	TextDocument OptionalVersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                              `json:"edits"`
}

// WorkspaceEdit groups edits across documents.
type WorkspaceEdit struct {
	Changes         map[string][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []TextDocumentEdit    `json:"documentChanges,omitempty"`
}

// CodeAction is a normalized code action. Bare Commands returned by a
// server are converted into a CodeAction whose Command is set.
type CodeAction struct {
	Title       string         `json:"title"`
	Kind        string         `json:"kind,omitempty"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
	IsPreferred bool           `json:"isPreferred,omitempty"`
	Edit        *WorkspaceEdit `json:"edit,omitempty"`
	Command     *Command       `json:"command,omitempty"`
}

// CodeActionContext carries diagnostics relevant to a code action request.
type CodeActionContext struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
	Only        []string     `json:"only,omitempty"`
}

// CodeActionParams are the params of textDocument/codeAction.
type CodeActionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Range        Range                  `json:"range"`
	Context      CodeActionContext      `json:"context"`
}

// =============================================================================
// WINDOW
// =============================================================================

// MessageType is the severity used by window/logMessage and window/showMessage.
type MessageType int

const (
	MessageTypeError   MessageType = 1
	MessageTypeWarning MessageType = 2
	MessageTypeInfo    MessageType = 3
	MessageTypeLog     MessageType = 4
)

// LogMessageParams are the params of window/logMessage and window/showMessage.
type LogMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// =============================================================================
// INITIALIZE TYPES
// =============================================================================

// ClientInfo identifies this client to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// InitializeParams contains initialization parameters.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	ClientInfo            *ClientInfo        `json:"clientInfo,omitempty"`
	RootURI               string             `json:"rootUri"`
	RootPath              string             `json:"rootPath,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions interface{}        `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// ClientCapabilities describes what the client supports.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Workspace    WorkspaceClientCapabilities    `json:"workspace"`
}

// TextDocumentClientCapabilities describes text document capabilities.
type TextDocumentClientCapabilities struct {
	Synchronization    *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`
	Hover              *HoverCapabilities                  `json:"hover,omitempty"`
	Completion         *CompletionCapabilities             `json:"completion,omitempty"`
	CodeAction         *CodeActionCapabilities             `json:"codeAction,omitempty"`
	PublishDiagnostics *PublishDiagnosticsCapabilities     `json:"publishDiagnostics,omitempty"`
}

// TextDocumentSyncClientCapabilities describes sync capabilities.
type TextDocumentSyncClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
	DidSave             bool `json:"didSave,omitempty"`
}

// HoverCapabilities describes hover support.
type HoverCapabilities struct {
	ContentFormat []string `json:"contentFormat,omitempty"`
}

// CompletionCapabilities describes completion support.
type CompletionCapabilities struct {
	CompletionItem CompletionItemCapabilities `json:"completionItem"`
}

// CompletionItemCapabilities describes completion item support.
type CompletionItemCapabilities struct {
	SnippetSupport          bool     `json:"snippetSupport"`
	DocumentationFormat     []string `json:"documentationFormat,omitempty"`
	DeprecatedSupport       bool     `json:"deprecatedSupport,omitempty"`
	InsertReplaceSupport    bool     `json:"insertReplaceSupport,omitempty"`
	CommitCharactersSupport bool     `json:"commitCharactersSupport,omitempty"`
}

// CodeActionCapabilities describes code action support.
type CodeActionCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
	IsPreferredSupport  bool `json:"isPreferredSupport,omitempty"`
}

// PublishDiagnosticsCapabilities describes diagnostics support.
type PublishDiagnosticsCapabilities struct {
	RelatedInformation bool `json:"relatedInformation"`
	VersionSupport     bool `json:"versionSupport,omitempty"`
}

// WorkspaceClientCapabilities describes workspace capabilities.
type WorkspaceClientCapabilities struct {
	WorkspaceFolders bool `json:"workspaceFolders,omitempty"`
	Configuration    bool `json:"configuration,omitempty"`
}

// InitializeResult contains the server's response to initialize.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo contains information about the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities describes what the server supports.
//
// Provider fields are kept raw: servers send either a boolean or an
// options object.
type ServerCapabilities struct {
	TextDocumentSync   json.RawMessage `json:"textDocumentSync,omitempty"`
	HoverProvider      json.RawMessage `json:"hoverProvider,omitempty"`
	CompletionProvider json.RawMessage `json:"completionProvider,omitempty"`
	CodeActionProvider json.RawMessage `json:"codeActionProvider,omitempty"`
	DefinitionProvider json.RawMessage `json:"definitionProvider,omitempty"`
}

// HasHoverProvider returns true if hover is supported.
func (c *ServerCapabilities) HasHoverProvider() bool {
	return providerEnabled(c.HoverProvider)
}

// HasCompletionProvider returns true if completion is supported.
func (c *ServerCapabilities) HasCompletionProvider() bool {
	return providerEnabled(c.CompletionProvider)
}

// HasCodeActionProvider returns true if code actions are supported.
func (c *ServerCapabilities) HasCodeActionProvider() bool {
	return providerEnabled(c.CodeActionProvider)
}

// HasDefinitionProvider returns true if definition is supported.
func (c *ServerCapabilities) HasDefinitionProvider() bool {
	return providerEnabled(c.DefinitionProvider)
}

func providerEnabled(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) > 0 && !bytes.Equal(v, []byte("false")) && !bytes.Equal(v, []byte("null"))
}
