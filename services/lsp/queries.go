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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/lspengine/pkg/logging"
	"github.com/AleutianAI/lspengine/pkg/telemetry"
)

// Derived queries.
//
// Each query requires Initialized, sends one correlated request and
// normalizes the result into a single Go shape. Request failures (timeout,
// server error, crash, malformed result) are logged at warning and yield an
// empty result with a nil error, so enrichment never breaks the host. Only
// the Initialized guard is returned as an error.

// GetInfoOnLocation returns the hover text at pos, or "" when there is none.
//
// Description:
//
//	Sends textDocument/hover. The contents may be a string, a
//	MarkupContent, a MarkedString or an array of those; arrays are joined
//	with a blank line.
//
// Errors:
//
//	ErrNotInitialized - Client is not Initialized
func (c *Client) GetInfoOnLocation(ctx context.Context, uri string, pos Position) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("ctx must not be nil")
	}
	sess, err := c.requireInitialized()
	if err != nil {
		return "", err
	}

	ctx, span := startOperationSpan(ctx, "GetInfoOnLocation", uri)
	defer span.End()

	raw, err := sess.corr.SendRequest(ctx, MethodHover, HoverParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	})
	if err != nil {
		c.queryFailed(ctx, span, "hover", uri, err)
		return "", nil
	}

	text, err := normalizeHover(raw)
	if err != nil {
		c.queryFailed(ctx, span, "hover", uri, err)
		return "", nil
	}

	cnt := 0
	if text != "" {
		cnt = 1
	}
	c.querySucceeded(ctx, span, "hover", cnt)
	return text, nil
}

// GetCompletion returns the completion items at pos. Never nil.
//
// Description:
//
//	Sends textDocument/completion and accepts either a bare item array or
//	a CompletionList.
//
// Errors:
//
//	ErrNotInitialized - Client is not Initialized
func (c *Client) GetCompletion(ctx context.Context, uri string, pos Position) ([]CompletionItem, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	sess, err := c.requireInitialized()
	if err != nil {
		return nil, err
	}

	ctx, span := startOperationSpan(ctx, "GetCompletion", uri)
	defer span.End()

	raw, err := sess.corr.SendRequest(ctx, MethodCompletion, CompletionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	})
	if err != nil {
		c.queryFailed(ctx, span, "completion", uri, err)
		return []CompletionItem{}, nil
	}

	items, err := normalizeCompletion(raw)
	if err != nil {
		c.queryFailed(ctx, span, "completion", uri, err)
		return []CompletionItem{}, nil
	}

	c.querySucceeded(ctx, span, "completion", len(items))
	return items, nil
}

// GetCodeActions returns the code actions for rng. Never nil.
//
// Description:
//
//	Sends textDocument/codeAction with the stored diagnostics for uri
//	whose range overlaps rng as context. Bare Commands in the result are
//	returned as a CodeAction whose Command is set.
//
// Errors:
//
//	ErrNotInitialized - Client is not Initialized
func (c *Client) GetCodeActions(ctx context.Context, uri string, rng Range) ([]CodeAction, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	sess, err := c.requireInitialized()
	if err != nil {
		return nil, err
	}

	ctx, span := startOperationSpan(ctx, "GetCodeActions", uri)
	defer span.End()

	relevant := []Diagnostic{}
	for _, d := range c.diags.Get(uri) {
		if d.Range.Overlaps(rng) {
			relevant = append(relevant, d)
		}
	}

	raw, err := sess.corr.SendRequest(ctx, MethodCodeAction, CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Range:        rng,
		Context:      CodeActionContext{Diagnostics: relevant},
	})
	if err != nil {
		c.queryFailed(ctx, span, "codeAction", uri, err)
		return []CodeAction{}, nil
	}

	actions, err := normalizeCodeActions(raw)
	if err != nil {
		c.queryFailed(ctx, span, "codeAction", uri, err)
		return []CodeAction{}, nil
	}

	c.querySucceeded(ctx, span, "codeAction", len(actions))
	return actions, nil
}

func (c *Client) queryFailed(ctx context.Context, span trace.Span, operation, uri string, err error) {
	telemetry.RecordError(span, err, attribute.String("lsp.operation", operation))
	setOperationSpanResult(span, 0, false)
	recordOperationMetrics(ctx, operation, 0, false)
	c.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: %s on %s failed: %v", operation, uri, err))
}

func (c *Client) querySucceeded(ctx context.Context, span trace.Span, operation string, cnt int) {
	setOperationSpanResult(span, cnt, true)
	telemetry.SetSpanOK(span)
	recordOperationMetrics(ctx, operation, cnt, true)
}

// =============================================================================
// NORMALIZATION
// =============================================================================

func isNull(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// normalizeHover extracts plain text from a Hover result.
func normalizeHover(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var hover struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(raw, &hover); err != nil {
		return "", fmt.Errorf("parse hover: %w", err)
	}
	return hoverText(hover.Contents)
}

// hoverText flattens MarkedString | MarkedString[] | MarkupContent.
func hoverText(raw json.RawMessage) (string, error) {
	v := bytes.TrimSpace(raw)
	if isNull(v) {
		return "", nil
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("parse hover string: %w", err)
		}
		return s, nil
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(v, &parts); err != nil {
			return "", fmt.Errorf("parse hover array: %w", err)
		}
		texts := make([]string, 0, len(parts))
		for _, part := range parts {
			text, err := hoverText(part)
			if err != nil {
				return "", err
			}
			if text != "" {
				texts = append(texts, text)
			}
		}
		return strings.Join(texts, "\n\n"), nil
	case '{':
		// MarkupContent {kind, value} and MarkedString {language, value}
		// both carry the text in value.
		var obj struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(v, &obj); err != nil {
			return "", fmt.Errorf("parse hover content: %w", err)
		}
		return obj.Value, nil
	default:
		return "", fmt.Errorf("unexpected hover contents %s", truncateForLog(v, 64))
	}
}

// normalizeCompletion accepts CompletionItem[] | CompletionList | null.
func normalizeCompletion(raw json.RawMessage) ([]CompletionItem, error) {
	v := bytes.TrimSpace(raw)
	if isNull(v) {
		return []CompletionItem{}, nil
	}

	var items []CompletionItem
	switch v[0] {
	case '[':
		if err := json.Unmarshal(v, &items); err != nil {
			return nil, fmt.Errorf("parse completion items: %w", err)
		}
	case '{':
		var list CompletionList
		if err := json.Unmarshal(v, &list); err != nil {
			return nil, fmt.Errorf("parse completion list: %w", err)
		}
		items = list.Items
	default:
		return nil, fmt.Errorf("unexpected completion result %s", truncateForLog(v, 64))
	}
	if items == nil {
		items = []CompletionItem{}
	}
	return items, nil
}

// normalizeCodeActions accepts (Command | CodeAction)[] | null.
func normalizeCodeActions(raw json.RawMessage) ([]CodeAction, error) {
	if isNull(raw) {
		return []CodeAction{}, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("parse code actions: %w", err)
	}

	actions := make([]CodeAction, 0, len(elems))
	for _, elem := range elems {
		var probe struct {
			Command json.RawMessage `json:"command"`
		}
		if err := json.Unmarshal(elem, &probe); err != nil {
			return nil, fmt.Errorf("parse code action: %w", err)
		}

		// A Command has a string "command"; a CodeAction's command is an object.
		cmdField := bytes.TrimSpace(probe.Command)
		if len(cmdField) > 0 && cmdField[0] == '"' {
			var cmd Command
			if err := json.Unmarshal(elem, &cmd); err != nil {
				return nil, fmt.Errorf("parse command: %w", err)
			}
			actions = append(actions, CodeAction{Title: cmd.Title, Command: &cmd})
			continue
		}

		var action CodeAction
		if err := json.Unmarshal(elem, &action); err != nil {
			return nil, fmt.Errorf("parse code action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}
