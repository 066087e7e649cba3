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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lspengine/services/lsp"
)

type hoverOutput struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
	Contents  string `json:"contents"`
}

type completeOutput struct {
	Items []lsp.CompletionItem `json:"items"`
}

type actionsOutput struct {
	Actions []lsp.CodeAction `json:"actions"`
	Diffs   map[int]string   `json:"diffs,omitempty"`
}

// withDocument starts a server for path, opens the file and runs fn.
func withDocument(ctx context.Context, path string, fn func(client *lsp.Client, uri string) error) error {
	client, lang, err := env.startClient(ctx, path, "")
	if err != nil {
		return err
	}
	defer client.Close()

	uri, err := openFile(ctx, client, path, lang)
	if err != nil {
		return err
	}
	return fn(client, uri)
}

func runHover(cmd *cobra.Command, args []string) error {
	pos, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}

	return withDocument(cmd.Context(), args[0], func(client *lsp.Client, uri string) error {
		text, err := client.GetInfoOnLocation(cmd.Context(), uri, pos)
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), hoverOutput{
				File:      args[0],
				Line:      pos.Line,
				Character: pos.Character,
				Contents:  text,
			})
		}
		if text == "" {
			env.printer.Info("No hover information")
			return nil
		}
		env.printer.Box(fmt.Sprintf("%s:%d:%d", args[0], pos.Line+1, pos.Character+1), text)
		return nil
	})
}

func runComplete(cmd *cobra.Command, args []string) error {
	pos, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}

	return withDocument(cmd.Context(), args[0], func(client *lsp.Client, uri string) error {
		items, err := client.GetCompletion(cmd.Context(), uri, pos)
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), completeOutput{Items: items})
		}
		if len(items) == 0 {
			env.printer.Info("No completions")
			return nil
		}
		for _, item := range items {
			env.printer.Item(item.Label, item.Detail)
		}
		return nil
	})
}

func runActions(cmd *cobra.Command, args []string) error {
	start, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	end := start
	if len(args) == 5 {
		if end, err = parsePosition(args[3], args[4]); err != nil {
			return err
		}
	}
	if end.Before(start) {
		return fmt.Errorf("range end %d:%d is before start %d:%d",
			end.Line+1, end.Character+1, start.Line+1, start.Character+1)
	}

	return withDocument(cmd.Context(), args[0], func(client *lsp.Client, uri string) error {
		actions, err := client.GetCodeActions(cmd.Context(), uri, lsp.Range{Start: start, End: end})
		if err != nil {
			return err
		}

		diffs := make(map[int]string)
		if showDiff {
			for i, action := range actions {
				if action.Edit == nil {
					continue
				}
				rendered, err := lsp.RenderWorkspaceEdit(*action.Edit, lsp.ReadFromDisk)
				if err != nil {
					env.logger.Warning("could not render code action edit", "action", action.Title, "error", err)
					continue
				}
				diffs[i] = rendered
			}
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), actionsOutput{Actions: actions, Diffs: diffs})
		}
		if len(actions) == 0 {
			env.printer.Info("No code actions")
			return nil
		}
		for i, action := range actions {
			detail := action.Kind
			if action.Command != nil && action.Edit == nil {
				detail = "command: " + action.Command.Command
			}
			env.printer.Item(fmt.Sprintf("%d. %s", i+1, action.Title), detail)
			if d, ok := diffs[i]; ok {
				env.printer.Diff(d)
			}
		}
		return nil
	})
}
