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
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind MessageKind
		wantErr  bool
	}{
		{name: "request", input: `{"jsonrpc":"2.0","id":3,"method":"workspace/configuration","params":{}}`, wantKind: KindRequest},
		{name: "request with string id", input: `{"jsonrpc":"2.0","id":"abc","method":"client/registerCapability"}`, wantKind: KindRequest},
		{name: "notification", input: `{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{}}`, wantKind: KindNotification},
		{name: "result response", input: `{"jsonrpc":"2.0","id":1,"result":{"x":1}}`, wantKind: KindResponse},
		{name: "null result response", input: `{"jsonrpc":"2.0","id":1,"result":null}`, wantKind: KindResponse},
		{name: "error response", input: `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, wantKind: KindResponse},
		{name: "error response without id", input: `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse"}}`, wantKind: KindResponse},
		{name: "not json", input: `{"jsonrpc":`, wantErr: true},
		{name: "no method result or error", input: `{"jsonrpc":"2.0","id":1}`, wantErr: true},
		{name: "bad id type", input: `{"jsonrpc":"2.0","id":{},"method":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidMessage))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, msg.Kind)
		})
	}

	t.Run("null result is kept distinct from missing result", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":9,"result":null}`))
		require.NoError(t, err)
		assert.Equal(t, "null", string(msg.Result))
		assert.Nil(t, msg.Error)
		require.NotNil(t, msg.ID)
		assert.Equal(t, int64(9), msg.ID.Num)
	})

	t.Run("error fields are decoded", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32800,"message":"cancelled","data":{"k":1}}}`))
		require.NoError(t, err)
		require.NotNil(t, msg.Error)
		assert.True(t, msg.Error.IsRequestCancelled())
		assert.JSONEq(t, `{"k":1}`, string(msg.Error.Data))
	})
}

func TestMessage_MarshalJSON(t *testing.T) {
	t.Run("request", func(t *testing.T) {
		msg, err := NewRequest(4, MethodHover, TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: "file:///a.go"},
			Position:     Position{Line: 1, Character: 2},
		})
		require.NoError(t, err)

		data, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":4,"method":"textDocument/hover","params":{"textDocument":{"uri":"file:///a.go"},"position":{"line":1,"character":2}}}`, string(data))
	})

	t.Run("notification without params", func(t *testing.T) {
		msg, err := NewNotification(MethodExit, nil)
		require.NoError(t, err)

		data, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","method":"exit"}`, string(data))
	})

	t.Run("null result response", func(t *testing.T) {
		msg, err := NewResponse(StringID("srv-1"), nil)
		require.NoError(t, err)

		data, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":"srv-1","result":null}`, string(data))
	})

	t.Run("error response", func(t *testing.T) {
		data, err := json.Marshal(NewErrorResponse(NumberID(2), CodeMethodNotFound, "missing"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"missing"}}`, string(data))
	})

	t.Run("request without id is rejected", func(t *testing.T) {
		_, err := json.Marshal(Message{Kind: KindRequest, Method: "x"})
		assert.Error(t, err)
	})

	t.Run("round trip through the parser", func(t *testing.T) {
		orig, err := NewRequest(12, MethodCompletion, map[string]int{"a": 1})
		require.NoError(t, err)
		data, err := json.Marshal(orig)
		require.NoError(t, err)

		parsed, err := ParseMessage(data)
		require.NoError(t, err)
		assert.Equal(t, KindRequest, parsed.Kind)
		assert.Equal(t, MethodCompletion, parsed.Method)
		assert.Equal(t, int64(12), parsed.ID.Num)
		assert.JSONEq(t, `{"a":1}`, string(parsed.Params))
	})
}

func TestEncodeFrame(t *testing.T) {
	msg, err := NewNotification(MethodInitialized, struct{}{})
	require.NoError(t, err)

	out, err := EncodeFrame(msg)
	require.NoError(t, err)

	header, body, ok := strings.Cut(string(out), "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, "Content-Length: 52", header)
	assert.Len(t, body, 52)

	decoded := NewDecoder(DecoderOptions{}).Write(out)
	require.Len(t, decoded, 1)
	assert.Equal(t, MethodInitialized, decoded[0].Method)
}

func TestID(t *testing.T) {
	var id ID
	require.NoError(t, json.Unmarshal([]byte(`"x-1"`), &id))
	assert.True(t, id.IsString)
	assert.Equal(t, `"x-1"`, id.String())

	require.NoError(t, json.Unmarshal([]byte(`17`), &id))
	assert.False(t, id.IsString)
	assert.Equal(t, "17", id.String())

	assert.Error(t, json.Unmarshal([]byte(`1.5`), &id))
}

func TestResponseError(t *testing.T) {
	var err error = &ResponseError{Code: CodeMethodNotFound, Message: "unknown"}
	assert.Equal(t, "LSP error -32601: unknown", err.Error())

	var rerr *ResponseError
	require.True(t, errors.As(err, &rerr))
	assert.True(t, rerr.IsMethodNotFound())
	assert.False(t, rerr.IsServerNotInitialized())
}
