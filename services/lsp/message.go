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
	"fmt"
	"strconv"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// =============================================================================
// MESSAGE IDS
// =============================================================================

// ID is a JSON-RPC request id. The client only ever issues numeric ids,
// but servers may use strings for the requests they send us.
type ID struct {
	Num      int64
	Str      string
	IsString bool
}

// NumberID returns a numeric ID.
func NumberID(n int64) ID {
	return ID{Num: n}
}

// StringID returns a string ID.
func StringID(s string) ID {
	return ID{Str: s, IsString: true}
}

// String renders the id for logs.
func (id ID) String() string {
	if id.IsString {
		return strconv.Quote(id.Str)
	}
	return strconv.FormatInt(id.Num, 10)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsString {
		return json.Marshal(id.Str)
	}
	return []byte(strconv.FormatInt(id.Num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = NumberID(n)
	return nil
}

// =============================================================================
// MESSAGE UNION
// =============================================================================

// MessageKind discriminates the Message union.
type MessageKind int

const (
	// KindRequest is a call that expects a Response.
	KindRequest MessageKind = iota + 1

	// KindResponse answers a Request.
	KindResponse

	// KindNotification is a one-way message.
	KindNotification
)

// String returns a human-readable kind name.
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Message is one JSON-RPC message.
//
// Description:
//
//	A closed union of Request, Response and Notification discriminated
//	by Kind. Fields that do not belong to the kind are zero:
//
//	  Request:      ID, Method, Params
//	  Response:     ID (nil for id-less error responses), Result or Error
//	  Notification: Method, Params
//
//	A Response with a JSON null result keeps Result == "null" so it can
//	be told apart from an error response.
type Message struct {
	Kind   MessageKind
	ID     *ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *ResponseError
}

// wireMessage is the JSON shape shared by all three kinds.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// NewRequest builds a Request, marshaling params.
func NewRequest(id int64, method string, params interface{}) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s params: %w", method, err)
	}
	reqID := NumberID(id)
	return Message{Kind: KindRequest, ID: &reqID, Method: method, Params: raw}, nil
}

// NewNotification builds a Notification, marshaling params.
func NewNotification(method string, params interface{}) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s params: %w", method, err)
	}
	return Message{Kind: KindNotification, Method: method, Params: raw}, nil
}

// NewResponse builds a successful Response. A nil result encodes as null.
func NewResponse(id ID, result interface{}) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("marshal result: %w", err)
	}
	return Message{Kind: KindResponse, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error Response.
func NewErrorResponse(id ID, code int, message string) Message {
	return Message{Kind: KindResponse, ID: &id, Error: &ResponseError{Code: code, Message: message}}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{JSONRPC: JSONRPCVersion, Method: m.Method, Params: m.Params}
	switch m.Kind {
	case KindRequest:
		if m.ID == nil {
			return nil, fmt.Errorf("%w: request without id", ErrInvalidMessage)
		}
		w.ID = m.ID
	case KindNotification:
	case KindResponse:
		w.Method, w.Params = "", nil
		w.ID = m.ID
		if m.Error != nil {
			w.Error = m.Error
		} else {
			w.Result = m.Result
			if len(w.Result) == 0 {
				w.Result = json.RawMessage("null")
			}
		}
		if w.ID == nil {
			// An id-less response must still carry "id": null.
			return marshalNullIDResponse(w)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidMessage, m.Kind)
	}
	return json.Marshal(w)
}

func marshalNullIDResponse(w wireMessage) ([]byte, error) {
	out := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *ID             `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *ResponseError  `json:"error,omitempty"`
	}{JSONRPC: w.JSONRPC, Result: w.Result, Error: w.Error}
	return json.Marshal(out)
}

// ParseMessage classifies a JSON payload as a Request, Response or Notification.
//
// Description:
//
//	Classification follows JSON-RPC 2.0:
//	  method + id      -> Request (server to client)
//	  method, no id    -> Notification
//	  no method        -> Response, which must carry result or error
//
// Outputs:
//
//	Message - The parsed message
//	error - Wraps ErrInvalidMessage when the payload is not a JSON-RPC message
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch {
	case w.Method != "" && w.ID != nil:
		return Message{Kind: KindRequest, ID: w.ID, Method: w.Method, Params: w.Params}, nil
	case w.Method != "":
		return Message{Kind: KindNotification, Method: w.Method, Params: w.Params}, nil
	case w.Error != nil:
		return Message{Kind: KindResponse, ID: w.ID, Error: w.Error}, nil
	case w.Result != nil:
		return Message{Kind: KindResponse, ID: w.ID, Result: w.Result}, nil
	default:
		return Message{}, fmt.Errorf("%w: neither method, result nor error present", ErrInvalidMessage)
	}
}

// EncodeFrame serializes a message as a Content-Length framed payload.
func EncodeFrame(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	frame := make([]byte, 0, len(header)+len(body))
	frame = append(frame, header...)
	return append(frame, body...), nil
}
