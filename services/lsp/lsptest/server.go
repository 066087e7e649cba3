// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsptest provides an in-memory language server for tests.
//
// A Server implements lsp.Process over io.Pipe, decodes whatever the client
// writes, records every message and answers requests through per-method
// handlers. Tests can push notifications, write raw bytes, delay or drop
// replies and simulate crashes.
package lsptest

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/lspengine/services/lsp"
)

// ErrKilled is returned by Wait after Kill.
var ErrKilled = errors.New("lsptest: server killed")

var nextPid atomic.Int64

// Handler answers a request. A non-nil error becomes an error response.
type Handler func(params json.RawMessage) (interface{}, *lsp.ResponseError)

// Server is a scripted language server.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Server struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	pid     int

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]Handler
	ignored  map[string]bool
	received []lsp.Message

	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error
}

// NewServer starts a server with default handlers for initialize and
// shutdown. Unknown requests get a MethodNotFound error.
func NewServer() *Server {
	s := &Server{
		pid:      int(nextPid.Add(1)) + 10000,
		handlers: make(map[string]Handler),
		ignored:  make(map[string]bool),
		exited:   make(chan struct{}),
	}
	s.stdinR, s.stdinW = io.Pipe()
	s.stdoutR, s.stdoutW = io.Pipe()
	s.stderrR, s.stderrW = io.Pipe()

	s.handlers[lsp.MethodInitialize] = func(json.RawMessage) (interface{}, *lsp.ResponseError) {
		return DefaultInitializeResult(), nil
	}
	s.handlers[lsp.MethodShutdown] = func(json.RawMessage) (interface{}, *lsp.ResponseError) {
		return nil, nil
	}

	go s.serve()
	return s
}

// DefaultInitializeResult advertises hover, completion and code actions.
func DefaultInitializeResult() map[string]interface{} {
	return map[string]interface{}{
		"capabilities": map[string]interface{}{
			"textDocumentSync":   1,
			"hoverProvider":      true,
			"completionProvider": map[string]interface{}{"triggerCharacters": []string{"."}},
			"codeActionProvider": true,
		},
		"serverInfo": map[string]interface{}{"name": "lsptest", "version": "1.0"},
	}
}

// =============================================================================
// SCRIPTING
// =============================================================================

// Handle installs a handler for method, replacing any previous one.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
	delete(s.ignored, method)
}

// HandleResult answers method with a fixed result.
func (s *Server) HandleResult(method string, result interface{}) {
	s.Handle(method, func(json.RawMessage) (interface{}, *lsp.ResponseError) {
		return result, nil
	})
}

// HandleRaw answers method with a literal JSON result.
func (s *Server) HandleRaw(method, rawJSON string) {
	s.HandleResult(method, json.RawMessage(rawJSON))
}

// Ignore makes the server record but never answer requests for method.
// Use Respond to answer them later.
func (s *Server) Ignore(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignored[method] = true
}

// Respond sends a response for id, e.g. to answer an ignored request late.
func (s *Server) Respond(id lsp.ID, result interface{}) error {
	msg, err := lsp.NewResponse(id, result)
	if err != nil {
		return err
	}
	return s.Send(msg)
}

// Notify pushes a notification to the client.
func (s *Server) Notify(method string, params interface{}) error {
	msg, err := lsp.NewNotification(method, params)
	if err != nil {
		return err
	}
	return s.Send(msg)
}

// Request sends a server-to-client request.
func (s *Server) Request(id lsp.ID, method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.Send(lsp.Message{Kind: lsp.KindRequest, ID: &id, Method: method, Params: raw})
}

// PublishDiagnostics pushes textDocument/publishDiagnostics for uri.
func (s *Server) PublishDiagnostics(uri string, diagnostics []lsp.Diagnostic) error {
	if diagnostics == nil {
		diagnostics = []lsp.Diagnostic{}
	}
	return s.Notify(lsp.MethodPublishDiagnostics, lsp.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// Send frames and writes msg to the client.
func (s *Server) Send(msg lsp.Message) error {
	frame, err := lsp.EncodeFrame(msg)
	if err != nil {
		return err
	}
	return s.WriteRaw(frame)
}

// WriteRaw writes bytes to the client's stdout unchanged.
func (s *Server) WriteRaw(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.stdoutW.Write(b)
	return err
}

// WriteStderr writes a line to the client's stderr.
func (s *Server) WriteStderr(line string) error {
	_, err := s.stderrW.Write([]byte(line + "\n"))
	return err
}

// =============================================================================
// INSPECTION
// =============================================================================

// Received returns every message the client sent, in order.
func (s *Server) Received() []lsp.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lsp.Message(nil), s.received...)
}

// Messages returns the received messages with the given method.
func (s *Server) Messages(method string) []lsp.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []lsp.Message
	for _, m := range s.received {
		if m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

// Methods returns the methods of every received request and notification.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.received {
		if m.Method != "" {
			out = append(out, m.Method)
		}
	}
	return out
}

// Exited reports whether the server has exited.
func (s *Server) Exited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// Exit simulates the process terminating with err (nil for a clean exit).
func (s *Server) Exit(err error) {
	s.exitOnce.Do(func() {
		s.exitErr = err
		_ = s.stdoutW.Close()
		_ = s.stderrW.Close()
		_ = s.stdinR.CloseWithError(io.ErrClosedPipe)
		close(s.exited)
	})
}

// =============================================================================
// lsp.Process
// =============================================================================

// Stdin implements lsp.Process.
func (s *Server) Stdin() io.WriteCloser { return s.stdinW }

// Stdout implements lsp.Process.
func (s *Server) Stdout() io.Reader { return s.stdoutR }

// Stderr implements lsp.Process.
func (s *Server) Stderr() io.Reader { return s.stderrR }

// Pid implements lsp.Process.
func (s *Server) Pid() int { return s.pid }

// Wait implements lsp.Process.
func (s *Server) Wait() error {
	<-s.exited
	return s.exitErr
}

// Kill implements lsp.Process.
func (s *Server) Kill() error {
	s.Exit(ErrKilled)
	return nil
}

// =============================================================================
// SERVE LOOP
// =============================================================================

func (s *Server) serve() {
	dec := lsp.NewDecoder(lsp.DecoderOptions{})
	buf := make([]byte, 4096)
	for {
		n, err := s.stdinR.Read(buf)
		if n > 0 {
			for _, msg := range dec.Write(buf[:n]) {
				s.handle(msg)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handle(msg lsp.Message) {
	s.mu.Lock()
	s.received = append(s.received, msg)
	h := s.handlers[msg.Method]
	ignored := s.ignored[msg.Method]
	s.mu.Unlock()

	switch msg.Kind {
	case lsp.KindNotification:
		if h != nil {
			h(msg.Params)
		}
		if msg.Method == lsp.MethodExit {
			s.Exit(nil)
		}
	case lsp.KindRequest:
		if ignored {
			return
		}
		if h == nil {
			_ = s.Send(lsp.NewErrorResponse(*msg.ID, lsp.CodeMethodNotFound, "method not found: "+msg.Method))
			return
		}
		result, rerr := h(msg.Params)
		if rerr != nil {
			reply := lsp.NewErrorResponse(*msg.ID, rerr.Code, rerr.Message)
			reply.Error.Data = rerr.Data
			_ = s.Send(reply)
			return
		}
		_ = s.Respond(*msg.ID, result)
	}
}
