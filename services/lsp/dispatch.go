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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/lspengine/pkg/logging"
)

const (
	// DefaultQueueSize is the capacity of the inbound message queue.
	DefaultQueueSize = 256

	readChunkSize  = 32 << 10
	maxStderrLine  = 1 << 20
	killWaitPeriod = 2 * time.Second
)

// sessionConfig carries the per-process settings derived from ClientConfig.
type sessionConfig struct {
	requestTimeout time.Duration
	maxFrameSize   int
	maxBufferSize  int
	queueSize      int
	sink           logging.Sink

	// onNotification runs on the dispatch goroutine for every notification.
	onNotification func(Message)

	// onExit runs once after the process exited and the queue drained.
	onExit func(*session, error)
}

// session is everything that belongs to one server process: the pipes,
// the decoder, the message queue and the correlator. Restart discards the
// whole session and builds a new one, which resets ids, pending calls and
// buffered bytes in one step.
//
// Goroutines per session:
//
//	readLoop     - stdout -> Decoder -> inbox
//	dispatchLoop - inbox -> correlator / notification handler
//	stderrLoop   - stderr lines -> debug log
//	waitLoop     - waits for the above, reaps the process, reports exit
type session struct {
	proc    Process
	corr    *Correlator
	decoder *Decoder
	inbox   chan Message
	cfg     sessionConfig
	sink    logging.Sink

	abandoned atomic.Bool
	exited    chan struct{}
	exitErr   error

	readers    sync.WaitGroup
	dispatched chan struct{}
}

func newSession(proc Process, cfg sessionConfig) *session {
	if cfg.queueSize <= 0 {
		cfg.queueSize = DefaultQueueSize
	}
	if cfg.sink == nil {
		cfg.sink = logging.Nop()
	}
	s := &session{
		proc:       proc,
		cfg:        cfg,
		sink:       cfg.sink,
		inbox:      make(chan Message, cfg.queueSize),
		exited:     make(chan struct{}),
		dispatched: make(chan struct{}),
		decoder: NewDecoder(DecoderOptions{
			MaxFrameSize:  cfg.maxFrameSize,
			MaxBufferSize: cfg.maxBufferSize,
			Sink:          cfg.sink,
		}),
	}
	s.corr = NewCorrelator(s.write, CorrelatorOptions{
		Timeout: cfg.requestTimeout,
		Sink:    cfg.sink,
	})
	return s
}

// run starts the session goroutines.
func (s *session) run() {
	s.readers.Add(2)
	go s.readLoop()
	go s.stderrLoop()
	go s.dispatchLoop()
	go s.waitLoop()
}

// write frames a message onto the server's stdin. The correlator
// serializes calls.
func (s *session) write(msg Message) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	if _, err := s.proc.Stdin().Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop feeds stdout into the decoder and queues complete messages.
// The queue is closed when stdout ends.
func (s *session) readLoop() {
	defer s.readers.Done()
	defer close(s.inbox)

	buf := make([]byte, readChunkSize)
	for {
		n, err := s.proc.Stdout().Read(buf)
		if n > 0 {
			for _, msg := range s.decoder.Write(buf[:n]) {
				s.inbox <- msg
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !s.abandoned.Load() {
				s.sink.Log(logging.LevelDebug, fmt.Sprintf("lsp: stdout read ended: %v", err))
			}
			return
		}
	}
}

// dispatchLoop handles queued messages one at a time in arrival order.
// Messages that arrive after the session was abandoned are drained and
// dropped.
func (s *session) dispatchLoop() {
	defer close(s.dispatched)
	for msg := range s.inbox {
		if s.abandoned.Load() {
			continue
		}
		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg Message) {
	switch msg.Kind {
	case KindResponse:
		s.corr.Resolve(msg)
	case KindNotification:
		s.sink.Log(levelForMethod(msg.Method), fmt.Sprintf("lsp <-- notification %s", msg.Method))
		if s.cfg.onNotification != nil {
			s.cfg.onNotification(msg)
		}
	case KindRequest:
		s.answerServerRequest(msg)
	}
}

// answerServerRequest replies to a server-initiated request. The engine
// implements none of them, so each gets a null result; workspace/configuration
// gets one null per requested item.
func (s *session) answerServerRequest(msg Message) {
	s.sink.Log(logging.LevelDebug, fmt.Sprintf("lsp <-- server request %s (id %s)", msg.Method, msg.ID))

	var result interface{}
	if msg.Method == MethodConfiguration {
		var params struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.sink.Log(logging.LevelDebug, fmt.Sprintf("lsp: malformed %s params: %v", msg.Method, err))
		}
		result = make([]interface{}, len(params.Items))
	}

	reply, err := NewResponse(*msg.ID, result)
	if err != nil {
		s.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: cannot answer %s: %v", msg.Method, err))
		return
	}
	if err := s.corr.Reply(reply); err != nil {
		s.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: answering %s failed: %v", msg.Method, err))
	}
}

// stderrLoop forwards server stderr lines to the sink at debug level.
func (s *session) stderrLoop() {
	defer s.readers.Done()
	stderr := s.proc.Stderr()
	if stderr == nil {
		return
	}
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), maxStderrLine)
	for scanner.Scan() {
		s.sink.Log(logging.LevelDebug, "lsp server stderr: "+scanner.Text())
	}
}

// waitLoop reaps the process once its output is drained, then closes the
// correlator so any caller still waiting observes ErrServerCrashed.
func (s *session) waitLoop() {
	s.readers.Wait()
	<-s.dispatched

	err := s.proc.Wait()
	s.exitErr = err
	close(s.exited)

	if err != nil {
		s.sink.Log(logging.LevelNotice, fmt.Sprintf("lsp server (pid %d) exited: %v", s.proc.Pid(), err))
	} else {
		s.sink.Log(logging.LevelNotice, fmt.Sprintf("lsp server (pid %d) exited", s.proc.Pid()))
	}

	s.corr.Close(ErrServerCrashed)
	if s.cfg.onExit != nil {
		s.cfg.onExit(s, err)
	}
}

// abandon detaches the session: pending calls are dropped, waiters observe
// err and late messages are ignored.
func (s *session) abandon(err error) {
	s.abandoned.Store(true)
	s.corr.Close(err)
}

// terminate kills the process and waits briefly for it to be reaped.
func (s *session) terminate() {
	select {
	case <-s.exited:
		return
	default:
	}
	if err := s.proc.Kill(); err != nil {
		s.sink.Log(logging.LevelDebug, fmt.Sprintf("lsp: kill server (pid %d): %v", s.proc.Pid(), err))
	}
	select {
	case <-s.exited:
	case <-time.After(killWaitPeriod):
		s.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: server (pid %d) did not exit after kill", s.proc.Pid()))
	}
}

// isExited reports whether the process has been reaped.
func (s *session) isExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}
