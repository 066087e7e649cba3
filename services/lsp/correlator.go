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
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/lspengine/pkg/logging"
)

// DefaultRequestTimeout is how long a request waits for its response.
const DefaultRequestTimeout = 10 * time.Second

// =============================================================================
// PENDING CALLS
// =============================================================================

type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is owned by the Correlator from send until resolution.
type pendingCall struct {
	id      int64
	method  string
	started time.Time
	timer   *time.Timer
	ch      chan callResult // buffered(1); written exactly once
}

// =============================================================================
// CORRELATOR
// =============================================================================

// SendFunc writes one message to the server.
type SendFunc func(Message) error

// CorrelatorOptions configures a Correlator.
type CorrelatorOptions struct {
	// Timeout bounds each request. Default: DefaultRequestTimeout.
	Timeout time.Duration

	// Sink receives wire traces and timeout warnings. Default: logging.Nop().
	Sink logging.Sink
}

// Correlator assigns request ids and matches responses to callers.
//
// Description:
//
//	Ids start at 1 and increase by one per request for the lifetime of
//	the Correlator. A fresh Correlator is created for every server
//	process, which is how restart resets ids. Id assignment and the write
//	happen under one lock, so ids appear on the wire in increasing order.
//
//	Each pending call is resolved exactly once: by its response, by its
//	timeout, or by the caller's context. Whichever comes first removes
//	the entry; the others find nothing and do nothing. Responses for
//	unknown ids are ignored.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Correlator struct {
	send    SendFunc
	timeout time.Duration
	sink    logging.Sink

	sendMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]*pendingCall
	closed   bool
	closeErr error
	done     chan struct{}
}

// NewCorrelator creates a Correlator that writes through send.
func NewCorrelator(send SendFunc, opts CorrelatorOptions) *Correlator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.Sink == nil {
		opts.Sink = logging.Nop()
	}
	return &Correlator{
		send:    send,
		timeout: opts.Timeout,
		sink:    opts.Sink,
		pending: make(map[int64]*pendingCall),
		done:    make(chan struct{}),
	}
}

// SendRequest sends a request and waits for its result.
//
// Description:
//
//	Writes a framed request and blocks until the matching response
//	arrives, the request timeout fires, ctx is done, or the Correlator
//	is closed.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	method - The LSP method to invoke
//	params - Method parameters (JSON-marshaled; nil omits params)
//
// Outputs:
//
//	json.RawMessage - The raw result ("null" for a null result)
//	error - *ResponseError from the server, ErrRequestTimeout, ctx.Err(),
//	        the close error, or a write failure
//
// Thread Safety:
//
//	Safe for concurrent use.
func (c *Correlator) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	call := &pendingCall{method: method, ch: make(chan callResult, 1)}

	c.sendMu.Lock()
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		c.sendMu.Unlock()
		return nil, err
	}
	c.nextID++
	call.id = c.nextID
	c.pending[call.id] = call
	c.mu.Unlock()

	id := NumberID(call.id)
	msg := Message{Kind: KindRequest, ID: &id, Method: method, Params: raw}
	c.sink.Log(levelForMethod(method), fmt.Sprintf("lsp --> request %s (id %d)", method, call.id))
	call.started = time.Now()
	if err := c.send(msg); err != nil {
		c.sendMu.Unlock()
		c.remove(call.id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	c.mu.Lock()
	if _, ok := c.pending[call.id]; ok {
		callID := call.id
		call.timer = time.AfterFunc(c.timeout, func() { c.expire(callID) })
	}
	c.mu.Unlock()
	c.sendMu.Unlock()

	select {
	case res := <-call.ch:
		return res.result, res.err
	case <-ctx.Done():
		if c.remove(call.id) {
			recordRequestLatency(context.Background(), method, time.Since(call.started), "cancelled")
			return nil, fmt.Errorf("%s (id %d): %w", method, call.id, ctx.Err())
		}
		// Already resolved, expired or dropped by Close; only the first two
		// write to call.ch.
		select {
		case res := <-call.ch:
			return res.result, res.err
		case <-c.done:
			select {
			case res := <-call.ch:
				return res.result, res.err
			default:
			}
			return nil, fmt.Errorf("%s (id %d): %w", method, call.id, c.closeErr)
		}
	case <-c.done:
		select {
		case res := <-call.ch:
			return res.result, res.err
		default:
		}
		return nil, fmt.Errorf("%s (id %d): %w", method, call.id, c.closeErr)
	}
}

// SendNotification sends a notification.
//
// Description:
//
//	Notifications are best effort: on a closed Correlator (no live
//	process) the call is logged and returns nil. Write failures on a
//	live process are returned.
func (c *Correlator) SendNotification(method string, params interface{}) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.isClosed() {
		c.sink.Log(logging.LevelDebug, fmt.Sprintf("lsp: dropping notification %s: no running server", method))
		return nil
	}
	c.sink.Log(levelForMethod(method), fmt.Sprintf("lsp --> notification %s", method))
	if err := c.send(msg); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// Reply sends a response to a server-initiated request.
func (c *Correlator) Reply(msg Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.isClosed() {
		return nil
	}
	return c.send(msg)
}

// Resolve hands an inbound response to its waiting caller.
//
// Outputs:
//
//	string - The method of the matched request
//	bool - False when no call was pending under the response id
func (c *Correlator) Resolve(msg Message) (string, bool) {
	if msg.Kind != KindResponse || msg.ID == nil || msg.ID.IsString {
		return "", false
	}

	c.mu.Lock()
	call, ok := c.pending[msg.ID.Num]
	if ok {
		delete(c.pending, msg.ID.Num)
		if call.timer != nil {
			call.timer.Stop()
		}
	}
	c.mu.Unlock()

	if !ok {
		c.sink.Log(logging.LevelDebug, fmt.Sprintf("lsp <-- response for unknown id %s ignored", msg.ID))
		return "", false
	}

	outcome := "ok"
	res := callResult{result: msg.Result}
	if msg.Error != nil {
		outcome = "error"
		res = callResult{err: msg.Error}
	}
	recordRequestLatency(context.Background(), call.method, time.Since(call.started), outcome)
	c.sink.Log(levelForMethod(call.method), fmt.Sprintf("lsp <-- response %s (id %d, %s)", call.method, call.id, outcome))
	call.ch <- res
	return call.method, true
}

// Close abandons every pending call and rejects new ones with err.
//
// Description:
//
//	Pending entries are dropped, not answered one by one. Blocked callers
//	wake through the done channel and receive err. Idempotent.
func (c *Correlator) Close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = err
	for _, call := range c.pending {
		if call.timer != nil {
			call.timer.Stop()
		}
	}
	c.pending = make(map[int64]*pendingCall)
	close(c.done)
}

// Pending returns the number of calls awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// LastID returns the most recently assigned request id (0 before the first).
func (c *Correlator) LastID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextID
}

func (c *Correlator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// remove drops a pending call. It reports whether the call was still pending.
func (c *Correlator) remove(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[id]
	if !ok {
		return false
	}
	delete(c.pending, id)
	if call.timer != nil {
		call.timer.Stop()
	}
	return true
}

func (c *Correlator) expire(id int64) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	requestTimeouts.WithLabelValues(call.method).Inc()
	recordRequestLatency(context.Background(), call.method, time.Since(call.started), "timeout")
	c.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: %s (id %d) timed out after %s", call.method, id, c.timeout))
	call.ch <- callResult{err: fmt.Errorf("%s (id %d) after %s: %w", call.method, id, c.timeout, ErrRequestTimeout)}
}
