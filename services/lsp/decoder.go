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
	"fmt"
	"strconv"

	"github.com/AleutianAI/lspengine/pkg/logging"
)

const (
	// DefaultMaxFrameSize bounds a single advertised payload.
	DefaultMaxFrameSize = 32 << 20

	// DefaultMaxBufferSize bounds the bytes held while waiting for a frame.
	DefaultMaxBufferSize = 64 << 20
)

var (
	headerTerminator = []byte("\r\n\r\n")
	contentLengthKey = []byte("content-length:")
)

// DecoderOptions configures a Decoder.
type DecoderOptions struct {
	// MaxFrameSize is the largest payload accepted. Larger frames are
	// skipped. Default: DefaultMaxFrameSize.
	MaxFrameSize int

	// MaxBufferSize caps buffered bytes. When exceeded the oldest bytes
	// are dropped. Default: DefaultMaxBufferSize.
	MaxBufferSize int

	// Sink receives decode warnings and errors. Default: logging.Nop().
	Sink logging.Sink
}

// Decoder reassembles LSP base-protocol frames from a byte stream.
//
// Description:
//
//	Bytes are appended with Write in whatever chunks the transport
//	delivers. Each call returns every message that became complete;
//	a trailing partial frame stays buffered for the next call.
//
//	Malformed frames never stop the stream: a header without
//	Content-Length is skipped, an oversized frame is discarded (including
//	payload bytes that have not arrived yet), and a payload that does not
//	parse is logged and dropped.
//
// Thread Safety:
//
//	Not safe for concurrent use. A Decoder belongs to the single
//	goroutine that reads the server's stdout.
type Decoder struct {
	buf       []byte
	skip      int
	maxFrame  int
	maxBuffer int
	sink      logging.Sink
}

// NewDecoder creates a Decoder.
func NewDecoder(opts DecoderOptions) *Decoder {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = DefaultMaxBufferSize
	}
	if opts.Sink == nil {
		opts.Sink = logging.Nop()
	}
	return &Decoder{
		maxFrame:  opts.MaxFrameSize,
		maxBuffer: opts.MaxBufferSize,
		sink:      opts.Sink,
	}
}

// Write appends chunk and returns the messages completed by it.
//
// Inputs:
//
//	chunk - Raw bytes from the server. The decoder copies what it keeps.
//
// Outputs:
//
//	[]Message - Complete messages in stream order. May be empty.
func (d *Decoder) Write(chunk []byte) []Message {
	d.buf = append(d.buf, chunk...)

	var out []Message
	rest := d.buf
	for {
		if d.skip > 0 {
			n := min(d.skip, len(rest))
			rest = rest[n:]
			d.skip -= n
			if d.skip > 0 {
				break
			}
		}

		end := bytes.Index(rest, headerTerminator)
		if end < 0 {
			break
		}
		header := rest[:end]
		bodyStart := end + len(headerTerminator)

		length, err := parseContentLength(header)
		if err != nil {
			d.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp decoder: skipping header block: %v", err))
			decodeErrors.WithLabelValues("header").Inc()
			rest = rest[bodyStart:]
			continue
		}

		if length > d.maxFrame {
			d.sink.Log(logging.LevelWarning, fmt.Sprintf(
				"lsp decoder: %v: advertised %d bytes, limit %d; discarding", ErrFrameTooLarge, length, d.maxFrame))
			decodeErrors.WithLabelValues("oversized").Inc()
			available := len(rest) - bodyStart
			if available >= length {
				rest = rest[bodyStart+length:]
			} else {
				d.skip = length - available
				rest = rest[len(rest):]
			}
			continue
		}

		if len(rest)-bodyStart < length {
			break
		}

		payload := rest[bodyStart : bodyStart+length]
		rest = rest[bodyStart+length:]

		msg, err := d.parsePayload(payload)
		if err != nil {
			d.sink.Log(logging.LevelError, fmt.Sprintf("lsp decoder: dropping frame: %v", err))
			decodeErrors.WithLabelValues("payload").Inc()
			continue
		}
		framesDecoded.Inc()
		out = append(out, msg)
	}

	// Move the unconsumed tail to the front. copy handles the overlap.
	d.buf = d.buf[:copy(d.buf, rest)]

	if len(d.buf) > d.maxBuffer {
		dropped := len(d.buf) - d.maxBuffer
		d.sink.Log(logging.LevelWarning, fmt.Sprintf(
			"lsp decoder: buffer exceeded %d bytes without a complete frame; dropping %d oldest bytes", d.maxBuffer, dropped))
		decodeErrors.WithLabelValues("overflow").Inc()
		d.buf = d.buf[:copy(d.buf, d.buf[dropped:])]
	}

	return out
}

// Buffered returns the number of bytes waiting for more input.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards buffered bytes and any pending skip.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.skip = 0
}

// parsePayload parses the declared payload, falling back to trimming at the
// last closing brace when the declared length does not match the JSON.
func (d *Decoder) parsePayload(payload []byte) (Message, error) {
	msg, err := ParseMessage(payload)
	if err == nil {
		return msg, nil
	}

	trimmed := bytes.TrimRight(payload, " \t\r\n")
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] == '}' {
		return Message{}, err
	}
	last := bytes.LastIndexByte(trimmed, '}')
	if last < 0 {
		return Message{}, err
	}
	recovered, rerr := ParseMessage(trimmed[:last+1])
	if rerr != nil {
		return Message{}, err
	}
	d.sink.Log(logging.LevelDebug, fmt.Sprintf(
		"lsp decoder: recovered frame by trimming %d trailing bytes", len(payload)-(last+1)))
	return recovered, nil
}

// parseContentLength extracts the Content-Length value from a header block.
// Other headers are ignored. When several Content-Length lines are present
// the last one wins, which also resynchronizes after garbage bytes that
// ended up in front of a header.
func parseContentLength(header []byte) (int, error) {
	found := false
	length := 0
	for _, line := range bytes.Split(header, []byte("\r\n")) {
		idx := bytes.Index(bytes.ToLower(line), contentLengthKey)
		if idx < 0 {
			continue
		}
		value := string(bytes.TrimSpace(line[idx+len(contentLengthKey):]))
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid Content-Length value %q: %w", value, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative Content-Length: %d", n)
		}
		found = true
		length = n
	}
	if !found {
		return 0, fmt.Errorf("missing Content-Length header in %q", truncateForLog(header, 64))
	}
	return length, nil
}

func truncateForLog(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
