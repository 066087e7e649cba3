// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/lspengine/services/lsp"
)

const (
	// streamBuffer is how many undelivered events a stream holds before
	// the connection is dropped as too slow.
	streamBuffer = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
}

// HandleDiagnosticsStream handles GET /v1/lsp/diagnostics/stream.
//
// Description:
//
//	Upgrades to a websocket and subscribes to diagnostics for the life of
//	the connection. The first frame is a "subscribed" event carrying the
//	subscription id; it is followed by one "diagnostics" event per stored
//	uri (catch-up) and then one per publish. The subscription is removed
//	when the client disconnects. When the engine ends the subscription
//	(shutdown or restart) the socket is closed with 1012 "server
//	restarted" so the client can reconnect.
//
// Thread Safety:
//
//	The store delivers on its own goroutine; live events are handed to
//	the writer goroutine through a buffered channel so a slow socket never
//	blocks the engine. A full buffer closes the connection. Catch-up
//	events are collected without a bound and written first.
func (h *Handlers) HandleDiagnosticsStream(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDiagnosticsStream")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	events := make(chan StreamEvent, streamBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	// Subscribe replays every stored record before returning; those go to
	// backlog, everything after to events.
	var mu sync.Mutex
	var backlog []StreamEvent
	live := false

	subID := h.engine.SubscribeToDiagnostics(func(uri string, diags []lsp.Diagnostic) {
		ev := StreamEvent{
			Type:        "diagnostics",
			URI:         uri,
			Severity:    lsp.AggregateSeverity(diags).String(),
			Diagnostics: diags,
		}
		mu.Lock()
		defer mu.Unlock()
		if !live {
			backlog = append(backlog, ev)
			return
		}
		select {
		case events <- ev:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer h.engine.UnsubscribeFromDiagnostics(subID)
	ended := h.engine.DiagnosticsSubscriptionDone(subID)

	mu.Lock()
	catchUp := backlog
	backlog = nil
	live = true
	mu.Unlock()

	logger = logger.With(slog.String("subscription", string(subID)))
	logger.Info("Diagnostics stream connected")

	if err := writeEvent(ws, StreamEvent{Type: "subscribed", Subscription: string(subID)}); err != nil {
		return
	}
	for _, ev := range catchUp {
		if err := writeEvent(ws, ev); err != nil {
			logger.Info("Diagnostics stream write failed", slog.String("error", err.Error()))
			return
		}
	}

	// Reader: only control frames are expected; a read error means the
	// peer went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.SetReadLimit(4096)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			logger.Info("Diagnostics stream disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case <-ended:
			// Drain what was published before the subscription ended.
		drain:
			for {
				select {
				case ev := <-events:
					if err := writeEvent(ws, ev); err != nil {
						return
					}
				default:
					break drain
				}
			}
			logger.Info("Diagnostics subscription ended by the engine")
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseServiceRestart, "server restarted"),
				time.Now().Add(writeWait))
			return
		case <-overflow:
			logger.Warn("Diagnostics stream too slow, closing")
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
				time.Now().Add(writeWait))
			return
		case ev := <-events:
			if err := writeEvent(ws, ev); err != nil {
				logger.Info("Diagnostics stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, ev StreamEvent) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(ev)
}
