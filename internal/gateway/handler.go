// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler upgrades websocket requests and attaches them to the hub.
// Clients connect with ?room=<roomID>&record=<recordID>; the host omits
// the record parameter.
type Handler struct {
	hub *Hub
}

// NewHandler creates a websocket handler over the hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	recordID := r.URL.Query().Get("record")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(recordID, ws)
	conn.Start()
	// The request context dies when ServeHTTP returns; the hijacked
	// socket outlives it. Detach cancels the forwarding goroutines.
	h.hub.Attach(context.Background(), roomID, conn)

	// Inbound reads only service control frames; the companion's uplink
	// is the sync engine, not the socket.
	go func() {
		defer func() {
			h.hub.Detach(roomID, conn)
			conn.Close(websocket.CloseNormalClosure, "bye")
		}()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
