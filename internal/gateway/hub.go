// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tableside/tableside/internal/broadcast"
	"github.com/tableside/tableside/internal/observability"
)

// sender is the outbound side of a connection, abstracted for tests.
type sender interface {
	Send(payload []byte) error
}

// Hub fans room-topic envelopes out to the websocket connections of that
// room's participants. Target filtering happens here, on the subscriber
// side: an envelope addressed to one record is only written to that
// record's socket (the host sees everything).
type Hub struct {
	bus     *broadcast.Bus
	metrics *observability.Metrics

	mu       sync.RWMutex
	rooms    map[string]map[string]sender // roomID -> connectionID -> conn
	ids      map[string]string            // connectionID -> recordID
	hosts    map[string]bool              // connectionID -> is host
	stop     map[string]context.CancelFunc
	roomHook func(ctx context.Context, roomID string)
	roomStop map[string]context.CancelFunc
}

// NewHub creates a Hub over the given bus.
func NewHub(bus *broadcast.Bus) *Hub {
	return &Hub{
		bus:      bus,
		rooms:    make(map[string]map[string]sender),
		ids:      make(map[string]string),
		hosts:    make(map[string]bool),
		stop:     make(map[string]context.CancelFunc),
		roomStop: make(map[string]context.CancelFunc),
	}
}

// SetRoomHook installs a function invoked (on its own goroutine) when a
// room gains its first connection. The hook's context is cancelled when
// the room's last connection detaches. Must be set before Attach is
// called.
func (h *Hub) SetRoomHook(hook func(ctx context.Context, roomID string)) {
	h.roomHook = hook
}

// SetMetrics installs the connection counters. Optional; a nil hub
// metrics set means attachments go uncounted.
func (h *Hub) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

// participantTopics are the topics forwarded to participant sockets.
var participantTopics = []broadcast.Topic{
	broadcast.TopicVisuals,
	broadcast.TopicWhispers,
	broadcast.TopicLoot,
}

// hostTopics additionally include the roster tracking feed.
var hostTopics = append(participantTopics[:len(participantTopics):len(participantTopics)], broadcast.TopicTracking)

// Attach registers a connection with a room. Host connections (empty
// record id) receive every envelope including tracking; participant
// connections receive only envelopes matching their record id.
func (h *Hub) Attach(ctx context.Context, roomID string, conn *Connection) {
	h.attach(ctx, roomID, conn.ID, conn.RecordID, conn)
}

func (h *Hub) attach(ctx context.Context, roomID, connID, recordID string, conn sender) {
	isHost := recordID == ""
	if h.metrics != nil {
		role := "participant"
		if isHost {
			role = "host"
		}
		h.metrics.ConnectionsTotal.WithLabelValues(role).Inc()
	}

	h.mu.Lock()
	room := h.rooms[roomID]
	if room == nil {
		room = make(map[string]sender)
		h.rooms[roomID] = room
		if h.roomHook != nil {
			hookCtx, hookCancel := context.WithCancel(context.Background())
			h.roomStop[roomID] = hookCancel
			go h.roomHook(hookCtx, roomID)
		}
	}
	room[connID] = conn
	h.ids[connID] = recordID
	h.hosts[connID] = isHost

	forwardCtx, cancel := context.WithCancel(ctx)
	h.stop[connID] = cancel
	h.mu.Unlock()

	topics := participantTopics
	if isHost {
		topics = hostTopics
	}
	for _, topic := range topics {
		ch := h.bus.Subscribe(roomID, topic)
		go h.forward(forwardCtx, roomID, topic, ch, connID)
	}
}

// Detach removes a connection and tears down its topic subscriptions.
func (h *Hub) Detach(roomID string, conn *Connection) {
	h.mu.Lock()
	if cancel, ok := h.stop[conn.ID]; ok {
		cancel()
		delete(h.stop, conn.ID)
	}
	if room := h.rooms[roomID]; room != nil {
		delete(room, conn.ID)
		if len(room) == 0 {
			delete(h.rooms, roomID)
			if cancel, ok := h.roomStop[roomID]; ok {
				cancel()
				delete(h.roomStop, roomID)
			}
		}
	}
	delete(h.ids, conn.ID)
	delete(h.hosts, conn.ID)
	h.mu.Unlock()
}

// forward copies matching envelopes from one topic subscription to one
// connection until the context ends.
func (h *Hub) forward(ctx context.Context, roomID string, topic broadcast.Topic, ch chan broadcast.Envelope, connID string) {
	defer h.bus.Unsubscribe(roomID, topic, ch)

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			h.mu.RLock()
			conn := h.rooms[roomID][connID]
			recordID := h.ids[connID]
			isHost := h.hosts[connID]
			h.mu.RUnlock()
			if conn == nil {
				return
			}
			if !isHost && !env.MatchesTarget(recordID) {
				continue
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.Send(data); err != nil {
				slog.Debug("gateway send failed, dropping connection",
					"room_id", roomID, "conn_id", connID, "error", err)
				return
			}
		}
	}
}
