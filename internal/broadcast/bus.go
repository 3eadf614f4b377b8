// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package broadcast

import (
	"log/slog"
	"sync"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind misses envelopes.
const subscriberBuffer = 64

// Bus distributes envelopes to subscribers of per-room topics.
// Fire-and-forget: delivery reaches currently-connected subscribers only.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Envelope // keyed by roomID + "/" + topic
}

// NewBus creates a new broadcast bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]chan Envelope),
	}
}

func key(roomID string, topic Topic) string {
	return roomID + "/" + string(topic)
}

// Subscribe creates a channel receiving envelopes on one room topic.
func (b *Bus) Subscribe(roomID string, topic Topic) chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, subscriberBuffer)
	k := key(roomID, topic)
	b.subs[k] = append(b.subs[k], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(roomID string, topic Topic, ch chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key(roomID, topic)
	subs := b.subs[k]
	for i, sub := range subs {
		if sub == ch {
			b.subs[k] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[k]) == 0 {
				delete(b.subs, k)
			}
			close(ch)
			return
		}
	}
}

// Publish sends an envelope to all current subscribers of its room topic.
// A subscriber whose buffer is full misses the envelope; the publisher is
// never told, matching the no-delivery-guarantee contract.
func (b *Bus) Publish(roomID string, env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[key(roomID, env.Topic)] {
		select {
		case ch <- env:
			recordPublish(string(env.Topic), "delivered")
		default:
			recordPublish(string(env.Topic), "dropped")
			slog.Warn("broadcast dropped: subscriber buffer full",
				"room_id", roomID,
				"topic", string(env.Topic),
				"event", env.Event,
			)
		}
	}
}
