// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package broadcast carries the host's transient side channels: per-room
// publish/subscribe topics with no replay or durability. A participant who
// connects after a message was sent never sees it; that is an accepted
// design constraint, not a gap.
package broadcast

import (
	"encoding/json"
	"time"
)

// Topic is a named per-room channel.
type Topic string

const (
	// TopicVisuals carries image projections from the host.
	TopicVisuals Topic = "visuals"
	// TopicWhispers carries narration whispers.
	TopicWhispers Topic = "whispers"
	// TopicLoot carries loot grants. Unlike the other topics, a loot
	// grant also persists: the target record's payload is mutated and an
	// event-log entry appended before anything is published.
	TopicLoot Topic = "loot"
	// TopicTracking is the host view's live roster: a change-feed bridge
	// over the remote character store filtered to the room.
	TopicTracking Topic = "tracking"
)

// TargetAll is the TargetID sentinel meaning every participant in the room.
const TargetAll = "*"

// Envelope is one broadcast message. The bus does not filter by target;
// every subscriber checks TargetID against its own identity and discards
// non-matching envelopes.
type Envelope struct {
	Topic    Topic           `json:"topic"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	TargetID string          `json:"targetId"`
	SentAt   time.Time       `json:"sentAt"`
}

// MatchesTarget reports whether a subscriber with the given record id
// should act on the envelope.
func (e Envelope) MatchesTarget(recordID string) bool {
	return e.TargetID == TargetAll || e.TargetID == recordID
}
