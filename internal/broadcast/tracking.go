// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tableside/tableside/internal/store"
)

// RoomFeed is the change-feed surface the tracking bridge subscribes through.
type RoomFeed interface {
	SubscribeRoom(roomID string) chan store.ChangeNotification
	UnsubscribeRoom(roomID string, ch chan store.ChangeNotification)
}

// TrackingPayload is the payload of a tracking envelope.
type TrackingPayload struct {
	Op       string `json:"op"`
	RecordID string `json:"recordId"`
}

// RunTrackingFeed bridges the characters change feed into the room's
// tracking topic so the host view keeps its roster live without polling.
// Blocks until ctx ends.
func RunTrackingFeed(ctx context.Context, bus *Bus, feed RoomFeed, roomID string) {
	ch := feed.SubscribeRoom(roomID)
	defer feed.UnsubscribeRoom(roomID, ch)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(TrackingPayload{
				Op:       string(change.Op),
				RecordID: change.RecordID,
			})
			if err != nil {
				continue
			}
			bus.Publish(roomID, Envelope{
				Topic:    TopicTracking,
				Event:    "roster_changed",
				Payload:  payload,
				TargetID: TargetAll,
				SentAt:   time.Now(),
			})
		}
	}
}
