// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/tableside/tableside/internal/character"
	"github.com/tableside/tableside/internal/gamelog"
)

// RecordService applies durable payload mutations for loot grants.
type RecordService interface {
	AppendInventory(ctx context.Context, id string, item any) (*character.Record, error)
}

// RoomRecords lists the records attached to a room, used to resolve the
// all-participants target for loot.
type RoomRecords interface {
	FetchByRoom(ctx context.Context, roomID string) ([]*character.Record, error)
}

// LootItem is the durable payload of a loot grant.
type LootItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity,omitempty"`
	Note     string `json:"note,omitempty"`
}

// VisualPayload is the payload of a visuals envelope.
type VisualPayload struct {
	ImageURL string `json:"imageUrl"`
	Caption  string `json:"caption,omitempty"`
}

// WhisperPayload is the payload of a whispers envelope.
type WhisperPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// DispatcherConfig holds dependencies for Dispatcher.
type DispatcherConfig struct {
	Bus     *Bus
	Records RecordService
	Room    RoomRecords
	Log     gamelog.Repository
}

// Dispatcher is the host-side sending surface for the broadcast topics.
// Visuals and whispers are fire-and-forget. Loot is transactional with its
// durable side effect: the record update and log append happen first, and
// nothing is published when the update fails.
type Dispatcher struct {
	bus     *Bus
	records RecordService
	room    RoomRecords
	log     gamelog.Repository
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		bus:     cfg.Bus,
		records: cfg.Records,
		room:    cfg.Room,
		log:     cfg.Log,
	}
}

// ProjectVisual publishes an image projection to the room.
func (d *Dispatcher) ProjectVisual(roomID string, visual VisualPayload, targetID string) error {
	return d.publish(roomID, TopicVisuals, "visual", visual, targetID)
}

// Whisper publishes a narration whisper.
func (d *Dispatcher) Whisper(roomID string, whisper WhisperPayload, targetID string) error {
	return d.publish(roomID, TopicWhispers, "whisper", whisper, targetID)
}

func (d *Dispatcher) publish(roomID string, topic Topic, event string, payload any, targetID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return oops.Code("BROADCAST_MARSHAL_FAILED").With("topic", string(topic)).Wrap(err)
	}
	d.bus.Publish(roomID, Envelope{
		Topic:    topic,
		Event:    event,
		Payload:  data,
		TargetID: targetID,
		SentAt:   time.Now(),
	})
	return nil
}

// GrantLoot grants an item to the targeted record (or every record in the
// room for the all sentinel). For each resolved record the grant is a
// durable fetch-merge-write of the payload's inventory; if any record
// update fails the grant aborts and nothing is published. On success
// exactly one event-log entry is appended, then one envelope is published.
func (d *Dispatcher) GrantLoot(ctx context.Context, roomID, actorLabel string, item LootItem, targetID string) error {
	if item.Name == "" {
		return oops.Code("LOOT_INVALID").Errorf("loot item has no name")
	}

	targets := []string{targetID}
	if targetID == TargetAll {
		records, err := d.room.FetchByRoom(ctx, roomID)
		if err != nil {
			return oops.Code("LOOT_ROSTER_FAILED").With("room_id", roomID).Wrap(err)
		}
		targets = targets[:0]
		for _, rec := range records {
			targets = append(targets, rec.ID)
		}
	}

	for _, id := range targets {
		if _, err := d.records.AppendInventory(ctx, id, lootAsPayload(item)); err != nil {
			return oops.Code("LOOT_GRANT_FAILED").With("record_id", id).Wrap(err)
		}
	}

	entry := gamelog.Entry{
		RoomID:     roomID,
		ActorLabel: actorLabel,
		Message:    lootMessage(item, targetID),
		Category:   gamelog.CategoryLoot,
	}
	if err := d.log.Append(ctx, entry); err != nil {
		return oops.Code("LOOT_LOG_FAILED").With("room_id", roomID).Wrap(err)
	}

	return d.publish(roomID, TopicLoot, "loot_granted", item, targetID)
}

func lootAsPayload(item LootItem) map[string]any {
	payload := map[string]any{"name": item.Name}
	if item.Quantity > 0 {
		payload["quantity"] = item.Quantity
	}
	if item.Note != "" {
		payload["note"] = item.Note
	}
	return payload
}

func lootMessage(item LootItem, targetID string) string {
	target := "all participants"
	if targetID != TargetAll {
		target = "participant " + targetID
	}
	if item.Quantity > 1 {
		return fmt.Sprintf("granted %dx %s to %s", item.Quantity, item.Name, target)
	}
	return fmt.Sprintf("granted %s to %s", item.Name, target)
}
