// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package character

import (
	"context"

	"github.com/samber/oops"
)

// Store is the remote character store contract. All operations are
// network round-trips and may fail; failures surface as errors, never as
// silently stale state. Update is a full-document replace, so callers
// merge before writing.
type Store interface {
	Insert(ctx context.Context, ownerIdentityID, roomID string, payload Payload) (string, error)
	Update(ctx context.Context, id string, payload Payload) error
	Get(ctx context.Context, id string) (*Record, error)
	FetchByRoom(ctx context.Context, roomID string) ([]*Record, error)
	FetchByOwner(ctx context.Context, ownerIdentityID string) ([]*Record, error)
	AttachToRoom(ctx context.Context, id, roomID string) error
	DetachFromRoom(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Service applies host interventions to remote records. Because the
// backend only supports whole-document replace, every intervention is a
// fetch-merge-write: read the current payload, apply the change, push the
// merged document back. Two near-simultaneous writers can still clobber
// each other; that last-write-wins behavior is accepted for low-contention
// table sessions.
type Service struct {
	store Store
}

// NewService creates a Service backed by the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Apply fetches the record, applies mutate to a copy of its payload,
// derives computed fields, and writes the result back.
func (s *Service) Apply(ctx context.Context, id string, mutate func(Payload)) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, oops.Code("CHARACTER_FETCH_FAILED").With("id", id).Wrap(err)
	}

	payload := rec.Payload.Clone()
	if payload == nil {
		payload = Payload{}
	}
	mutate(payload)
	payload = DeriveComputedFields(payload)

	if err := s.store.Update(ctx, id, payload); err != nil {
		return nil, oops.Code("CHARACTER_UPDATE_FAILED").With("id", id).Wrap(err)
	}

	rec.Payload = payload
	return rec, nil
}

// AppendInventory appends an item to the record's inventory list.
func (s *Service) AppendInventory(ctx context.Context, id string, item any) (*Record, error) {
	return s.Apply(ctx, id, func(p Payload) {
		inv, _ := p["inventory"].([]any)
		p["inventory"] = append(inv, item)
	})
}

// SetField sets one top-level payload field.
func (s *Service) SetField(ctx context.Context, id, field string, value any) (*Record, error) {
	return s.Apply(ctx, id, func(p Payload) {
		p[field] = value
	})
}
