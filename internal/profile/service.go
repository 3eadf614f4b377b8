// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package profile maintains the list of known characters available for
// selection, merging device-local summaries with remote-backed ones. Its
// dual-path save/load is what lets the companion work fully offline while
// supporting cross-device continuity once an identity is attached.
package profile

import (
	"context"
	"errors"
	"sort"

	"github.com/samber/oops"

	"github.com/tableside/tableside/internal/character"
	"github.com/tableside/tableside/internal/ids"
)

// LocalStore is the slice of the device store the service uses.
type LocalStore interface {
	ListProfileSummaries() ([]character.ProfileSummary, error)
	SaveProfileSummary(summary character.ProfileSummary) error
	LoadByID(id string) (*character.Record, error)
	SaveByID(rec *character.Record) error
	DeleteByID(id string) error
}

// Service routes profile operations between the local and remote tiers by
// id shape: "local-" ids never touch the network.
type Service struct {
	local  LocalStore
	remote character.Store
}

// NewService creates a profile index service.
func NewService(local LocalStore, remote character.Store) *Service {
	return &Service{local: local, remote: remote}
}

// List merges device-local summaries with remote-backed records owned by
// identityID (when non-empty), most recently modified first. Remote
// summaries win over a stale local copy of the same id.
func (s *Service) List(ctx context.Context, identityID string) ([]character.ProfileSummary, error) {
	locals, err := s.local.ListProfileSummaries()
	if err != nil {
		return nil, oops.Code("PROFILE_LOCAL_LIST_FAILED").Wrap(err)
	}

	byID := make(map[string]character.ProfileSummary, len(locals))
	for _, summary := range locals {
		byID[summary.ID] = summary
	}

	if identityID != "" {
		records, err := s.remote.FetchByOwner(ctx, identityID)
		if err != nil {
			return nil, oops.Code("PROFILE_REMOTE_LIST_FAILED").With("identity_id", identityID).Wrap(err)
		}
		for _, rec := range records {
			byID[rec.ID] = character.Summarize(rec)
		}
	}

	summaries := make([]character.ProfileSummary, 0, len(byID))
	for _, summary := range byID {
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastModified.After(summaries[j].LastModified)
	})
	return summaries, nil
}

// Save upserts the record and returns its id. With an identity the record
// goes to the remote store (insert when it has no remote-originated id,
// update otherwise); without one it is saved under a locally generated id.
// Either way the profile summary is rebuilt.
func (s *Service) Save(ctx context.Context, rec *character.Record, identityID string) (string, error) {
	rec.Payload = character.DeriveComputedFields(rec.Payload)

	if identityID != "" {
		rec.OwnerIdentityID = identityID
		if rec.HasRemoteIdentity() && !ids.IsLocal(rec.ID) {
			if err := s.remote.Update(ctx, rec.ID, rec.Payload); err != nil {
				return "", oops.Code("PROFILE_REMOTE_SAVE_FAILED").With("id", rec.ID).Wrap(err)
			}
		} else {
			draftID := rec.ID
			id, err := s.remote.Insert(ctx, identityID, rec.SessionRoomID, rec.Payload)
			if err != nil {
				return "", oops.Code("PROFILE_REMOTE_SAVE_FAILED").Wrap(err)
			}
			rec.ID = id
			// A promoted offline draft leaves its local- record and
			// summary behind; drop them so List holds one entry.
			if ids.IsLocal(draftID) {
				if err := s.local.DeleteByID(draftID); err != nil {
					return "", oops.Code("PROFILE_DRAFT_CLEANUP_FAILED").With("id", draftID).Wrap(err)
				}
			}
		}
	} else {
		if rec.ID == "" {
			rec.ID = ids.NewLocalID()
		}
		if err := s.local.SaveByID(rec); err != nil {
			return "", oops.Code("PROFILE_LOCAL_SAVE_FAILED").With("id", rec.ID).Wrap(err)
		}
	}

	if err := s.local.SaveProfileSummary(character.Summarize(rec)); err != nil {
		return "", oops.Code("PROFILE_SUMMARY_SAVE_FAILED").With("id", rec.ID).Wrap(err)
	}
	return rec.ID, nil
}

// Load returns the record for id, trying the local cache first and the
// remote store second. Returns character.ErrNotFound when neither has it.
func (s *Service) Load(ctx context.Context, id string) (*character.Record, error) {
	rec, err := s.local.LoadByID(id)
	if err != nil {
		return nil, oops.Code("PROFILE_LOCAL_LOAD_FAILED").With("id", id).Wrap(err)
	}
	if rec != nil {
		return rec, nil
	}
	if ids.IsLocal(id) {
		return nil, oops.Code("PROFILE_NOT_FOUND").With("id", id).Wrap(character.ErrNotFound)
	}

	rec, err = s.remote.Get(ctx, id)
	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			return nil, err
		}
		return nil, oops.Code("PROFILE_REMOTE_LOAD_FAILED").With("id", id).Wrap(err)
	}
	return rec, nil
}

// Delete removes the record, routing by id shape, and drops its summary.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !ids.IsLocal(id) {
		if err := s.remote.Delete(ctx, id); err != nil && !errors.Is(err, character.ErrNotFound) {
			return oops.Code("PROFILE_REMOTE_DELETE_FAILED").With("id", id).Wrap(err)
		}
	}
	if err := s.local.DeleteByID(id); err != nil {
		return oops.Code("PROFILE_LOCAL_DELETE_FAILED").With("id", id).Wrap(err)
	}
	return nil
}
