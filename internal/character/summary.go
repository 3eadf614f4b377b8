// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package character

import (
	"time"

	"github.com/tableside/tableside/internal/ids"
)

// StorageTier identifies where a record's authoritative copy lives.
type StorageTier string

const (
	// TierLocal marks records that exist only in the device store.
	TierLocal StorageTier = "local"
	// TierRemote marks records with a backend row.
	TierRemote StorageTier = "remote"
)

// ProfileSummary is a denormalized projection of a record used by selection
// lists. It is rebuilt from the record on every save and never authoritative.
type ProfileSummary struct {
	ID           string
	Name         string
	Headline     map[string]any
	StorageTier  StorageTier
	LastModified time.Time
}

// Summarize builds the profile projection for a record.
func Summarize(r *Record) ProfileSummary {
	tier := TierRemote
	if r.ID == "" || ids.IsLocal(r.ID) {
		tier = TierLocal
	}

	headline := map[string]any{}
	if r.Payload != nil {
		if derived, ok := r.Payload["derived"].(map[string]any); ok {
			for k, v := range derived {
				headline[k] = v
			}
		}
		if img, ok := r.Payload["imageUrl"].(string); ok {
			headline["imageUrl"] = img
		}
	}

	modified := r.UpdatedAt
	if modified.IsZero() {
		modified = time.Now()
	}

	return ProfileSummary{
		ID:           r.ID,
		Name:         r.Name(),
		Headline:     headline,
		StorageTier:  tier,
		LastModified: modified,
	}
}
