// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package character

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveComputedFields_Attributes(t *testing.T) {
	p := Payload{
		"attributes": map[string]any{
			"vitality": 3.0,
			"agility":  2.0,
			"wits":     4.0,
		},
	}

	out := DeriveComputedFields(p)

	derived, ok := out["derived"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 9.0, derived["attributeTotal"])
	assert.Equal(t, 16.0, derived["resourceMax"], "resourceMax is 10 + 2*vitality")
}

func TestDeriveComputedFields_InventoryCount(t *testing.T) {
	p := Payload{
		"inventory": []any{"rope", "torch", "map"},
	}

	out := DeriveComputedFields(p)

	derived := out["derived"].(map[string]any)
	assert.Equal(t, 3.0, derived["inventoryCount"])
}

func TestDeriveComputedFields_NoVitalityNoResourceMax(t *testing.T) {
	p := Payload{
		"attributes": map[string]any{
			"agility": 2.0,
		},
	}

	out := DeriveComputedFields(p)

	derived := out["derived"].(map[string]any)
	assert.NotContains(t, derived, "resourceMax")
	assert.Equal(t, 2.0, derived["attributeTotal"])
}

func TestDeriveComputedFields_EmptyPayload(t *testing.T) {
	out := DeriveComputedFields(nil)

	derived, ok := out["derived"].(map[string]any)
	require.True(t, ok)
	assert.Empty(t, derived)
}

func TestDeriveComputedFields_DoesNotMutateInput(t *testing.T) {
	p := Payload{
		"attributes": map[string]any{"vitality": 1.0},
	}

	_ = DeriveComputedFields(p)

	assert.NotContains(t, p, "derived")
}

func TestDeriveComputedFields_Idempotent(t *testing.T) {
	p := Payload{
		"attributes": map[string]any{"vitality": 2.0},
		"inventory":  []any{"rope"},
	}

	once := DeriveComputedFields(p)
	twice := DeriveComputedFields(once)

	assert.True(t, once.Equal(twice))
}
