// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package character

// DeriveComputedFields recomputes the payload fields that are functions of
// other payload fields and returns the updated payload. It is a pure
// function: callers invoke it exactly once after every mutation, instead of
// relying on ambient recomputation.
//
// The sync core only knows about the handful of derived fields the
// companion itself needs (resource ceilings, inventory count); the game
// rule tables extend the result before rendering.
func DeriveComputedFields(p Payload) Payload {
	out := p.Clone()
	if out == nil {
		out = Payload{}
	}

	derived := map[string]any{}

	if attrs, ok := out["attributes"].(map[string]any); ok {
		total := 0.0
		for _, v := range attrs {
			if n, ok := toFloat(v); ok {
				total += n
			}
		}
		derived["attributeTotal"] = total

		if vit, ok := toFloat(attrs["vitality"]); ok {
			derived["resourceMax"] = 10 + 2*vit
		}
	}

	if inv, ok := out["inventory"].([]any); ok {
		derived["inventoryCount"] = float64(len(inv))
	}

	out["derived"] = derived
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
