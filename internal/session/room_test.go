// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoom_Joinable(t *testing.T) {
	tests := []struct {
		status RoomStatus
		want   bool
	}{
		{RoomActive, true},
		{RoomPaused, false},
		{RoomArchived, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			room := &Room{Status: tt.status}
			assert.Equal(t, tt.want, room.Joinable())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unattached", StateUnattached.String())
	assert.Equal(t, "join_pending", StateJoinPending.String())
	assert.Equal(t, "attached", StateAttached.String())
	assert.Equal(t, "host_attached", StateHostAttached.String())
}
