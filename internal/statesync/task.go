// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package statesync keeps the device-local character record and its
// backend row aligned: a trailing-debounce push engine for local edits and
// a merge listener for backend-originated changes.
package statesync

import (
	"sync"
	"time"
)

// Task is a cancellable scheduled task: arm it with a delay and a
// function, re-arm to reset the delay, cancel to stop it. It exists so
// the debounce behavior is unit-testable without any UI lifecycle.
type Task struct {
	mu    sync.Mutex
	timer *time.Timer
}

// Arm schedules fire after d, cancelling any previously armed schedule.
func (t *Task) Arm(d time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, fire)
}

// Cancel stops a pending schedule. Returns true if a schedule was pending.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return false
	}
	stopped := t.timer.Stop()
	t.timer = nil
	return stopped
}
