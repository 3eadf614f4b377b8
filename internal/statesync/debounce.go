// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package statesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/tableside/tableside/internal/character"
	"github.com/tableside/tableside/internal/ids"
)

// Status is the sync state surfaced to the UI.
type Status string

const (
	// StatusSaved means the last push succeeded (or nothing is pending).
	StatusSaved Status = "saved"
	// StatusSaving means a push is armed or in flight. Entered the
	// instant the debounce timer is armed, not when the network call starts.
	StatusSaving Status = "saving"
	// StatusError means the last push failed. There is no automatic
	// retry; the next mutation re-arms the timer and tries again.
	StatusError Status = "error"
)

// DefaultDebounceWindow is the idle interval after the most recent
// mutation before a push is issued.
const DefaultDebounceWindow = time.Second

// LocalWriter is the slice of the device store the engine writes through.
type LocalWriter interface {
	SetActive(rec *character.Record) error
}

// Pusher pushes a full payload to the remote store.
type Pusher interface {
	Update(ctx context.Context, id string, payload character.Payload) error
}

// EngineConfig holds dependencies for Engine.
type EngineConfig struct {
	Local  LocalWriter
	Remote Pusher
	// Window is the trailing-debounce idle interval. Zero means
	// DefaultDebounceWindow.
	Window time.Duration
	// Derive recomputes derived payload fields after each mutation.
	// Nil means character.DeriveComputedFields.
	Derive func(character.Payload) character.Payload
	// OnStatus observes status transitions. May be nil.
	OnStatus func(Status)
}

// Engine watches mutations of the active record and pushes them to the
// remote store no more than once per idle window (trailing debounce: each
// mutation resets the timer). Local state advances optimistically and is
// the source of truth for the editing device regardless of remote success.
type Engine struct {
	local    LocalWriter
	remote   Pusher
	window   time.Duration
	derive   func(character.Payload) character.Payload
	onStatus func(Status)

	task Task

	mu      sync.Mutex
	status  Status
	pending *character.Record
	// pushCtx carries the lifetime of the engine, not of any one
	// mutation: the debounced push outlives the call that armed it.
	pushCtx context.Context
}

// NewEngine creates an Engine. ctx bounds the lifetime of background
// pushes; cancel it on shutdown.
func NewEngine(ctx context.Context, cfg EngineConfig) *Engine {
	window := cfg.Window
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	derive := cfg.Derive
	if derive == nil {
		derive = character.DeriveComputedFields
	}
	return &Engine{
		local:    cfg.Local,
		remote:   cfg.Remote,
		window:   window,
		derive:   derive,
		onStatus: cfg.OnStatus,
		status:   StatusSaved,
		pushCtx:  ctx,
	}
}

// Status returns the current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Mutate applies a local edit: derives computed fields, persists the
// record as the active local copy, and — when the record has a remote
// identity — arms (or re-arms) the debounced push with the full document.
func (e *Engine) Mutate(rec *character.Record) error {
	rec.Payload = e.derive(rec.Payload)
	rec.UpdatedAt = time.Now()

	if err := e.local.SetActive(rec); err != nil {
		return oops.Code("SYNC_LOCAL_WRITE_FAILED").Wrap(err)
	}

	if !rec.HasRemoteIdentity() || ids.IsLocal(rec.ID) {
		return nil
	}

	e.mu.Lock()
	e.pending = &character.Record{
		ID:              rec.ID,
		OwnerIdentityID: rec.OwnerIdentityID,
		SessionRoomID:   rec.SessionRoomID,
		Payload:         rec.Payload.Clone(),
		UpdatedAt:       rec.UpdatedAt,
	}
	e.setStatusLocked(StatusSaving)
	e.mu.Unlock()

	e.task.Arm(e.window, e.fire)
	return nil
}

// ApplyRemote installs a backend-originated record as local state without
// arming a push. Used by the merge listener so that replaces never echo
// back to the backend.
func (e *Engine) ApplyRemote(rec *character.Record) error {
	if err := e.local.SetActive(rec); err != nil {
		return oops.Code("SYNC_LOCAL_WRITE_FAILED").Wrap(err)
	}
	return nil
}

// Flush cancels any armed push and issues it immediately. No-op when
// nothing is pending.
func (e *Engine) Flush() {
	if e.task.Cancel() {
		e.fire()
	}
}

// Stop cancels any armed push without issuing it.
func (e *Engine) Stop() {
	e.task.Cancel()
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
}

// fire performs the debounced push with the most recent pending document.
func (e *Engine) fire() {
	e.mu.Lock()
	rec := e.pending
	e.pending = nil
	e.mu.Unlock()
	if rec == nil {
		return
	}

	err := e.remote.Update(e.pushCtx, rec.ID, rec.Payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		// A newer mutation re-armed the timer while this push was in
		// flight; its outcome supersedes ours.
		return
	}
	if err != nil {
		slog.Warn("background save failed", "record_id", rec.ID, "error", err)
		recordPush("error")
		e.setStatusLocked(StatusError)
		return
	}
	recordPush("ok")
	e.setStatusLocked(StatusSaved)
}

func (e *Engine) setStatusLocked(status Status) {
	if e.status == status {
		return
	}
	e.status = status
	if e.onStatus != nil {
		e.onStatus(status)
	}
}
