// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/tableside/tableside/internal/character"
	"github.com/tableside/tableside/internal/ids"
)

// State is the device-side protocol state.
type State int

const (
	// StateUnattached means the device is browsing, with no room.
	StateUnattached State = iota
	// StateJoinPending means a join is in flight.
	StateJoinPending
	// StateAttached means a participant record is attached to a room.
	StateAttached
	// StateHostAttached means this device hosts a room (no record).
	StateHostAttached
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateJoinPending:
		return "join_pending"
	case StateAttached:
		return "attached"
	case StateHostAttached:
		return "host_attached"
	default:
		return "unknown"
	}
}

// Attachment records which room and record the device is bound to.
type Attachment struct {
	RoomID   string
	RoomCode string
	RecordID string // empty for the host
}

// RoomRepository is the session registry contract.
type RoomRepository interface {
	// Create inserts a room row. Returns ErrCodeTaken when the code
	// collides with an existing room.
	Create(ctx context.Context, room *Room) error
	// GetByCode resolves a normalized code to a room. Archived rooms do
	// not resolve. Returns ErrRoomNotFound when absent.
	GetByCode(ctx context.Context, code string) (*Room, error)
	// Get resolves a room by id. Returns ErrRoomNotFound when absent.
	Get(ctx context.Context, id string) (*Room, error)
	// SetStatus updates the lifecycle status.
	SetStatus(ctx context.Context, id string, status RoomStatus) error
	// Reactivate rotates the code, increments the session number, and
	// sets the room active. Returns the new session number.
	Reactivate(ctx context.Context, id, newCode string) (int, error)
}

// AttachmentStore is the device-local persistence the protocol needs:
// the current attachment slot and the host's last-known room code.
type AttachmentStore interface {
	SetAttachment(a *Attachment) error
	ClearAttachment() error
	SetLastRoomCode(code string) error
	LastRoomCode() (string, error)
}

// CharacterStore is the slice of the remote character store the
// protocol uses for attaching and detaching records.
type CharacterStore interface {
	Insert(ctx context.Context, ownerIdentityID, roomID string, payload character.Payload) (string, error)
	Update(ctx context.Context, id string, payload character.Payload) error
	AttachToRoom(ctx context.Context, id, roomID string) error
	DetachFromRoom(ctx context.Context, id string) error
}

// ProtocolConfig holds dependencies for Protocol.
type ProtocolConfig struct {
	Rooms      RoomRepository
	Characters CharacterStore
	Local      AttachmentStore
	CodePrefix string // defaults to DefaultCodePrefix
	// OnDetach tears down per-attachment subscriptions (merge listener,
	// topic subscriptions). May be nil.
	OnDetach func()
}

// Protocol is the join/create/leave state machine layered on the room
// registry and the character store. One Protocol instance belongs to one
// device; its methods are safe for concurrent use.
type Protocol struct {
	rooms      RoomRepository
	characters CharacterStore
	local      AttachmentStore
	codePrefix string
	onDetach   func()

	mu         sync.Mutex
	state      State
	attachment *Attachment
}

// NewProtocol creates a Protocol in the unattached state.
func NewProtocol(cfg ProtocolConfig) *Protocol {
	prefix := cfg.CodePrefix
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	return &Protocol{
		rooms:      cfg.Rooms,
		characters: cfg.Characters,
		local:      cfg.Local,
		codePrefix: prefix,
		onDetach:   cfg.OnDetach,
		state:      StateUnattached,
	}
}

// State returns the current protocol state.
func (p *Protocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attachment returns a copy of the current attachment, or nil.
func (p *Protocol) Attachment() *Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attachment == nil {
		return nil
	}
	a := *p.attachment
	return &a
}

// maxCodeAttempts bounds the create/reactivate retry loop. With a ~1.7M
// code space a handful of attempts is plenty.
const maxCodeAttempts = 5

// CreateRoom generates a room code and inserts an active room owned by
// ownerIdentityID. Code collisions retry with a fresh code.
func CreateRoom(ctx context.Context, rooms RoomRepository, codePrefix, ownerIdentityID string) (*Room, error) {
	var room *Room
	backoff := retry.WithMaxRetries(maxCodeAttempts-1, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		code, err := GenerateCode(codePrefix)
		if err != nil {
			return err
		}
		candidate := &Room{
			ID:              ids.NewULID().String(),
			Code:            code,
			Status:          RoomActive,
			SessionNumber:   1,
			OwnerIdentityID: ownerIdentityID,
			CreatedAt:       time.Now(),
		}
		if err := rooms.Create(ctx, candidate); err != nil {
			if errors.Is(err, ErrCodeTaken) {
				slog.Debug("room code collision, regenerating", "code", code)
				return retry.RetryableError(err)
			}
			return err
		}
		room = candidate
		return nil
	})
	if err != nil {
		return nil, oops.Code("ROOM_CREATE_FAILED").Wrap(err)
	}
	return room, nil
}

// CreateRoom creates a room with this device as host and enters
// HostAttached.
func (p *Protocol) CreateRoom(ctx context.Context, ownerIdentityID string) (*Room, error) {
	p.mu.Lock()
	if p.state != StateUnattached {
		state := p.state
		p.mu.Unlock()
		return nil, oops.Code("PROTOCOL_BUSY").With("state", state.String()).
			Errorf("cannot create room while %s", state)
	}
	p.mu.Unlock()

	room, err := CreateRoom(ctx, p.rooms, p.codePrefix, ownerIdentityID)
	if err != nil {
		return nil, err
	}

	if err := p.local.SetLastRoomCode(room.Code); err != nil {
		slog.Warn("failed to persist last room code", "error", err)
	}

	p.mu.Lock()
	p.state = StateHostAttached
	p.attachment = &Attachment{RoomID: room.ID, RoomCode: room.Code}
	p.mu.Unlock()

	return room, nil
}

// Join attaches a character record to the room named by code. A record
// with a remote identity is re-homed to the room and its current local
// payload pushed as the authoritative copy; a purely local record is
// inserted as a new room-scoped row. On success the protocol is Attached
// and the record's id and room fields are set.
//
// Validation failures are rejected before any network call. A failed join
// leaves the protocol unattached.
func (p *Protocol) Join(ctx context.Context, code string, rec *character.Record) (*Attachment, error) {
	normalized := NormalizeCode(code)
	if !ValidCode(normalized) {
		return nil, oops.Code("JOIN_INVALID_CODE").With("code", code).Wrap(ErrInvalidInput)
	}
	if rec == nil || rec.Name() == "" {
		return nil, oops.Code("JOIN_INVALID_RECORD").Wrap(ErrInvalidInput)
	}

	p.mu.Lock()
	if p.state != StateUnattached {
		state := p.state
		p.mu.Unlock()
		return nil, oops.Code("PROTOCOL_BUSY").With("state", state.String()).
			Errorf("cannot join while %s", state)
	}
	p.state = StateJoinPending
	p.mu.Unlock()

	attachment, err := p.join(ctx, normalized, rec)
	p.mu.Lock()
	if err != nil {
		p.state = StateUnattached
		p.attachment = nil
	} else {
		p.state = StateAttached
		p.attachment = attachment
	}
	p.mu.Unlock()
	return attachment, err
}

func (p *Protocol) join(ctx context.Context, code string, rec *character.Record) (*Attachment, error) {
	room, err := p.rooms.GetByCode(ctx, code)
	if err != nil {
		return nil, oops.Code("JOIN_ROOM_LOOKUP_FAILED").With("code", code).Wrap(err)
	}
	if !room.Joinable() {
		return nil, oops.Code("JOIN_ROOM_NOT_ACTIVE").With("code", code).
			With("status", string(room.Status)).Wrap(ErrRoomNotFound)
	}

	if rec.HasRemoteIdentity() && !ids.IsLocal(rec.ID) {
		// Existing backend row: re-home it and push the device's payload
		// as the authoritative copy.
		if err := p.characters.AttachToRoom(ctx, rec.ID, room.ID); err != nil {
			return nil, oops.Code("JOIN_ATTACH_FAILED").With("record_id", rec.ID).Wrap(err)
		}
		if err := p.characters.Update(ctx, rec.ID, rec.Payload); err != nil {
			return nil, oops.Code("JOIN_PUSH_FAILED").With("record_id", rec.ID).Wrap(err)
		}
	} else {
		id, err := p.characters.Insert(ctx, rec.OwnerIdentityID, room.ID, rec.Payload)
		if err != nil {
			return nil, oops.Code("JOIN_INSERT_FAILED").Wrap(err)
		}
		rec.ID = id
	}
	rec.SessionRoomID = room.ID

	attachment := &Attachment{RoomID: room.ID, RoomCode: room.Code, RecordID: rec.ID}
	if err := p.local.SetAttachment(attachment); err != nil {
		slog.Warn("failed to persist attachment", "error", err)
	}
	return attachment, nil
}

// Leave detaches the record from its room and returns to Unattached. The
// record itself is preserved; only its room binding is cleared. Tearing
// down the merge listener happens through OnDetach.
func (p *Protocol) Leave(ctx context.Context, rec *character.Record) error {
	p.mu.Lock()
	if p.state != StateAttached && p.state != StateHostAttached {
		p.mu.Unlock()
		return oops.Code("LEAVE_NOT_ATTACHED").Wrap(ErrNotAttached)
	}
	attachment := p.attachment
	p.mu.Unlock()

	if attachment != nil && attachment.RecordID != "" {
		if err := p.characters.DetachFromRoom(ctx, attachment.RecordID); err != nil {
			return oops.Code("LEAVE_DETACH_FAILED").With("record_id", attachment.RecordID).Wrap(err)
		}
	}
	if rec != nil {
		rec.SessionRoomID = ""
	}

	if err := p.local.ClearAttachment(); err != nil {
		slog.Warn("failed to clear attachment slot", "error", err)
	}
	if p.onDetach != nil {
		p.onDetach()
	}

	p.mu.Lock()
	p.state = StateUnattached
	p.attachment = nil
	p.mu.Unlock()
	return nil
}

// Pause stops the room from accepting joins. Already-attached records are
// untouched.
func (p *Protocol) Pause(ctx context.Context, roomID string) error {
	return p.transition(ctx, roomID, RoomPaused, RoomActive)
}

// Archive is the terminal soft-delete. The code is never reused.
func (p *Protocol) Archive(ctx context.Context, roomID string) error {
	return p.transition(ctx, roomID, RoomArchived, RoomActive, RoomPaused)
}

func (p *Protocol) transition(ctx context.Context, roomID string, to RoomStatus, from ...RoomStatus) error {
	room, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return oops.Code("ROOM_LOOKUP_FAILED").With("room_id", roomID).Wrap(err)
	}
	allowed := false
	for _, s := range from {
		if room.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return oops.Code("ROOM_INVALID_TRANSITION").With("room_id", roomID).
			With("from", string(room.Status)).With("to", string(to)).
			Wrap(ErrInvalidTransition)
	}
	if err := p.rooms.SetStatus(ctx, roomID, to); err != nil {
		return oops.Code("ROOM_STATUS_UPDATE_FAILED").With("room_id", roomID).Wrap(err)
	}
	return nil
}

// Reactivate reopens a paused room under a fresh code and increments its
// session number. The old code stops resolving for joins; attached records
// are untouched.
func (p *Protocol) Reactivate(ctx context.Context, roomID string) (*Room, error) {
	room, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, oops.Code("ROOM_LOOKUP_FAILED").With("room_id", roomID).Wrap(err)
	}
	if room.Status != RoomPaused {
		return nil, oops.Code("ROOM_INVALID_TRANSITION").With("room_id", roomID).
			With("from", string(room.Status)).With("to", string(RoomActive)).
			Wrap(ErrInvalidTransition)
	}

	backoff := retry.WithMaxRetries(maxCodeAttempts-1, retry.NewConstant(time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		code, err := GenerateCode(p.codePrefix)
		if err != nil {
			return err
		}
		if code == room.Code {
			// A rotated code must differ from its predecessor.
			return retry.RetryableError(ErrCodeTaken)
		}
		next, err := p.rooms.Reactivate(ctx, roomID, code)
		if err != nil {
			if errors.Is(err, ErrCodeTaken) {
				return retry.RetryableError(err)
			}
			return err
		}
		room.Code = code
		room.SessionNumber = next
		room.Status = RoomActive
		return nil
	})
	if err != nil {
		return nil, oops.Code("ROOM_REACTIVATE_FAILED").With("room_id", roomID).Wrap(err)
	}

	if err := p.local.SetLastRoomCode(room.Code); err != nil {
		slog.Warn("failed to persist last room code", "error", err)
	}
	return room, nil
}

// RecoverHost restores HostAttached state from the device's last-known
// room code, e.g. after the host view reloads.
func (p *Protocol) RecoverHost(ctx context.Context) (*Room, error) {
	code, err := p.local.LastRoomCode()
	if err != nil || code == "" {
		return nil, oops.Code("HOST_RECOVERY_NO_CODE").Wrap(ErrRoomNotFound)
	}
	room, err := p.rooms.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, oops.Code("HOST_RECOVERY_FAILED").With("code", code).Wrap(err)
	}

	p.mu.Lock()
	p.state = StateHostAttached
	p.attachment = &Attachment{RoomID: room.ID, RoomCode: room.Code}
	p.mu.Unlock()
	return room, nil
}
