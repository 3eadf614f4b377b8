// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package localstore is the device-resident persistence layer: the active
// character slot, the profile index, and a handful of small slots
// (attachment, last room code). All operations are local SQLite reads and
// writes with no network involved.
package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/samber/oops"
	// SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/tableside/tableside/internal/character"
	"github.com/tableside/tableside/internal/session"
	"github.com/tableside/tableside/internal/xdg"
)

// Slot keys for single-value local state.
const (
	slotAttachment   = "attachment"
	slotLastRoomCode = "last_room_code"
)

const schema = `
CREATE TABLE IF NOT EXISTS active_character (
    slot INTEGER PRIMARY KEY CHECK (slot = 1),
    record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    headline TEXT NOT NULL DEFAULT '{}',
    tier TEXT NOT NULL,
    modified_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,
    record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS slots (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// storedRecord is the JSON shape persisted for a character record.
type storedRecord struct {
	ID              string            `json:"id,omitempty"`
	OwnerIdentityID string            `json:"ownerIdentityId,omitempty"`
	SessionRoomID   string            `json:"sessionRoomId,omitempty"`
	Payload         character.Payload `json:"payload"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Store is the device-local store. Safe for use from one process;
// SQLite's busy timeout covers incidental overlap.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the XDG data-directory location of the device
// database, creating the directory when needed.
func DefaultPath() (string, error) {
	dir := xdg.DataDir()
	if err := xdg.EnsureDir(dir); err != nil {
		return "", oops.Code("LOCALSTORE_DIR_FAILED").With("dir", dir).Wrap(err)
	}
	return filepath.Join(dir, "tableside.db"), nil
}

// Open opens (or creates) the local store at path. An empty path opens the
// database at DefaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		resolved, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.Code("LOCALSTORE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, oops.Code("LOCALSTORE_PRAGMA_FAILED").With("pragma", pragma).Wrap(err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, oops.Code("LOCALSTORE_SCHEMA_FAILED").Wrap(err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("LOCALSTORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// GetActive returns the active character record, or an empty default when
// no record has been activated on this device.
func (s *Store) GetActive() (*character.Record, error) {
	var data string
	err := s.db.QueryRow(`SELECT record FROM active_character WHERE slot = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return &character.Record{Payload: character.Payload{}}, nil
	}
	if err != nil {
		return nil, oops.Code("LOCALSTORE_READ_FAILED").Wrap(err)
	}
	return decodeRecord(data)
}

// SetActive atomically overwrites the active character slot. When the
// record is marked setup-complete its profile summary is recomputed in the
// same transaction, keeping the selection list eventually consistent
// without a separate save call.
func (s *Store) SetActive(rec *character.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return oops.Code("LOCALSTORE_TX_FAILED").Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO active_character (slot, record) VALUES (1, ?)
		ON CONFLICT (slot) DO UPDATE SET record = excluded.record
	`, data)
	if err != nil {
		return oops.Code("LOCALSTORE_WRITE_FAILED").Wrap(err)
	}

	if rec.SetupComplete() && rec.ID != "" {
		summary := character.Summarize(rec)
		if err := saveSummaryTx(tx, summary); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return oops.Code("LOCALSTORE_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// ListProfileSummaries returns all known profiles, most recently modified
// first.
func (s *Store) ListProfileSummaries() ([]character.ProfileSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, name, headline, tier, modified_at
		FROM profiles ORDER BY modified_at DESC
	`)
	if err != nil {
		return nil, oops.Code("LOCALSTORE_READ_FAILED").Wrap(err)
	}
	defer rows.Close()

	var summaries []character.ProfileSummary
	for rows.Next() {
		var summary character.ProfileSummary
		var headline string
		var tier string
		var modified int64
		if err := rows.Scan(&summary.ID, &summary.Name, &headline, &tier, &modified); err != nil {
			return nil, oops.Code("LOCALSTORE_SCAN_FAILED").Wrap(err)
		}
		if err := json.Unmarshal([]byte(headline), &summary.Headline); err != nil {
			return nil, oops.Code("LOCALSTORE_CORRUPT_ROW").With("id", summary.ID).Wrap(err)
		}
		summary.StorageTier = character.StorageTier(tier)
		summary.LastModified = time.UnixMilli(modified)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("LOCALSTORE_READ_FAILED").Wrap(err)
	}
	return summaries, nil
}

// SaveProfileSummary upserts one profile summary.
func (s *Store) SaveProfileSummary(summary character.ProfileSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return oops.Code("LOCALSTORE_TX_FAILED").Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := saveSummaryTx(tx, summary); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return oops.Code("LOCALSTORE_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

func saveSummaryTx(tx *sql.Tx, summary character.ProfileSummary) error {
	headline, err := json.Marshal(summary.Headline)
	if err != nil {
		return oops.Code("LOCALSTORE_ENCODE_FAILED").Wrap(err)
	}
	_, err = tx.Exec(`
		INSERT INTO profiles (id, name, headline, tier, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			headline = excluded.headline,
			tier = excluded.tier,
			modified_at = excluded.modified_at
	`, summary.ID, summary.Name, string(headline), string(summary.StorageTier),
		summary.LastModified.UnixMilli())
	if err != nil {
		return oops.Code("LOCALSTORE_WRITE_FAILED").With("id", summary.ID).Wrap(err)
	}
	return nil
}

// LoadByID returns a locally cached record, or nil when unknown.
func (s *Store) LoadByID(id string) (*character.Record, error) {
	var data string
	err := s.db.QueryRow(`SELECT record FROM records WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("LOCALSTORE_READ_FAILED").With("id", id).Wrap(err)
	}
	return decodeRecord(data)
}

// SaveByID caches a record under its id.
func (s *Store) SaveByID(rec *character.Record) error {
	if rec.ID == "" {
		return oops.Code("LOCALSTORE_MISSING_ID").Errorf("record has no id")
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO records (id, record) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET record = excluded.record
	`, rec.ID, data)
	if err != nil {
		return oops.Code("LOCALSTORE_WRITE_FAILED").With("id", rec.ID).Wrap(err)
	}
	return nil
}

// DeleteByID removes a cached record and its profile summary.
func (s *Store) DeleteByID(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return oops.Code("LOCALSTORE_TX_FAILED").Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM records WHERE id = ?`, id); err != nil {
		return oops.Code("LOCALSTORE_DELETE_FAILED").With("id", id).Wrap(err)
	}
	if _, err := tx.Exec(`DELETE FROM profiles WHERE id = ?`, id); err != nil {
		return oops.Code("LOCALSTORE_DELETE_FAILED").With("id", id).Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return oops.Code("LOCALSTORE_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// SetAttachment persists the current room/record attachment slot.
func (s *Store) SetAttachment(a *session.Attachment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return oops.Code("LOCALSTORE_ENCODE_FAILED").Wrap(err)
	}
	return s.setSlot(slotAttachment, string(data))
}

// Attachment returns the persisted attachment, or nil when unattached.
func (s *Store) Attachment() (*session.Attachment, error) {
	data, err := s.slot(slotAttachment)
	if err != nil || data == "" {
		return nil, err
	}
	var a session.Attachment
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, oops.Code("LOCALSTORE_CORRUPT_ROW").With("slot", slotAttachment).Wrap(err)
	}
	return &a, nil
}

// ClearAttachment empties the attachment slot.
func (s *Store) ClearAttachment() error {
	_, err := s.db.Exec(`DELETE FROM slots WHERE key = ?`, slotAttachment)
	if err != nil {
		return oops.Code("LOCALSTORE_DELETE_FAILED").With("slot", slotAttachment).Wrap(err)
	}
	return nil
}

// SetLastRoomCode remembers the host's most recent room code so the host
// view can recover its session after a reload.
func (s *Store) SetLastRoomCode(code string) error {
	return s.setSlot(slotLastRoomCode, code)
}

// LastRoomCode returns the host's last known room code, or empty.
func (s *Store) LastRoomCode() (string, error) {
	return s.slot(slotLastRoomCode)
}

func (s *Store) setSlot(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO slots (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return oops.Code("LOCALSTORE_WRITE_FAILED").With("slot", key).Wrap(err)
	}
	return nil
}

func (s *Store) slot(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM slots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", oops.Code("LOCALSTORE_READ_FAILED").With("slot", key).Wrap(err)
	}
	return value, nil
}

func encodeRecord(rec *character.Record) (string, error) {
	data, err := json.Marshal(storedRecord{
		ID:              rec.ID,
		OwnerIdentityID: rec.OwnerIdentityID,
		SessionRoomID:   rec.SessionRoomID,
		Payload:         rec.Payload,
		UpdatedAt:       rec.UpdatedAt,
	})
	if err != nil {
		return "", oops.Code("LOCALSTORE_ENCODE_FAILED").Wrap(err)
	}
	return string(data), nil
}

func decodeRecord(data string) (*character.Record, error) {
	var stored storedRecord
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, oops.Code("LOCALSTORE_CORRUPT_ROW").Wrap(err)
	}
	return &character.Record{
		ID:              stored.ID,
		OwnerIdentityID: stored.OwnerIdentityID,
		SessionRoomID:   stored.SessionRoomID,
		Payload:         stored.Payload,
		UpdatedAt:       stored.UpdatedAt,
	}, nil
}
