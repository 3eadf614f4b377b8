// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// changeChannel is the NOTIFY channel announced by the characters trigger.
const changeChannel = "character_changed"

// Reconnect backoff bounds for the LISTEN connection.
const (
	reconnectInitial = 100 * time.Millisecond
	reconnectMax     = 30 * time.Second
)

// ChangeOp identifies what happened to a character row.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// ChangeNotification describes one character row change. It carries only
// identifiers; subscribers fetch the full record if they need it.
type ChangeNotification struct {
	Op       ChangeOp `json:"op"`
	RecordID string   `json:"id"`
	RoomID   string   `json:"room_id"`
}

// ListenConn is the slice of pgx.Conn the feed needs, abstracted so the
// dispatch loop can be tested without a database.
type ListenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// ChangeFeed subscribes a dedicated connection to the characters change
// channel and fans notifications out to per-record and per-room
// subscribers. Delivery is best-effort: a subscriber with a full buffer
// misses the notification.
type ChangeFeed struct {
	connect func(ctx context.Context) (ListenConn, error)

	mu         sync.RWMutex
	recordSubs map[string][]chan ChangeNotification
	roomSubs   map[string][]chan ChangeNotification
}

// NewChangeFeed creates a feed that listens on a dedicated (non-pooled)
// connection to the given DSN.
func NewChangeFeed(dsn string) *ChangeFeed {
	return NewChangeFeedWithConnector(func(ctx context.Context) (ListenConn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, oops.Code("FEED_CONNECT_FAILED").Wrap(err)
		}
		return conn, nil
	})
}

// NewChangeFeedWithConnector creates a feed with a custom connection
// factory. Tests use this to inject a fake connection.
func NewChangeFeedWithConnector(connect func(ctx context.Context) (ListenConn, error)) *ChangeFeed {
	return &ChangeFeed{
		connect:    connect,
		recordSubs: make(map[string][]chan ChangeNotification),
		roomSubs:   make(map[string][]chan ChangeNotification),
	}
}

// SubscribeRecord returns a channel receiving changes for one record id.
func (f *ChangeFeed) SubscribeRecord(recordID string) chan ChangeNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan ChangeNotification, 16)
	f.recordSubs[recordID] = append(f.recordSubs[recordID], ch)
	return ch
}

// SubscribeRoom returns a channel receiving changes for any record in a room.
func (f *ChangeFeed) SubscribeRoom(roomID string) chan ChangeNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan ChangeNotification, 16)
	f.roomSubs[roomID] = append(f.roomSubs[roomID], ch)
	return ch
}

// UnsubscribeRecord removes and closes a record subscription channel.
func (f *ChangeFeed) UnsubscribeRecord(recordID string, ch chan ChangeNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordSubs[recordID] = removeChan(f.recordSubs[recordID], ch)
	if len(f.recordSubs[recordID]) == 0 {
		delete(f.recordSubs, recordID)
	}
}

// UnsubscribeRoom removes and closes a room subscription channel.
func (f *ChangeFeed) UnsubscribeRoom(roomID string, ch chan ChangeNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomSubs[roomID] = removeChan(f.roomSubs[roomID], ch)
	if len(f.roomSubs[roomID]) == 0 {
		delete(f.roomSubs, roomID)
	}
}

func removeChan(subs []chan ChangeNotification, ch chan ChangeNotification) []chan ChangeNotification {
	for i, sub := range subs {
		if sub == ch {
			close(ch)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Run listens for notifications until the context is cancelled,
// reconnecting with exponential backoff on connection failure.
func (f *ChangeFeed) Run(ctx context.Context) error {
	backoff := retry.WithCappedDuration(reconnectMax, retry.NewExponential(reconnectInitial))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("change feed connection lost, reconnecting", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// listenOnce holds one LISTEN connection until it fails or ctx ends.
func (f *ChangeFeed) listenOnce(ctx context.Context) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return oops.Code("FEED_LISTEN_FAILED").Wrap(err)
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return oops.Code("FEED_WAIT_FAILED").Wrap(err)
		}
		f.dispatch(notification.Payload)
	}
}

// dispatch decodes and fans out a single notification payload.
func (f *ChangeFeed) dispatch(payload string) {
	var change ChangeNotification
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		slog.Warn("malformed change notification, skipping", "error", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.recordSubs[change.RecordID] {
		deliver(ch, change)
	}
	if change.RoomID != "" {
		for _, ch := range f.roomSubs[change.RoomID] {
			deliver(ch, change)
		}
	}
}

func deliver(ch chan ChangeNotification, change ChangeNotification) {
	select {
	case ch <- change:
	default:
		slog.Warn("change notification dropped: subscriber buffer full",
			"record_id", change.RecordID,
			"op", string(change.Op),
		)
	}
}
