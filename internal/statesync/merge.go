// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package statesync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/tableside/tableside/internal/character"
	"github.com/tableside/tableside/internal/store"
)

// RecordFeed is the change-feed surface the listener subscribes through.
type RecordFeed interface {
	SubscribeRecord(recordID string) chan store.ChangeNotification
	UnsubscribeRecord(recordID string, ch chan store.ChangeNotification)
}

// LocalReader reads the device's active record.
type LocalReader interface {
	GetActive() (*character.Record, error)
}

// Fetcher fetches a record from the remote store.
type Fetcher interface {
	Get(ctx context.Context, id string) (*character.Record, error)
}

// MergeListenerConfig holds dependencies for MergeListener.
type MergeListenerConfig struct {
	Feed   RecordFeed
	Remote Fetcher
	Local  LocalReader
	Engine *Engine
	// OnReplace observes remote-origin replaces of local state. May be nil.
	OnReplace func(*character.Record)
}

// MergeListener reconciles backend-originated changes into local state.
// While a record has a remote identity it subscribes to that record's
// change notifications; on each one it fetches the remote document and,
// only when it differs from the current local payload, replaces local
// state wholesale. The equality check is what stops the device's own
// echoed write from triggering a redundant replace and re-debounce.
type MergeListener struct {
	feed      RecordFeed
	remote    Fetcher
	local     LocalReader
	engine    *Engine
	onReplace func(*character.Record)

	mu       sync.Mutex
	recordID string
	ch       chan store.ChangeNotification
	done     chan struct{}
}

// NewMergeListener creates a MergeListener.
func NewMergeListener(cfg MergeListenerConfig) *MergeListener {
	return &MergeListener{
		feed:      cfg.Feed,
		remote:    cfg.Remote,
		local:     cfg.Local,
		engine:    cfg.Engine,
		onReplace: cfg.OnReplace,
	}
}

// Start subscribes to the record's change notifications and processes
// them until Stop is called or ctx ends. Calling Start while already
// started is an error.
func (l *MergeListener) Start(ctx context.Context, recordID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ch != nil {
		return oops.Code("MERGE_LISTENER_ACTIVE").With("record_id", l.recordID).
			Errorf("merge listener already started")
	}
	l.recordID = recordID
	l.ch = l.feed.SubscribeRecord(recordID)
	l.done = make(chan struct{})

	go l.run(ctx, recordID, l.ch, l.done)
	return nil
}

// Stop tears down the subscription. Safe to call when not started.
func (l *MergeListener) Stop() {
	l.mu.Lock()
	ch := l.ch
	done := l.done
	recordID := l.recordID
	l.ch = nil
	l.done = nil
	l.recordID = ""
	l.mu.Unlock()

	if ch == nil {
		return
	}
	l.feed.UnsubscribeRecord(recordID, ch)
	<-done
}

func (l *MergeListener) run(ctx context.Context, recordID string, ch chan store.ChangeNotification, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			if change.Op == store.ChangeDelete {
				continue
			}
			if err := l.merge(ctx, recordID); err != nil {
				slog.Warn("merge of remote change failed",
					"record_id", recordID, "error", err)
			}
		}
	}
}

// merge fetches the remote document and replaces local state when it
// differs from the current local payload.
func (l *MergeListener) merge(ctx context.Context, recordID string) error {
	remote, err := l.remote.Get(ctx, recordID)
	if err != nil {
		return oops.Code("MERGE_FETCH_FAILED").With("record_id", recordID).Wrap(err)
	}

	local, err := l.local.GetActive()
	if err != nil {
		return oops.Code("MERGE_LOCAL_READ_FAILED").Wrap(err)
	}

	if local.ID == recordID && local.Payload.Equal(remote.Payload) {
		// Echo of this device's own write: no replace, no re-debounce.
		recordMerge("echo")
		return nil
	}

	if err := l.engine.ApplyRemote(remote); err != nil {
		return oops.Code("MERGE_APPLY_FAILED").With("record_id", recordID).Wrap(err)
	}
	recordMerge("replaced")
	if l.onReplace != nil {
		l.onReplace(remote)
	}
	return nil
}
