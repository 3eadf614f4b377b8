// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package statesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableside/tableside/internal/character"
)

type fakeLocal struct {
	mu     sync.Mutex
	active *character.Record
	err    error
	writes int
}

func (f *fakeLocal) SetActive(rec *character.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.active = rec
	f.writes++
	return nil
}

func (f *fakeLocal) GetActive() (*character.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.active, nil
}

type fakePusher struct {
	mu      sync.Mutex
	pushes  []character.Payload
	err     error
	pushed  chan struct{}
	blockCh chan struct{}
}

func newFakePusher() *fakePusher {
	return &fakePusher{pushed: make(chan struct{}, 16)}
}

func (f *fakePusher) Update(_ context.Context, _ string, payload character.Payload) error {
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	f.pushes = append(f.pushes, payload)
	err := f.err
	f.mu.Unlock()
	f.pushed <- struct{}{}
	return err
}

func (f *fakePusher) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakePusher) lastPush() character.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

func waitForPush(t *testing.T, p *fakePusher) {
	t.Helper()
	select {
	case <-p.pushed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for push")
	}
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func remoteRecord(name string) *character.Record {
	return &character.Record{
		ID:              "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		OwnerIdentityID: "identity-1",
		Payload:         character.Payload{"name": name},
	}
}

func newTestEngine(t *testing.T, local *fakeLocal, remote *fakePusher, rec *statusRecorder) *Engine {
	t.Helper()
	cfg := EngineConfig{
		Local:  local,
		Remote: remote,
		Window: 10 * time.Millisecond,
	}
	if rec != nil {
		cfg.OnStatus = rec.record
	}
	engine := NewEngine(context.Background(), cfg)
	t.Cleanup(engine.Stop)
	return engine
}

func TestEngine_MutatePersistsLocallyAndPushes(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	engine := newTestEngine(t, local, remote, nil)

	require.NoError(t, engine.Mutate(remoteRecord("Kessa")))
	waitForPush(t, remote)

	assert.Equal(t, 1, local.writes)
	assert.Equal(t, "Kessa", remote.lastPush()["name"])
	assert.Equal(t, StatusSaved, engine.Status())
}

func TestEngine_BurstCollapsesToOnePushWithLastPayload(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	engine := newTestEngine(t, local, remote, nil)

	for _, name := range []string{"a", "ab", "abc", "abcd"} {
		require.NoError(t, engine.Mutate(remoteRecord(name)))
	}
	waitForPush(t, remote)

	assert.Equal(t, 1, remote.pushCount())
	assert.Equal(t, "abcd", remote.lastPush()["name"])
	assert.Equal(t, 4, local.writes, "every mutation persists locally")
}

func TestEngine_LocalOnlyRecordNeverPushes(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	engine := newTestEngine(t, local, remote, nil)

	require.NoError(t, engine.Mutate(&character.Record{Payload: character.Payload{"name": "Draft"}}))
	require.NoError(t, engine.Mutate(&character.Record{ID: "local-01ARZ3NDEKTSV4RRFFQ69G5FAV", Payload: character.Payload{"name": "Draft"}}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, remote.pushCount())
	assert.Equal(t, 2, local.writes)
	assert.Equal(t, StatusSaved, engine.Status())
}

func TestEngine_StatusSavingWhileArmed(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	rec := &statusRecorder{}
	engine := NewEngine(context.Background(), EngineConfig{
		Local:    local,
		Remote:   remote,
		Window:   time.Hour,
		OnStatus: rec.record,
	})
	defer engine.Stop()

	require.NoError(t, engine.Mutate(remoteRecord("Kessa")))

	assert.Equal(t, StatusSaving, engine.Status())
	assert.Equal(t, []Status{StatusSaving}, rec.all())
}

func TestEngine_PushFailureSetsErrorWithoutRetry(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	remote.err = errors.New("backend down")
	rec := &statusRecorder{}
	engine := newTestEngine(t, local, remote, rec)

	require.NoError(t, engine.Mutate(remoteRecord("Kessa")))
	waitForPush(t, remote)

	require.Eventually(t, func() bool {
		return engine.Status() == StatusError
	}, time.Second, 5*time.Millisecond)

	// No automatic retry.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, remote.pushCount())

	// The next mutation re-arms and tries again.
	remote.mu.Lock()
	remote.err = nil
	remote.mu.Unlock()
	require.NoError(t, engine.Mutate(remoteRecord("Kessa II")))
	assert.Equal(t, StatusSaving, engine.Status())
	waitForPush(t, remote)
	require.Eventually(t, func() bool {
		return engine.Status() == StatusSaved
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_LocalWriteFailure(t *testing.T) {
	local := &fakeLocal{err: errors.New("disk full")}
	remote := newFakePusher()
	engine := newTestEngine(t, local, remote, nil)

	err := engine.Mutate(remoteRecord("Kessa"))
	require.Error(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, remote.pushCount())
}

func TestEngine_FlushPushesImmediately(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	engine := NewEngine(context.Background(), EngineConfig{
		Local:  local,
		Remote: remote,
		Window: time.Hour,
	})
	defer engine.Stop()

	require.NoError(t, engine.Mutate(remoteRecord("Kessa")))
	engine.Flush()
	waitForPush(t, remote)

	assert.Equal(t, 1, remote.pushCount())
	assert.Equal(t, StatusSaved, engine.Status())
}

func TestEngine_FlushWithNothingPending(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	engine := newTestEngine(t, local, remote, nil)

	engine.Flush()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, remote.pushCount())
}

func TestEngine_StopCancelsArmedPush(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	engine := newTestEngine(t, local, remote, nil)

	require.NoError(t, engine.Mutate(remoteRecord("Kessa")))
	engine.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, remote.pushCount())
}

func TestEngine_NewerMutationSupersedesInflightPush(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	remote.blockCh = make(chan struct{})
	engine := newTestEngine(t, local, remote, nil)

	require.NoError(t, engine.Mutate(remoteRecord("v1")))

	// Let the first push start and block inside Update, then mutate again.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, engine.Mutate(remoteRecord("v2")))

	close(remote.blockCh)
	waitForPush(t, remote)
	waitForPush(t, remote)

	assert.Equal(t, 2, remote.pushCount())
	assert.Equal(t, "v2", remote.lastPush()["name"])
	require.Eventually(t, func() bool {
		return engine.Status() == StatusSaved
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_MutateDerivesComputedFields(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakePusher()
	engine := newTestEngine(t, local, remote, nil)

	rec := remoteRecord("Kessa")
	rec.Payload["inventory"] = []any{
		map[string]any{"name": "Rope"},
		map[string]any{"name": "Torch"},
	}
	require.NoError(t, engine.Mutate(rec))
	waitForPush(t, remote)

	derived, ok := remote.lastPush()["derived"].(map[string]any)
	require.True(t, ok, "push carries derived fields")
	assert.Equal(t, float64(2), derived["inventoryCount"])
}
