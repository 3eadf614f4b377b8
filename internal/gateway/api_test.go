// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableside/tableside/internal/broadcast"
	"github.com/tableside/tableside/internal/character"
	"github.com/tableside/tableside/internal/gamelog"
	"github.com/tableside/tableside/internal/observability"
	"github.com/tableside/tableside/internal/session"
)

type apiFakeRooms struct {
	byCode map[string]*session.Room
	byID   map[string]*session.Room
}

func newAPIFakeRooms() *apiFakeRooms {
	return &apiFakeRooms{
		byCode: make(map[string]*session.Room),
		byID:   make(map[string]*session.Room),
	}
}

func (f *apiFakeRooms) Create(_ context.Context, room *session.Room) error {
	if _, taken := f.byCode[room.Code]; taken {
		return session.ErrCodeTaken
	}
	f.byCode[room.Code] = room
	f.byID[room.ID] = room
	return nil
}

func (f *apiFakeRooms) GetByCode(_ context.Context, code string) (*session.Room, error) {
	room, ok := f.byCode[code]
	if !ok || room.Status == session.RoomArchived {
		return nil, session.ErrRoomNotFound
	}
	return room, nil
}

func (f *apiFakeRooms) Get(_ context.Context, id string) (*session.Room, error) {
	room, ok := f.byID[id]
	if !ok {
		return nil, session.ErrRoomNotFound
	}
	return room, nil
}

func (f *apiFakeRooms) SetStatus(_ context.Context, id string, status session.RoomStatus) error {
	f.byID[id].Status = status
	return nil
}

func (f *apiFakeRooms) Reactivate(_ context.Context, id, newCode string) (int, error) {
	room := f.byID[id]
	delete(f.byCode, room.Code)
	room.Code = newCode
	room.Status = session.RoomActive
	room.SessionNumber++
	f.byCode[newCode] = room
	return room.SessionNumber, nil
}

type apiFakeRecords struct {
	records map[string]*character.Record
	byRoom  map[string][]*character.Record
}

func newAPIFakeRecords() *apiFakeRecords {
	return &apiFakeRecords{
		records: make(map[string]*character.Record),
		byRoom:  make(map[string][]*character.Record),
	}
}

func (f *apiFakeRecords) add(rec *character.Record) {
	f.records[rec.ID] = rec
	if rec.SessionRoomID != "" {
		f.byRoom[rec.SessionRoomID] = append(f.byRoom[rec.SessionRoomID], rec)
	}
}

func (f *apiFakeRecords) FetchByRoom(_ context.Context, roomID string) ([]*character.Record, error) {
	return f.byRoom[roomID], nil
}

func (f *apiFakeRecords) AppendInventory(_ context.Context, id string, item any) (*character.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, character.ErrNotFound
	}
	inv, _ := rec.Payload["inventory"].([]any)
	rec.Payload["inventory"] = append(inv, item)
	return rec, nil
}

type apiFakeLog struct {
	entries []gamelog.Entry
}

func (f *apiFakeLog) Append(_ context.Context, entry gamelog.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *apiFakeLog) ListByRoom(_ context.Context, roomID string, _ int) ([]gamelog.Entry, error) {
	var out []gamelog.Entry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].RoomID == roomID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

type apiFixture struct {
	server  *httptest.Server
	rooms   *apiFakeRooms
	records *apiFakeRecords
	log     *apiFakeLog
	bus     *broadcast.Bus
	metrics *observability.Metrics
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	rooms := newAPIFakeRooms()
	records := newAPIFakeRecords()
	log := &apiFakeLog{}
	bus := broadcast.NewBus()
	dispatcher := broadcast.NewDispatcher(broadcast.DispatcherConfig{
		Bus:     bus,
		Records: records,
		Room:    records,
		Log:     log,
	})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	api := NewAPI(APIConfig{
		Rooms:      rooms,
		Records:    records,
		Log:        log,
		Dispatcher: dispatcher,
		Metrics:    metrics,
	})
	mux := http.NewServeMux()
	api.Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, rooms: rooms, records: records, log: log, bus: bus, metrics: metrics}
}

func (f *apiFixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func seedAPIRoom(f *apiFixture, status session.RoomStatus) *session.Room {
	room := &session.Room{
		ID:            "room-1",
		Code:          "TABLE-7F3K",
		Status:        status,
		SessionNumber: 1,
		CreatedAt:     time.Now(),
	}
	f.rooms.byCode[room.Code] = room
	f.rooms.byID[room.ID] = room
	return room
}

func TestAPI_CreateRoom(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/rooms", `{"ownerIdentityId":"identity-1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.NotEmpty(t, body["id"])
	assert.True(t, strings.HasPrefix(body["code"].(string), "TABLE-"))
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, float64(1), body["sessionNumber"])
	assert.Equal(t, true, body["joinable"])
}

func TestAPI_CreateRoomCountsLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/rooms", `{"ownerIdentityId":"identity-1"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := f.metrics.RoomsTotal.WithLabelValues("created")
	assert.Equal(t, float64(1), testutil.ToFloat64(created))
}

func TestAPI_CreateRoomBadBody(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.post(t, "/api/rooms", `{`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetRoomByCode(t *testing.T) {
	f := newAPIFixture(t)
	seedAPIRoom(f, session.RoomActive)

	// Lookup is case-insensitive.
	resp := f.get(t, "/api/rooms/table-7f3k")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "TABLE-7F3K", body["code"])
	assert.Equal(t, true, body["joinable"])
}

func TestAPI_GetRoomNotJoinableWhenPaused(t *testing.T) {
	f := newAPIFixture(t)
	seedAPIRoom(f, session.RoomPaused)

	resp := f.get(t, "/api/rooms/TABLE-7F3K")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, false, body["joinable"])
}

func TestAPI_GetRoomInvalidCode(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/rooms/not!!valid")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetRoomNotFound(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/rooms/TABLE-ZZZZ")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Roster(t *testing.T) {
	f := newAPIFixture(t)
	f.records.add(&character.Record{
		ID:            "rec-1",
		SessionRoomID: "room-1",
		Payload:       character.Payload{"name": "Kessa"},
	})
	f.records.add(&character.Record{
		ID:            "rec-2",
		SessionRoomID: "room-1",
		Payload:       character.Payload{"name": "Thorne"},
	})

	resp := f.get(t, "/api/rooms/room-1/roster")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	roster := decodeBody[[]map[string]string](t, resp)
	require.Len(t, roster, 2)
	assert.Equal(t, "Kessa", roster[0]["name"])
	assert.Equal(t, "rec-1", roster[0]["id"])
}

func TestAPI_RosterEmptyRoom(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/rooms/room-9/roster")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	roster := decodeBody[[]map[string]string](t, resp)
	assert.Empty(t, roster)
}

func TestAPI_Log(t *testing.T) {
	f := newAPIFixture(t)
	f.log.entries = []gamelog.Entry{
		{RoomID: "room-1", ActorLabel: "Host", Message: "granted Rope to all participants", Category: gamelog.CategoryLoot, CreatedAt: time.Now()},
	}

	resp := f.get(t, "/api/rooms/room-1/log")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := decodeBody[[]map[string]string](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, "Host", entries[0]["actorLabel"])
	assert.Equal(t, "loot", entries[0]["category"])
}

func TestAPI_LogInvalidLimit(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/rooms/room-1/log?limit=abc")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Visual(t *testing.T) {
	f := newAPIFixture(t)
	sub := f.bus.Subscribe("room-1", broadcast.TopicVisuals)

	resp := f.post(t, "/api/rooms/room-1/visuals", `{"imageUrl":"https://img.example/map.png"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case env := <-sub:
		assert.Equal(t, "visual", env.Event)
		assert.Equal(t, broadcast.TargetAll, env.TargetID, "missing target defaults to everyone")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for visual envelope")
	}
}

func TestAPI_VisualRequiresImageURL(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.post(t, "/api/rooms/room-1/visuals", `{"caption":"no image"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Whisper(t *testing.T) {
	f := newAPIFixture(t)
	sub := f.bus.Subscribe("room-1", broadcast.TopicWhispers)

	resp := f.post(t, "/api/rooms/room-1/whispers", `{"from":"Host","message":"psst","targetId":"rec-1"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case env := <-sub:
		assert.Equal(t, "whisper", env.Event)
		assert.Equal(t, "rec-1", env.TargetID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for whisper envelope")
	}
}

func TestAPI_WhisperValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/rooms/room-1/whispers", `{"from":"Host","targetId":"rec-1"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "message is required")

	resp = f.post(t, "/api/rooms/room-1/whispers", `{"from":"Host","message":"psst"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "targetId is required")
}

func TestAPI_Loot(t *testing.T) {
	f := newAPIFixture(t)
	f.records.add(&character.Record{
		ID:            "rec-1",
		SessionRoomID: "room-1",
		Payload:       character.Payload{"name": "Kessa"},
	})
	sub := f.bus.Subscribe("room-1", broadcast.TopicLoot)

	resp := f.post(t, "/api/rooms/room-1/loot", `{"actorLabel":"Host","name":"Rope","quantity":2,"targetId":"rec-1"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case env := <-sub:
		assert.Equal(t, "loot_granted", env.Event)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for loot envelope")
	}

	inv := f.records.records["rec-1"].Payload["inventory"].([]any)
	require.Len(t, inv, 1)
	require.Len(t, f.log.entries, 1)
	assert.Equal(t, "granted 2x Rope to participant rec-1", f.log.entries[0].Message)
}

func TestAPI_LootUnknownTarget(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/rooms/room-1/loot", `{"name":"Rope","targetId":"rec-missing"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_LootRequiresName(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.post(t, "/api/rooms/room-1/loot", `{"targetId":"rec-1"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
