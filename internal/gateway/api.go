// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tableside/tableside/internal/broadcast"
	"github.com/tableside/tableside/internal/character"
	"github.com/tableside/tableside/internal/gamelog"
	"github.com/tableside/tableside/internal/observability"
	"github.com/tableside/tableside/internal/session"
)

// RoomRecords lists the character records attached to a room.
type RoomRecords interface {
	FetchByRoom(ctx context.Context, roomID string) ([]*character.Record, error)
}

// API is the companion server's JSON surface: room registry lookups plus
// the host's broadcast dispatch endpoints. Everything stateful about a
// session (attachment, sync, merge) lives on the device, not here.
type API struct {
	rooms      session.RoomRepository
	records    RoomRecords
	log        gamelog.Repository
	dispatcher *broadcast.Dispatcher
	codePrefix string
	metrics    *observability.Metrics
}

// APIConfig holds dependencies for API.
type APIConfig struct {
	Rooms      session.RoomRepository
	Records    RoomRecords
	Log        gamelog.Repository
	Dispatcher *broadcast.Dispatcher
	CodePrefix string                 // defaults to session.DefaultCodePrefix
	Metrics    *observability.Metrics // optional room lifecycle counters
}

// NewAPI creates the JSON API handler set.
func NewAPI(cfg APIConfig) *API {
	prefix := cfg.CodePrefix
	if prefix == "" {
		prefix = session.DefaultCodePrefix
	}
	return &API{
		rooms:      cfg.Rooms,
		records:    cfg.Records,
		log:        cfg.Log,
		dispatcher: cfg.Dispatcher,
		codePrefix: prefix,
		metrics:    cfg.Metrics,
	}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", a.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{code}", a.handleGetRoom)
	mux.HandleFunc("GET /api/rooms/{id}/roster", a.handleRoster)
	mux.HandleFunc("GET /api/rooms/{id}/log", a.handleLog)
	mux.HandleFunc("POST /api/rooms/{id}/visuals", a.handleVisual)
	mux.HandleFunc("POST /api/rooms/{id}/whispers", a.handleWhisper)
	mux.HandleFunc("POST /api/rooms/{id}/loot", a.handleLoot)
}

type roomResponse struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	Status        string `json:"status"`
	SessionNumber int    `json:"sessionNumber"`
	Joinable      bool   `json:"joinable"`
	CreatedAt     string `json:"createdAt"`
}

func roomToResponse(room *session.Room) roomResponse {
	return roomResponse{
		ID:            room.ID,
		Code:          room.Code,
		Status:        string(room.Status),
		SessionNumber: room.SessionNumber,
		Joinable:      room.Joinable(),
		CreatedAt:     room.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerIdentityID string `json:"ownerIdentityId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := session.CreateRoom(r.Context(), a.rooms, a.codePrefix, req.OwnerIdentityID)
	if err != nil {
		slog.Error("room creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "room creation failed")
		return
	}
	if a.metrics != nil {
		a.metrics.RoomsTotal.WithLabelValues("created").Inc()
	}

	writeJSON(w, http.StatusCreated, roomToResponse(room))
}

func (a *API) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	code := session.NormalizeCode(r.PathValue("code"))
	if !session.ValidCode(code) {
		writeError(w, http.StatusBadRequest, "invalid room code")
		return
	}

	room, err := a.rooms.GetByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, session.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		slog.Error("room lookup failed", "code", code, "error", err)
		writeError(w, http.StatusInternalServerError, "room lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, roomToResponse(room))
}

func (a *API) handleRoster(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	records, err := a.records.FetchByRoom(r.Context(), roomID)
	if err != nil {
		slog.Error("roster fetch failed", "room_id", roomID, "error", err)
		writeError(w, http.StatusInternalServerError, "roster fetch failed")
		return
	}

	type rosterEntry struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	roster := make([]rosterEntry, 0, len(records))
	for _, rec := range records {
		roster = append(roster, rosterEntry{ID: rec.ID, Name: rec.Name()})
	}

	writeJSON(w, http.StatusOK, roster)
}

func (a *API) handleLog(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := a.log.ListByRoom(r.Context(), roomID, limit)
	if err != nil {
		slog.Error("log fetch failed", "room_id", roomID, "error", err)
		writeError(w, http.StatusInternalServerError, "log fetch failed")
		return
	}

	type logEntry struct {
		ActorLabel string `json:"actorLabel"`
		Message    string `json:"message"`
		Category   string `json:"category"`
		CreatedAt  string `json:"createdAt"`
	}
	out := make([]logEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, logEntry{
			ActorLabel: e.ActorLabel,
			Message:    e.Message,
			Category:   string(e.Category),
			CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleVisual(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	var req struct {
		ImageURL string `json:"imageUrl"`
		Caption  string `json:"caption"`
		TargetID string `json:"targetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "imageUrl is required")
		return
	}
	target := req.TargetID
	if target == "" {
		target = broadcast.TargetAll
	}

	visual := broadcast.VisualPayload{ImageURL: req.ImageURL, Caption: req.Caption}
	if err := a.dispatcher.ProjectVisual(roomID, visual, target); err != nil {
		slog.Error("visual dispatch failed", "room_id", roomID, "error", err)
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleWhisper(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	var req struct {
		From     string `json:"from"`
		Message  string `json:"message"`
		TargetID string `json:"targetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "targetId is required")
		return
	}

	whisper := broadcast.WhisperPayload{From: req.From, Message: req.Message}
	if err := a.dispatcher.Whisper(roomID, whisper, req.TargetID); err != nil {
		slog.Error("whisper dispatch failed", "room_id", roomID, "error", err)
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleLoot(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	var req struct {
		ActorLabel string `json:"actorLabel"`
		Name       string `json:"name"`
		Quantity   int    `json:"quantity"`
		Note       string `json:"note"`
		TargetID   string `json:"targetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	target := req.TargetID
	if target == "" {
		target = broadcast.TargetAll
	}

	item := broadcast.LootItem{Name: req.Name, Quantity: req.Quantity, Note: req.Note}
	if err := a.dispatcher.GrantLoot(r.Context(), roomID, req.ActorLabel, item, target); err != nil {
		if errors.Is(err, character.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target record not found")
			return
		}
		slog.Error("loot grant failed", "room_id", roomID, "error", err)
		writeError(w, http.StatusInternalServerError, "loot grant failed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
