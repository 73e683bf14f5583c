package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hbastian/fieldline-core/internal/room"
)

// handleListRooms returns the caller's rooms.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	rooms, err := s.rooms.ListByUser(r.Context(), claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to list rooms")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms, "count": len(rooms)})
}

// handleCreateRoom creates a room owned by the caller.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var rm room.Room
	if err := json.NewDecoder(r.Body).Decode(&rm); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	now := time.Now().UTC()
	rm.ID = uuid.NewString()
	rm.UserID = claims.Subject
	rm.CreatedAt = now
	rm.UpdatedAt = now

	if err := rm.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.rooms.Create(r.Context(), &rm); err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			writeConflict(w, "a room with this name already exists")
			return
		}
		writeInternalError(w, "failed to create room")
		return
	}

	writeJSON(w, http.StatusCreated, rm)
}

// handleGetRoom returns a single room by ID.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.loadOwnedRoom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleUpdateRoom partially updates a room's name and description.
func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.loadOwnedRoom(w, r)
	if !ok {
		return
	}

	var patch struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if patch.Name != nil {
		rm.Name = *patch.Name
	}
	if patch.Description != nil {
		rm.Description = *patch.Description
	}
	rm.UpdatedAt = time.Now().UTC()

	if err := rm.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.rooms.Update(r.Context(), rm); err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			writeConflict(w, "a room with this name already exists")
			return
		}
		writeInternalError(w, "failed to update room")
		return
	}

	writeJSON(w, http.StatusOK, rm)
}

// handleDeleteRoom removes a room and, via foreign keys, its devices.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.loadOwnedRoom(w, r)
	if !ok {
		return
	}

	if err := s.rooms.Delete(r.Context(), rm.ID); err != nil {
		writeInternalError(w, "failed to delete room")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListRoomDevices returns the devices in a room.
func (s *Server) handleListRoomDevices(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.loadOwnedRoom(w, r)
	if !ok {
		return
	}

	devices, err := s.devices.ListByRoom(r.Context(), rm.ID)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// loadOwnedRoom fetches the room in the URL and enforces ownership.
// On failure it writes the error response and returns ok=false.
func (s *Server) loadOwnedRoom(w http.ResponseWriter, r *http.Request) (*room.Room, bool) {
	id := chi.URLParam(r, "id")

	rm, err := s.rooms.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			writeNotFound(w, "room not found")
		} else {
			writeInternalError(w, "failed to get room")
		}
		return nil, false
	}

	if !canAccess(claimsFrom(r.Context()), rm.UserID) {
		writeForbidden(w, "room belongs to another user")
		return nil, false
	}

	return rm, true
}
