package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hbastian/fieldline-core/internal/command"
	"github.com/hbastian/fieldline-core/internal/connector"
	"github.com/hbastian/fieldline-core/internal/device"
)

// handleCreateDevice creates a device in a room the caller owns.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.loadOwnedRoom(w, r)
	if !ok {
		return
	}

	var d device.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d.ID = uuid.NewString()
	d.RoomID = rm.ID
	d.CreatedAt = time.Now().UTC()
	d.Value = nil
	d.RawValue = ""
	d.IsOn = false
	d.UpdatedAt = nil
	d.Endpoints = nil

	if err := d.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.devices.Create(r.Context(), &d); err != nil {
		if errors.Is(err, device.ErrDeviceExists) {
			writeConflict(w, "the room already has a device with this name")
			return
		}
		writeInternalError(w, "failed to create device")
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// handleGetDevice returns a device with its endpoints.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadOwnedDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDevice partially updates a device's name, signal type
// and unit. State fields are owned by the ingestion pipeline and the
// command processor; they cannot be patched here.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadOwnedDevice(w, r)
	if !ok {
		return
	}

	var patch struct {
		Name       *string `json:"name"`
		SignalType *string `json:"signal_type"`
		Unit       *string `json:"unit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.SignalType != nil {
		d.SignalType = device.SignalType(*patch.SignalType)
	}
	if patch.Unit != nil {
		d.Unit = *patch.Unit
	}

	if err := d.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.devices.Update(r.Context(), d); err != nil {
		if errors.Is(err, device.ErrDeviceExists) {
			writeConflict(w, "the room already has a device with this name")
			return
		}
		writeInternalError(w, "failed to update device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device and its endpoints.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadOwnedDevice(w, r)
	if !ok {
		return
	}

	if err := s.devices.Delete(r.Context(), d.ID); err != nil {
		writeInternalError(w, "failed to delete device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCommand executes a command against an output device: the
// target state is translated through the device's output endpoint,
// written to the wire, recorded, and broadcast to the room.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadOwnedDevice(w, r)
	if !ok {
		return
	}

	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "command processing is not available")
		return
	}

	var req command.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.commands.Execute(r.Context(), d.ID, req)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, command.ErrNonNumericTarget),
			errors.Is(err, command.ErrDigitalTargetValue),
			errors.Is(err, device.ErrZeroScale):
			writeValidationError(w, err.Error())
		case errors.Is(err, command.ErrNotCommandable),
			errors.Is(err, command.ErrNoOutputEndpoint),
			errors.Is(err, command.ErrUnsupportedTransport):
			writeConflict(w, err.Error())
		default:
			// Transport or storage failure after a valid request.
			writeError(w, http.StatusBadGateway, "upstream_error", "failed to deliver command")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCreateEndpoint binds a device to an address on a connector.
func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadOwnedDevice(w, r)
	if !ok {
		return
	}

	var e device.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// The connector must exist and belong to the caller; cross-user
	// endpoint bindings would leak broker traffic between accounts.
	conn, err := s.connectors.GetByID(r.Context(), e.ConnectorID)
	if err != nil {
		if errors.Is(err, connector.ErrConnectorNotFound) {
			writeValidationError(w, "connector does not exist")
			return
		}
		writeInternalError(w, "failed to resolve connector")
		return
	}
	if !canAccess(claimsFrom(r.Context()), conn.UserID) {
		writeForbidden(w, "connector belongs to another user")
		return
	}

	now := time.Now().UTC()
	e.ID = uuid.NewString()
	e.DeviceID = d.ID
	e.CreatedAt = now
	e.UpdatedAt = now

	if err := e.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.devices.CreateEndpoint(r.Context(), &e); err != nil {
		writeInternalError(w, "failed to create endpoint")
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

// handleUpdateEndpoint partially updates an endpoint's address,
// transform and tokens. The worker covering its connector picks the
// change up on its next re-synchronisation.
func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadOwnedDevice(w, r)
	if !ok {
		return
	}

	e, ok := s.loadDeviceEndpoint(w, r, d)
	if !ok {
		return
	}

	var patch struct {
		Direction  *string  `json:"direction"`
		Address    *string  `json:"address"`
		Scale      *float64 `json:"scale"`
		Offset     *float64 `json:"offset"`
		TrueValue  *string  `json:"true_value"`
		FalseValue *string  `json:"false_value"`
		IsPrimary  *bool    `json:"is_primary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if patch.Direction != nil {
		e.Direction = device.Direction(*patch.Direction)
	}
	if patch.Address != nil {
		e.Address = *patch.Address
	}
	if patch.Scale != nil {
		e.Scale = *patch.Scale
	}
	if patch.Offset != nil {
		e.Offset = *patch.Offset
	}
	if patch.TrueValue != nil {
		e.TrueValue = *patch.TrueValue
	}
	if patch.FalseValue != nil {
		e.FalseValue = *patch.FalseValue
	}
	if patch.IsPrimary != nil {
		e.IsPrimary = *patch.IsPrimary
	}
	e.UpdatedAt = time.Now().UTC()

	if err := e.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.devices.UpdateEndpoint(r.Context(), e); err != nil {
		writeInternalError(w, "failed to update endpoint")
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// handleDeleteEndpoint removes an endpoint binding.
func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadOwnedDevice(w, r)
	if !ok {
		return
	}

	e, ok := s.loadDeviceEndpoint(w, r, d)
	if !ok {
		return
	}

	if err := s.devices.DeleteEndpoint(r.Context(), e.ID); err != nil {
		writeInternalError(w, "failed to delete endpoint")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// loadOwnedDevice fetches the device in the URL and enforces ownership
// through its room. On failure it writes the error response and
// returns ok=false.
func (s *Server) loadOwnedDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id := chi.URLParam(r, "id")

	d, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
		} else {
			writeInternalError(w, "failed to get device")
		}
		return nil, false
	}

	rm, err := s.rooms.GetByID(r.Context(), d.RoomID)
	if err != nil {
		writeInternalError(w, "failed to resolve device ownership")
		return nil, false
	}

	if !canAccess(claimsFrom(r.Context()), rm.UserID) {
		writeForbidden(w, "device belongs to another user")
		return nil, false
	}

	return d, true
}

// loadDeviceEndpoint fetches the endpoint in the URL and checks it
// belongs to the given device.
func (s *Server) loadDeviceEndpoint(w http.ResponseWriter, r *http.Request, d *device.Device) (*device.Endpoint, bool) {
	id := chi.URLParam(r, "endpointID")

	e, err := s.devices.GetEndpoint(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrEndpointNotFound) {
			writeNotFound(w, "endpoint not found")
		} else {
			writeInternalError(w, "failed to get endpoint")
		}
		return nil, false
	}

	if e.DeviceID != d.ID {
		writeNotFound(w, "endpoint not found")
		return nil, false
	}

	return e, true
}
