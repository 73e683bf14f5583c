package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hbastian/fieldline-core/internal/auth"
	"github.com/hbastian/fieldline-core/internal/connector"
)

// handleListIntegrations returns the caller's integration labels.
func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	integrations, err := s.connectors.ListIntegrations(r.Context(), claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to list integrations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"integrations": integrations, "count": len(integrations)})
}

// handleCreateIntegration creates an integration label for the caller.
func (s *Server) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var in connector.Integration
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if in.Name == "" {
		writeValidationError(w, "integration name cannot be empty")
		return
	}

	now := time.Now().UTC()
	in.ID = uuid.NewString()
	in.UserID = claims.Subject
	in.CreatedAt = now
	in.UpdatedAt = now

	if err := s.connectors.CreateIntegration(r.Context(), &in); err != nil {
		if errors.Is(err, connector.ErrIntegrationExists) {
			writeConflict(w, "an integration with this name already exists")
			return
		}
		writeInternalError(w, "failed to create integration")
		return
	}

	writeJSON(w, http.StatusCreated, in)
}

// handleDeleteIntegration removes an integration label. Connectors
// referencing it keep working with a cleared integration_id.
func (s *Server) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	// Non-admins may only delete labels they own. Integrations have no
	// point lookup, so ownership is checked against the caller's list.
	if claims.Role != auth.RoleAdmin {
		integrations, err := s.connectors.ListIntegrations(r.Context(), claims.Subject)
		if err != nil {
			writeInternalError(w, "failed to check integration ownership")
			return
		}
		owned := false
		for _, in := range integrations {
			if in.ID == id {
				owned = true
				break
			}
		}
		if !owned {
			writeNotFound(w, "integration not found")
			return
		}
	}

	if err := s.connectors.DeleteIntegration(r.Context(), id); err != nil {
		if errors.Is(err, connector.ErrIntegrationNotFound) {
			writeNotFound(w, "integration not found")
			return
		}
		writeInternalError(w, "failed to delete integration")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListConnectors returns the caller's connectors.
func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	connectors, err := s.connectors.ListByUser(r.Context(), claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to list connectors")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"connectors": connectors, "count": len(connectors)})
}

// createConnectorRequest is the request body for POST /connectors.
// The password is accepted on create and update but never serialised
// back out.
type createConnectorRequest struct {
	connector.Connector
	Password string `json:"password"`
}

// handleCreateConnector creates a connector owned by the caller.
//
// The ingestion manager picks new active connectors up on its next
// re-synchronisation scan; no restart is needed.
func (s *Server) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req createConnectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	c := req.Connector
	c.Password = req.Password

	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.UserID = claims.Subject
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := c.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.connectors.Create(r.Context(), &c); err != nil {
		if errors.Is(err, connector.ErrConnectorExists) {
			writeConflict(w, "a connector with this name already exists")
			return
		}
		writeInternalError(w, "failed to create connector")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// handleGetConnector returns a single connector by ID.
func (s *Server) handleGetConnector(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadOwnedConnector(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleUpdateConnector partially updates a connector.
func (s *Server) handleUpdateConnector(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadOwnedConnector(w, r)
	if !ok {
		return
	}

	var patch struct {
		IntegrationID *string `json:"integration_id"`
		Name          *string `json:"name"`
		Transport     *string `json:"transport"`
		Host          *string `json:"host"`
		Port          *int    `json:"port"`
		Username      *string `json:"username"`
		Password      *string `json:"password"`
		UseTLS        *bool   `json:"use_tls"`
		IsActive      *bool   `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if patch.IntegrationID != nil {
		c.IntegrationID = *patch.IntegrationID
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Transport != nil {
		c.Transport = connector.Transport(*patch.Transport)
	}
	if patch.Host != nil {
		c.Host = *patch.Host
	}
	if patch.Port != nil {
		c.Port = *patch.Port
	}
	if patch.Username != nil {
		c.Username = *patch.Username
	}
	if patch.Password != nil {
		c.Password = *patch.Password
	}
	if patch.UseTLS != nil {
		c.UseTLS = *patch.UseTLS
	}
	if patch.IsActive != nil {
		c.IsActive = *patch.IsActive
	}
	c.UpdatedAt = time.Now().UTC()

	if err := c.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.connectors.Update(r.Context(), c); err != nil {
		if errors.Is(err, connector.ErrConnectorExists) {
			writeConflict(w, "a connector with this name already exists")
			return
		}
		writeInternalError(w, "failed to update connector")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// handleDeleteConnector removes a connector. Its worker is stopped on
// the ingestion manager's next re-synchronisation scan.
func (s *Server) handleDeleteConnector(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadOwnedConnector(w, r)
	if !ok {
		return
	}

	if err := s.connectors.Delete(r.Context(), c.ID); err != nil {
		writeInternalError(w, "failed to delete connector")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// loadOwnedConnector fetches the connector in the URL and enforces
// ownership. On failure it writes the error response and returns
// ok=false.
func (s *Server) loadOwnedConnector(w http.ResponseWriter, r *http.Request) (*connector.Connector, bool) {
	id := chi.URLParam(r, "id")

	c, err := s.connectors.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, connector.ErrConnectorNotFound) {
			writeNotFound(w, "connector not found")
		} else {
			writeInternalError(w, "failed to get connector")
		}
		return nil, false
	}

	if !canAccess(claimsFrom(r.Context()), c.UserID) {
		writeForbidden(w, "connector belongs to another user")
		return nil, false
	}

	return c, true
}
