package api

import (
	"net/http"
)

// summaryResponse is the dashboard count view of one user's estate.
type summaryResponse struct {
	Rooms            int `json:"rooms"`
	Devices          int `json:"devices"`
	DevicesOn        int `json:"devices_on"`
	Connectors       int `json:"connectors"`
	ConnectorsActive int `json:"connectors_active"`
	Integrations     int `json:"integrations"`
}

// handleSummary returns entity counts across everything the caller
// owns. Counts are assembled from the same owner-scoped queries the
// list endpoints use, so admin callers see their own estate here, not
// a global one.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	ctx := r.Context()

	var resp summaryResponse

	rooms, err := s.rooms.ListByUser(ctx, claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to load rooms")
		return
	}
	resp.Rooms = len(rooms)

	for _, rm := range rooms {
		devices, err := s.devices.ListByRoom(ctx, rm.ID)
		if err != nil {
			writeInternalError(w, "failed to load devices")
			return
		}
		resp.Devices += len(devices)
		for _, d := range devices {
			if d.IsOn {
				resp.DevicesOn++
			}
		}
	}

	conns, err := s.connectors.ListByUser(ctx, claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to load connectors")
		return
	}
	resp.Connectors = len(conns)
	for _, c := range conns {
		if c.IsActive {
			resp.ConnectorsActive++
		}
	}

	integrations, err := s.connectors.ListIntegrations(ctx, claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to load integrations")
		return
	}
	resp.Integrations = len(integrations)

	writeJSON(w, http.StatusOK, resp)
}
