package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-arlo/internal/audit"
	"github.com/nerrad567/gray-logic-arlo/internal/discovery"
	"github.com/nerrad567/gray-logic-arlo/internal/session"
)

// handleGetSession returns the cloud session state.
func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

// handleGetDiscovery returns the hubs and cameras of the last discovery pass.
func (s *Server) handleGetDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.discovery.Snapshot())
}

// handleRunDiscovery reruns discovery on the authenticated session and
// returns the new index.
func (s *Server) handleRunDiscovery(w http.ResponseWriter, r *http.Request) {
	err := s.session.Rediscover(r.Context())
	switch {
	case err == nil:
		snap := s.discovery.Snapshot()
		s.record(r, audit.ActionDiscoveryRun, audit.EntityDiscovery, "", map[string]any{
			"hubs":    len(snap.Hubs),
			"cameras": len(snap.Cameras),
			"built":   snap.Built,
		})
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, session.ErrNotAuthenticated):
		writeError(w, http.StatusConflict, ErrCodeConflict, "cloud session is not authenticated")
	case errors.Is(err, discovery.ErrDiscovery):
		s.logger.Warn("discovery failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	default:
		s.logger.Error("discovery failed", "error", err)
		writeInternalError(w, "discovery failed")
	}
}
