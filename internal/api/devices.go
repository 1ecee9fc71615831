package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-arlo/internal/registry"
)

// handleListDevices returns every device in the host tree, or the children of
// one parent when ?parent= is given (use "root" for top-level devices).
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []registry.Manifest
	if parent, ok := r.URL.Query()["parent"]; ok {
		devices = s.registry.Children(rootParam(parent[0]))
	} else {
		devices = s.registry.List()
	}
	if devices == nil {
		devices = []registry.Manifest{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device by native ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("getting device", "native_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// handleListChildren returns the direct children of a device.
func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	id := rootParam(chi.URLParam(r, "id"))

	if id != "" {
		if _, err := s.registry.Get(r.Context(), id); err != nil {
			if errors.Is(err, registry.ErrDeviceNotFound) {
				writeNotFound(w, "device not found")
				return
			}
			writeInternalError(w, "failed to get device")
			return
		}
	}

	children := s.registry.Children(id)
	if children == nil {
		children = []registry.Manifest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"parent":   id,
		"children": children,
		"count":    len(children),
	})
}

// rootParam maps the "root" path segment to the root parent ID.
func rootParam(p string) string {
	if p == "root" {
		return ""
	}
	return p
}
