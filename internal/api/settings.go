package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-arlo/internal/audit"
	"github.com/nerrad567/gray-logic-arlo/internal/settings"
)

// putSettingRequest is the request body for PUT /settings/{key}.
// Value may be a JSON string, number, or boolean.
type putSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// handleListSettings returns the settings form as currently visible.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := s.settings.List(r.Context())
	if err != nil {
		s.logger.Error("listing settings", "error", err)
		writeInternalError(w, "failed to list settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings": list,
		"count":    len(list),
	})
}

// handlePutSetting changes one setting and applies its side effects.
func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req putSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	value, ok := settingValue(req.Value)
	if !ok {
		writeBadRequest(w, "value must be a string, number, or boolean")
		return
	}

	if err := s.settings.Put(r.Context(), key, value); err != nil {
		switch {
		case errors.Is(err, settings.ErrUnknownSetting):
			writeNotFound(w, "unknown setting: "+key)
		case errors.Is(err, settings.ErrInvalidSetting):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			s.logger.Error("applying setting", "key", key, "error", err)
			writeInternalError(w, "failed to apply setting")
		}
		return
	}

	s.logger.Info("setting changed", "key", key)
	s.record(r, audit.ActionSettingChanged, audit.EntitySetting, key, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"session": s.session.Status(),
	})
}

// settingValue flattens a JSON scalar to the string form settings are
// stored in. A missing or null value reads as "".
func settingValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch v := v.(type) {
	case string:
		return v, true
	case float64, bool:
		return string(raw), true
	default:
		return "", false
	}
}
