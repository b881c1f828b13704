package proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chatgate/pkg/store"
)

func (s *Server) handleReloadPricing(w http.ResponseWriter, r *http.Request) {
	if err := s.pricing.Reload(); err != nil {
		s.log.Error().Err(err).Msg("pricing reload failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	table, rules := s.pricing.Snapshot()
	s.log.Info().Int("overrides", len(table.Overrides)).Int("rules", len(rules)).Msg("pricing reloaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"default":   table.Default,
		"overrides": len(table.Overrides),
		"providers": len(table.Providers),
		"rules":     len(rules),
	})
}

type grantPointsRequest struct {
	Username string `json:"username"`
	Points   int64  `json:"points"`
}

func (s *Server) handleGrantPoints(w http.ResponseWriter, r *http.Request) {
	var req grantPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Points == 0 {
		writeError(w, http.StatusBadRequest, "username and a non-zero points amount are required")
		return
	}

	balance, err := s.store.GrantPoints(r.Context(), req.Username, req.Points)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("username", req.Username).Msg("grant points failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.log.Info().Str("username", req.Username).Int64("points", req.Points).Int64("balance", balance).Msg("points granted")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "balance": balance})
}
