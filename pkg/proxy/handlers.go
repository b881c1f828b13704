package proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"chatgate/pkg/credentials"
	"chatgate/pkg/payload"
	"chatgate/pkg/relay"
	"chatgate/pkg/secrets"
	"chatgate/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type chatRequest struct {
	Messages []openai.ChatCompletionMessage `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}

	allowed, _, resetAt, err := s.limiter.Allow(r.Context(), user.ID, time.Now())
	if err != nil {
		// The limiter failing must not take chat down with it.
		s.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
	} else if !allowed {
		s.metrics.RateLimited.Inc()
		w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(resetAt).Seconds())+1, 10))
		writeError(w, http.StatusTooManyRequests, "hourly chat limit reached")
		return
	}

	settings := store.ParseSettings(user.Settings)
	creds, err := credentials.Resolve(credentials.UserConfig{
		Endpoint:     settings.APIEndpoint,
		StoredAPIKey: settings.APIKey,
		UseShared:    settings.UseSharedBackend,
	}, s.shared, s.cfg.PaidMode, s.cipher)
	switch {
	case errors.Is(err, credentials.ErrNoCredentials):
		writeError(w, http.StatusBadRequest, "no API credentials configured; set an endpoint and key in settings")
		return
	case errors.Is(err, credentials.ErrServerMisconfigured):
		s.log.Error().Msg("shared backend selected but not configured")
		writeError(w, http.StatusInternalServerError, "shared backend is not configured")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	backendKind := "own"
	if creds.Shared {
		backendKind = "shared"
		cost := s.pricing.Cost(settings.Model)
		if err := s.store.DebitPoints(r.Context(), user.ID, int64(cost)); err != nil {
			var insufficient *store.InsufficientBalanceError
			if errors.As(err, &insufficient) {
				writeJSON(w, http.StatusPaymentRequired, map[string]any{
					"error":     "insufficient points",
					"required":  insufficient.Required,
					"available": insufficient.Available,
				})
				return
			}
			s.log.Error().Err(err).Str("user", user.ID).Msg("debit failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		s.metrics.PointsDebited.Add(float64(cost))
	}
	s.metrics.ChatRequests.WithLabelValues(backendKind).Inc()

	pl, fromTemplate := payload.Build(settings.RequestTemplate, payload.Inputs{
		Model:        settings.Model,
		SystemPrompt: settings.SystemPrompt,
		Messages:     req.Messages,
	})
	if settings.RequestTemplate != "" && !fromTemplate {
		s.log.Warn().Str("user", user.ID).Msg("request template unusable, using default payload")
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sse.writeHeaders()

	s.relayer.Relay(r.Context(), relay.Request{
		Endpoint:     creds.Endpoint,
		APIKey:       creds.APIKey,
		Payload:      pl,
		ResponsePath: settings.ResponsePath,
	}, func(ev relay.Event) error {
		switch {
		case ev.Done:
			s.metrics.StreamEvents.WithLabelValues("done").Inc()
		case ev.Err != "":
			s.metrics.StreamEvents.WithLabelValues("error").Inc()
			s.metrics.UpstreamErrors.Inc()
		default:
			s.metrics.StreamEvents.WithLabelValues("content").Inc()
		}
		return sse.emit(ev)
	})
}

type probeRequest struct {
	APIEndpoint string `json:"api_endpoint"`
	APIKey      string `json:"api_key"`
	UseOfficial bool   `json:"use_official"`
}

// probeCredentials picks endpoint and key for a connection test or model
// fetch: explicit request values win, stored settings fill the gaps. A key
// echoed back from the settings screen still carrying the encryption prefix
// counts as "not entered".
func (s *Server) probeCredentials(req probeRequest, settings store.Settings) (endpoint, key string) {
	endpoint = strings.TrimSpace(req.APIEndpoint)
	if endpoint == "" {
		endpoint = settings.APIEndpoint
	}
	key = strings.TrimSpace(req.APIKey)
	if key == "" || secrets.IsEncrypted(key) {
		key = s.cipher.Reveal(settings.APIKey)
	}
	return endpoint, key
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UseOfficial {
		if !s.cfg.PaidMode || !s.shared.Complete() {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "shared backend is not available"})
			return
		}
		ok, msg := s.prober.TestConnection(r.Context(), s.shared.APIEndpoint, s.shared.APIKey)
		writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": msg})
		return
	}

	endpoint, key := s.probeCredentials(req, store.ParseSettings(user.Settings))
	if endpoint == "" || key == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "API endpoint and key are required"})
		return
	}
	ok, msg := s.prober.TestConnection(r.Context(), endpoint, key)
	writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": msg})
}

func (s *Server) handleFetchModels(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var endpoint, key string
	if req.UseOfficial {
		if !s.cfg.PaidMode || !s.shared.Complete() {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "shared backend is not available"})
			return
		}
		endpoint, key = s.shared.APIEndpoint, s.shared.APIKey
	} else {
		endpoint, key = s.probeCredentials(req, store.ParseSettings(user.Settings))
		if endpoint == "" || key == "" {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "API endpoint and key are required"})
			return
		}
	}

	models, err := s.prober.FetchModels(r.Context(), endpoint, key)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "models": models})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	settings := store.ParseSettings(user.Settings)
	settings.APIKey = s.cipher.Reveal(settings.APIKey)
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var incoming store.Settings
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Empty clears the key, a prefixed value is stored as-is (never
	// re-encrypt), anything else is a newly entered key.
	key := strings.TrimSpace(incoming.APIKey)
	if key != "" && !secrets.IsEncrypted(key) {
		sealed, err := s.cipher.Encrypt(key)
		if err != nil {
			s.log.Error().Err(err).Msg("encrypt api key failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		key = sealed
	}
	incoming.APIKey = key

	blob, err := incoming.Encode()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings")
		return
	}
	if err := s.store.UpdateSettings(r.Context(), user.ID, blob); err != nil {
		s.log.Error().Err(err).Str("user", user.ID).Msg("save settings failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	// Re-read for a fresh balance; the auth snapshot may predate a debit.
	fresh, err := s.store.GetUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": fresh.Username,
		"points":   fresh.Points,
	})
}
