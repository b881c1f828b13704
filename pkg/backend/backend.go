// Package backend probes upstream OpenAI-compatible APIs: connection checks
// and model discovery for the settings screen.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"chatgate/pkg/cache"
)

const (
	probeTimeout  = 10 * time.Second
	modelCacheTTL = 5 * time.Minute
)

type Prober struct {
	httpClient *http.Client
	log        zerolog.Logger
	models     *cache.TTLMap[string, []string]
}

func NewProber(client *http.Client, log zerolog.Logger) *Prober {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Prober{
		httpClient: client,
		log:        log,
		models:     cache.NewTTLMap[string, []string](),
	}
}

func (p *Prober) client(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = p.httpClient
	return openai.NewClientWithConfig(cfg)
}

// baseVariants lists the base URLs to try, versioned route first. Endpoints
// already pinned to /v1 get a single attempt.
func baseVariants(endpoint string) []string {
	clean := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if strings.HasSuffix(clean, "/v1") {
		return []string{clean}
	}
	return []string{clean + "/v1", clean}
}

func (p *Prober) listModels(ctx context.Context, endpoint, apiKey string) (openai.ModelsList, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var lastErr error
	for _, base := range baseVariants(endpoint) {
		list, err := p.client(base, apiKey).ListModels(ctx)
		if err == nil {
			return list, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return openai.ModelsList{}, lastErr
}

// TestConnection verifies that the endpoint answers a model listing with the
// given key and returns a human-readable verdict.
func (p *Prober) TestConnection(ctx context.Context, endpoint, apiKey string) (ok bool, message string) {
	list, err := p.listModels(ctx, endpoint, apiKey)
	if err != nil {
		p.log.Debug().Err(err).Str("endpoint", endpoint).Msg("connection test failed")
		switch statusOf(err) {
		case http.StatusUnauthorized:
			return false, "Authentication failed: the API key was rejected"
		case http.StatusNotFound:
			return false, "Endpoint not found: check the API endpoint URL"
		}
		return false, fmt.Sprintf("Connection failed: %v", err)
	}
	return true, fmt.Sprintf("Connection successful, %d models available", len(list.Models))
}

// FetchModels returns the sorted model IDs the endpoint advertises. Results
// are cached briefly per endpoint so the settings screen stays snappy.
func (p *Prober) FetchModels(ctx context.Context, endpoint, apiKey string) ([]string, error) {
	key := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if ids, ok := p.models.Get(key, time.Now()); ok {
		return ids, nil
	}

	list, err := p.listModels(ctx, endpoint, apiKey)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	p.models.Set(key, ids, time.Now(), modelCacheTTL)
	return ids, nil
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
