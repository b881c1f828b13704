// Package credentials decides which endpoint and API key a chat request
// uses: the user's own configuration or the operator's shared backend.
package credentials

import (
	"errors"
	"strings"

	"chatgate/pkg/config"
	"chatgate/pkg/secrets"
)

var (
	// ErrNoCredentials means the user has no usable key or endpoint
	// configured. User-correctable, surfaced as 400.
	ErrNoCredentials = errors.New("no api credentials configured")

	// ErrServerMisconfigured means shared-backend routing was selected but
	// the operator config is incomplete. Surfaced as 500.
	ErrServerMisconfigured = errors.New("shared backend credentials missing")
)

// UserConfig is the credential slice of a user's settings record.
type UserConfig struct {
	Endpoint     string
	StoredAPIKey string // encrypted token or legacy plaintext
	UseShared    bool
}

type Resolved struct {
	Endpoint string
	APIKey   string

	// Shared is true when the request routes through the metered shared
	// backend. Exactly one credential source is ever selected.
	Shared bool
}

// Resolve picks the credential source for one request. The shared backend is
// reachable only when the deployment runs in paid mode AND the user opted in;
// otherwise the user's own endpoint and key are used, with the stored key
// decrypted (legacy plaintext values pass through unchanged).
func Resolve(user UserConfig, shared config.SharedBackend, paidMode bool, cipher *secrets.Cipher) (Resolved, error) {
	if paidMode && user.UseShared {
		if !shared.Complete() {
			return Resolved{}, ErrServerMisconfigured
		}
		return Resolved{
			Endpoint: strings.TrimSpace(shared.APIEndpoint),
			APIKey:   strings.TrimSpace(shared.APIKey),
			Shared:   true,
		}, nil
	}

	endpoint := strings.TrimSpace(user.Endpoint)
	key := strings.TrimSpace(cipher.Reveal(user.StoredAPIKey))
	if endpoint == "" || key == "" {
		return Resolved{}, ErrNoCredentials
	}
	return Resolved{Endpoint: endpoint, APIKey: key}, nil
}
