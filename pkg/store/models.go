package store

import (
	"encoding/json"
	"strings"
	"time"
)

type User struct {
	ID        string
	Username  string
	APIToken  string
	Settings  string // raw JSON blob, see Settings
	Points    int64
	CreatedAt time.Time
}

// Settings is the per-user chat configuration stored as a JSON blob. The
// api_key field holds either an encrypted token (secrets.Prefix) or, for old
// records, the plaintext key.
type Settings struct {
	APIEndpoint      string `json:"api_endpoint"`
	APIKey           string `json:"api_key"`
	Model            string `json:"model"`
	SystemPrompt     string `json:"system_prompt"`
	RequestTemplate  string `json:"request_template,omitempty"`
	ResponsePath     string `json:"response_path,omitempty"`
	UseSharedBackend bool   `json:"use_shared_backend,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		APIEndpoint:  "https://api.openai.com/v1",
		Model:        "gpt-3.5-turbo",
		SystemPrompt: "You are a helpful assistant.",
	}
}

// ParseSettings decodes a stored blob, falling back to defaults when the
// blob is empty or damaged; a broken settings record must not lock the user
// out of the chat path.
func ParseSettings(raw string) Settings {
	if raw == "" || raw == "{}" {
		return DefaultSettings()
	}
	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return DefaultSettings()
	}
	// A blob saved without a model must not flow an empty model into the
	// payload or pricing.
	if strings.TrimSpace(s.Model) == "" {
		s.Model = DefaultSettings().Model
	}
	return s
}

func (s Settings) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
