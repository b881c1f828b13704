// Package payload builds the JSON body sent to an upstream chat backend,
// either from the default OpenAI-compatible shape or from a user-supplied
// request template with placeholder substitution.
package payload

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Reserved placeholder tokens. A template string leaf must equal one of these
// exactly to be substituted; partial matches pass through untouched.
const (
	TokenMessages       = "{{MESSAGES}}"
	TokenModel          = "{{MODEL}}"
	TokenSystemPrompt   = "{{SYSTEM_PROMPT}}"
	TokenLastMsgContent = "{{LAST_MSG_CONTENT}}"
)

type Inputs struct {
	Model        string
	SystemPrompt string
	Messages     []openai.ChatCompletionMessage
}

// Build produces the upstream payload. An empty or unparseable template falls
// back to Default; fromTemplate reports whether the template was actually
// applied so callers can log the degraded path.
func Build(template string, in Inputs) (payload any, fromTemplate bool) {
	if strings.TrimSpace(template) == "" {
		return Default(in), false
	}
	custom, err := FromTemplate(template, in)
	if err != nil {
		return Default(in), false
	}
	return custom, true
}

// Default is the OpenAI chat-completions shape used when no template is
// configured.
func Default(in Inputs) map[string]any {
	return map[string]any{
		"model":       in.Model,
		"messages":    in.withSystemPrompt(),
		"temperature": 0.7,
		"stream":      true,
	}
}

// FromTemplate parses the template as JSON and deep-copies it, substituting
// string leaves that match a reserved token. Objects and arrays are rebuilt
// recursively; every other leaf passes through unchanged.
func FromTemplate(template string, in Inputs) (any, error) {
	var tree any
	if err := json.Unmarshal([]byte(template), &tree); err != nil {
		return nil, err
	}
	return substitute(tree, in), nil
}

func substitute(node any, in Inputs) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = substitute(vv, in)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = substitute(vv, in)
		}
		return out
	case string:
		switch v {
		case TokenMessages:
			return in.withSystemPrompt()
		case TokenModel:
			return in.Model
		case TokenSystemPrompt:
			return in.SystemPrompt
		case TokenLastMsgContent:
			if len(in.Messages) == 0 {
				return ""
			}
			return in.Messages[len(in.Messages)-1].Content
		}
		return v
	default:
		return v
	}
}

func (in Inputs) withSystemPrompt() []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in.Messages)+1)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: in.SystemPrompt,
	})
	out = append(out, in.Messages...)
	return out
}
