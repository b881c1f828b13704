// Package relay drives one streaming chat request against an upstream
// backend and reframes whatever the upstream emits into the single event
// shape the web client understands.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"chatgate/pkg/jsonpath"
)

const (
	// DefaultResponsePath locates the content delta in OpenAI-style chunks.
	DefaultResponsePath = "choices[0].delta.content"

	// reasoningPath is probed on every chunk regardless of the configured
	// response path; providers with extended thinking put it here.
	reasoningPath = "choices[0].delta.reasoning_content"

	chatRoute  = "/chat/completions"
	doneMarker = "[DONE]"
	dataPrefix = "data:"

	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"

	maxErrorBody = 8 << 10
	maxLineSize  = 1 << 20
)

// Event is one normalized unit sent to the client. Exactly one field is set.
type Event struct {
	Content string
	Err     string
	Done    bool
}

// EmitFunc receives events in order. Returning an error aborts the relay;
// the writer does that when the client has gone away.
type EmitFunc func(Event) error

type Request struct {
	Endpoint     string
	APIKey       string
	Payload      any
	ResponsePath string
}

type Relayer struct {
	client *http.Client
	log    zerolog.Logger
}

func New(client *http.Client, log zerolog.Logger) *Relayer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Relayer{client: client, log: log}
}

// thinkState tracks whether a synthetic reasoning block is currently open.
// It lives for one Relay call only.
type thinkState struct {
	started bool
	ended   bool
}

func (t *thinkState) open() bool { return t.started && !t.ended }

// Relay opens the upstream stream and forwards it line by line. All failure
// modes surface as inline error events; Relay itself never returns an error
// because the response has already committed to the event stream.
func (r *Relayer) Relay(ctx context.Context, req Request, emit EmitFunc) {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		_ = emit(Event{Err: fmt.Sprintf("encode payload: %v", err)})
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, EndpointURL(req.Endpoint), bytes.NewReader(body))
	if err != nil {
		_ = emit(Event{Err: fmt.Sprintf("build upstream request: %v", err)})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		r.log.Warn().Err(err).Str("endpoint", req.Endpoint).Msg("upstream request failed")
		_ = emit(Event{Err: fmt.Sprintf("upstream request failed: %v", err)})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		r.log.Warn().Int("status", resp.StatusCode).Str("endpoint", req.Endpoint).Msg("upstream returned non-200")
		_ = emit(Event{Err: fmt.Sprintf("API Error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))})
		return
	}

	responsePath := req.ResponsePath
	if strings.TrimSpace(responsePath) == "" {
		responsePath = DefaultResponsePath
	}

	var thinking thinkState
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	for sc.Scan() {
		data, ok := eventData(sc.Text())
		if !ok {
			continue
		}

		if data == doneMarker {
			if !r.closeThinkBlock(&thinking, emit) {
				return
			}
			if emit(Event{Done: true}) != nil {
				return
			}
			continue
		}

		var tree any
		if err := json.Unmarshal([]byte(data), &tree); err != nil {
			// One malformed chunk must not abort the stream.
			continue
		}

		if reasoning, ok := jsonpath.ExtractString(tree, reasoningPath); ok && reasoning != "" {
			if !thinking.started {
				if emit(Event{Content: thinkOpenTag}) != nil {
					return
				}
				thinking.started = true
			}
			if emit(Event{Content: reasoning}) != nil {
				return
			}
			continue
		}

		if content, ok := jsonpath.ExtractString(tree, responsePath); ok && content != "" {
			if !r.closeThinkBlock(&thinking, emit) {
				return
			}
			if emit(Event{Content: content}) != nil {
				return
			}
		}
	}

	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Warn().Err(err).Str("endpoint", req.Endpoint).Msg("upstream stream aborted")
		_ = emit(Event{Err: fmt.Sprintf("upstream stream error: %v", err)})
		return
	}

	// Upstream ended without a terminator; still never leave an open block.
	if !r.closeThinkBlock(&thinking, emit) {
		return
	}
}

func (r *Relayer) closeThinkBlock(t *thinkState, emit EmitFunc) bool {
	if !t.open() {
		return true
	}
	t.ended = true
	return emit(Event{Content: thinkCloseTag}) == nil
}

// eventData extracts the payload of one stream line. Lines carrying the SSE
// data prefix are unwrapped; bare JSON object lines are taken as-is for
// providers that skip the prefix; everything else is ignored.
func eventData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if rest, ok := strings.CutPrefix(line, dataPrefix); ok {
		return strings.TrimSpace(rest), true
	}
	if strings.HasPrefix(line, "{") {
		return line, true
	}
	return "", false
}

// EndpointURL normalizes a configured endpoint into the chat completions
// URL: endpoints that already name the route are used verbatim, everything
// else gets the route appended.
func EndpointURL(endpoint string) string {
	clean := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if strings.HasSuffix(clean, chatRoute) {
		return clean
	}
	return clean + chatRoute
}
