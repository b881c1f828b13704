package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"chatgate/pkg/relay"
)

// sseWriter frames relay events for the browser client: content deltas in the
// OpenAI chunk shape, errors as an inline JSON object, then a literal [DONE].
type sseWriter struct {
	w  http.ResponseWriter
	fl http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	fl, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, fl: fl}, true
}

func (s *sseWriter) writeHeaders() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.fl.Flush()
}

func (s *sseWriter) emit(ev relay.Event) error {
	var data []byte
	switch {
	case ev.Done:
		data = []byte("[DONE]")
	case ev.Err != "":
		data, _ = json.Marshal(map[string]string{"error": ev.Err})
	default:
		data, _ = json.Marshal(map[string]any{
			"choices": []any{
				map[string]any{"delta": map[string]string{"content": ev.Content}},
			},
		})
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}
