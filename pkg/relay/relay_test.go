package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func collectEvents(t *testing.T, upstream http.HandlerFunc, req Request) []Event {
	t.Helper()
	srv := httptest.NewServer(upstream)
	defer srv.Close()
	if req.Endpoint == "" {
		req.Endpoint = srv.URL
	}

	var events []Event
	r := New(&http.Client{Timeout: 5 * time.Second}, zerolog.Nop())
	r.Relay(context.Background(), req, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	return events
}

func sseUpstream(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func contentOf(events []Event) []string {
	var out []string
	for _, ev := range events {
		switch {
		case ev.Done:
			out = append(out, "[DONE]")
		case ev.Err != "":
			out = append(out, "error:"+ev.Err)
		default:
			out = append(out, ev.Content)
		}
	}
	return out
}

func TestRelayThinkBlockOrdering(t *testing.T) {
	events := collectEvents(t, sseUpstream(
		`data: {"choices":[{"delta":{"reasoning_content":"a"}}]}`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
		`data: [DONE]`,
	), Request{Payload: map[string]any{"stream": true}})

	want := []string{"<think>", "a", "</think>", "b", "[DONE]"}
	got := contentOf(events)
	if len(got) != len(want) {
		t.Fatalf("event count mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRelayClosesOpenThinkBlockAtDone(t *testing.T) {
	events := collectEvents(t, sseUpstream(
		`data: {"choices":[{"delta":{"reasoning_content":"thinking..."}}]}`,
		`data: [DONE]`,
	), Request{})

	got := contentOf(events)
	want := []string{"<think>", "thinking...", "</think>", "[DONE]"}
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestRelayClosesOpenThinkBlockOnEOF(t *testing.T) {
	events := collectEvents(t, sseUpstream(
		`data: {"choices":[{"delta":{"reasoning_content":"x"}}]}`,
	), Request{})

	got := contentOf(events)
	if len(got) != 3 || got[2] != "</think>" {
		t.Fatalf("open block must be closed at stream end: %v", got)
	}
}

func TestRelayThinkBlockOpensOnce(t *testing.T) {
	events := collectEvents(t, sseUpstream(
		`data: {"choices":[{"delta":{"reasoning_content":"a"}}]}`,
		`data: {"choices":[{"delta":{"reasoning_content":"b"}}]}`,
		`data: {"choices":[{"delta":{"content":"c"}}]}`,
		`data: [DONE]`,
	), Request{})

	got := contentOf(events)
	want := []string{"<think>", "a", "b", "</think>", "c", "[DONE]"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("unexpected sequence: %v", got)
		}
	}
}

func TestRelayNon200YieldsSingleErrorEvent(t *testing.T) {
	events := collectEvents(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}, Request{})

	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %v", events)
	}
	if events[0].Err == "" {
		t.Fatalf("expected error event, got %+v", events[0])
	}
}

func TestRelaySkipsMalformedAndForeignLines(t *testing.T) {
	events := collectEvents(t, sseUpstream(
		`event: message`,
		`: keepalive comment`,
		`data: {broken json`,
		`{"choices":[{"delta":{"content":"bare json line"}}]}`,
		`data: [DONE]`,
	), Request{})

	got := contentOf(events)
	want := []string{"bare json line", "[DONE]"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestRelayCustomResponsePath(t *testing.T) {
	events := collectEvents(t, sseUpstream(
		`data: {"candidates":[{"content":{"parts":[{"text":"gemini says"}]}}]}`,
		`data: [DONE]`,
	), Request{ResponsePath: "candidates[0].content.parts[0].text"})

	got := contentOf(events)
	if len(got) != 2 || got[0] != "gemini says" {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestRelayUpstreamHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected authorization: %q", got)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	r := New(srv.Client(), zerolog.Nop())
	var events []Event
	r.Relay(context.Background(), Request{Endpoint: srv.URL + "/v1/", APIKey: "sk-test"}, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if len(events) != 1 || !events[0].Done {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestRelayTransportErrorYieldsErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	r := New(&http.Client{Timeout: time.Second}, zerolog.Nop())
	var events []Event
	r.Relay(context.Background(), Request{Endpoint: srv.URL}, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if len(events) != 1 || events[0].Err == "" {
		t.Fatalf("expected one error event, got %+v", events)
	}
}

func TestRelayStopsWhenEmitFails(t *testing.T) {
	events := 0
	srv := httptest.NewServer(sseUpstream(
		`data: {"choices":[{"delta":{"content":"one"}}]}`,
		`data: {"choices":[{"delta":{"content":"two"}}]}`,
		`data: [DONE]`,
	))
	defer srv.Close()

	r := New(srv.Client(), zerolog.Nop())
	r.Relay(context.Background(), Request{Endpoint: srv.URL}, func(ev Event) error {
		events++
		return errors.New("client went away")
	})
	if events != 1 {
		t.Fatalf("relay must stop after emit failure, saw %d events", events)
	}
}

func TestEndpointURL(t *testing.T) {
	cases := map[string]string{
		"https://api.example.com/v1":                  "https://api.example.com/v1/chat/completions",
		"https://api.example.com/v1/":                 "https://api.example.com/v1/chat/completions",
		" https://api.example.com/v1/chat/completions": "https://api.example.com/v1/chat/completions",
	}
	for in, want := range cases {
		if got := EndpointURL(in); got != want {
			t.Fatalf("EndpointURL(%q) = %q, want %q", in, got, want)
		}
	}
}
