package jsonpath

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return v
}

func TestExtractDefaultDeltaPath(t *testing.T) {
	tree := decode(t, `{"choices":[{"delta":{"content":"hello"}}]}`)
	got, ok := ExtractString(tree, "choices[0].delta.content")
	if !ok {
		t.Fatal("expected a hit")
	}
	if got != "hello" {
		t.Fatalf("unexpected value: %q", got)
	}
}

func TestExtractNestedIndexes(t *testing.T) {
	tree := decode(t, `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)
	got, ok := ExtractString(tree, "candidates[0].content.parts[0].text")
	if !ok || got != "hi" {
		t.Fatalf("unexpected result: %q ok=%v", got, ok)
	}
}

func TestExtractStructuralMismatches(t *testing.T) {
	tree := decode(t, `{"choices":[{"delta":{"content":"x"}}],"n":1}`)
	cases := []string{
		"choices[5].delta.content", // index out of range
		"choices.delta.content",    // key segment against an array
		"missing.delta.content",    // missing key
		"choices[0].delta.content.deeper", // descending into a scalar
		"n[0]",                     // index into a number
	}
	for _, path := range cases {
		if _, ok := Extract(tree, path); ok {
			t.Fatalf("path %q should miss", path)
		}
	}
}

func TestExtractEmptySegmentsIgnored(t *testing.T) {
	tree := decode(t, `{"a":{"b":"c"}}`)
	got, ok := ExtractString(tree, "a..b")
	if !ok || got != "c" {
		t.Fatalf("unexpected result: %q ok=%v", got, ok)
	}
}

func TestExtractEmptyPathReturnsRoot(t *testing.T) {
	tree := decode(t, `{"a":1}`)
	v, ok := Extract(tree, "")
	if !ok {
		t.Fatal("empty path should return the root")
	}
	if _, isMap := v.(map[string]any); !isMap {
		t.Fatalf("unexpected root type: %T", v)
	}
}

func TestExtractStringRejectsNonString(t *testing.T) {
	tree := decode(t, `{"a":{"b":3}}`)
	if _, ok := ExtractString(tree, "a.b"); ok {
		t.Fatal("non-string value should not satisfy ExtractString")
	}
}
