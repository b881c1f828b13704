package payload

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func sampleInputs() Inputs {
	return Inputs{
		Model:        "gpt-4o-mini",
		SystemPrompt: "You are a helpful assistant.",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "first"},
			{Role: openai.ChatMessageRoleUser, Content: "last question"},
		},
	}
}

func TestBuildEmptyTemplateUsesDefaultShape(t *testing.T) {
	got, fromTemplate := Build("", sampleInputs())
	if fromTemplate {
		t.Fatal("empty template must not count as applied")
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload type: %T", got)
	}
	if m["model"] != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %v", m["model"])
	}
	if m["temperature"] != 0.7 || m["stream"] != true {
		t.Fatalf("default knobs missing: %v", m)
	}
	msgs, ok := m["messages"].([]openai.ChatCompletionMessage)
	if !ok {
		t.Fatalf("unexpected messages type: %T", m["messages"])
	}
	if len(msgs) != 3 || msgs[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("system prompt not prepended: %+v", msgs)
	}
}

func TestBuildSubstitutesAllReservedTokens(t *testing.T) {
	template := `{
		"model": "{{MODEL}}",
		"input": {"conversation": "{{MESSAGES}}", "instructions": "{{SYSTEM_PROMPT}}"},
		"prompt": "{{LAST_MSG_CONTENT}}",
		"stream": true,
		"keep": "{{NOT_A_TOKEN}}"
	}`
	got, fromTemplate := Build(template, sampleInputs())
	if !fromTemplate {
		t.Fatal("valid template should be applied")
	}
	m := got.(map[string]any)
	if m["model"] != "gpt-4o-mini" {
		t.Fatalf("model token not substituted: %v", m["model"])
	}
	if m["prompt"] != "last question" {
		t.Fatalf("last message token not substituted: %v", m["prompt"])
	}
	if m["keep"] != "{{NOT_A_TOKEN}}" {
		t.Fatalf("non-reserved string mutated: %v", m["keep"])
	}
	inner := m["input"].(map[string]any)
	if inner["instructions"] != "You are a helpful assistant." {
		t.Fatalf("system prompt token not substituted: %v", inner["instructions"])
	}
	msgs, ok := inner["conversation"].([]openai.ChatCompletionMessage)
	if !ok || len(msgs) != 3 {
		t.Fatalf("messages token not substituted: %T %v", inner["conversation"], inner["conversation"])
	}
}

func TestBuildInvalidTemplateFallsBack(t *testing.T) {
	got, fromTemplate := Build(`{"model": "{{MODEL}}",`, sampleInputs())
	if fromTemplate {
		t.Fatal("broken template must fall back")
	}
	m := got.(map[string]any)
	if m["model"] != "gpt-4o-mini" || m["stream"] != true {
		t.Fatalf("fallback payload wrong: %v", m)
	}
}

func TestBuildScalarsPassThrough(t *testing.T) {
	template := `{"n": 3, "flag": false, "nothing": null, "arr": [1, "{{MODEL}}"]}`
	got, _ := Build(template, sampleInputs())
	b, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(b, &round); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if round["n"] != float64(3) || round["flag"] != false || round["nothing"] != nil {
		t.Fatalf("scalars mutated: %v", round)
	}
	arr := round["arr"].([]any)
	if arr[0] != float64(1) || arr[1] != "gpt-4o-mini" {
		t.Fatalf("array substitution wrong: %v", arr)
	}
}

func TestLastMsgContentEmptyWhenNoMessages(t *testing.T) {
	in := sampleInputs()
	in.Messages = nil
	got, fromTemplate := Build(`{"prompt": "{{LAST_MSG_CONTENT}}"}`, in)
	if !fromTemplate {
		t.Fatal("template should apply")
	}
	if got.(map[string]any)["prompt"] != "" {
		t.Fatalf("expected empty prompt, got %v", got)
	}
}
