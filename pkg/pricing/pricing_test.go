package pricing

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestManager(t *testing.T, tableJSON, rulesJSON string) *Manager {
	t.Helper()
	dir := t.TempDir()
	tablePath := ""
	rulesPath := ""
	if tableJSON != "" {
		tablePath = writeFile(t, dir, "pricing.json", tableJSON)
	}
	if rulesJSON != "" {
		rulesPath = writeFile(t, dir, "rules.json", rulesJSON)
	}
	m, err := NewManager(tablePath, rulesPath)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCostOverrideWinsOverProviderRules(t *testing.T) {
	m := newTestManager(t,
		`{"default": 100, "overrides": [{"match": "gpt-4", "price": 500}], "providers": {"openai": 50}}`,
		`[{"id": "openai", "keywords": ["gpt"]}]`)
	if got := m.Cost("gpt-4-turbo"); got != 500 {
		t.Fatalf("override should win, got %d", got)
	}
}

func TestCostOverrideOrderFirstWins(t *testing.T) {
	m := newTestManager(t,
		`{"default": 100, "overrides": [{"match": "gpt-4", "price": 500}, {"match": "gpt-4-turbo", "price": 900}]}`, "")
	if got := m.Cost("gpt-4-turbo"); got != 500 {
		t.Fatalf("first matching override should win, got %d", got)
	}
}

func TestCostProviderRuleMatch(t *testing.T) {
	m := newTestManager(t,
		`{"default": 100, "providers": {"deepseek": 20}}`,
		`[{"id": "deepseek", "keywords": ["deepseek"]}]`)
	if got := m.Cost("DeepSeek-R1"); got != 20 {
		t.Fatalf("rule match should price at 20, got %d", got)
	}
}

func TestCostSlashFallbackProviderID(t *testing.T) {
	m := newTestManager(t, `{"default": 100, "providers": {"llama3": 10}}`, "")
	if got := m.IdentifyProvider("meta/llama3:8b"); got != "llama3" {
		t.Fatalf("unexpected provider id: %q", got)
	}
	if got := m.Cost("meta/llama3:8b"); got != 10 {
		t.Fatalf("slash fallback should price at 10, got %d", got)
	}
}

func TestCostSlashFallbackCutsAtDash(t *testing.T) {
	m := newTestManager(t, `{"default": 100}`, "")
	if got := m.IdentifyProvider("anthropic/claude-3-opus"); got != "claude" {
		t.Fatalf("unexpected provider id: %q", got)
	}
}

func TestCostFallsBackToDefault(t *testing.T) {
	m := newTestManager(t, `{"default": 77, "providers": {"openai": 50}}`, "")
	if got := m.Cost("anthropic/claude-3-opus"); got != 77 {
		t.Fatalf("expected table default 77, got %d", got)
	}
}

func TestMissingFilesUseBuiltinDefaults(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "nope.json"), "")
	if err != nil {
		t.Fatalf("missing files should not error: %v", err)
	}
	if got := m.Cost("whatever"); got != DefaultCost {
		t.Fatalf("expected builtin default, got %d", got)
	}
}

func TestReloadRejectsMalformedTable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pricing.json", `{"default": 5}`)
	m, err := NewManager(path, "")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	writeFile(t, dir, "pricing.json", `{"default": `)
	if err := m.Reload(); err == nil {
		t.Fatal("malformed table should fail reload")
	}
	if got := m.Cost("x"); got != 5 {
		t.Fatalf("failed reload must keep the old table, got %d", got)
	}
}

func TestEmptyModelNameIdentifiesDefault(t *testing.T) {
	m := newTestManager(t, `{"default": 100}`, `[{"id": "openai", "keywords": ["gpt"]}]`)
	if got := m.IdentifyProvider(""); got != "default" {
		t.Fatalf("unexpected provider id: %q", got)
	}
}
