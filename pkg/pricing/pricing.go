// Package pricing maps model names to per-request point costs for the
// metered shared backend.
package pricing

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"chatgate/pkg/cache"
)

const DefaultCost = 100

// Override is matched by substring against the case-folded model name.
// Overrides are evaluated in table order; the first hit wins.
type Override struct {
	Match string `json:"match"`
	Price int    `json:"price"`
}

type Table struct {
	Default   int            `json:"default"`
	Overrides []Override     `json:"overrides"`
	Providers map[string]int `json:"providers"`
}

// MatchRule assigns a provider id when any of its keywords appears in the
// model name. Rules are evaluated in declaration order.
type MatchRule struct {
	ID       string   `json:"id"`
	Keywords []string `json:"keywords"`
}

func defaultTable() Table {
	return Table{Default: DefaultCost, Providers: map[string]int{}}
}

// Manager holds the pricing table and provider match rules. Both are loaded
// once at startup and replaced only through Reload (explicit admin action).
type Manager struct {
	mu        sync.RWMutex
	tablePath string
	rulesPath string
	table     Table
	rules     []MatchRule
}

func NewManager(tablePath, rulesPath string) (*Manager, error) {
	m := &Manager{tablePath: tablePath, rulesPath: rulesPath}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads both files. A missing file falls back to the built-in
// defaults; a malformed file is an error so an admin reload cannot silently
// wipe a working table.
func (m *Manager) Reload() error {
	table := defaultTable()
	if m.tablePath != "" {
		if err := cache.LoadJSON(m.tablePath, &table); err != nil && !errors.Is(err, cache.ErrNotFound) {
			return fmt.Errorf("load pricing table: %w", err)
		}
	}
	if table.Default <= 0 {
		table.Default = DefaultCost
	}
	if table.Providers == nil {
		table.Providers = map[string]int{}
	}

	var rules []MatchRule
	if m.rulesPath != "" {
		if err := cache.LoadJSON(m.rulesPath, &rules); err != nil && !errors.Is(err, cache.ErrNotFound) {
			return fmt.Errorf("load provider rules: %w", err)
		}
	}

	m.mu.Lock()
	m.table = table
	m.rules = rules
	m.mu.Unlock()
	return nil
}

// Cost resolves the point cost for a model name: overrides first, then the
// provider price, then the table default.
func (m *Manager) Cost(modelName string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name := strings.ToLower(modelName)
	for _, o := range m.table.Overrides {
		if o.Match != "" && strings.Contains(name, strings.ToLower(o.Match)) {
			return o.Price
		}
	}
	if price, ok := m.table.Providers[identifyProvider(name, m.rules)]; ok {
		return price
	}
	return m.table.Default
}

// IdentifyProvider exposes the provider-id derivation for diagnostics.
func (m *Manager) IdentifyProvider(modelName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return identifyProvider(strings.ToLower(modelName), m.rules)
}

// identifyProvider scans the rule table first. With no rule hit, a slash in
// the name means "vendor/model": take the text after the last slash, cut at
// the first ':' and the first '-'. Otherwise the id is "default".
func identifyProvider(lowerName string, rules []MatchRule) string {
	if lowerName == "" {
		return "default"
	}
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lowerName, strings.ToLower(kw)) {
				return rule.ID
			}
		}
	}
	if strings.Contains(lowerName, "/") {
		tail := lowerName[strings.LastIndex(lowerName, "/")+1:]
		tail, _, _ = strings.Cut(tail, ":")
		tail, _, _ = strings.Cut(tail, "-")
		return tail
	}
	return "default"
}

// Snapshot returns copies of the current table and rules for admin display.
func (m *Manager) Snapshot() (Table, []MatchRule) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table := m.table
	table.Overrides = append([]Override(nil), m.table.Overrides...)
	table.Providers = make(map[string]int, len(m.table.Providers))
	for k, v := range m.table.Providers {
		table.Providers[k] = v
	}
	rules := append([]MatchRule(nil), m.rules...)
	return table, rules
}
