package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// MemoryRules is an in-memory rule source and failure tracker. Rules are
// served in the order they were added.
type MemoryRules struct {
	mu    sync.Mutex
	rules []ir.AutomationRule
}

// NewMemoryRules creates a rule source holding rules.
func NewMemoryRules(rules ...ir.AutomationRule) *MemoryRules {
	m := &MemoryRules{}
	for _, r := range rules {
		m.Add(r)
	}
	return m
}

// Add appends a rule. Version defaults to 1.
func (m *MemoryRules) Add(r ir.AutomationRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Version == 0 {
		r.Version = 1
	}
	m.rules = append(m.rules, r)
}

// SetEnabled toggles a rule and bumps its version.
func (m *MemoryRules) SetEnabled(id string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules[i].IsEnabled = enabled
			m.rules[i].Version++
		}
	}
}

// Get returns a copy of a rule.
func (m *MemoryRules) Get(id string) (ir.AutomationRule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id {
			return r, true
		}
	}
	return ir.AutomationRule{}, false
}

func (m *MemoryRules) RulesFor(_ context.Context, boardID string, trigger ir.TriggerType) ([]ir.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ir.AutomationRule{}
	for _, r := range m.rules {
		if r.BoardID == boardID && r.Trigger.Type == trigger && r.IsEnabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryRules) RecordResult(_ context.Context, rule ir.AutomationRule, failed bool, threshold int, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		r := &m.rules[i]
		if r.ID != rule.ID {
			continue
		}
		if !failed {
			r.ConsecutiveFailures = 0
			return false, nil
		}
		r.ConsecutiveFailures++
		if threshold > 0 && r.ConsecutiveFailures >= threshold && r.IsEnabled {
			r.IsEnabled = false
			r.Version++
			return true, nil
		}
		return false, nil
	}
	return false, nil
}
