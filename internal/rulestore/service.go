package rulestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/boardflow/internal/compiler"
	"github.com/roach88/boardflow/internal/engine"
	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/store"
)

// Service is the rule store: a cached rule source for the dispatcher and
// the CRUD surface for rules and recurring configs.
//
// Thread-safety: Service is safe for concurrent use.
type Service struct {
	store *store.Store
	cache *ruleCache
	clock engine.Clock
	ids   engine.IDGenerator
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for timestamps and first fires.
func WithClock(c engine.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDs overrides the generator for rule and recurring config ids.
func WithIDs(g engine.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// New creates a Service over st.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		clock: engine.SystemClock{},
		ids:   engine.UUIDv7Generator{},
	}
	s.cache = newRuleCache(st.ListRules)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RulesFor returns the enabled rules of boardID whose trigger kind is
// trigger, oldest first. An unknown board has no rules.
func (s *Service) RulesFor(ctx context.Context, boardID string, trigger ir.TriggerType) ([]ir.AutomationRule, error) {
	all, err := s.cache.get(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load rules for board %s: %w", boardID, err)
	}
	out := make([]ir.AutomationRule, 0, len(all))
	for _, r := range all {
		if r.IsEnabled && r.Trigger.Type == trigger {
			out = append(out, r)
		}
	}
	return out, nil
}

// Invalidate drops the cached rules of boardID. Mutations call it before
// returning; it is exported for writers that bypass the Service.
func (s *Service) Invalidate(boardID string) {
	s.cache.invalidate(boardID)
	slog.Debug("rule cache invalidated", "board_id", boardID)
}

// CreateRule validates def and stores it as an enabled rule at version 1.
func (s *Service) CreateRule(ctx context.Context, def ir.RuleDefinition) (ir.AutomationRule, error) {
	if errs := compiler.ValidateRule(def); len(errs) > 0 {
		return ir.AutomationRule{}, fmt.Errorf("create rule: %w", errs)
	}

	now := s.clock.Now()
	rule := ir.AutomationRule{
		ID:         s.ids.Generate(),
		BoardID:    def.BoardID,
		Name:       def.Name,
		Trigger:    def.Trigger,
		Conditions: def.Conditions,
		Actions:    def.Actions,
		IsEnabled:  true,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return ir.AutomationRule{}, err
	}
	s.Invalidate(rule.BoardID)

	slog.Info("rule created", "rule_id", rule.ID, "board_id", rule.BoardID, "trigger", rule.Trigger.Type)
	return rule, nil
}

// UpdateRule applies patch if the rule is still at expectedVersion.
// Returns store.ErrVersionConflict when another writer got there first.
func (s *Service) UpdateRule(ctx context.Context, id string, expectedVersion int64, patch ir.RulePatch) (ir.AutomationRule, error) {
	current, err := s.store.GetRule(ctx, id)
	if err != nil {
		return ir.AutomationRule{}, err
	}
	def := patch.Apply(current)
	if errs := compiler.ValidateRule(def); len(errs) > 0 {
		return ir.AutomationRule{}, fmt.Errorf("update rule %s: %w", id, errs)
	}

	updated, err := s.store.UpdateRule(ctx, id, expectedVersion, def, s.clock.Now())
	if err != nil {
		return ir.AutomationRule{}, err
	}
	s.Invalidate(updated.BoardID)

	slog.Info("rule updated", "rule_id", id, "board_id", updated.BoardID, "version", updated.Version)
	return updated, nil
}

// ToggleRule flips a rule's enabled flag.
func (s *Service) ToggleRule(ctx context.Context, id string) (ir.AutomationRule, error) {
	current, err := s.store.GetRule(ctx, id)
	if err != nil {
		return ir.AutomationRule{}, err
	}
	return s.SetRuleEnabled(ctx, id, !current.IsEnabled)
}

// SetRuleEnabled enables or disables a rule.
func (s *Service) SetRuleEnabled(ctx context.Context, id string, enabled bool) (ir.AutomationRule, error) {
	rule, err := s.store.SetRuleEnabled(ctx, id, enabled, s.clock.Now())
	if err != nil {
		return ir.AutomationRule{}, err
	}
	s.Invalidate(rule.BoardID)

	slog.Info("rule toggled", "rule_id", id, "board_id", rule.BoardID, "enabled", enabled)
	return rule, nil
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.Invalidate(rule.BoardID)

	slog.Info("rule deleted", "rule_id", id, "board_id", rule.BoardID)
	return nil
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, id string) (ir.AutomationRule, error) {
	return s.store.GetRule(ctx, id)
}

// ListRules returns every rule of a board, enabled or not, oldest first.
func (s *Service) ListRules(ctx context.Context, boardID string) ([]ir.AutomationRule, error) {
	return s.store.ListRules(ctx, boardID)
}

// RecordResult updates the consecutive failure counter of rule and reports
// whether this result disabled it. A disabled rule is invalidated at once.
func (s *Service) RecordResult(ctx context.Context, rule ir.AutomationRule, failed bool, threshold int, now time.Time) (bool, error) {
	failures, disabled, err := s.store.RecordRuleResult(ctx, rule.ID, failed, threshold, now)
	if err != nil {
		return false, err
	}
	if disabled {
		s.Invalidate(rule.BoardID)
	}
	if failed {
		slog.Debug("rule failure recorded", "rule_id", rule.ID, "consecutive_failures", failures, "threshold", threshold)
	}
	return disabled, nil
}
