package rulestore

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/boardflow/internal/ir"
)

// loader reads every rule of a board in creation order.
type loader func(ctx context.Context, boardID string) ([]ir.AutomationRule, error)

// ruleCache caches the full rule list of each board.
type ruleCache struct {
	load loader

	mu      sync.RWMutex
	entries map[string][]ir.AutomationRule
	gens    map[string]uint64
	group   singleflight.Group
}

func newRuleCache(load loader) *ruleCache {
	return &ruleCache{
		load:    load,
		entries: make(map[string][]ir.AutomationRule),
		gens:    make(map[string]uint64),
	}
}

// get returns the rules of boardID, loading them on a miss.
func (c *ruleCache) get(ctx context.Context, boardID string) ([]ir.AutomationRule, error) {
	c.mu.RLock()
	rules, ok := c.entries[boardID]
	gen := c.gens[boardID]
	c.mu.RUnlock()
	if ok {
		return rules, nil
	}

	v, err, _ := c.group.Do(boardID, func() (any, error) {
		loaded, err := c.load(ctx, boardID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gens[boardID] == gen {
			c.entries[boardID] = loaded
		} else {
			slog.Debug("rule cache fill discarded after invalidation", "board_id", boardID)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ir.AutomationRule), nil
}

// invalidate drops boardID's entry and fences loads already in flight.
func (c *ruleCache) invalidate(boardID string) {
	c.mu.Lock()
	delete(c.entries, boardID)
	c.gens[boardID]++
	c.mu.Unlock()
	c.group.Forget(boardID)
}

// size returns the number of cached boards.
func (c *ruleCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
