package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// MemoryLedger records firings and activity in memory.
type MemoryLedger struct {
	mu       sync.Mutex
	firings  map[[2]string][]ir.ActionOutcome
	order    [][2]string
	activity []ir.ActivityEntry
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{firings: make(map[[2]string][]ir.ActionOutcome)}
}

func (l *MemoryLedger) ClaimFiring(_ context.Context, ev ir.BoardEvent, ruleID string, _ time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := [2]string{ev.EventID, ruleID}
	if _, ok := l.firings[key]; ok {
		return false, nil
	}
	l.firings[key] = nil
	l.order = append(l.order, key)
	return true, nil
}

func (l *MemoryLedger) CompleteFiring(_ context.Context, eventID, ruleID string, outcomes []ir.ActionOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.firings[[2]string{eventID, ruleID}] = outcomes
	return nil
}

func (l *MemoryLedger) RecordActivity(_ context.Context, e ir.ActivityEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.ID = int64(len(l.activity) + 1)
	l.activity = append(l.activity, e)
	return e.ID, nil
}

// FiringCount returns how many (event, rule) firings were claimed.
func (l *MemoryLedger) FiringCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// FiringsOf returns the event ids a rule fired for, in claim order.
func (l *MemoryLedger) FiringsOf(ruleID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []string{}
	for _, key := range l.order {
		if key[1] == ruleID {
			out = append(out, key[0])
		}
	}
	return out
}

// Outcomes returns the recorded outcomes of a firing.
func (l *MemoryLedger) Outcomes(eventID, ruleID string) []ir.ActionOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firings[[2]string{eventID, ruleID}]
}

// Activity returns the activity entries of a kind ("" for all).
func (l *MemoryLedger) Activity(kind string) []ir.ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []ir.ActivityEntry{}
	for _, e := range l.activity {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
