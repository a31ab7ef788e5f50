package engine

import (
	"sync"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

const (
	// DefaultMaxChainDepth caps how many action-triggered hops an event
	// chain may take before rules stop firing.
	DefaultMaxChainDepth = 10

	// DefaultRateLimit is the number of rule firings a board may perform
	// within DefaultRateWindow.
	DefaultRateLimit  = 100
	DefaultRateWindow = time.Minute
)

// LoopGuard bounds feedback loops operationally: a depth cap per event
// chain plus a per-board sliding window of rule firings.
//
// Admission is checked before a rule's conditions; a firing is counted
// with Record only once its conditions pass.
//
// Thread-safety: LoopGuard is safe for concurrent use.
type LoopGuard struct {
	maxDepth int
	limit    int
	window   time.Duration

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

// slidingWindow tracks firing timestamps of one board.
type slidingWindow struct {
	timestamps []time.Time
}

// NewLoopGuard creates a guard. Non-positive arguments select the defaults.
func NewLoopGuard(maxDepth, limit int, window time.Duration) *LoopGuard {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &LoopGuard{
		maxDepth: maxDepth,
		limit:    limit,
		window:   window,
		windows:  make(map[string]*slidingWindow),
	}
}

// MaxDepth returns the chain depth cap.
func (g *LoopGuard) MaxDepth() int { return g.maxDepth }

// Admit decides whether rule may run for ev at now. It returns a depth or
// rate-limit RuntimeError when the rule must be skipped.
func (g *LoopGuard) Admit(ev ir.BoardEvent, ruleID string, now time.Time) error {
	if ev.Depth >= g.maxDepth {
		return NewDepthError(ev.BoardID, ruleID, ev.EventID, ev.Depth, g.maxDepth)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	sw := g.windows[ev.BoardID]
	if sw == nil {
		return nil
	}
	sw.cleanup(now, g.window)
	if len(sw.timestamps) >= g.limit {
		return NewRateLimitError(ev.BoardID, ruleID, ev.EventID, len(sw.timestamps), g.limit)
	}
	return nil
}

// Record counts one firing for boardID at now.
func (g *LoopGuard) Record(boardID string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sw := g.windows[boardID]
	if sw == nil {
		sw = &slidingWindow{timestamps: []time.Time{}}
		g.windows[boardID] = sw
	}
	sw.cleanup(now, g.window)
	sw.timestamps = append(sw.timestamps, now)
}

// Count returns the number of firings of boardID inside the window ending at now.
func (g *LoopGuard) Count(boardID string, now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	sw := g.windows[boardID]
	if sw == nil {
		return 0
	}
	sw.cleanup(now, g.window)
	return len(sw.timestamps)
}

// Reset forgets the window of boardID.
func (g *LoopGuard) Reset(boardID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.windows, boardID)
}

// cleanup drops timestamps older than window.
func (sw *slidingWindow) cleanup(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
