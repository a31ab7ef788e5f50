// Package engine implements the boardflow automation engine.
//
// The engine receives board events, looks up the rules that react to them,
// evaluates their conditions against the card, executes their actions and
// feeds the events those actions produce back into dispatch.
//
// ARCHITECTURE:
//
// Per-Board Event Queues:
// Every board owns one FIFO queue. A small worker pool takes boards (not
// events) from a shared run queue, so at most one worker touches a board at
// a time. This gives:
// - Strict arrival order within a board
// - Parallelism across boards
// - No locks around per-board state during rule execution
//
// Event Processing Flow:
// 1. Submit() appends an event to its board's queue
// 2. A worker pops the next event of a ready board
// 3. RuleSource.RulesFor() returns enabled rules in creation order
// 4. For each rule: trigger filter, LoopGuard.Admit, Evaluate, firing claim,
//    Executor.Execute
// 5. Events produced by mutating actions are appended to the queue after
//    everything already queued for that board
//
// CRITICAL PATTERNS:
//
// Fail-Closed Conditions:
// A condition that cannot be evaluated (type mismatch, unknown field) is
// false. A broken rule never fires and never blocks its neighbours.
//
// Bounded Chains:
// Events carry a causal depth. LoopGuard rejects rules for events at or
// beyond MaxChainDepth and caps firings per board in a sliding window.
// Rule graphs are never analysed for cycles.
//
// Log and Continue:
// Action failures are recorded as outcomes and the remaining actions still
// run. Store and lookup failures are logged with the event context and the
// worker moves on to the next event.
package engine
