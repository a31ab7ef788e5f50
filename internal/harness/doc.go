// Package harness runs automation scenarios end to end.
//
// A scenario installs CUE-declared rules on an in-memory board, submits a
// sequence of external events through the real dispatcher, and validates
// the resulting dispatch trace and final board state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: escalate_on_review
//	description: "Moving a high priority card to review escalates it"
//	rules:
//	  - ../rules/escalation.cue
//	board:
//	  id: b1
//	  owner: owner-1
//	  columns:
//	    - { id: todo, name: To Do }
//	    - { id: review, name: Review }
//	cards:
//	  - { id: c1, column: todo, title: Fix login, priority: high }
//	events:
//	  - { type: card_moved, card: c1, from_column: todo, to_column: review }
//	assertions:
//	  - { type: rule_fired, rule: escalate, event: card_moved }
//	  - { type: card_state, card: c1, expect: { labels: [urgent] } }
//
// # Assertion Types
//
//   - rule_fired: the rule fired, optionally on an event type and depth
//   - rule_order: the first firings of the rules appear in order
//   - rule_count: the rule fired exactly N times
//   - rule_skipped: the rule was skipped for a reason
//   - rule_enabled: the rule's final enabled state
//   - card_state: final card fields (subset match)
//   - notification, comment: delivered notifications and posted comments
//   - webhook_count: webhook deliveries
//
// # Deterministic Testing
//
// The dispatcher runs with one worker, a manual clock starting at
// DefaultStart, and sequence-generated event ids ("evt-N" for submitted
// events, "derived-N" for action-produced ones). Each event step drains the
// dispatcher before the next, so the trace is identical across runs and can
// be compared with golden files.
package harness
