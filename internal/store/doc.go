// Package store provides SQLite-backed durable storage for boardflow.
//
// The store holds:
//   - Rules: automation rule definitions with version and failure counter
//   - Recurring configs: cron schedules with a claim version for CAS
//   - Boards, columns, cards, comments, notifications: the data-access
//     capability the engine mutates through
//   - Rule firings: one row per (event, rule), the idempotency ledger
//   - Activity: per-board audit of firings, rate-limit trips, auto-disables
//
// # Critical Patterns
//
// Exclusive recurrence claim:
//   - ClaimRecurring is a single conditional UPDATE guarded by
//     (next_run_at, claim_version, enabled). Exactly one caller observes
//     RowsAffected == 1 for a given slot, no matter how many schedulers race.
//
// Idempotent mutations:
//   - Card mutations are "set" operations (set column, add label to set),
//     so a retried call after a timeout cannot double-apply.
//
// Firing idempotency:
//   - UNIQUE(event_id, rule_id) on rule_firings; ClaimFiring returns
//     inserted=false on redelivery.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Transient busy/locked errors that survive busy_timeout are retried with
// exponential backoff (see retry.go).
package store
