// Package rulestore serves rules to the dispatcher and owns rule and
// recurring-config CRUD.
//
// Reads go through a per-board cache in front of the SQLite store. Every
// mutation invalidates the affected board before it returns, so the next
// event dispatched for that board observes the new rule set.
//
// # Cache coherence
//
// Concurrent misses for one board are coalesced with singleflight. Each
// board carries a generation counter bumped by Invalidate; a load that
// started before an invalidation is returned to its callers but never
// stored, so a slow load cannot resurrect a stale rule set.
package rulestore
