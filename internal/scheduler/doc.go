// Package scheduler runs the periodic jobs that feed events into the
// dispatcher without a user action: recurring card materialization and
// the due-date sweep.
//
// Both jobs are safe to run on several instances against one database.
// The recurrence scheduler wins a fire slot only through the store's
// compare-and-set claim; the due-date watcher marks each (card, due date)
// pair before emitting it.
package scheduler
