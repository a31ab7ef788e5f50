// Package testutil provides in-memory collaborators and deterministic
// clocks for engine, scheduler and harness tests.
//
// Nothing here imports the engine; the fakes satisfy its ports
// structurally so engine tests can use them without an import cycle.
package testutil
