// Package ir provides the intermediate representation of board automations.
//
// Rule definitions arrive from several sources (CUE files, the CLI, the HTTP
// surface, the store) and are all normalized into the types in this package
// before the engine sees them.
//
// This package contains type definitions and their JSON codecs only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Actions are a closed set of variants; unknown kinds are rejected at decode time
//   - Condition values are constrained to string, int, bool, null and lists thereof
//   - NO float types in condition values (compare ranks or instants instead)
//   - All JSON tags use snake_case
//   - BoardEvent is a transient message, never a stored entity
package ir
