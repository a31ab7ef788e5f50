// Package compiler turns authored automation definitions into IR.
//
// Rules and recurring configs can be written as CUE:
//
//	rule: "escalate-high": {
//		board: "b1"
//		trigger: {type: "card_moved", to_column: "review"}
//		conditions: [{field: "priority", operator: "equals", value: "high"}]
//		actions: [{type: "add_label", label: "urgent"}]
//	}
//
//	recurring: "weekly-standup": {
//		card: "card-template-1"
//		cron: "0 9 * * MON"
//	}
//
// CompileRule/CompileRecurring parse one CUE struct. ValidateRule and
// ValidateRecurring apply the definition rules shared by every entry point
// (CUE files, CLI flags, HTTP, store writes); a definition with any
// validation error is never stored.
package compiler
