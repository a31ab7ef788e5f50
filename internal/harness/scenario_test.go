package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalRules = `rule: r1: {board: "b1", trigger: type: "card_created", actions: [{type: "add_label", label: "x"}]}`

// writeScenario writes a rules file and a scenario body into a temp dir
// and returns the scenario path.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte(minimalRules), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validScenario = `
name: minimal
description: "one card, one rule"
rules: [rules.cue]
board:
  id: b1
  owner: owner-1
  columns: [{ id: todo, name: To Do }]
cards:
  - { id: c1, column: todo, title: First }
events:
  - { type: card_created, card: c1 }
assertions:
  - { type: rule_count, rule: r1, count: 1 }
`

func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, validScenario)

	s, err := LoadScenario(path)

	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "rules.cue"), s.Rules[0])
	require.Len(t, s.Cards, 1)
	assert.Equal(t, "todo", s.Cards[0].Column)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion errors: %v", result.Errors)
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown field",
			body:    validScenario + "assertion: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing description",
			body:    "name: x\nrules: [rules.cue]\nboard: {id: b1}\nevents: [{type: card_created, card: c1}]\nassertions: [{type: webhook_count}]\n",
			wantErr: "description is required",
		},
		{
			name: "missing rule file",
			body: `name: x
description: d
rules: [nope.cue]
board: {id: b1}
events: [{type: card_created, card: c1}]
assertions: [{type: webhook_count}]
`,
			wantErr: "rule file not found",
		},
		{
			name: "card in unknown column",
			body: `name: x
description: d
rules: [rules.cue]
board: {id: b1, columns: [{id: todo}]}
cards: [{id: c1, column: doing}]
events: [{type: card_created, card: c1}]
assertions: [{type: webhook_count}]
`,
			wantErr: `unknown column "doing"`,
		},
		{
			name: "event for unknown card",
			body: `name: x
description: d
rules: [rules.cue]
board: {id: b1, columns: [{id: todo}]}
cards: [{id: c1, column: todo}]
events: [{type: card_created, card: c9}]
assertions: [{type: webhook_count}]
`,
			wantErr: `unknown card "c9"`,
		},
		{
			name: "unknown event type",
			body: `name: x
description: d
rules: [rules.cue]
board: {id: b1, columns: [{id: todo}]}
cards: [{id: c1, column: todo}]
events: [{type: card_archived, card: c1}]
assertions: [{type: webhook_count}]
`,
			wantErr: `unknown event type "card_archived"`,
		},
		{
			name: "bad advance",
			body: `name: x
description: d
rules: [rules.cue]
board: {id: b1, columns: [{id: todo}]}
cards: [{id: c1, column: todo}]
events: [{type: card_created, card: c1, advance: soon}]
assertions: [{type: webhook_count}]
`,
			wantErr: "events[0].advance",
		},
		{
			name: "unknown assertion type",
			body: `name: x
description: d
rules: [rules.cue]
board: {id: b1, columns: [{id: todo}]}
cards: [{id: c1, column: todo}]
events: [{type: card_created, card: c1}]
assertions: [{type: final_state}]
`,
			wantErr: `unknown assertion type "final_state"`,
		},
		{
			name: "card_state without expect",
			body: `name: x
description: d
rules: [rules.cue]
board: {id: b1, columns: [{id: todo}]}
cards: [{id: c1, column: todo}]
events: [{type: card_created, card: c1}]
assertions: [{type: card_state, card: c1}]
`,
			wantErr: "expect is required for card_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
