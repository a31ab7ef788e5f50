package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardflow/internal/ir"
)

const seedYAML = `
boards:
  - id: b1
    name: Platform
    owner: owner-1
    columns:
      - { id: todo, name: To Do }
      - { id: review, name: Review }
    cards:
      - { id: c1, column: todo, title: Fix login, priority: high, assignees: [alice] }
      - { id: c2, column: todo, title: Update docs, priority: low }
      - { id: tmpl-standup, column: todo, title: Daily standup, template: true }
`

const bundleCUE = `
rule: escalate: {
	board: "b1"
	name:  "Escalate high priority reviews"
	trigger: {type: "card_moved", to_column: "review"}
	conditions: [{field: "priority", operator: "equals", value: "high"}]
	actions: [
		{type: "add_label", label: "urgent"},
		{type: "post_comment", template: "Escalated {{card.title}}"},
	]
}

rule: "notify-urgent": {
	board: "b1"
	name:  "Notify on urgent"
	trigger: {type: "label_added", label: "urgent"}
	actions: [{type: "send_notification", template: "{{card.title}} is urgent"}]
}

recurring: standup: {
	card: "tmpl-standup"
	cron: "0 9 * * 1-5"
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs cmd with args and returns everything it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seededDB creates a database holding the seed board and returns options
// pointing at it.
func seededDB(t *testing.T, format string) *RootOptions {
	t.Helper()
	dir := t.TempDir()
	opts := &RootOptions{Format: "text", Database: filepath.Join(dir, "boardflow.db")}

	seed := writeFile(t, dir, "seed.yaml", seedYAML)
	_, err := execute(NewSeedCommand(opts), seed)
	require.NoError(t, err)

	opts.Format = format
	return opts
}

// appliedDB is seededDB plus the test bundle applied.
func appliedDB(t *testing.T, format string) *RootOptions {
	t.Helper()
	opts := seededDB(t, "text")
	bundle := writeFile(t, t.TempDir(), "rules.cue", bundleCUE)
	_, err := execute(NewApplyCommand(opts), bundle)
	require.NoError(t, err)

	opts.Format = format
	return opts
}

// decodeData unmarshals the data of a successful JSON response.
func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	return resp.Data
}

// listRules returns the rules of board b1 keyed by name.
func listRules(t *testing.T, opts *RootOptions) map[string]ir.AutomationRule {
	t.Helper()
	jsonOpts := *opts
	jsonOpts.Format = "json"
	out, err := execute(NewRuleCommand(&jsonOpts), "list", "--board", "b1")
	require.NoError(t, err)

	byName := make(map[string]ir.AutomationRule)
	for _, r := range decodeData[RuleList](t, out).Rules {
		byName[r.Name] = r
	}
	return byName
}
