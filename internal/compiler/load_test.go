package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardflow/internal/ir"
)

func writeCUE(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "rules.cue", `
rule: "label-new": {
	board: "b1"
	trigger: type: "card_created"
	actions: [{type: "add_label", label: "new"}]
}
rule: "escalate": {
	board: "b1"
	trigger: {type: "card_moved", to_column: "review"}
	actions: [{type: "send_notification", template: "{{card.title}} needs review"}]
}
recurring: standup: {
	card: "tmpl-standup"
	cron: "0 9 * * 1-5"
}
`)

	bundle, errs := Load(path, LoadModeCollectAll)

	require.Empty(t, errs)
	assert.Equal(t, 1, bundle.FileCount)
	require.Len(t, bundle.Rules, 2)
	assert.Equal(t, "label-new", bundle.Rules[0].Key)
	assert.Equal(t, "escalate", bundle.Rules[1].Key)
	assert.Equal(t, ir.TriggerCardMoved, bundle.Rules[1].Definition.Trigger.Type)
	require.Len(t, bundle.Recurring, 1)
	assert.Equal(t, "standup", bundle.Recurring[0].Key)
	assert.Equal(t, "0 9 * * 1-5", bundle.Recurring[0].Definition.CronExpression)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "a.cue", `package rules

rule: a: {board: "b1", trigger: type: "card_created", actions: [{type: "add_label", label: "x"}]}`)
	writeCUE(t, dir, "b.cue", `package rules

recurring: weekly: {card: "tmpl", cron: "0 9 * * 1"}`)

	bundle, errs := Load(dir, LoadModeCollectAll)

	require.Empty(t, errs)
	assert.Equal(t, 2, bundle.FileCount)
	assert.Len(t, bundle.Rules, 1)
	assert.Len(t, bundle.Recurring, 1)
}

func TestLoadCollectsAllErrors(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "bad.cue", `
rule: "no-actions": {
	board: "b1"
	trigger: type: "card_created"
	actions: []
}
rule: "ok": {
	board: "b1"
	trigger: type: "card_created"
	actions: [{type: "add_label", label: "x"}]
}
recurring: broken: {card: "tmpl", cron: "61 * * * *"}
`)

	bundle, errs := Load(path, LoadModeCollectAll)

	require.Len(t, errs, 2)
	assert.Len(t, bundle.Rules, 1)
	assert.Empty(t, bundle.Recurring)

	var codes []string
	for _, err := range errs {
		var le *LoadError
		require.ErrorAs(t, err, &le)
		codes = append(codes, le.Code)
	}
	assert.Equal(t, []string{ErrNoActions, ErrInvalidCron}, codes)
}

func TestLoadFailFast(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "bad.cue", `
rule: a: {board: "b1", trigger: type: "card_created", actions: []}
rule: b: {board: "b1", trigger: type: "nope", actions: []}
`)

	_, errs := Load(path, LoadModeFailFast)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "rule.a")
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, errs := Load(filepath.Join(dir, "missing.cue"), LoadModeFailFast)
	requireCode(t, errs, ErrCodeNotFound)

	_, errs = Load(dir, LoadModeFailFast)
	requireCode(t, errs, ErrCodeNoFiles)

	path := writeCUE(t, dir, "syntax.cue", `rule: {`)
	_, errs = Load(path, LoadModeFailFast)
	requireCode(t, errs, ErrCodeBuildFailed)

	empty := writeCUE(t, t.TempDir(), "empty.cue", `other: 1`)
	_, errs = Load(empty, LoadModeFailFast)
	requireCode(t, errs, ErrCodeEmpty)
}

func requireCode(t *testing.T, errs []error, code string) {
	t.Helper()
	require.Len(t, errs, 1)
	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, code, le.Code)
}
