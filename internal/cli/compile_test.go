package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileText(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.cue", bundleCUE)

	out, err := execute(NewCompileCommand(&RootOptions{Format: "text"}), path)

	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled 2 rule(s), 1 recurring config(s)")
	assert.Contains(t, out, "escalate: card_moved on b1 → 2 action(s)")
	assert.Contains(t, out, `standup: card tmpl-standup at "0 9 * * 1-5"`)
}

func TestCompileJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.cue", bundleCUE)

	out, err := execute(NewCompileCommand(&RootOptions{Format: "json"}), path)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Rules, 2)
	assert.Equal(t, "escalate", resp.Data.Rules[0].Key)
	assert.Equal(t, "Escalate high priority reviews", resp.Data.Rules[0].Name)
	require.Len(t, resp.Data.Rules[0].Actions, 2)
	require.Len(t, resp.Data.Recurring, 1)
	assert.Equal(t, "tmpl-standup", resp.Data.Recurring[0].TemplateCardID)
}

func TestCompileOutputFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.cue", bundleCUE)
	outPath := filepath.Join(dir, "compiled.json")

	out, err := execute(NewCompileCommand(&RootOptions{Format: "text"}), path, "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote compiled definitions to "+outPath)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Rules, 2)
	assert.Len(t, result.Recurring, 1)
}

func TestCompileInvalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.cue", invalidCUE)

	out, err := execute(NewCompileCommand(&RootOptions{Format: "text"}), path)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Compilation failed with 2 error(s)")
}

func TestCompileMissingPath(t *testing.T) {
	_, err := execute(NewCompileCommand(&RootOptions{Format: "text"}), filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
