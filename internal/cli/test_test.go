package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"
const harnessGolden = "../harness/testdata/golden"

func TestTestCommand_HarnessScenarios(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios, "--golden-dir", harnessGolden)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ order_dispatch")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios, "--golden-dir", harnessGolden, "--filter", "order_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "order_dispatch", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_UpdateThenMismatch(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join(harnessScenarios, "delivery_return.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "delivery_return.yaml"), data, 0o600))

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	golden := filepath.Join(dir, "golden", "delivery_return.golden")
	expected, err := os.ReadFile(filepath.Join(harnessGolden, "delivery_return.golden"))
	require.NoError(t, err)
	written, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Equal(t, string(expected), string(written))

	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0o600))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong_count
description: expects a row that is never written
flow:
  - op: insert
    table: stock_item
    fields: { name: cement }
assertions:
  - type: row_count
    table: stock_item
    count: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_count.yaml"), []byte(scenario), 0o600))

	out, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_Empty(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
