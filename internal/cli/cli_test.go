package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns stdout, stderr and
// the command error.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

func TestValidateCommandValidFile(t *testing.T) {
	path := writeMappingFile(t, validMappingYAML)
	out, _, err := runCLI(t, "validate", path)
	require.NoError(t, err)
	assert.Equal(t, "1 mapping(s) valid\n", out)
}

func TestValidateCommandJSON(t *testing.T) {
	path := writeMappingFile(t, validMappingYAML)
	out, _, err := runCLI(t, "validate", "--format", "json", path)
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, float64(1), data["mappings"])
}

func TestValidateCommandSemanticFailure(t *testing.T) {
	// Shape-valid, but a collection needs an element mapping.
	path := writeMappingFile(t, `mappings:
  - field: Tags
    kind: collection
    table: owner_tags
    owner: [owner_id]
`)
	out, _, err := runCLI(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "no element mapping")
}

func TestValidateCommandSchemaFailure(t *testing.T) {
	path := writeMappingFile(t, `mappings:
  - field: Tags
    kind: pile
    table: owner_tags
    owner: [owner_id]
`)
	out, _, err := runCLI(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "error (")
}

func TestValidateCommandMissingFile(t *testing.T) {
	_, _, err := runCLI(t, "validate", "/nonexistent/mappings.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateCommandVerboseGoesToStderr(t *testing.T) {
	path := writeMappingFile(t, validMappingYAML)
	out, errOut, err := runCLI(t, "validate", "--verbose", path)
	require.NoError(t, err)
	assert.Contains(t, errOut, "loaded 1 mapping(s)")
	assert.NotContains(t, out, "loaded 1 mapping(s)")
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	path := writeMappingFile(t, validMappingYAML)
	_, _, err := runCLI(t, "validate", "--format", "xml", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSQLCommandText(t *testing.T) {
	path := writeMappingFile(t, validMappingYAML)
	out, _, err := runCLI(t, "sql", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Tags (collection)")
	assert.Contains(t, out, "size")
	assert.Contains(t, out, "SELECT COUNT(*)")
	assert.Contains(t, out, "clear")
	assert.Contains(t, out, "add")
}

func TestSQLCommandJSON(t *testing.T) {
	path := writeMappingFile(t, validMappingYAML)
	out, _, err := runCLI(t, "sql", "--format", "json", path)
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	results, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	first, ok := results[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Tags", first["field"])
	stmts, ok := first["statements"].([]any)
	require.True(t, ok)
	assert.Len(t, stmts, 3)
}

func TestSQLCommandFieldFilter(t *testing.T) {
	path := writeMappingFile(t, validMappingYAML+`  - field: Items
    kind: list
    table: owner_items
    owner: [owner_id]
    element:
      kind: embedded
      columns: [val]
    order:
      column: idx
`)

	out, _, err := runCLI(t, "sql", "--field", "Items", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Items (list)")
	assert.NotContains(t, out, "Tags (collection)")
	assert.Contains(t, out, "remove_at")
	assert.Contains(t, out, "shift")
}

func TestSQLCommandFieldFilterMissing(t *testing.T) {
	path := writeMappingFile(t, validMappingYAML)
	_, _, err := runCLI(t, "sql", "--field", "Nope", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `no mapping for field "Nope"`)
}
