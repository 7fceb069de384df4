package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relstore/internal/schema"
)

func runScenario(t *testing.T, sc *Scenario) *Result {
	t.Helper()
	result, err := Run(sc, filepath.Join(t.TempDir(), "scenario.db"))
	require.NoError(t, err)
	return result
}

func loadNamed(t *testing.T, name string) *Scenario {
	t.Helper()
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return sc
}

// outputs flattens a snapshot's op outcomes, failing on any recorded error.
func outputs(t *testing.T, snap TraceSnapshot) []string {
	t.Helper()
	out := make([]string, len(snap.Ops))
	for i, op := range snap.Ops {
		require.Empty(t, op.Error, "op %d (%s)", i, op.Op)
		out[i] = op.Output
	}
	return out
}

func TestLoadScenariosSortedByFile(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.Len(t, scenarios, 4)

	names := make([]string, len(scenarios))
	for i, sc := range scenarios {
		names[i] = sc.Name
	}
	assert.Equal(t, []string{"array_vals", "collection_tags", "list_items", "map_attrs"}, names)
}

func TestLoadScenarioRejectsIncompleteFiles(t *testing.T) {
	write := func(name, body string) string {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	_, err := LoadScenario(write("noname.yaml", "schema: [CREATE TABLE t (id INTEGER)]\nowner: {table: t, id_columns: [id], id: 1}\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = LoadScenario(write("noschema.yaml", "name: x\nowner: {table: t, id_columns: [id], id: 1}\n"))
	assert.ErrorContains(t, err, "no schema")

	_, err = LoadScenario(write("noowner.yaml", "name: x\nschema: [CREATE TABLE t (id INTEGER)]\n"))
	assert.ErrorContains(t, err, "no owner")

	_, err = LoadScenario(write("garbage.yaml", "name: [unclosed\n"))
	assert.ErrorContains(t, err, "parsing scenario")

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading scenario")
}

func TestRunCollectionScenario(t *testing.T) {
	result := runScenario(t, loadNamed(t, "collection_tags"))
	got := outputs(t, result.Snapshot)
	assert.Equal(t, []string{
		"",           // add alpha
		"",           // add beta
		"true",       // contains alpha
		"2",          // size
		"alpha,beta", // iterate
		"",           // remove alpha
		"1",          // size
		"",           // update
		"3",          // size
		"",           // clear
		"0",          // size
	}, got)

	assert.Equal(t, "collection_tags", result.Snapshot.ScenarioName)
	require.NotEmpty(t, result.Snapshot.Trace)
	for i, ev := range result.Snapshot.Trace {
		assert.Equal(t, i+1, ev.Seq)
		assert.NotEmpty(t, ev.SQL)
	}
}

func TestRunListScenario(t *testing.T) {
	result := runScenario(t, loadNamed(t, "list_items"))
	got := outputs(t, result.Snapshot)
	assert.Equal(t, []string{
		"",    // add a
		"",    // add b
		"",    // add c
		"b",   // get_at 1
		"",    // set_at 1 B
		"B",   // get_at 1
		"",    // remove_at 0
		"B,c", // iterate
		"2",   // size
	}, got)
}

func TestRunMapScenario(t *testing.T) {
	result := runScenario(t, loadNamed(t, "map_attrs"))
	got := outputs(t, result.Snapshot)
	assert.Equal(t, []string{
		"",      // put color red
		"",      // put color blue (update)
		"",      // put_all
		"blue",  // get color
		"true",  // contains_key color
		"false", // contains_key absent
		"color=blue,shape=round,size=large", // entries
		"3", // map_size
		"",  // map_remove shape
		"2", // map_size
		"",  // map_clear
		"0", // map_size
	}, got)
}

func TestRunArrayScenario(t *testing.T) {
	result := runScenario(t, loadNamed(t, "array_vals"))
	got := outputs(t, result.Snapshot)
	assert.Equal(t, []string{
		"",      // set x,y,z
		"x,y,z", // iterate
		"3",     // size
		"",      // set q
		"q",     // iterate
		"1",     // size
		"",      // clear
		"0",     // size
	}, got)
}

func TestRunRecordsStepErrors(t *testing.T) {
	sc := loadNamed(t, "list_items")
	sc.Flow = append(sc.Flow, Step{Op: "get_at", Index: 99})

	result := runScenario(t, sc)
	last := result.Snapshot.Ops[len(result.Snapshot.Ops)-1]
	assert.NotEmpty(t, last.Error)
}

func TestRunRejectsUnknownOp(t *testing.T) {
	sc := loadNamed(t, "collection_tags")
	sc.Flow = []Step{{Op: "explode"}}

	result := runScenario(t, sc)
	require.Len(t, result.Snapshot.Ops, 1)
	assert.Contains(t, result.Snapshot.Ops[0].Error, "unknown op")
}

func TestRunSetupNotTraced(t *testing.T) {
	sc := loadNamed(t, "collection_tags")
	sc.Flow = nil

	result := runScenario(t, sc)
	assert.Empty(t, result.Snapshot.Trace)
	assert.Empty(t, result.Snapshot.Ops)
}

func TestRunRejectsReferenceComponents(t *testing.T) {
	sc := loadNamed(t, "collection_tags")
	sc.Mapping.Element = &schema.ElementConfig{Kind: "reference", Columns: []string{"tag"}}
	sc.Mapping.Components = []schema.ComponentConfig{{
		Type:  "Thing",
		Table: "things",
		ID:    []string{"id"},
	}}

	_, err := Run(sc, filepath.Join(t.TempDir(), "scenario.db"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "reference components")
}

func TestRunRejectsBadMapping(t *testing.T) {
	sc := loadNamed(t, "collection_tags")
	sc.Mapping.Kind = "pile"

	_, err := Run(sc, filepath.Join(t.TempDir(), "scenario.db"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown container kind")
}
