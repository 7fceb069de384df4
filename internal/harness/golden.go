package harness

import (
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/relstore/internal/schema"
)

// RunWithGolden executes a scenario and compares its trace snapshot
// against testdata/golden/{scenario.Name}.golden.
//
// Snapshots serialize through the canonical JSON codec, so key order and
// string normalization are stable across runs and platforms. To
// regenerate golden files:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) {
	t.Helper()

	result, err := Run(sc, filepath.Join(t.TempDir(), "scenario.db"))
	if err != nil {
		t.Fatalf("scenario %s: %v", sc.Name, err)
	}

	text, err := schema.Serialize(result.Snapshot.toCanonicalMap())
	if err != nil {
		t.Fatalf("serializing snapshot for %s: %v", sc.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, []byte(text))
}
