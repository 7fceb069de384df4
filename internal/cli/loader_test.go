package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMappingFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validMappingYAML = `mappings:
  - field: Tags
    kind: collection
    table: owner_tags
    owner: [owner_id]
    element:
      kind: embedded
      columns: [tag]
`

func loadCodes(errs []error) []string {
	codes := make([]string, 0, len(errs))
	for _, err := range errs {
		var le *LoadError
		if errors.As(err, &le) {
			codes = append(codes, le.Code)
		}
	}
	return codes
}

func TestLoadMappingsValidFile(t *testing.T) {
	file, errs := LoadMappings(writeMappingFile(t, validMappingYAML))
	require.Empty(t, errs)
	require.NotNil(t, file)
	require.Len(t, file.Mappings, 1)
	assert.Equal(t, "Tags", file.Mappings[0].Field)
	assert.Equal(t, "collection", file.Mappings[0].Kind)
	require.NotNil(t, file.Mappings[0].Element)
	assert.Equal(t, []string{"tag"}, file.Mappings[0].Element.Columns)
}

func TestLoadMappingsMissingFile(t *testing.T) {
	file, errs := LoadMappings(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Nil(t, file)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{ErrCodeNotFound}, loadCodes(errs))
	assert.ErrorContains(t, errs[0], "not found")
}

func TestLoadMappingsUnparseableYAML(t *testing.T) {
	file, errs := LoadMappings(writeMappingFile(t, "mappings: [unclosed\n"))
	assert.Nil(t, file)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{ErrCodeParse}, loadCodes(errs))
}

func TestLoadMappingsRejectsUnknownKind(t *testing.T) {
	file, errs := LoadMappings(writeMappingFile(t, `mappings:
  - field: Tags
    kind: pile
    table: owner_tags
    owner: [owner_id]
`))
	assert.Nil(t, file)
	require.NotEmpty(t, errs)
	for _, code := range loadCodes(errs) {
		assert.Equal(t, ErrCodeSchema, code)
	}
}

func TestLoadMappingsRejectsWrongFieldType(t *testing.T) {
	file, errs := LoadMappings(writeMappingFile(t, `mappings:
  - field: Tags
    kind: collection
    table: 7
    owner: [owner_id]
`))
	assert.Nil(t, file)
	require.NotEmpty(t, errs)
	assert.Contains(t, loadCodes(errs), ErrCodeSchema)
}

func TestLoadMappingsRejectsEmptyOwner(t *testing.T) {
	file, errs := LoadMappings(writeMappingFile(t, `mappings:
  - field: Tags
    kind: collection
    table: owner_tags
    owner: []
`))
	assert.Nil(t, file)
	require.NotEmpty(t, errs)
	assert.Contains(t, loadCodes(errs), ErrCodeSchema)
}

func TestLoadMappingsEmptyDocument(t *testing.T) {
	file, errs := LoadMappings(writeMappingFile(t, "mappings: []\n"))
	require.Empty(t, errs)
	require.NotNil(t, file)
	assert.Empty(t, file.Mappings)
}
