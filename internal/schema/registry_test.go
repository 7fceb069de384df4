package schema

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNote struct{ Body string }
type testTaggedNote struct{ testNote }

func comp(name string, t reflect.Type) Component {
	return Component{
		TypeName: name,
		GoType:   t,
		Table:    Table{Name: name + "s"},
		ID:       ColumnMapping{Columns: []Column{{Name: "id"}}},
	}
}

func TestRegistry_ExactMatchWins(t *testing.T) {
	reg, err := NewRegistry([]Component{
		comp("note", reflect.TypeOf(&testNote{})),
		comp("tagged", reflect.TypeOf(&testTaggedNote{})),
	})
	require.NoError(t, err)

	c := reg.Resolve(&testTaggedNote{})
	require.NotNil(t, c)
	assert.Equal(t, "tagged", c.TypeName)
}

func TestRegistry_AssignableFallback(t *testing.T) {
	type widget struct{ N int }
	ifaceType := reflect.TypeOf((*any)(nil)).Elem()
	reg, err := NewRegistry([]Component{comp("anything", ifaceType)})
	require.NoError(t, err)

	c := reg.Resolve(&widget{N: 1})
	require.NotNil(t, c)
	assert.Equal(t, "anything", c.TypeName)
}

func TestRegistry_UnregisteredTypeResolvesNil(t *testing.T) {
	reg, err := NewRegistry([]Component{comp("note", reflect.TypeOf(&testNote{}))})
	require.NoError(t, err)

	assert.Nil(t, reg.Resolve("a string"))
	assert.Nil(t, reg.Resolve(nil))
}

func TestRegistry_DuplicateTypeRejected(t *testing.T) {
	_, err := NewRegistry([]Component{
		comp("a", reflect.TypeOf(&testNote{})),
		comp("b", reflect.TypeOf(&testNote{})),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate component")
}

func TestRegistry_NilGoTypeRejected(t *testing.T) {
	_, err := NewRegistry([]Component{{TypeName: "ghost"}})
	require.Error(t, err)
}

func TestRegistry_DeclarationOrderPreserved(t *testing.T) {
	reg, err := NewRegistry([]Component{
		comp("note", reflect.TypeOf(&testNote{})),
		comp("tagged", reflect.TypeOf(&testTaggedNote{})),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"note", "tagged"}, reg.TypeNames())
}

func TestNormalizeIdent(t *testing.T) {
	assert.Equal(t, "orders", NormalizeIdent("  orders\n"))
	// NFD input normalizes to the same bytes as NFC input.
	assert.Equal(t, NormalizeIdent("café"), NormalizeIdent("café"))
}

func TestValidateIdent(t *testing.T) {
	assert.NoError(t, ValidateIdent("order_items_2"))
	assert.Error(t, ValidateIdent(""))
	assert.Error(t, ValidateIdent("2fast"))
	assert.Error(t, ValidateIdent("drop table;--"))
	assert.Error(t, ValidateIdent("a b"))
}
