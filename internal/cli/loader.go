package cli

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relstore/internal/schema"
)

// Error codes for mapping-file loading.
const (
	ErrCodeNotFound   = "E_NOT_FOUND"
	ErrCodeParse      = "E_PARSE"
	ErrCodeSchema     = "E_SCHEMA"
	ErrCodeValidation = "E_VALIDATION"
)

// mappingSchema is the CUE contract a mapping file must satisfy before any
// semantic validation runs. Shape errors (wrong types, unknown kinds,
// missing required fields) surface here with CUE's positional messages.
const mappingSchema = `
#Element: {
	kind?: "embedded" | "serialized" | "reference"
	columns?: [...string]
	nullable?: bool
}

#Discriminator: {
	column: string
	values: {[string]: string}
}

#Component: {
	type:                string
	table:               string
	soft_delete_column?: string
	id: [...string] & [_, ...]
	discriminator?: #Discriminator
	owner_fk?: [...string]
	owner_fk_nullable?: bool
	owner_field?:       string
	key_field?:         string
	value_field?:       string
}

#Mapping: {
	field: string
	kind:  "collection" | "set" | "list" | "array" | "map"
	table: string
	soft_delete_column?: string
	owner: [...string] & [_, ...]
	element?: #Element
	key?:     #Element
	value?:   #Element
	order?: {
		column:    string
		nullable?: bool
	}
	adapter_column?: string
	relation_discriminator?: {
		column: string
		value:  string
	}
	components?: [...#Component]
	key_components?: [...#Component]
	value_components?: [...#Component]
	dependent_element?:      bool
	dependent_key?:          bool
	dependent_value?:        bool
	owner_soft_deletable?:   bool
	element_soft_deletable?: bool
}

mappings: [...#Mapping]
`

// MappingFile is the decoded form of one mapping YAML file.
type MappingFile struct {
	Mappings []schema.MappingConfig `yaml:"mappings"`
}

// LoadError is an error that occurred during mapping-file loading.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadMappings reads a mapping YAML file, vets it against the CUE schema
// and decodes it. Schema violations are collected, not fail-fast, so one
// run reports every shape problem in the file.
func LoadMappings(path string) (*MappingFile, []error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("mapping file not found: %s", path)}}
		}
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}}
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("parsing %s: %v", path, err)}}
	}

	if errs := vetSchema(doc); len(errs) > 0 {
		return nil, errs
	}

	var file MappingFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("decoding %s: %v", path, err)}}
	}
	return &file, nil
}

// vetSchema unifies the decoded document with the mapping schema and
// collects every violation.
func vetSchema(doc any) []error {
	ctx := cuecontext.New()
	sch := ctx.CompileString(mappingSchema)
	if err := sch.Err(); err != nil {
		return []error{&LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("internal schema error: %v", err)}}
	}
	val := ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return []error{&LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("encoding mapping data: %v", err)}}
	}
	unified := sch.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var errs []error
		for _, e := range cueerrors.Errors(err) {
			errs = append(errs, &LoadError{Code: ErrCodeSchema, Message: e.Error()})
		}
		return errs
	}
	return nil
}
