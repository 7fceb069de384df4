package sqlgen

// Statement is rendered SQL text plus the number of ? placeholders it
// carries. Statements are immutable once built; backing stores memoize them
// for the lifetime of a schema generation.
type Statement struct {
	SQL        string
	ParamSlots int
}

// Empty reports whether the statement has no text.
func (s Statement) Empty() bool { return s.SQL == "" }
