package schema

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIdent returns the canonical form of a table or column identifier:
// NFC-normalized, surrounding whitespace trimmed. Mapping-file loaders must
// pass every identifier through here before constructing metadata so that
// two spellings of the same name compare equal.
func NormalizeIdent(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ValidateIdent checks that an identifier is usable in generated SQL text.
// Identifiers are interpolated into statements (values never are), so they
// are restricted to a conservative character set.
func ValidateIdent(s string) error {
	if s == "" {
		return fmt.Errorf("empty identifier")
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return fmt.Errorf("identifier %q starts with a digit", s)
			}
		default:
			return fmt.Errorf("identifier %q contains invalid character %q", s, r)
		}
	}
	return nil
}
