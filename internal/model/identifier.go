package model

// Identifier is an extracted account identifier or the absence of one.
//
// The zero value is absent. A present identifier is never empty: the
// extractor only accepts non-empty captures, and Present panics on "" to
// keep the two states from collapsing.
type Identifier struct {
	value   string
	present bool
}

// Absent returns the absent identifier.
func Absent() Identifier {
	return Identifier{}
}

// Present returns an identifier holding v.
func Present(v string) Identifier {
	if v == "" {
		panic("model: Present called with empty identifier")
	}
	return Identifier{value: v, present: true}
}

// Value returns the identifier and whether it is present.
func (id Identifier) Value() (string, bool) {
	return id.value, id.present
}

// IsPresent reports whether an identifier was extracted.
func (id Identifier) IsPresent() bool {
	return id.present
}

// String renders the identifier for logs; absence renders as "<absent>".
func (id Identifier) String() string {
	if !id.present {
		return "<absent>"
	}
	return id.value
}
