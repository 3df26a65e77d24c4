// ABOUTME: Attribute descriptor model from RFC 7643 section 7
// ABOUTME: Carries type, mutability, returned and uniqueness characteristics

package schema

import (
	"fmt"
	"strings"
)

// Attribute data types
const (
	TypeString    = "string"
	TypeBoolean   = "boolean"
	TypeDecimal   = "decimal"
	TypeInteger   = "integer"
	TypeDateTime  = "dateTime"
	TypeBinary    = "binary"
	TypeReference = "reference"
	TypeComplex   = "complex"
)

// Mutability characteristics
const (
	MutabilityReadOnly  = "readOnly"
	MutabilityReadWrite = "readWrite"
	MutabilityImmutable = "immutable"
	MutabilityWriteOnly = "writeOnly"
)

// Returned characteristics
const (
	ReturnedAlways  = "always"
	ReturnedDefault = "default"
	ReturnedRequest = "request"
	ReturnedNever   = "never"
)

// Uniqueness characteristics
const (
	UniquenessNone   = "none"
	UniquenessServer = "server"
	UniquenessGlobal = "global"
)

// Attribute describes one schema attribute. Complex attributes carry their
// sub-attribute descriptors; sub-attributes are always simple.
type Attribute struct {
	Name            string      `json:"name"`
	Type            string      `json:"type"`
	SubAttributes   []Attribute `json:"subAttributes,omitempty"`
	MultiValued     bool        `json:"multiValued"`
	Description     string      `json:"description,omitempty"`
	Required        bool        `json:"required"`
	CanonicalValues []string    `json:"canonicalValues,omitempty"`
	CaseExact       bool        `json:"caseExact"`
	Mutability      string      `json:"mutability"`
	Returned        string      `json:"returned"`
	Uniqueness      string      `json:"uniqueness,omitempty"`
	ReferenceTypes  []string    `json:"referenceTypes,omitempty"`
}

// Sub returns the sub-attribute with the given name, matched
// case-insensitively, or nil.
func (a *Attribute) Sub(name string) *Attribute {
	if a == nil {
		return nil
	}
	for i := range a.SubAttributes {
		if strings.EqualFold(a.SubAttributes[i].Name, name) {
			return &a.SubAttributes[i]
		}
	}
	return nil
}

// Sensitive reports whether the attribute's value must never be read back:
// writeOnly mutability or a returned characteristic of never.
func (a *Attribute) Sensitive() bool {
	return a.Mutability == MutabilityWriteOnly || a.Returned == ReturnedNever
}

// Simple reports whether the attribute holds scalar values.
func (a *Attribute) Simple() bool {
	return a.Type != TypeComplex
}

var validTypes = map[string]string{
	"string":    TypeString,
	"boolean":   TypeBoolean,
	"decimal":   TypeDecimal,
	"integer":   TypeInteger,
	"datetime":  TypeDateTime,
	"binary":    TypeBinary,
	"reference": TypeReference,
	"complex":   TypeComplex,
}

var validMutability = map[string]string{
	"readonly":  MutabilityReadOnly,
	"readwrite": MutabilityReadWrite,
	"immutable": MutabilityImmutable,
	"writeonly": MutabilityWriteOnly,
}

var validReturned = map[string]string{
	"always":  ReturnedAlways,
	"default": ReturnedDefault,
	"request": ReturnedRequest,
	"never":   ReturnedNever,
}

var validUniqueness = map[string]string{
	"none":   UniquenessNone,
	"server": UniquenessServer,
	"global": UniquenessGlobal,
}

// normalize fills RFC defaults, canonicalizes characteristic values and
// rejects malformed descriptors. sub is true below a complex attribute.
func (a *Attribute) normalize(sub bool) error {
	if a.Name == "" {
		return fmt.Errorf("attribute with empty name")
	}
	if a.Type == "" {
		a.Type = TypeString
	}
	canon, ok := validTypes[strings.ToLower(a.Type)]
	if !ok {
		return fmt.Errorf("attribute %q: unknown type %q", a.Name, a.Type)
	}
	a.Type = canon
	if sub && a.Type == TypeComplex {
		return fmt.Errorf("attribute %q: sub-attributes may not be complex", a.Name)
	}

	if a.Mutability == "" {
		a.Mutability = MutabilityReadWrite
	}
	if canon, ok = validMutability[strings.ToLower(a.Mutability)]; !ok {
		return fmt.Errorf("attribute %q: unknown mutability %q", a.Name, a.Mutability)
	} else {
		a.Mutability = canon
	}

	if a.Returned == "" {
		a.Returned = ReturnedDefault
	}
	if canon, ok = validReturned[strings.ToLower(a.Returned)]; !ok {
		return fmt.Errorf("attribute %q: unknown returned %q", a.Name, a.Returned)
	} else {
		a.Returned = canon
	}

	if a.Uniqueness == "" {
		a.Uniqueness = UniquenessNone
	}
	if canon, ok = validUniqueness[strings.ToLower(a.Uniqueness)]; !ok {
		return fmt.Errorf("attribute %q: unknown uniqueness %q", a.Name, a.Uniqueness)
	} else {
		a.Uniqueness = canon
	}

	for i := range a.SubAttributes {
		if err := a.SubAttributes[i].normalize(true); err != nil {
			return fmt.Errorf("under %q: %w", a.Name, err)
		}
	}
	return nil
}
