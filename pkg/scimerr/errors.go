// ABOUTME: Typed SCIM protocol errors with RFC 7644 scimType mapping
// ABOUTME: Shared by the store, patch engine, filter evaluator and transport

package scimerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a protocol failure. Each kind maps onto an RFC 7644
// section 3.12 scimType keyword (empty when the status alone carries the
// meaning) and a suggested HTTP status.
type Kind int

const (
	// KindNotFound indicates an unknown resource identifier
	KindNotFound Kind = iota + 1

	// KindVersionConflict indicates an expected-version mismatch on a conditional mutation
	KindVersionConflict

	// KindUniqueness indicates a duplicate value on an attribute declared unique
	KindUniqueness

	// KindNoTarget indicates a patch path that matched nothing where a match is required
	KindNoTarget

	// KindMutability indicates an attempt to alter a read-only or immutable attribute
	KindMutability

	// KindInvalidFilter indicates a malformed or unresolvable filter expression
	KindInvalidFilter

	// KindInvalidPath indicates a malformed or structurally invalid attribute path
	KindInvalidPath

	// KindInvalidValue indicates a value incompatible with the target attribute
	KindInvalidValue

	// KindInvalidSyntax indicates a structurally unreadable request body
	KindInvalidSyntax

	// KindSensitive indicates a request that would reveal a write-only or never-returned value
	KindSensitive

	// KindNotImplemented indicates an advertised-but-unsupported protocol feature
	KindNotImplemented
)

// ScimType returns the RFC 7644 scimType keyword for the kind, or "" when
// the HTTP status alone identifies the failure.
func (k Kind) ScimType() string {
	switch k {
	case KindUniqueness:
		return "uniqueness"
	case KindNoTarget:
		return "noTarget"
	case KindMutability:
		return "mutability"
	case KindInvalidFilter:
		return "invalidFilter"
	case KindInvalidPath:
		return "invalidPath"
	case KindInvalidValue:
		return "invalidValue"
	case KindInvalidSyntax:
		return "invalidSyntax"
	case KindSensitive:
		return "sensitive"
	default:
		return ""
	}
}

// HTTPStatus returns the HTTP status a transport should answer with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindVersionConflict:
		return http.StatusPreconditionFailed
	case KindUniqueness:
		return http.StatusConflict
	case KindSensitive:
		return http.StatusForbidden
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusBadRequest
	}
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "notFound"
	case KindVersionConflict:
		return "versionConflict"
	case KindNotImplemented:
		return "notImplemented"
	default:
		if t := k.ScimType(); t != "" {
			return t
		}
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a protocol-level failure scoped to a single operation. Path names
// the offending attribute path when one exists (uniqueness conflicts always
// carry it).
type Error struct {
	Kind   Kind
	Detail string
	Path   string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("scim: %s: %s (%s)", e.Kind, e.Detail, e.Path)
	}
	return fmt.Sprintf("scim: %s: %s", e.Kind, e.Detail)
}

// New builds an Error of the given kind.
func New(k Kind, detail string) *Error {
	return &Error{Kind: k, Detail: detail}
}

// Newf builds an Error of the given kind with a formatted detail.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Detail: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown identifier.
func NotFound(typeName, id string) *Error {
	return Newf(KindNotFound, "%s %q not found", typeName, id)
}

// VersionConflict reports an expected-version mismatch.
func VersionConflict(id string) *Error {
	return Newf(KindVersionConflict, "version mismatch for %q", id)
}

// UniquenessConflict reports a duplicate value on a unique attribute.
// The offending attribute path is retained on the error.
func UniquenessConflict(path string) *Error {
	return &Error{
		Kind:   KindUniqueness,
		Detail: fmt.Sprintf("duplicate value for unique attribute %q", path),
		Path:   path,
	}
}

// NoTarget reports a patch path that resolved to nothing.
func NoTarget(format string, args ...any) *Error {
	return Newf(KindNoTarget, format, args...)
}

// Mutability reports a rejected modification of a read-only or immutable attribute.
func Mutability(attr string) *Error {
	return &Error{
		Kind:   KindMutability,
		Detail: fmt.Sprintf("attribute %q is immutable or read-only", attr),
		Path:   attr,
	}
}

// InvalidFilter reports an unresolvable or malformed filter.
func InvalidFilter(format string, args ...any) *Error {
	return Newf(KindInvalidFilter, format, args...)
}

// InvalidPath reports a malformed or structurally invalid path.
func InvalidPath(format string, args ...any) *Error {
	return Newf(KindInvalidPath, format, args...)
}

// InvalidValue reports a value the target attribute cannot accept.
func InvalidValue(format string, args ...any) *Error {
	return Newf(KindInvalidValue, format, args...)
}

// Sensitive reports a request touching a value the server never discloses.
func Sensitive(attr string) *Error {
	return &Error{
		Kind:   KindSensitive,
		Detail: fmt.Sprintf("attribute %q may not be queried", attr),
		Path:   attr,
	}
}

// IsKind reports whether err is (or wraps) a scim Error of kind k.
func IsKind(err error, k Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == k
	}
	return false
}

// KindOf returns the kind of err, or 0 when err is not a scim Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
