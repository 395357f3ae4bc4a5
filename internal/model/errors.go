package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures so the command surface can pick an exit code.
type ErrorKind string

// Error kinds.
const (
	KindStoreUnavailable    ErrorKind = "store_unavailable"
	KindSchemaMismatch      ErrorKind = "schema_mismatch"
	KindMalformedDocument   ErrorKind = "malformed_document"
	KindIntegrityViolation  ErrorKind = "integrity_violation"
	KindPartialWriteRefused ErrorKind = "partial_write_refused"
)

// Error wraps a failure with the operation, its kind and every individual
// problem found, so all of them can be reported at once.
type Error struct {
	Op       string
	Kind     ErrorKind
	Path     string // Optional: database or document path
	Problems []string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		fmt.Fprintf(&b, " (path=%s)", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ViolationsError converts a non-empty violation list into an integrity error.
func ViolationsError(op string, vs Violations) error {
	if len(vs) == 0 {
		return nil
	}
	return &Error{
		Op:       op,
		Kind:     KindIntegrityViolation,
		Problems: vs.Strings(),
	}
}
