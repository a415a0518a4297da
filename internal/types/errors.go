package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure taxonomy. Callers should match with
// errors.Is; wrapped errors carry structured context via *Error.
var (
	// ErrValidation is returned when a record violates its resource schema.
	ErrValidation = errors.New("validation failed")

	// ErrMetadataOverflow is returned when packing exceeds the metadata
	// byte budget under a strict behavior.
	ErrMetadataOverflow = errors.New("metadata overflow")

	// ErrEncoding is returned when a codec input is out of range.
	ErrEncoding = errors.New("encoding failed")

	// ErrNotFound is returned when a requested object or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on an insert collision.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTransient marks retryable failures (network, throttling).
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks non-retryable failures (auth, unsupported operation).
	ErrPermanent = errors.New("permanent failure")

	// ErrLockHeld is returned when an exclusive lock could not be acquired.
	ErrLockHeld = errors.New("lock held")

	// ErrConsolidation is returned when applying a folded value to the
	// primary record fails permanently.
	ErrConsolidation = errors.New("consolidation failed")

	// ErrGC is returned when garbage collection fails to delete applied
	// transactions; retried next cycle.
	ErrGC = errors.New("garbage collection failed")
)

// Error wraps a sentinel with a stable code and structured context.
// It satisfies errors.Is for the underlying kind.
type Error struct {
	Kind    error
	Code    string
	Message string
	Context map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Context) > 0 {
		fmt.Fprintf(&b, " %v", e.Context)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// NewError builds a structured error of the given kind. Context pairs are
// alternating key/value arguments; a trailing odd key is ignored.
func NewError(kind error, code, message string, kv ...any) *Error {
	var ctx map[string]any
	if len(kv) >= 2 {
		ctx = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			k, ok := kv[i].(string)
			if !ok {
				continue
			}
			ctx[k] = kv[i+1]
		}
	}
	return &Error{Kind: kind, Code: code, Message: message, Context: ctx}
}

// ValidationError carries per-field validation failures.
type ValidationError struct {
	Fields []FieldError
}

// FieldError is a single validation failure at a field path.
type FieldError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Path + ": " + f.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IsRetryable reports whether the error is transient and worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
