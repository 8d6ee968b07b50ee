package stream

import (
	"errors"
	"fmt"

	"github.com/gogpu/vecsync/ir"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrFraming is matched by every *FramingError.
	ErrFraming = errors.New("stream: framing error")

	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("stream: conflicting duplicate module")

	// ErrNotFound is returned by Checkout for ids absent from the stream.
	ErrNotFound = errors.New("stream: module not found")
)

// FramingError reports a malformed or truncated buffer. A buffer that fails
// with a FramingError is rejected as a whole.
type FramingError struct {
	// Offset is the byte offset at which the problem was detected.
	Offset int
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("stream: framing error at offset %d: %s", e.Offset, e.Reason)
}

func (e *FramingError) Is(target error) bool { return target == ErrFraming }

func framingErr(off int, format string, args ...any) error {
	return &FramingError{Offset: off, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a ContentID that appears twice in one stream with
// different payload bytes.
type ConflictError struct {
	ID ir.ContentID
	// First and Second are directory indexes of the conflicting entries.
	First, Second int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("stream: module %s at entries %d and %d carries different bytes", e.ID, e.First, e.Second)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
