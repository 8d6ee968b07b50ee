package incr

import (
	"errors"
	"fmt"

	"github.com/gogpu/vecsync/ir"
)

var (
	// ErrInvalidDocument is returned by PackDelta when the document
	// references a fragment it does not contain. It signals a compiler bug
	// and is not recoverable by resyncing.
	ErrInvalidDocument = errors.New("incr: invalid document")

	// ErrProtocol is matched by every *ProtocolError.
	ErrProtocol = errors.New("incr: protocol error")
)

// ProtocolError reports a delta that is well-framed but inconsistent with
// the client state. Nothing from the delta is applied; the session owner
// should request a full resync.
type ProtocolError struct {
	// ID is the offending module, zero when the error is not tied to one.
	ID     ir.ContentID
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "incr: protocol error: " + e.Reason
	if !e.ID.IsZero() {
		msg += " (" + e.ID.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

func protocolErr(id ir.ContentID, err error, format string, args ...any) error {
	return &ProtocolError{ID: id, Reason: fmt.Sprintf(format, args...), Err: err}
}
