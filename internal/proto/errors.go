// Package proto implements the RESP2 wire format: a pipelined request
// reader/parser and a reply encoder.
package proto

import "fmt"

// ErrKind is one of the stable wire error prefixes (ERR, WRONGTYPE, ...).
type ErrKind string

const (
	ErrGeneric   ErrKind = "ERR"
	ErrWrongType ErrKind = "WRONGTYPE"
	ErrNoAuth    ErrKind = "NOAUTH"
	ErrReadOnly  ErrKind = "READONLY"
	ErrNoScript  ErrKind = "NOSCRIPT"
	ErrBusy      ErrKind = "BUSY"
	ErrExecAbort ErrKind = "EXECABORT"
)

// WireError is a reply-level error carrying one of the stable prefixes.
type WireError struct {
	Kind ErrKind
	Msg  string
}

func (e *WireError) Error() string { return fmt.Sprintf("%s %s", e.Kind, e.Msg) }

// Errf builds a WireError with a formatted message.
func Errf(kind ErrKind, format string, args ...any) *WireError {
	return &WireError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
