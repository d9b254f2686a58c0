// Package gerrs implements Graft's error taxonomy (spec §7): a small set of
// concrete, identifiable error kinds that carry enough context (volume,
// LSN, segment) to diagnose a failure without re-deriving it from logs, and
// that map cleanly onto HTTP status codes at the wire boundary.
//
// Modeled directly on the teacher's cmn/cos error package: concrete struct
// types rather than sentinel values, so a caller can both test the kind
// (via errors.As / Kind) and read the attached fields.
package gerrs

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies an error for retry and HTTP-status decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidRequest
	KindNotFound
	KindSnapshotMissing
	KindRejectedCommit
	KindConcurrentWrite
	KindPendingRecovery
	KindDiverged
	KindUnauthorized
	KindIO
	KindNetwork
	KindStorage
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindNotFound:
		return "NotFound"
	case KindSnapshotMissing:
		return "SnapshotMissing"
	case KindRejectedCommit:
		return "RejectedCommit"
	case KindConcurrentWrite:
		return "ConcurrentWrite"
	case KindPendingRecovery:
		return "PendingRecovery"
	case KindDiverged:
		return "Diverged"
	case KindUnauthorized:
		return "Unauthorized"
	case KindIO:
		return "IoErr"
	case KindNetwork:
		return "NetworkErr"
	case KindStorage:
		return "StorageErr"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Retryable categories (spec §7: "transient; retried by the sync supervisor
// with backoff"). Retried categories never leak past the supervisor
// boundary - see client/sync's classification of returned errors.
func (k Kind) Retryable() bool {
	switch k {
	case KindIO, KindNetwork, KindStorage:
		return true
	default:
		return false
	}
}

// Error is the concrete error type carried through Graft's layers. Library
// layers wrap lower-level errors with Wrap, attaching caller location
// without collapsing the original cause (spec §7 propagation policy).
type Error struct {
	Kind    Kind
	Message string
	Volume  string // VolumeId.Pretty(), empty if not applicable
	LSN     uint64 // 0 if not applicable
	Segment string // SegmentId.Pretty(), empty if not applicable
	Cause   error
	file    string
	line    int
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Volume != "" {
		s += fmt.Sprintf(" [volume=%s]", e.Volume)
	}
	if e.LSN != 0 {
		s += fmt.Sprintf(" [lsn=%d]", e.LSN)
	}
	if e.Segment != "" {
		s += fmt.Sprintf(" [segment=%s]", e.Segment)
	}
	if e.file != "" {
		s += fmt.Sprintf(" (%s:%d)", e.file, e.line)
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// WithVolume/WithLSN/WithSegment attach identifying context and return the
// same error, for fluent construction at the call site.
func (e *Error) WithVolume(v string) *Error { e.Volume = v; return e }
func (e *Error) WithLSN(lsn uint64) *Error  { e.LSN = lsn; return e }
func (e *Error) WithSegment(s string) *Error {
	e.Segment = s
	return e
}

func newErr(kind Kind, format string, args ...any) *Error {
	e := &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.file, e.line = file, line
	}
	return e
}

func InvalidRequest(format string, args ...any) *Error {
	return newErr(KindInvalidRequest, format, args...)
}
func NotFound(format string, args ...any) *Error { return newErr(KindNotFound, format, args...) }
func SnapshotMissing(format string, args ...any) *Error {
	return newErr(KindSnapshotMissing, format, args...)
}
func RejectedCommit(format string, args ...any) *Error {
	return newErr(KindRejectedCommit, format, args...)
}
func ConcurrentWrite(format string, args ...any) *Error {
	return newErr(KindConcurrentWrite, format, args...)
}
func PendingRecovery(format string, args ...any) *Error {
	return newErr(KindPendingRecovery, format, args...)
}
func Diverged(format string, args ...any) *Error { return newErr(KindDiverged, format, args...) }
func Unauthorized(format string, args ...any) *Error {
	return newErr(KindUnauthorized, format, args...)
}
func Fatal(format string, args ...any) *Error { return newErr(KindFatal, format, args...) }

func IOErr(format string, args ...any) *Error      { return newErr(KindIO, format, args...) }
func NetworkErr(format string, args ...any) *Error { return newErr(KindNetwork, format, args...) }
func StorageErr(format string, args ...any) *Error { return newErr(KindStorage, format, args...) }

// Wrap attaches kind and caller location to a lower-level error without
// discarding it (retrievable via errors.Unwrap / errors.As).
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := newErr(kind, format, args...)
	e.Cause = cause
	return e
}

// KindOf classifies any error, including ones wrapped by other layers.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// HTTPStatus implements the §7 status-code table.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidRequest:
		return 400
	case KindUnauthorized:
		return 401
	case KindNotFound, KindSnapshotMissing:
		return 404
	case KindRejectedCommit, KindConcurrentWrite:
		return 409
	case KindPendingRecovery:
		return 423 // locked: caller must resolve the pending commit first
	case KindDiverged:
		return 409
	case KindFatal:
		return 500
	default:
		return 500
	}
}
