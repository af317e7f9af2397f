package spop

import "errors"

// Code is one of SPOP's well-known protocol error codes, carried in a
// DISCONNECT frame's "status-code" field.
type Code uint32

// Well-known protocol error codes and their canonical messages.
const (
	CodeNormal                  Code = 0
	CodeIO                      Code = 1
	CodeTimeout                 Code = 2
	CodeFrameTooBig             Code = 3
	CodeInvalidFrameReceived    Code = 4
	CodeVersionNotFound         Code = 5
	CodeMaxFrameSizeNotFound    Code = 6
	CodeCapabilitiesNotFound    Code = 7
	CodeUnsupportedVersion      Code = 8
	CodeMaxFrameSizeOutOfRange  Code = 9
	CodeFragmentationNotSupported Code = 10
	CodeInvalidInterlacedFrames Code = 11
	CodeFrameIDNotFound         Code = 12
	CodeResourceAllocationError Code = 13
	CodeUnknown                 Code = 99
)

// Message returns the canonical human-readable reason for c.
func (c Code) Message() string {
	switch c {
	case CodeNormal:
		return "normal"
	case CodeIO:
		return "I/O error"
	case CodeTimeout:
		return "a timeout occurred"
	case CodeFrameTooBig:
		return "frame is too big"
	case CodeInvalidFrameReceived:
		return "invalid frame received"
	case CodeVersionNotFound:
		return "version value not found"
	case CodeMaxFrameSizeNotFound:
		return "max-frame-size value not found"
	case CodeCapabilitiesNotFound:
		return "capabilities value not found"
	case CodeUnsupportedVersion:
		return "unsupported version"
	case CodeMaxFrameSizeOutOfRange:
		return "max-frame-size value out of range"
	case CodeFragmentationNotSupported:
		return "fragmentation not supported"
	case CodeInvalidInterlacedFrames:
		return "invalid interlaced frames"
	case CodeFrameIDNotFound:
		return "frame-id not found"
	case CodeResourceAllocationError:
		return "resource allocation error"
	default:
		return "an unknown error occurred"
	}
}

// Decode error kinds. Every decoder in this package returns one of these
// (wrapped with additional context) rather than panicking; the connection
// core (conn.go) maps them to a [Code] to build a DISCONNECT response.
var (
	ErrInsufficientBytes   = errors.New("insufficient bytes")
	ErrInvalidType         = errors.New("invalid typed-data type")
	ErrInvalidFlags        = errors.New("invalid frame flags")
	ErrInvalidUtf8         = errors.New("invalid UTF-8")
	ErrInvalidNbArgs       = errors.New("invalid number of arguments")
	ErrInvalidVarScope     = errors.New("invalid variable scope")
	ErrInvalidAction       = errors.New("invalid action")
	ErrInvalidKvList       = errors.New("invalid key/value list")
	ErrInvalidMessageList  = errors.New("invalid list of messages")
	ErrInvalidActionList   = errors.New("invalid list of actions")
	ErrInvalidStreamID     = errors.New("invalid stream-id")
	ErrInvalidFrameID      = errors.New("invalid frame-id")
	ErrTrailingBytes       = errors.New("trailing bytes after payload")
	ErrInvalidFrameReceived    = errors.New("invalid frame received")
	ErrInvalidInterlacedFrames = errors.New("invalid interlaced frames")
	ErrInvalidCapabilities     = errors.New("invalid capabilities")
)

// FieldError reports a problem with a specific named field of a KV-list
// based frame view (HELLO, DISCONNECT).
type FieldError struct {
	Field   string
	Missing bool // true: FieldNotFound, false: FieldValueInvalid.
}

func (e *FieldError) Error() string {
	if e.Missing {
		return "field not found: " + e.Field
	}
	return "field value invalid: " + e.Field
}

func fieldNotFound(name string) error     { return &FieldError{Field: name, Missing: true} }
func fieldValueInvalid(name string) error { return &FieldError{Field: name, Missing: false} }

// codeFor maps a decode error to the nearest well-known protocol [Code],
// per the propagation policy in the specification: any decode failure
// inside the connection core becomes a DISCONNECT, defaulting to
// [CodeInvalidFrameReceived] when no more specific code applies.
func codeFor(err error) Code {
	switch {
	case errors.Is(err, ErrFrameTooBig):
		return CodeFrameTooBig
	case errors.Is(err, ErrUnsupportedVersion):
		return CodeUnsupportedVersion
	case errors.Is(err, ErrInvalidInterlacedFrames):
		return CodeInvalidInterlacedFrames
	case errors.Is(err, ErrInvalidCapabilities):
		return CodeCapabilitiesNotFound
	case errors.Is(err, ErrInsufficientBytes), errors.Is(err, ErrTrailingBytes):
		return CodeIO
	case errors.Is(err, ErrHandlerFailed):
		return CodeResourceAllocationError
	default:
		return CodeInvalidFrameReceived
	}
}

// ErrHandlerFailed is the error a [Handler] returns when it could not reach
// a decision for reasons outside the protocol itself (a downstream
// dependency timed out, errored, or produced no result). Handler
// implementations that wrap it get a [CodeResourceAllocationError] DISCONNECT
// instead of the generic [CodeInvalidFrameReceived].
var ErrHandlerFailed = errors.New("handler failed to produce a decision")

// ErrFrameTooBig is returned when a reassembled (or single) frame payload
// would exceed the session's negotiated max-frame-size.
var ErrFrameTooBig = errors.New("frame exceeds negotiated max-frame-size")

// ErrUnsupportedVersion is returned when none of the engine's
// supported-versions is compatible with this agent.
var ErrUnsupportedVersion = errors.New("unsupported SPOP version")
