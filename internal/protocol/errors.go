package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTooShort        = errors.New("protocol: datagram too short")
	ErrBadMagic        = errors.New("protocol: bad magic")
	ErrUnknownOpcode   = errors.New("protocol: unknown opcode")
	ErrUnknownCommand  = errors.New("protocol: unknown command type")
	ErrUnexpectedReply = errors.New("protocol: unexpected reply")
)

// ErrorCode is the reason byte carried by an error reply.
type ErrorCode uint8

const (
	CodeUnknown       ErrorCode = 0
	CodeTooShort      ErrorCode = 1
	CodeBadMagic      ErrorCode = 2
	CodeUnknownOpcode ErrorCode = 3
	CodeKeyOutOfRange ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case CodeTooShort:
		return "too_short"
	case CodeBadMagic:
		return "bad_magic"
	case CodeUnknownOpcode:
		return "unknown_opcode"
	case CodeKeyOutOfRange:
		return "key_out_of_range"
	default:
		return "unknown"
	}
}

// KeyOutOfRangeCoder is implemented by errors that should be reported as CodeKeyOutOfRange.
// It keeps this package free of a dependency on the dispatcher.
type KeyOutOfRangeCoder interface {
	KeyOutOfRange() bool
}

// ErrorCodeOf maps a decode or dispatch error to its reply code.
func ErrorCodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, ErrTooShort):
		return CodeTooShort
	case errors.Is(err, ErrBadMagic):
		return CodeBadMagic
	case errors.Is(err, ErrUnknownOpcode):
		return CodeUnknownOpcode
	}
	var kc KeyOutOfRangeCoder
	if errors.As(err, &kc) && kc.KeyOutOfRange() {
		return CodeKeyOutOfRange
	}
	return CodeUnknown
}

// RemoteError is an error reply received from a server.
type RemoteError struct {
	Code ErrorCode
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("protocol: remote error %s (%d)", e.Code, uint8(e.Code))
}
