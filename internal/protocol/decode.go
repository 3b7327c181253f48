package protocol

import (
	"encoding/binary"
	"fmt"
)

// Decode parses one request datagram. It never reads past b and never returns
// a partially populated command. Bytes after the command layout are ignored.
func Decode(b []byte) (Command, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrTooShort, len(b), HeaderSize)
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadMagic, magic)
	}

	op := Opcode(b[4])
	need, ok := op.bodyLen()
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(op))
	}
	body := b[HeaderSize:]
	if len(body) < need {
		return nil, fmt.Errorf("%w: %s needs %d payload bytes, got %d", ErrTooShort, op, need, len(body))
	}

	switch op {
	case OpEcho:
		return Echo{Value: int32(binary.LittleEndian.Uint32(body[0:4]))}, nil
	case OpRead:
		return Read{Key: binary.LittleEndian.Uint32(body[0:4])}, nil
	case OpWrite:
		return Write{
			Key:   binary.LittleEndian.Uint32(body[0:4]),
			Value: int32(binary.LittleEndian.Uint32(body[4:8])),
		}, nil
	default:
		return Nop{}, nil
	}
}

// DecodeReply parses one reply datagram as seen by a client.
func DecodeReply(b []byte) (Response, error) {
	switch len(b) {
	case wordLen:
		return ValueResponse(int32(binary.LittleEndian.Uint32(b))), nil
	case errorReplyLen:
		if binary.LittleEndian.Uint32(b[0:4]) != Magic || Opcode(b[4]) != OpError {
			return NoResponse, fmt.Errorf("%w: malformed error reply", ErrUnexpectedReply)
		}
		return NoResponse, &RemoteError{Code: ErrorCode(b[5])}
	default:
		return NoResponse, fmt.Errorf("%w: %d bytes", ErrUnexpectedReply, len(b))
	}
}
