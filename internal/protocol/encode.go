package protocol

import (
	"encoding/binary"
	"fmt"
)

const errorReplyLen = HeaderSize + 1

// Encode serializes a reply. An absent reply encodes to nil.
func Encode(r Response) []byte {
	if !r.Present {
		return nil
	}
	buf := make([]byte, wordLen)
	binary.LittleEndian.PutUint32(buf, uint32(r.Value))
	return buf
}

// EncodeCommand serializes c as a request datagram.
func EncodeCommand(c Command) ([]byte, error) {
	if c == nil {
		return nil, ErrUnknownCommand
	}
	need, ok := c.Opcode().bodyLen()
	if !ok {
		return nil, fmt.Errorf("%w: opcode %s", ErrUnknownCommand, c.Opcode())
	}
	buf := make([]byte, HeaderSize+need)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	buf[4] = byte(c.Opcode())
	body := buf[HeaderSize:]

	switch cmd := c.(type) {
	case Nop:
	case Echo:
		binary.LittleEndian.PutUint32(body[0:4], uint32(cmd.Value))
	case Read:
		binary.LittleEndian.PutUint32(body[0:4], cmd.Key)
	case Write:
		binary.LittleEndian.PutUint32(body[0:4], cmd.Key)
		binary.LittleEndian.PutUint32(body[4:8], uint32(cmd.Value))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, c)
	}
	return buf, nil
}

// EncodeError serializes an error reply for err.
func EncodeError(err error) []byte {
	buf := make([]byte, errorReplyLen)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	buf[4] = byte(OpError)
	buf[5] = byte(ErrorCodeOf(err))
	return buf
}
