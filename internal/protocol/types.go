package protocol

// Magic prefixes every request datagram (and every error reply).
const Magic uint32 = 0xFFFFFFFF

const (
	magicLen  = 4
	opcodeLen = 1
	wordLen   = 4

	// HeaderSize is magic plus opcode.
	HeaderSize = magicLen + opcodeLen
)

// Opcode selects the command carried by a datagram.
type Opcode uint8

const (
	OpNop   Opcode = 0x0
	OpEcho  Opcode = 0x1
	OpRead  Opcode = 0x2
	OpWrite Opcode = 0x3

	// OpError marks an error reply. It is never valid in a request.
	OpError Opcode = 0xFF
)

func (o Opcode) String() string {
	switch o {
	case OpNop:
		return "nop"
	case OpEcho:
		return "echo"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpError:
		return "error"
	default:
		return "unknown"
	}
}

// bodyLen returns the payload length following the header for a request opcode.
func (o Opcode) bodyLen() (int, bool) {
	switch o {
	case OpNop:
		return 0, true
	case OpEcho, OpRead:
		return wordLen, true
	case OpWrite:
		return 2 * wordLen, true
	default:
		return 0, false
	}
}

// Command is one decoded request. Implementations are Nop, Echo, Read and Write.
type Command interface {
	Opcode() Opcode
}

// Nop carries no payload and produces no reply.
type Nop struct{}

// Echo asks the server to reflect Value.
type Echo struct {
	Value int32
}

// Read asks for the value stored at Key.
type Read struct {
	Key uint32
}

// Write stores Value at Key.
type Write struct {
	Key   uint32
	Value int32
}

func (Nop) Opcode() Opcode { return OpNop }
func (Echo) Opcode() Opcode { return OpEcho }
func (Read) Opcode() Opcode { return OpRead }
func (Write) Opcode() Opcode { return OpWrite }

// ExpectsReply reports whether a successful dispatch of c yields a value reply.
func ExpectsReply(c Command) bool {
	switch c.(type) {
	case Echo, Read:
		return true
	default:
		return false
	}
}

// Response is an optional single-integer reply payload.
type Response struct {
	Value   int32
	Present bool
}

// NoResponse is the absent reply.
var NoResponse = Response{}

// ValueResponse wraps v as a reply.
func ValueResponse(v int32) Response {
	return Response{Value: v, Present: true}
}
