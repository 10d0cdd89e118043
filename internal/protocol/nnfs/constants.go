package nnfs

import "fmt"

// OpCode identifies the operation carried by a frame.
type OpCode uint32

// Operation codes
//
// Requests travel client -> server (PING, CLOSE_CONNECTION), replies travel
// server -> client (PONG, SUCCESS, FAIL). OpCodeNull is the zero value and is
// never a valid request.
const (
	OpCodeNull            OpCode = 0
	OpCodePing            OpCode = 1
	OpCodePong            OpCode = 2
	OpCodeCloseConnection OpCode = 3
	OpCodeSuccess         OpCode = 4
	OpCodeFail            OpCode = 5
)

// Status qualifies a reply. Every frame that is not a FAIL reply carries StatusOK.
type Status uint32

const (
	// StatusOK is the status of every non-failure frame.
	StatusOK Status = 0

	// StatusFailBadOpCode is returned when the server does not know the
	// request's operation code.
	StatusFailBadOpCode Status = 1

	// StatusFailRateLimited is returned when the server refused to process the
	// request because the request rate limit was exceeded.
	StatusFailRateLimited Status = 2
)

const (
	// HeaderSize is the fixed size in bytes of every frame header:
	// opcode, id, status and payload length, each a 4-byte big-endian uint32.
	HeaderSize = 16

	// DefaultMaxPayloadSize bounds the payload a receiver accepts unless
	// configured otherwise. It protects workers from allocating arbitrary
	// amounts of memory on a forged length field.
	DefaultMaxPayloadSize = 1 << 20 // 1MB

	// StartingID is the first request id a client assigns.
	StartingID uint32 = 1
)

func (o OpCode) String() string {
	switch o {
	case OpCodeNull:
		return "NULL"
	case OpCodePing:
		return "PING"
	case OpCodePong:
		return "PONG"
	case OpCodeCloseConnection:
		return "CLOSE_CONNECTION"
	case OpCodeSuccess:
		return "SUCCESS"
	case OpCodeFail:
		return "FAIL"
	default:
		return fmt.Sprintf("OpCode(%d)", uint32(o))
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFailBadOpCode:
		return "FAIL_BAD_OP_CODE"
	case StatusFailRateLimited:
		return "FAIL_RATE_LIMITED"
	default:
		return fmt.Sprintf("Status(%d)", uint32(s))
	}
}
