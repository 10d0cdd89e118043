package session

import (
	"fmt"

	"github.com/marmos91/nnfs/internal/protocol/nnfs"
)

// ============================================================================
// Procedure Dispatch Table
// ============================================================================

// procedureHandler builds the reply to one request. Handlers never fail:
// every request gets exactly one reply.
type procedureHandler func(req *nnfs.Message) *nnfs.Message

// procedureInfo contains metadata about an NNFS operation for dispatch.
type procedureInfo struct {
	// Name is the operation name for logging and metric labels.
	Name string

	// Handler builds the reply.
	Handler procedureHandler

	// Terminal marks operations after which the session ends: once the reply
	// is sent the connection is shut down and closed. Terminal operations
	// are never rate limited, so a client can always leave.
	Terminal bool
}

// unknownProcedure is the metric label for opcodes missing from the table.
const unknownProcedure = "UNKNOWN"

// dispatchTable maps request opcodes to their handlers. Reply opcodes
// (PONG, SUCCESS, FAIL) and NULL are deliberately absent: receiving one
// from a client yields FAIL_BAD_OP_CODE.
var dispatchTable = map[nnfs.OpCode]*procedureInfo{
	nnfs.OpCodePing: {
		Name:    "PING",
		Handler: handlePing,
	},
	nnfs.OpCodeCloseConnection: {
		Name:     "CLOSE_CONNECTION",
		Handler:  handleCloseConnection,
		Terminal: true,
	},
}

func handlePing(req *nnfs.Message) *nnfs.Message {
	return nnfs.NewPongReply(req.ID)
}

func handleCloseConnection(req *nnfs.Message) *nnfs.Message {
	return nnfs.NewSuccessReply(req.ID)
}

func badOpCodeReply(req *nnfs.Message) *nnfs.Message {
	return nnfs.NewFailReply(req.ID, nnfs.StatusFailBadOpCode,
		fmt.Sprintf("unknown opcode %d", uint32(req.OpCode)))
}

func rateLimitedReply(req *nnfs.Message) *nnfs.Message {
	return nnfs.NewFailReply(req.ID, nnfs.StatusFailRateLimited, "rate limit exceeded")
}
