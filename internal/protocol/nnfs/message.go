package nnfs

// Header is the fixed-size prefix of every frame.
//
// Wire Format (XDR encoding, network byte order):
//   - OpCode:        4 bytes
//   - ID:            4 bytes
//   - Status:        4 bytes
//   - PayloadLength: 4 bytes
//
// The header size never depends on the payload, which lets a receiver read
// the header first and then exactly PayloadLength more bytes.
type Header struct {
	// OpCode selects the requested operation, or the kind of reply.
	OpCode OpCode

	// ID correlates a reply with the request it answers. Servers echo the
	// request ID unchanged.
	ID uint32

	// Status qualifies FAIL replies. Zero (StatusOK) everywhere else.
	Status Status

	// PayloadLength is the number of payload bytes following the header.
	// Zero means the frame has no payload.
	PayloadLength uint32
}

// Message is a request or reply unit.
//
// Payload is nil when PayloadLength is zero, and otherwise holds exactly
// PayloadLength bytes. Messages produced by the decoder are fresh values and
// are not modified afterwards.
type Message struct {
	Header
	Payload []byte
}

// HasPayload reports whether the message carries payload bytes.
func (m *Message) HasPayload() bool {
	return m.PayloadLength > 0
}

// NewRequest builds a request message with a consistent payload length.
func NewRequest(op OpCode, id uint32, payload []byte) *Message {
	return newMessage(op, id, StatusOK, payload)
}

// NewPingRequest builds a PING request.
func NewPingRequest(id uint32) *Message {
	return newMessage(OpCodePing, id, StatusOK, nil)
}

// NewCloseRequest builds a CLOSE_CONNECTION request.
func NewCloseRequest(id uint32) *Message {
	return newMessage(OpCodeCloseConnection, id, StatusOK, nil)
}

// NewPongReply builds the reply to a PING request with the given id.
func NewPongReply(id uint32) *Message {
	return newMessage(OpCodePong, id, StatusOK, nil)
}

// NewSuccessReply builds a SUCCESS reply correlated to id.
func NewSuccessReply(id uint32) *Message {
	return newMessage(OpCodeSuccess, id, StatusOK, nil)
}

// NewFailReply builds a FAIL reply correlated to id. The diagnostic, when not
// empty, is sent as the payload.
func NewFailReply(id uint32, status Status, diagnostic string) *Message {
	var payload []byte
	if diagnostic != "" {
		payload = []byte(diagnostic)
	}
	return newMessage(OpCodeFail, id, status, payload)
}

func newMessage(op OpCode, id uint32, status Status, payload []byte) *Message {
	if len(payload) == 0 {
		payload = nil
	}
	return &Message{
		Header: Header{
			OpCode:        op,
			ID:            id,
			Status:        status,
			PayloadLength: uint32(len(payload)),
		},
		Payload: payload,
	}
}
