package nnfs

import (
	"bytes"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are decoded.
	ErrShortHeader = errors.New("nnfs: short frame header")

	// ErrPayloadLengthMismatch is returned when a payload does not have
	// exactly the length announced by its header.
	ErrPayloadLengthMismatch = errors.New("nnfs: payload length mismatch")
)

// Encode serializes a message to its on-wire frame: the XDR-encoded header
// followed by the payload bytes verbatim.
//
// Returns ErrPayloadLengthMismatch if msg.PayloadLength disagrees with the
// actual payload size.
func Encode(msg *Message) ([]byte, error) {
	if int(msg.PayloadLength) != len(msg.Payload) {
		return nil, fmt.Errorf("%w: header says %d bytes, payload has %d",
			ErrPayloadLengthMismatch, msg.PayloadLength, len(msg.Payload))
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(msg.Payload)))
	if _, err := xdr.Marshal(buf, &msg.Header); err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	buf.Write(msg.Payload)

	return buf.Bytes(), nil
}

// DecodeHeader parses the first HeaderSize bytes of data into a partial
// message. Bytes past the header are ignored and the payload is left nil.
//
// Returns ErrShortHeader if data holds fewer than HeaderSize bytes.
func DecodeHeader(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrShortHeader, len(data), HeaderSize)
	}

	msg := &Message{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data[:HeaderSize]), &msg.Header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}

	return msg, nil
}

// DecodePayload attaches data as the payload of a partial message produced by
// DecodeHeader and returns the complete message. The partial message is not
// modified and data is copied, so the caller may reuse its buffer.
//
// Returns ErrPayloadLengthMismatch if len(data) differs from the header's
// PayloadLength. A zero-length payload yields a message with a nil Payload.
func DecodePayload(data []byte, partial *Message) (*Message, error) {
	if len(data) != int(partial.PayloadLength) {
		return nil, fmt.Errorf("%w: header says %d bytes, got %d",
			ErrPayloadLengthMismatch, partial.PayloadLength, len(data))
	}

	msg := &Message{Header: partial.Header}
	if len(data) > 0 {
		msg.Payload = make([]byte, len(data))
		copy(msg.Payload, data)
	}

	return msg, nil
}
