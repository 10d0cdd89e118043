// Package nnfs implements the NNFS wire format.
//
// Every frame is a fixed 16-byte header (opcode, id, status, payload length,
// each a big-endian uint32) followed by exactly payload-length bytes. The
// decoder is split in two phases so a transport can read the header, learn
// the payload size, and then read exactly that many bytes without delimiters:
//
//	partial, err := nnfs.DecodeHeader(header)
//	payload := make([]byte, partial.PayloadLength)
//	// ... read payload ...
//	msg, err := nnfs.DecodePayload(payload, partial)
//
// The package performs no I/O and holds no state.
package nnfs
