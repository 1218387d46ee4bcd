package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize is the maximum allowed payload length. Large enough for any
// file transfer the clients produce, small enough to stop a corrupt header
// from exhausting memory.
const MaxFrameSize = 16 << 20 // 16MB

// headerSize is the length prefix: 4-byte big-endian payload length.
const headerSize = 4

var (
	// ErrFrameTooLarge is returned when a frame header announces a payload
	// beyond MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

	// ErrMalformedFrame is returned when a payload cannot be decoded into a
	// Message. The connection should be closed.
	ErrMalformedFrame = errors.New("wire: malformed frame")
)

// Encode serializes a message into its payload bytes (no length prefix).
// Beacon datagrams use this form directly: one datagram is one payload.
func Encode(m *Message) ([]byte, error) {
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode message: %w", err)
	}
	return data, nil
}

// Decode deserializes payload bytes into a message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &m, nil
}

// WriteMessage frames and writes one message: 4-byte big-endian payload
// length followed by the payload. The frame is written in a single Write so
// concurrent writers on distinct connections never interleave partial frames.
func WriteMessage(w io.Writer, m *Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message. io.EOF is returned unwrapped when
// the stream ends cleanly at a frame boundary so callers can detect normal
// peer disconnect; an EOF inside a frame surfaces as io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader) (*Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: zero-length frame", ErrMalformedFrame)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}

	return Decode(payload)
}
