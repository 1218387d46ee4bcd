package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	src := &User{Username: "alice", Group: "room"}
	dst := &User{Username: "bob"}

	msg, err := NewMessage(src, dst, CodeDataText, "hello there")
	require.NoError(t, err)
	msg.Flag = FlagAnnounce

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)

	assert.Equal(t, "alice", got.SrcName())
	assert.Equal(t, "bob", got.DstName())
	assert.Equal(t, CodeDataText, got.Type)
	assert.Equal(t, FlagAnnounce, got.Flag)

	text, err := got.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestEncodeDecodeByteIdentical(t *testing.T) {
	msg, err := NewMessage(&User{Username: "a"}, nil, CodeDataText, "x")
	require.NoError(t, err)

	payload, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, payload, again, "re-encoding a decoded message must be byte-identical")
}

func TestReadMultipleFramesFromOneStream(t *testing.T) {
	var buf bytes.Buffer
	for _, text := range []string{"one", "two", "three"} {
		msg, err := NewMessage(&User{Username: "a"}, &User{Username: "b"}, CodeDataText, text)
		require.NoError(t, err)
		require.NoError(t, WriteMessage(&buf, msg))
	}

	for _, want := range []string{"one", "two", "three"} {
		msg, err := ReadMessage(&buf)
		require.NoError(t, err)
		text, err := msg.Text()
		require.NoError(t, err)
		assert.Equal(t, want, text)
	}

	_, err := ReadMessage(&buf)
	assert.Equal(t, io.EOF, err, "clean end of stream must surface as io.EOF")
}

func TestReadTruncatedFrame(t *testing.T) {
	msg, err := NewMessage(&User{Username: "a"}, nil, CodeDataText, "payload")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	truncated := buf.Bytes()[:buf.Len()-3]
	_, err = ReadMessage(bytes.NewReader(truncated))
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameTooLarge(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	_, err := ReadMessage(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadMalformedPayload(t *testing.T) {
	payload := []byte{0xff, 0xff, 0xff, 0xff, 0xff}

	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	buf.Write(header[:])
	buf.Write(payload)

	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadZeroLengthFrame(t *testing.T) {
	var header [4]byte
	_, err := ReadMessage(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
