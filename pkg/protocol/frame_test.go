package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/secure-socket-chat/pkg/protocol"
)

func TestEncodeDecodeNext_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty payload", payload: []byte{}},
		{name: "plain text", payload: []byte("hello, world")},
		{name: "contains spaces and newlines", payload: []byte("LOGIN alice pw 1\nLOGIN bob pw2\n")},
		{name: "binary with zero bytes", payload: []byte{0x00, 0xff, 0x80, 0x00, 0x01}},
		{name: "longer than one varint byte", payload: bytes.Repeat([]byte("x"), 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := protocol.Encode(tt.payload)

			frame, rest, err := protocol.DecodeNext(encoded, 0)
			require.NoError(t, err)
			require.NotNil(t, frame)
			assert.Equal(t, tt.payload, frame)
			assert.Empty(t, rest)
		})
	}
}

func TestDecodeNext_Incomplete(t *testing.T) {
	encoded := protocol.Encode([]byte("partial frame"))

	for cut := 0; cut < len(encoded); cut++ {
		frame, rest, err := protocol.DecodeNext(encoded[:cut], 0)
		require.NoError(t, err, "cut at %d", cut)
		assert.Nil(t, frame, "cut at %d", cut)
		assert.Equal(t, encoded[:cut], rest, "buffer must be returned unchanged")
	}
}

func TestDecodeNext_MultipleFrames(t *testing.T) {
	var buf []byte
	buf = append(buf, protocol.Encode([]byte("one"))...)
	buf = append(buf, protocol.Encode([]byte{})...)
	buf = append(buf, protocol.Encode([]byte("three"))...)

	var got []string
	for {
		frame, rest, err := protocol.DecodeNext(buf, 0)
		require.NoError(t, err)
		if frame == nil {
			break
		}
		got = append(got, string(frame))
		buf = rest
	}

	assert.Equal(t, []string{"one", "", "three"}, got)
	assert.Empty(t, buf)
}

// Feeding one byte at a time yields the same frames, in the same order,
// as feeding the whole stream at once.
func TestDecodeNext_ByteAtATime(t *testing.T) {
	payloads := [][]byte{
		[]byte("alice: hi"),
		{},
		bytes.Repeat([]byte{0x80}, 200),
		[]byte("REGISTER a b"),
	}
	var stream []byte
	for _, p := range payloads {
		stream = append(stream, protocol.Encode(p)...)
	}

	drain := func(buf []byte) ([][]byte, []byte) {
		var out [][]byte
		for {
			frame, rest, err := protocol.DecodeNext(buf, 0)
			require.NoError(t, err)
			if frame == nil {
				return out, buf
			}
			out = append(out, append([]byte{}, frame...))
			buf = rest
		}
	}

	allAtOnce, _ := drain(stream)

	var incremental [][]byte
	var buf []byte
	for _, b := range stream {
		buf = append(buf, b)
		var frames [][]byte
		frames, buf = drain(buf)
		incremental = append(incremental, frames...)
	}

	assert.Equal(t, allAtOnce, incremental)
	assert.Len(t, incremental, len(payloads))
}

func TestDecodeNext_Errors(t *testing.T) {
	tests := []struct {
		name  string
		buf   []byte
		limit int
	}{
		{
			name:  "length above limit",
			buf:   protocol.Encode(bytes.Repeat([]byte("a"), 17)),
			limit: 16,
		},
		{
			name:  "varint overflow",
			buf:   []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01},
			limit: 0,
		},
		{
			name:  "non-minimal varint",
			buf:   []byte{0x81, 0x00, 'a'},
			limit: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, _, err := protocol.DecodeNext(tt.buf, tt.limit)
			require.Error(t, err)
			assert.Nil(t, frame)
			assert.True(t, errors.Is(err, protocol.ErrFraming))

			var fe *protocol.FramingError
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestReader_ReadFrame(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, protocol.WriteFrame(&stream, []byte("first")))
	require.NoError(t, protocol.WriteFrame(&stream, []byte("second")))

	r := protocol.NewReader(iotest.OneByteReader(&stream), 0)

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "first", string(frame))

	frame, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "second", string(frame))

	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_TruncatedStream(t *testing.T) {
	encoded := protocol.Encode([]byte("truncated"))
	r := protocol.NewReader(bytes.NewReader(encoded[:4]), 0)

	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_Oversized(t *testing.T) {
	encoded := protocol.Encode(bytes.Repeat([]byte("z"), 64))
	r := protocol.NewReader(bytes.NewReader(encoded), 8)

	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, protocol.ErrFraming)
}
