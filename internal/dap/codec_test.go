package dap

import (
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	req := &dap.InitializeRequest{
		Request: dap.Request{Command: "initialize"},
		Arguments: dap.InitializeRequestArguments{
			AdapterID: "ansibug",
		},
	}

	b, err := enc.Marshal(req)
	require.NoError(t, err)
	assert.Equal(t, 1, req.Seq)
	assert.Equal(t, "request", req.Type)

	dec := NewDecoder(DefaultRegistry())
	dec.Feed(b)

	msg, err := dec.Next()
	require.NoError(t, err)

	got, ok := msg.(*dap.InitializeRequest)
	require.True(t, ok)
	assert.Equal(t, "ansibug", got.Arguments.AdapterID)
	assert.Equal(t, 1, got.Seq)
}

func TestDecodePartialFeed(t *testing.T) {
	enc := NewEncoder()
	req := &dap.ConfigurationDoneRequest{Request: dap.Request{Command: "configurationDone"}}
	b, err := enc.Marshal(req)
	require.NoError(t, err)

	dec := NewDecoder(DefaultRegistry())

	// Feed one byte at a time; Next must return ErrIncomplete until the
	// full frame has arrived (spec.md §8 testable property 7).
	var msg dap.Message
	for i := 0; i < len(b); i++ {
		dec.Feed(b[i : i+1])
		msg, err = dec.Next()
		if err == nil {
			break
		}
		assert.ErrorIs(t, err, ErrIncomplete)
	}

	require.NoError(t, err)
	_, ok := msg.(*dap.ConfigurationDoneRequest)
	assert.True(t, ok)
}

func TestDecodeOutOfSequence(t *testing.T) {
	dec := NewDecoder(DefaultRegistry())
	body := []byte(`{"seq":5,"type":"request","command":"configurationDone"}`)
	frame := append([]byte{}, []byte("Content-Length: ")...)
	frame = append(frame, []byte(itoa(len(body)))...)
	frame = append(frame, []byte("\r\n\r\n")...)
	frame = append(frame, body...)

	dec.Feed(frame)
	_, err := dec.Next()
	var seqErr *OutOfSequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, 1, seqErr.Expected)
	assert.Equal(t, 5, seqErr.Got)
}

func TestDecodeUnknownRequest(t *testing.T) {
	dec := NewDecoder(DefaultRegistry())
	body := []byte(`{"seq":1,"type":"request","command":"frobnicate"}`)
	frame := []byte("Content-Length: " + itoa(len(body)) + "\r\n\r\n")
	frame = append(frame, body...)

	dec.Feed(frame)
	_, err := dec.Next()
	var unkErr *UnknownMessageError
	require.ErrorAs(t, err, &unkErr)
	assert.Equal(t, "request", unkErr.Kind)
	assert.Equal(t, "frobnicate", unkErr.ID)
}

func TestDecodeMissingContentLength(t *testing.T) {
	dec := NewDecoder(DefaultRegistry())
	dec.Feed([]byte("X-Other: 1\r\n\r\n{}"))
	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrMissingContentLength)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
