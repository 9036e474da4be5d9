package wire_test

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powmesh/node/wire"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.Write(&buf, "status", map[string]int{"INDEX": 3}))

	env, err := wire.Read(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "status", env.Tag)

	var decoded map[string]int
	require.NoError(t, env.Decode(&decoded))
	assert.Equal(t, 3, decoded["INDEX"])
}

func TestReadReturnsEOFOnCleanHangup(t *testing.T) {
	_, err := wire.Read(bufio.NewReader(bytes.NewReader(nil)))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadRejectsBadLengthHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("notanum")
	buf.WriteByte(' ')

	_, err := wire.Read(bufio.NewReader(&buf))
	assert.ErrorIs(t, err, wire.ErrBadLength)
}

func TestReadRejectsMultiTagEnvelope(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.Write(&buf, "status", 1))
	// Overwrite the body with a two-key object of the same length class
	// by writing a fresh frame directly.
	buf.Reset()
	body := []byte(`{"a":1,"b":2}`)
	header := "      13"
	buf.WriteString(header)
	buf.Write(body)

	_, err := wire.Read(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func TestWriteRejectsOversizedMessage(t *testing.T) {
	huge := make([]byte, 99_999_992)
	err := wire.Write(io.Discard, "big", string(huge))
	assert.Error(t, err)
}

func TestMultipleFramesSequentially(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.Write(&buf, "node", []interface{}{"host", 1}))
	require.NoError(t, wire.Write(&buf, "confirm", []interface{}{"host", 1}))

	br := bufio.NewReader(&buf)
	first, err := wire.Read(br)
	require.NoError(t, err)
	assert.Equal(t, "node", first.Tag)

	second, err := wire.Read(br)
	require.NoError(t, err)
	assert.Equal(t, "confirm", second.Tag)
}
