// Package wire implements the length-prefixed JSON framing used for every
// peer-to-peer message: an 8-byte, space-padded ASCII decimal length
// header followed by a JSON body of exactly that many bytes. The body is
// always an envelope of the form {"<tag>": <payload>}, letting a single
// connection carry any message kind self-descriptively.
package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed width of the length prefix, in bytes.
const HeaderSize = 8

// ErrBadLength is returned when the length header cannot be parsed as a
// non-negative decimal integer.
var ErrBadLength = errors.New("wire: malformed length header")

// Envelope is the decoded form of a frame: Tag names the message kind,
// Payload is its still-encoded JSON body.
type Envelope struct {
	Tag     string
	Payload json.RawMessage
}

// Write encodes {tag: payload} and writes it to w as a single length-
// prefixed frame.
func Write(w io.Writer, tag string, payload interface{}) error {
	body, err := json.Marshal(map[string]interface{}{tag: payload})
	if err != nil {
		return errors.Wrap(err, "wire: encode payload")
	}

	header := strconv.Itoa(len(body))
	if len(header) > HeaderSize {
		return errors.Errorf("wire: message of %d bytes exceeds header capacity", len(body))
	}
	header += strings.Repeat(" ", HeaderSize-len(header))

	if _, err := io.WriteString(w, header); err != nil {
		return errors.Wrap(err, "wire: write header")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "wire: write body")
	}
	return nil
}

// Read blocks until one full frame has arrived on r, then decodes its
// envelope. It returns io.EOF unwrapped if the peer closed the connection
// before sending any bytes, so callers can distinguish a clean hangup from
// a mid-frame protocol error.
func Read(r *bufio.Reader) (Envelope, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return Envelope{}, io.EOF
		}
		return Envelope{}, errors.Wrap(err, "wire: read header")
	}

	length, err := strconv.Atoi(strings.TrimSpace(string(header)))
	if err != nil || length < 0 {
		return Envelope{}, ErrBadLength
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, errors.Wrap(err, "wire: read body")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, errors.Wrap(err, "wire: decode envelope")
	}
	if len(raw) != 1 {
		return Envelope{}, errors.Errorf("wire: envelope must carry exactly one tag, got %d", len(raw))
	}
	for tag, payload := range raw {
		return Envelope{Tag: tag, Payload: payload}, nil
	}
	panic("unreachable")
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(err, "wire: decode %q payload", e.Tag)
	}
	return nil
}
