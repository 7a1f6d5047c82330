package channel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	frameHeaderSize = 4
	maxFrameSize    = 16 << 20
)

var (
	FrameTooLargeErr = errors.New("channel: frame too large")
	ShortFieldErr    = errors.New("channel: field exceeds frame")
)

// Encoder accumulates the payload of one frame.
type Encoder struct {
	buf bytes.Buffer
}

func (e *Encoder) WriteByte(b byte) error {
	return e.buf.WriteByte(b)
}

func (e *Encoder) WriteInt(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	_, err := e.buf.Write(b[:])
	return err
}

// WriteBytes writes a length prefixed blob; nil is encoded as length -1.
func (e *Encoder) WriteBytes(p []byte) error {
	if p == nil {
		return e.WriteInt(-1)
	}
	if err := e.WriteInt(int32(len(p))); err != nil {
		return err
	}
	_, err := e.buf.Write(p)
	return err
}

func (e *Encoder) WriteString(s string) error {
	return e.WriteBytes([]byte(s))
}

func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *Encoder) Reset() {
	e.buf.Reset()
}

// Decoder reads fields out of one fully received frame.
type Decoder struct {
	r *bytes.Reader
}

func NewDecoder(payload []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(payload)}
}

func (d *Decoder) ReadByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, ShortFieldErr
	}
	return b, nil
}

func (d *Decoder) ReadInt() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, ShortFieldErr
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if int(n) > d.r.Len() {
		return nil, ShortFieldErr
	}

	p := make([]byte, n)
	if _, err := io.ReadFull(d.r, p); err != nil {
		return nil, ShortFieldErr
	}
	return p, nil
}

func (d *Decoder) ReadString() (string, error) {
	p, err := d.ReadBytes()
	return string(p), err
}

// writeFrame writes a frame with the format:
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return FrameTooLargeErr
	}

	header := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	_, err := w.Write(append(header, payload...))
	return err
}

// readFrame reads one whole frame, so a caller that fails halfway through
// decoding never leaves unread bytes on the wire.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", FrameTooLargeErr, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
