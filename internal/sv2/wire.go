package sv2

import (
	"encoding/binary"
	"fmt"

	"github.com/hashpool/hashpool/pkg/errors"
)

// writer accumulates a message payload. The SV2 primitives used by the
// mint-quote and extension messages are fixed-width little-endian
// integers, raw byte arrays, length-prefixed STR0_255, and optional
// fields with a one-byte 0|1 presence prefix.
type writer struct {
	buf []byte
}

func (w *writer) u8(v byte)  { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}
func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}
func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}
func (w *writer) bytes(v []byte) { w.buf = append(w.buf, v...) }

func (w *writer) str255(s string) error {
	if len(s) > 255 {
		return errors.New(errors.ErrorTypeCodec, "encode_str255",
			fmt.Sprintf("string length %d exceeds 255", len(s)))
	}
	w.u8(byte(len(s)))
	w.bytes([]byte(s))
	return nil
}

func (w *writer) b0255(v []byte) error {
	if len(v) > 255 {
		return errors.New(errors.ErrorTypeCodec, "encode_b0255",
			fmt.Sprintf("byte string length %d exceeds 255", len(v)))
	}
	w.u8(byte(len(v)))
	w.bytes(v)
	return nil
}

// optU64 writes an optional u64 with a presence byte
func (w *writer) optU64(v *uint64) {
	if v == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.u64(*v)
}

// optBytes writes an optional fixed-length byte array with a presence byte
func (w *writer) optBytes(v []byte) {
	if v == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.bytes(v)
}

// reader consumes a message payload and fails on truncation. Decoders
// call done() last so trailing garbage is rejected too.
type reader struct {
	buf []byte
	pos int
	op  string
}

func newReader(buf []byte, op string) *reader {
	return &reader{buf: buf, op: op}
}

func (r *reader) fail(what string) error {
	return errors.New(errors.ErrorTypeCodec, r.op,
		fmt.Sprintf("truncated payload reading %s at offset %d", what, r.pos))
}

func (r *reader) u8() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, r.fail("u8")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, r.fail("u16")
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, r.fail("u32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, r.fail("u64")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, r.fail(fmt.Sprintf("%d bytes", n))
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+n])
	r.pos += n
	return v, nil
}

func (r *reader) str255() (string, error) {
	n, err := r.u8()
	if err != nil {
		return "", err
	}
	v, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (r *reader) b0255() ([]byte, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	return r.bytes(int(n))
}

func (r *reader) optU64() (*uint64, error) {
	present, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch present {
	case 0:
		return nil, nil
	case 1:
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, errors.New(errors.ErrorTypeCodec, r.op,
			fmt.Sprintf("invalid presence byte 0x%02x", present))
	}
}

func (r *reader) optBytes(n int) ([]byte, error) {
	present, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch present {
	case 0:
		return nil, nil
	case 1:
		return r.bytes(n)
	default:
		return nil, errors.New(errors.ErrorTypeCodec, r.op,
			fmt.Sprintf("invalid presence byte 0x%02x", present))
	}
}

// done rejects any unconsumed trailing bytes
func (r *reader) done() error {
	if r.pos != len(r.buf) {
		return errors.New(errors.ErrorTypeCodec, r.op,
			fmt.Sprintf("%d trailing bytes after message", len(r.buf)-r.pos))
	}
	return nil
}
