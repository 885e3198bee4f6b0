// Package sv2 implements the Stratum V2 framing and the message codecs
// Hashpool needs: the mint-quote sub-protocol carried between pool and
// mint, the extension messages carried on the mining connection, and a
// minimal set of mining messages for the extended-share exchange.
//
// Frame layout (all little-endian):
//
//	extension_type u16 | msg_type u8 | msg_length u24 | payload
//
// The top bit of extension_type is the channel_msg bit. Mining and
// extension messages are channel-scoped; mint-quote messages are
// connection-scoped.
package sv2

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashpool/hashpool/pkg/errors"
)

const (
	// HeaderSize is the fixed SV2 frame header length
	HeaderSize = 6
	// MaxPayloadSize is the largest payload a u24 length can carry
	MaxPayloadSize = 1<<24 - 1

	// ChannelBit marks a frame as channel-scoped
	ChannelBit uint16 = 0x8000

	// ExtTypeMining is the standard mining sub-protocol discriminant
	ExtTypeMining uint16 = 0x0000
	// ExtTypeMintQuote is the dedicated mint-quote sub-protocol
	// discriminant used on the pool-to-mint link
	ExtTypeMintQuote uint16 = 0x0010
)

// Mining message types (subset used by the extended-share exchange)
const (
	MsgTypeOpenExtendedMiningChannel        = 0x13
	MsgTypeOpenExtendedMiningChannelSuccess = 0x14
	MsgTypeSubmitSharesExtended             = 0x1B
	MsgTypeSubmitSharesSuccess              = 0x1C
	MsgTypeSubmitSharesError                = 0x1D
)

// Mint-quote sub-protocol message types
const (
	MsgTypeMintQuoteRequest  = 0x80
	MsgTypeMintQuoteResponse = 0x81
	MsgTypeMintQuoteError    = 0x82
)

// Extension message types on the mining connection. Anything at or
// above ExtensionRangeStart is dispatched to the extension handler.
const (
	ExtensionRangeStart          = 0xC0
	MsgTypeMintQuoteNotification = 0xC0
	MsgTypeMintQuoteFailure      = 0xC1
)

// Frame is one SV2 frame
type Frame struct {
	ExtensionType uint16
	MsgType       byte
	Payload       []byte
}

// ChannelScoped reports whether the channel_msg bit is set
func (f *Frame) ChannelScoped() bool {
	return f.ExtensionType&ChannelBit != 0
}

// Encode serializes the frame header and payload
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, errors.New(errors.ErrorTypeCodec, "encode_frame",
			fmt.Sprintf("payload length %d exceeds u24", len(f.Payload)))
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], f.ExtensionType)
	buf[2] = f.MsgType
	buf[3] = byte(len(f.Payload))
	buf[4] = byte(len(f.Payload) >> 8)
	buf[5] = byte(len(f.Payload) >> 16)
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// ReadFrame reads one frame from r
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := int(header[3]) | int(header[4])<<8 | int(header[5])<<16
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Frame{
		ExtensionType: binary.LittleEndian.Uint16(header[0:2]),
		MsgType:       header[2],
		Payload:       payload,
	}, nil
}

// Framer reads and writes SV2 frames on a net.Conn with deadlines.
// Writes are serialized so multiple tasks can share one sender.
type Framer struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex
}

// NewFramer wraps a connection. Zero timeouts disable deadlines.
func NewFramer(conn net.Conn, readTimeout, writeTimeout time.Duration) *Framer {
	return &Framer{
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Read reads the next frame, applying the read deadline
func (fr *Framer) Read() (*Frame, error) {
	if fr.readTimeout > 0 {
		if err := fr.conn.SetReadDeadline(time.Now().Add(fr.readTimeout)); err != nil {
			return nil, err
		}
	}
	return ReadFrame(fr.conn)
}

// Write writes one frame, applying the write deadline
func (fr *Framer) Write(f *Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}

	fr.writeMu.Lock()
	defer fr.writeMu.Unlock()

	if fr.writeTimeout > 0 {
		if err := fr.conn.SetWriteDeadline(time.Now().Add(fr.writeTimeout)); err != nil {
			return err
		}
	}
	_, err = fr.conn.Write(data)
	return err
}

// Close closes the underlying connection
func (fr *Framer) Close() error {
	return fr.conn.Close()
}

// RemoteAddr returns the remote address of the underlying connection
func (fr *Framer) RemoteAddr() string {
	return fr.conn.RemoteAddr().String()
}
