// Package wire implements the length-prefixed chunk framing used by
// every request and reply on the supervisor's control socket.
//
// Each chunk is 2-byte big-endian length, 2-byte big-endian channel id
// (cid), then exactly length bytes of payload. The high bit of the
// length field (ChunkExt) marks a non-final chunk: another chunk with
// the same cid continues the same logical message.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// ChunkSize is the largest payload a single chunk may carry.
	ChunkSize = 16384

	// ChunkExt is the continuation bit of the 16-bit length field.
	ChunkExt uint16 = 0x8000

	lengthMask uint16 = 0x7fff
)

// ErrIllegalLength is returned for a zero-length chunk or a declared
// length that does not fit the protocol's constraints; the caller must
// close the connection on this error.
var ErrIllegalLength = fmt.Errorf("wire: illegal chunk length")

// Conn wraps a byte stream with the chunk framing protocol. It is not
// safe for concurrent use; the RPC server gives each accepted
// connection its own goroutine and its own Conn.
type Conn struct {
	r *bufio.Reader
	w io.Writer
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: rw}
}

// ReadFrame reads one logical message: it assembles however many
// continuation chunks make it up and returns their concatenated
// payload along with the cid they all shared.
func (c *Conn) ReadFrame() (cid uint16, payload []byte, err error) {
	var buf []byte
	for {
		var lenBuf, cidBuf [2]byte
		if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
			return 0, nil, err
		}
		rawLen := binary.BigEndian.Uint16(lenBuf[:])
		length := rawLen & lengthMask
		ext := rawLen&ChunkExt != 0
		if length == 0 || length > ChunkSize {
			return 0, nil, ErrIllegalLength
		}

		if _, err := io.ReadFull(c.r, cidBuf[:]); err != nil {
			return 0, nil, err
		}
		chunkCid := binary.BigEndian.Uint16(cidBuf[:])
		if buf == nil {
			cid = chunkCid
		} else if chunkCid != cid {
			return 0, nil, fmt.Errorf("wire: cid changed mid-message (%d -> %d)", cid, chunkCid)
		}

		chunk := make([]byte, length)
		if _, err := io.ReadFull(c.r, chunk); err != nil {
			return 0, nil, err
		}
		buf = append(buf, chunk...)

		if !ext {
			return cid, buf, nil
		}
	}
}

// WriteFrame writes payload as one or more chunks under cid, splitting
// on ChunkSize boundaries and setting ChunkExt on every chunk but the
// last. A zero-length chunk is illegal on the wire, so an empty
// payload is rejected here rather than silently producing one.
func (c *Conn) WriteFrame(cid uint16, payload []byte) error {
	if len(payload) == 0 {
		return ErrIllegalLength
	}
	for off := 0; off < len(payload); {
		end := off + ChunkSize
		more := end < len(payload)
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[off:end]

		length := uint16(len(chunk))
		if more {
			length |= ChunkExt
		}
		var header [4]byte
		binary.BigEndian.PutUint16(header[0:2], length)
		binary.BigEndian.PutUint16(header[2:4], cid)

		if _, err := c.w.Write(header[:]); err != nil {
			return err
		}
		if _, err := c.w.Write(chunk); err != nil {
			return err
		}
		off = end
	}
	return nil
}

// WriteRaw writes bytes with no framing at all. It exists solely for
// HELO, whose reply is the unframed literal "HELO" rather than a
// chunked JSON payload — see the command handler contract for why.
func (c *Conn) WriteRaw(b []byte) error {
	_, err := c.w.Write(b)
	return err
}

// ReadRaw reads exactly len(buf) unframed bytes, the counterpart to
// WriteRaw for a client expecting HELO's bare reply.
func (c *Conn) ReadRaw(buf []byte) (int, error) {
	return io.ReadFull(c.r, buf)
}
