package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frameHeaderSize is the size of the fixed frame header:
//
//	[8 byte shard id][8 byte request id][4 byte payload length]
//
// All integers are big endian.
const frameHeaderSize = 20

// defaultMaxFrameSize bounds the payload a peer may announce
const defaultMaxFrameSize = 64 << 20

// frameHeader is the decoded fixed part of a frame
type frameHeader struct {
	shardID   uint64
	requestID uint64
	length    uint32
}

// writeFrame writes header and payload with a single vectored write
func writeFrame(conn net.Conn, shardID, requestID uint64, payload []byte) error {
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], shardID)
	binary.BigEndian.PutUint64(hdr[8:16], requestID)
	binary.BigEndian.PutUint32(hdr[16:20], uint32(len(payload)))

	bufs := net.Buffers{hdr[:], payload}
	_, err := bufs.WriteTo(conn)
	return err
}

// readFrame reads one frame. The payload is read into buf if it fits, otherwise
// into a new slice, so the caller must not assume the result aliases buf.
// Payloads larger than maxSize are rejected before anything is allocated.
func readFrame(r io.Reader, buf []byte, maxSize int) (frameHeader, []byte, error) {
	var raw [frameHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return frameHeader{}, nil, err
	}
	hdr := frameHeader{
		shardID:   binary.BigEndian.Uint64(raw[0:8]),
		requestID: binary.BigEndian.Uint64(raw[8:16]),
		length:    binary.BigEndian.Uint32(raw[16:20]),
	}

	if maxSize <= 0 {
		maxSize = defaultMaxFrameSize
	}
	if int64(hdr.length) > int64(maxSize) {
		return hdr, nil, fmt.Errorf("frame of %d bytes exceeds limit of %d bytes", hdr.length, maxSize)
	}

	n := int(hdr.length)
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		return hdr, nil, err
	}
	return hdr, buf, nil
}
