package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// maxFrameSize guards against a corrupt or hostile length header causing an
// unbounded allocation.
const maxFrameSize = 16 << 20

// ErrBadFrame covers any malformed or truncated frame (spec.md §4.2, §7
// "framing/codec failures close the link without cascading").
var ErrBadFrame = errors.New("core: malformed frame")

// writeFrame writes payload prefixed with its big-endian u32 length
// (spec.md §4.2: "u32 BE length || payload").
func writeFrame(conn net.Conn, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("core: write frame header: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("core: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads exactly one length-prefixed frame, coalescing whatever
// short reads TCP hands back. A clean close before any bytes arrive
// surfaces as io.EOF; a close mid-frame is ErrBadFrame.
func readFrame(conn net.Conn) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: header: %v", ErrBadFrame, err)
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxFrameSize {
		return nil, ErrBadFrame
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrBadFrame, err)
	}
	return payload, nil
}
