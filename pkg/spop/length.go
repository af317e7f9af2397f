package spop

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// readLengthPrefixed reads one outer SPOP frame off the wire: a 32-bit
// big-endian byte length, followed by exactly that many bytes. maxFrameSize
// bounds the length to guard against a hostile or buggy peer requesting an
// unbounded allocation.
func readLengthPrefixed(r *bufio.Reader, maxFrameSize uint32) ([]byte, error) {
	var lenBytes [4]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: frame length prefix: %w", ErrInsufficientBytes, err)
	}
	n := binary.BigEndian.Uint32(lenBytes[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: %d exceeds max-frame-size %d", ErrFrameTooBig, n, maxFrameSize)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: frame body: %w", ErrInsufficientBytes, err)
	}
	return buf, nil
}

// writeLengthPrefixed writes payload to w prefixed with its 32-bit
// big-endian byte length.
func writeLengthPrefixed(w io.Writer, payload []byte) error {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(payload)))
	if _, err := w.Write(lenBytes[:]); err != nil {
		return fmt.Errorf("writing frame length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}
