package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// plpReader assembles a PLP ("Partially Length-Prefixed", i.e. "(max)")
// value from its chunk sequence: an 8-byte total-length sentinel (which
// may be PLPNull, PLPUnknownLen, or a real byte count), followed by zero
// or more (4-byte chunk length, chunk bytes) pairs, terminated by a
// 4-byte zero chunk length.
type plpReader struct {
	r io.Reader
}

// readPLP reads a complete PLP value from r. It returns (nil, nil) for a
// PLP NULL. For a known total length it preallocates; for the unknown-
// length sentinel it grows as chunks arrive.
func readPLP(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("tds: reading PLP total length: %w", err)
	}
	totalLen := binary.LittleEndian.Uint64(lenBuf[:])

	if totalLen == PLPNull {
		return nil, nil
	}

	var out []byte
	if totalLen != PLPUnknownLen && totalLen <= (1<<32) {
		out = make([]byte, 0, totalLen)
	}

	for {
		var chunkLenBuf [4]byte
		if _, err := io.ReadFull(r, chunkLenBuf[:]); err != nil {
			return nil, fmt.Errorf("tds: reading PLP chunk length: %w", err)
		}
		chunkLen := binary.LittleEndian.Uint32(chunkLenBuf[:])
		if chunkLen == 0 {
			break
		}
		chunk := make([]byte, chunkLen)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("tds: reading PLP chunk: %w", err)
		}
		out = append(out, chunk...)
	}

	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// skipPLP discards a PLP value without retaining its bytes, used by
// SkipValue when the parser is in skip mode (attention drain).
func skipPLP(r io.Reader) error {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("tds: reading PLP total length: %w", err)
	}
	if binary.LittleEndian.Uint64(lenBuf[:]) == PLPNull {
		return nil
	}

	var chunkLenBuf [4]byte
	discard := make([]byte, 4096)
	for {
		if _, err := io.ReadFull(r, chunkLenBuf[:]); err != nil {
			return fmt.Errorf("tds: reading PLP chunk length: %w", err)
		}
		chunkLen := binary.LittleEndian.Uint32(chunkLenBuf[:])
		if chunkLen == 0 {
			return nil
		}
		remaining := int64(chunkLen)
		for remaining > 0 {
			n := int64(len(discard))
			if remaining < n {
				n = remaining
			}
			if _, err := io.ReadFull(r, discard[:n]); err != nil {
				return fmt.Errorf("tds: discarding PLP chunk: %w", err)
			}
			remaining -= n
		}
	}
}
