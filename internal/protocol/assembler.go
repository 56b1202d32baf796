package protocol

import (
	"encoding/binary"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
)

// Assembler reassembles frames from ordered chunks. Chunk boundaries need not
// line up with frame boundaries. It is not safe for concurrent use.
type Assembler struct {
	buf []byte
}

// Feed appends a chunk and returns every message completed by it.
// On error the assembler is reset and the session should be abandoned.
func (a *Assembler) Feed(chunk []byte) ([]Message, error) {
	a.buf = append(a.buf, chunk...)

	var out []Message
	for len(a.buf) >= headerSize {
		size := binary.BigEndian.Uint32(a.buf)
		if size > MaxFrameSize {
			a.Reset()
			return out, domainerrors.MalformedMessagef("frame of %d bytes exceeds limit of %d", size, MaxFrameSize)
		}
		end := headerSize + int(size)
		if len(a.buf) < end {
			break
		}

		msg, err := Decode(a.buf[headerSize:end])
		if err != nil {
			a.Reset()
			return out, err
		}
		out = append(out, msg)

		// Drop the consumed frame, keeping the remainder in a fresh slice so
		// the old payload can be collected.
		rest := a.buf[end:]
		if len(rest) == 0 {
			a.buf = nil
		} else {
			a.buf = append([]byte(nil), rest...)
		}
	}
	return out, nil
}

// Progress reports how many bytes of the current frame have arrived and how
// many are expected. expected is 0 until the frame header is complete.
func (a *Assembler) Progress() (received, expected int) {
	if len(a.buf) < headerSize {
		return len(a.buf), 0
	}
	return len(a.buf), headerSize + int(binary.BigEndian.Uint32(a.buf))
}

// Pending reports whether a partial frame is buffered.
func (a *Assembler) Pending() bool {
	return len(a.buf) > 0
}

// Reset discards any partially received frame.
func (a *Assembler) Reset() {
	a.buf = nil
}
