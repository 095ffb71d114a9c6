package frame

import (
	"bytes"
	"fmt"
)

// Frame is one raw, fixed-length block read from a sensor.
type Frame []byte

// Measurement is the value decoded from a validated frame.
type Measurement int

// Sum adds the bytes of the checksum span with unsigned wrap-around at the
// checksum width. c must come from a layout that passed Validate and f must
// be of that layout's length.
func Sum(f Frame, c Checksum) uint32 {
	var sum uint32
	for _, b := range f[c.Start:c.End] {
		sum += uint32(b)
	}
	return sum & mask(c.Width)
}

// Trailer reads the received checksum field. The same preconditions as Sum
// apply.
func Trailer(f Frame, c Checksum) uint32 {
	field := f[c.Offset : c.Offset+c.Width]
	if c.Width == 1 {
		return uint32(field[0])
	}
	if c.Order == LittleEndian {
		return uint32(field[1])<<8 | uint32(field[0])
	}
	return uint32(field[0])<<8 | uint32(field[1])
}

func mask(width int) uint32 {
	return uint32(1)<<(8*uint(width)) - 1
}

// Validate checks the header and checksum of f and returns the measurement.
// It neither mutates f nor keeps any state between calls. An invalid layout
// is reported as an error rather than indexed.
func Validate(f Frame, l Layout) (Measurement, error) {
	if err := l.Validate(); err != nil {
		return 0, fmt.Errorf("invalid frame layout: %w", err)
	}
	if len(f) != l.Length {
		return 0, &TransportError{Reason: ReasonIncomplete, Got: len(f), Want: l.Length}
	}

	if n := len(l.Header); !bytes.Equal(f[:n], l.Header) {
		return 0, &HeaderError{
			Expected: append([]byte(nil), l.Header...),
			Actual:   append([]byte(nil), f[:n]...),
		}
	}

	computed := Sum(f, l.Checksum)
	received := Trailer(f, l.Checksum)
	if computed != received {
		return 0, &ChecksumError{Computed: computed, Received: received}
	}

	return Measurement(int(f[l.ValueHigh])*256 + int(f[l.ValueLow])), nil
}

// Seal writes the sync header into buf and then the checksum field, so that
// buf validates against l. buf must be exactly l.Length bytes.
func (l Layout) Seal(buf []byte) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("seal: invalid frame layout: %w", err)
	}
	if len(buf) != l.Length {
		return fmt.Errorf("seal: buffer is %d bytes, layout wants %d", len(buf), l.Length)
	}
	copy(buf, l.Header)

	c := l.Checksum
	if c.Offset < c.End && c.Offset+c.Width > c.Start {
		return fmt.Errorf("seal: checksum span [%d,%d) covers its own field at %d", c.Start, c.End, c.Offset)
	}
	sum := Sum(buf, c)
	if c.Width == 1 {
		buf[c.Offset] = byte(sum)
		return nil
	}
	hi, lo := byte(sum>>8), byte(sum)
	if c.Order == LittleEndian {
		hi, lo = lo, hi
	}
	buf[c.Offset], buf[c.Offset+1] = hi, lo
	return nil
}

// Encode builds a valid frame carrying v. Bytes outside the header, value
// and checksum are taken from fill when provided.
func (l Layout) Encode(v Measurement, fill []byte) (Frame, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("encode: invalid frame layout: %w", err)
	}
	buf := make([]byte, l.Length)
	copy(buf, fill)
	buf[l.ValueHigh] = byte(v >> 8)
	buf[l.ValueLow] = byte(v)
	if err := l.Seal(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
