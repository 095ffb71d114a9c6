// Package frame reads and validates fixed-length, header-synchronised,
// sum-checksummed sensor frames from a byte stream.
//
// A Layout describes where the sync header, the checksum span, the received
// checksum field and the reported measurement live in a frame. The Reader
// pulls one frame per call from a Source; Validate checks it and extracts
// the measurement.
package frame

import (
	"errors"
	"fmt"
	"time"
)

// ByteOrder selects how a multi-byte field is read from a frame.
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (o ByteOrder) String() string {
	switch o {
	case BigEndian:
		return "big-endian"
	case LittleEndian:
		return "little-endian"
	default:
		return fmt.Sprintf("ByteOrder(%d)", int(o))
	}
}

// Checksum describes an additive checksum. The bytes in [Start, End) are
// summed modulo 2^(8*Width) and compared with the Width-byte field stored at
// Offset. The span may include the field itself; nothing prevents it.
type Checksum struct {
	Width  int
	Order  ByteOrder
	Start  int
	End    int
	Offset int
}

// Layout is the immutable description of one sensor's frame format.
type Layout struct {
	Length       int
	Header       []byte
	Checksum     Checksum
	ValueHigh    int
	ValueLow     int
	PollInterval time.Duration
}

// DefaultPollInterval matches the 15 s update interval of the particulate
// sensors this package was written for.
const DefaultPollInterval = 15 * time.Second

// PMS5003Layout is the Plantower-style 32 byte frame: 16-bit big-endian sum
// of bytes [0,30) stored at 30, PM2.5 (CF=1) at bytes 6 and 7.
func PMS5003Layout() Layout {
	return Layout{
		Length: 32,
		Header: []byte{0x42, 0x4D},
		Checksum: Checksum{
			Width:  2,
			Order:  BigEndian,
			Start:  0,
			End:    30,
			Offset: 30,
		},
		ValueHigh:    6,
		ValueLow:     7,
		PollInterval: DefaultPollInterval,
	}
}

// SSAP10Layout is the 32 byte SSAP10 variant: a single byte sum of bytes
// [0,31) stored in the last byte.
func SSAP10Layout() Layout {
	return Layout{
		Length: 32,
		Header: []byte{0x42, 0x4D},
		Checksum: Checksum{
			Width:  1,
			Order:  BigEndian,
			Start:  0,
			End:    31,
			Offset: 31,
		},
		ValueHigh:    6,
		ValueLow:     7,
		PollInterval: DefaultPollInterval,
	}
}

// Preset returns a named layout.
func Preset(name string) (Layout, error) {
	switch name {
	case "pms5003", "makerfabs_pm25":
		return PMS5003Layout(), nil
	case "ssap10":
		return SSAP10Layout(), nil
	default:
		return Layout{}, fmt.Errorf("unknown frame preset %q", name)
	}
}

// Validate reports every constraint the layout violates.
func (l Layout) Validate() error {
	var errs []error
	if l.Length <= 0 {
		errs = append(errs, fmt.Errorf("frame length %d must be positive", l.Length))
	}
	if len(l.Header) > l.Length {
		errs = append(errs, fmt.Errorf("sync header of %d bytes does not fit a %d byte frame", len(l.Header), l.Length))
	}

	c := l.Checksum
	if c.Width != 1 && c.Width != 2 {
		errs = append(errs, fmt.Errorf("checksum width %d: supported values are 1 or 2", c.Width))
	}
	if c.Order != BigEndian && c.Order != LittleEndian {
		errs = append(errs, fmt.Errorf("unsupported checksum byte order %v", c.Order))
	}
	if c.Start < 0 || c.End > l.Length || c.Start >= c.End {
		errs = append(errs, fmt.Errorf("checksum span [%d,%d) is not inside a %d byte frame", c.Start, c.End, l.Length))
	}
	if c.Offset < 0 || c.Offset+c.Width > l.Length {
		errs = append(errs, fmt.Errorf("checksum field at offset %d (width %d) is outside a %d byte frame", c.Offset, c.Width, l.Length))
	}

	if l.ValueHigh < 0 || l.ValueHigh >= l.Length {
		errs = append(errs, fmt.Errorf("value high byte index %d out of range", l.ValueHigh))
	}
	if l.ValueLow < 0 || l.ValueLow >= l.Length {
		errs = append(errs, fmt.Errorf("value low byte index %d out of range", l.ValueLow))
	}
	if l.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval %v must be positive", l.PollInterval))
	}
	return errors.Join(errs...)
}

// Clone returns a copy that shares no memory with l.
func (l Layout) Clone() Layout {
	c := l
	c.Header = append([]byte(nil), l.Header...)
	return c
}

// String renders the layout for config dumps.
func (l Layout) String() string {
	c := l.Checksum
	return fmt.Sprintf("length=%d header=% X checksum=%d-byte %v sum of [%d,%d) at %d value=[%d,%d]",
		l.Length, l.Header, c.Width, c.Order, c.Start, c.End, c.Offset, l.ValueHigh, l.ValueLow)
}
