package serialport

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"

	"github.com/banshee-data/particulate/internal/frame"
)

// ErrDisabled is returned when a sensor is configured without hardware.
var ErrDisabled = errors.New("serial port disabled")

// Opener opens the transport for one sensor. Sensors call it from their setup
// hook so a missing device only disables that sensor.
type Opener func() (*Port, error)

// OpenReal opens the serial device at path with the given options using
// go.bug.st/serial.
func OpenReal(path string, opts PortOptions) (*Port, error) {
	if strings.TrimSpace(path) == "" || path == "disabled" {
		return nil, ErrDisabled
	}

	opts, err := opts.Normalise()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	port, err := NewPort(p, opts.ReadTimeout)
	if err != nil {
		p.Close()
		return nil, err
	}
	return port, nil
}

// RealOpener defers OpenReal until the sensor's setup hook runs.
func RealOpener(path string, opts PortOptions) Opener {
	return func() (*Port, error) {
		return OpenReal(path, opts)
	}
}

// PorterOpener wraps an already constructed Porter, such as a TestablePort
// or a SimulatedPort.
func PorterOpener(p Porter, opts PortOptions) Opener {
	return func() (*Port, error) {
		opts, err := opts.Normalise()
		if err != nil {
			return nil, err
		}
		return NewPort(p, opts.ReadTimeout)
	}
}

// Source adapts o to the transport-agnostic opener a sensor takes. A failed
// open yields a nil interface rather than a typed nil *Port.
func (o Opener) Source() func() (frame.Source, error) {
	return func() (frame.Source, error) {
		p, err := o()
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
