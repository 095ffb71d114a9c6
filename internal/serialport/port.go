// Package serialport adapts UART devices to the byte source the frame reader
// pulls from. Real ports are opened through go.bug.st/serial; tests and dev
// mode use the in-memory and simulated ports from this package.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Porter defines the minimal interface needed for a serial port.
// go.bug.st/serial.Port satisfies it; so do the in-memory test ports.
type Porter interface {
	io.Reader
	io.Closer
	// SetReadTimeout bounds each Read. A Read that times out returns 0, nil.
	SetReadTimeout(t time.Duration) error
	// ResetInputBuffer discards received but unread bytes.
	ResetInputBuffer() error
}

// ErrClosed is returned once the port has been closed.
var ErrClosed = errors.New("serial port closed")

// Port turns a Porter into a frame source with a bounded frame read.
type Port struct {
	mu      sync.Mutex
	p       Porter
	timeout time.Duration
	now     func() time.Time
	closed  bool
}

// NewPort wraps p. Every ReadFull waits at most timeout in total.
func NewPort(p Porter, timeout time.Duration) (*Port, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return &Port{p: p, timeout: timeout, now: time.Now}, nil
}

// Buffered reports bytes already received when the underlying port can tell;
// real UARTs cannot, and are flushed with ResetInputBuffer instead.
func (s *Port) Buffered() int {
	if b, ok := s.p.(interface{ Buffered() int }); ok {
		return b.Buffered()
	}
	return 0
}

// ReadByte reads one byte, waiting at most the read timeout.
func (s *Port) ReadByte() (byte, error) {
	var b [1]byte
	n, err := s.ReadFull(b[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.ErrNoProgress
	}
	return b[0], nil
}

// ReadFull keeps reading until p is full or the read timeout has elapsed.
// A short count with a nil error means the deadline passed.
func (s *Port) ReadFull(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	deadline := s.now().Add(s.timeout)
	got := 0
	for got < len(p) {
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			break
		}
		if err := s.p.SetReadTimeout(remaining); err != nil {
			return got, err
		}
		n, err := s.p.Read(p[got:])
		got += n
		if err != nil {
			return got, err
		}
		if n == 0 {
			break
		}
	}
	return got, nil
}

// ResetInputBuffer discards whatever the UART has buffered.
func (s *Port) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.p.ResetInputBuffer()
}

// Close closes the underlying port. It is safe to call more than once.
func (s *Port) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.p.Close()
}
