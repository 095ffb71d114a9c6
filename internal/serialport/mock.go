package serialport

import (
	"bytes"
	"sync"
	"time"
)

// TestablePort implements Porter with configurable behaviour for testing.
//
// Bytes written with AddReadData are already sitting in the receive buffer.
// Chunks queued with QueueArrival only show up once a Read finds the buffer
// empty, which is how a UART looks when the sensor transmits after the host
// started waiting.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// arrivals are delivered one chunk per empty-buffer Read
	arrivals [][]byte

	// ReadError is returned by the next Read call if set
	ReadError error

	// CloseError is returned by Close if set
	CloseError error

	// ResetError is returned by the next ResetInputBuffer call if set
	ResetError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// ResetCalls records the number of ResetInputBuffer calls
	ResetCalls int

	// ReadTimeout is the most recent read timeout
	ReadTimeout time.Duration
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	return &TestablePort{ReadBuffer: bytes.NewBuffer(nil)}
}

// Read returns buffered bytes, then the next queued arrival. With nothing
// left it behaves like an expired read timeout and returns 0, nil.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, ErrClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadBuffer.Len() == 0 && len(t.arrivals) > 0 {
		t.ReadBuffer.Write(t.arrivals[0])
		t.arrivals = t.arrivals[1:]
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Buffered reports bytes that arrived before the current read.
func (t *TestablePort) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ReadBuffer.Len()
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	return t.CloseError
}

// SetReadTimeout records the timeout.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// ResetInputBuffer drops everything in the receive buffer. Queued arrivals
// have not been received yet and survive.
func (t *TestablePort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ResetCalls++
	if t.ResetError != nil {
		err := t.ResetError
		t.ResetError = nil
		return err
	}
	t.ReadBuffer.Reset()
	return nil
}

// AddReadData puts data straight into the receive buffer.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
}

// QueueArrival schedules data to arrive during a later read.
func (t *TestablePort) QueueArrival(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.arrivals = append(t.arrivals, append([]byte(nil), data...))
}
