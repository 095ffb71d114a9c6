package serialport

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/particulate/internal/frame"
)

// SimulatedPort is a Porter that behaves like a sensor in active mode: a
// fresh frame is always on the wire. It backs --dev mode.
type SimulatedPort struct {
	mu      sync.Mutex
	layout  frame.Layout
	rng     *rand.Rand
	pending []byte
	closed  bool
	timeout time.Duration
	frames  int

	// Base is the mean of the simulated measurement.
	Base float64
	// CorruptEvery damages one frame in every CorruptEvery; zero disables it.
	CorruptEvery int
}

// NewSimulatedPort returns a simulated sensor emitting frames in layout l.
func NewSimulatedPort(l frame.Layout, seed uint64) *SimulatedPort {
	return &SimulatedPort{
		layout:       l.Clone(),
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		Base:         12,
		CorruptEvery: 10,
	}
}

func (s *SimulatedPort) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if len(s.pending) == 0 {
		s.pending = s.nextFrame()
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *SimulatedPort) nextFrame() []byte {
	s.frames++

	fill := make([]byte, s.layout.Length)
	for i := range fill {
		fill[i] = byte(s.rng.IntN(256))
	}
	v := math.Max(0, math.Round(s.Base+s.rng.NormFloat64()*3))
	f, err := s.layout.Encode(frame.Measurement(v), fill)
	if err != nil {
		// layouts whose checksum covers itself cannot be simulated
		return fill
	}

	if s.CorruptEvery > 0 && s.frames%s.CorruptEvery == 0 {
		f[len(s.layout.Header)+s.rng.IntN(s.layout.Length-len(s.layout.Header))] ^= 0x5A
	}
	return f
}

// SetReadTimeout records the timeout; simulated reads never wait.
func (s *SimulatedPort) SetReadTimeout(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = t
	return nil
}

// ResetInputBuffer drops the part of the current frame not yet read.
func (s *SimulatedPort) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *SimulatedPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
