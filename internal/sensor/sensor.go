// Package sensor runs the poll cycle of one framed UART sensor: read a frame,
// validate it, and report either the measurement or an explicit no-reading
// marker, exactly once per tick.
package sensor

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/particulate/internal/frame"
	"github.com/banshee-data/particulate/internal/monitoring"
	"github.com/banshee-data/particulate/internal/readings"
	"github.com/banshee-data/particulate/internal/timeutil"
)

// ErrNotFunctional is returned by Poll once setup has failed, or before it
// has run.
var ErrNotFunctional = errors.New("sensor is not functional")

// State is the position of a sensor in its poll cycle.
type State int

const (
	StateIdle State = iota
	StateReading
	StateValidating
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateValidating:
		return "validating"
	case StateReporting:
		return "reporting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Observer is told about setup and every completed cycle.
type Observer interface {
	ObserveSetup(sensor string, ok bool)
	ObserveCycle(sensor, outcome string, value float64, d time.Duration)
}

// Config is fixed for the lifetime of a Sensor.
type Config struct {
	Name   string
	Layout frame.Layout
	// Open acquires the transport. It is called once, from OnSetup.
	Open func() (frame.Source, error)
	// Transport describes the transport in Describe output, e.g.
	// "/dev/ttyS0 9600 8N1".
	Transport string

	Sink     readings.Sink
	Clock    timeutil.Clock
	Observer Observer
}

// Sensor is a PolledDevice for one framed sensor.
type Sensor struct {
	name      string
	layout    frame.Layout
	open      func() (frame.Source, error)
	transport string
	sink      readings.Sink
	clock     timeutil.Clock
	observer  Observer
	logf      func(format string, v ...interface{})

	// cycleMu keeps cycles from overlapping.
	cycleMu sync.Mutex
	src     frame.Source
	reader  *frame.Reader

	mu         sync.Mutex
	state      State
	functional bool
	setupDone  bool
	setupErr   error
	cycles     uint64
	outcomes   map[string]uint64
	last       *readings.Reading
}

// New validates cfg and returns an unopened sensor.
func New(cfg Config) (*Sensor, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("sensor: name required")
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("sensor %s: invalid frame layout: %w", cfg.Name, err)
	}
	if cfg.Open == nil {
		return nil, fmt.Errorf("sensor %s: transport opener required", cfg.Name)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sensor %s: sink required", cfg.Name)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	return &Sensor{
		name:      cfg.Name,
		layout:    cfg.Layout.Clone(),
		open:      cfg.Open,
		transport: cfg.Transport,
		sink:      cfg.Sink,
		clock:     clock,
		observer:  cfg.Observer,
		logf:      monitoring.Tagged("sensor." + cfg.Name),
		outcomes:  make(map[string]uint64),
	}, nil
}

// Name returns the configured sensor name.
func (s *Sensor) Name() string { return s.name }

// PollInterval returns how often the scheduler should call OnPoll.
func (s *Sensor) PollInterval() time.Duration { return s.layout.PollInterval }

// OnSetup opens the transport. A failure disables this sensor for good but
// is otherwise harmless: OnPoll becomes a no-op.
func (s *Sensor) OnSetup() error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	if s.setupDone {
		err := s.setupErr
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.logf("Setting up sensor on %s...", s.transportLabel())
	src, err := s.open()
	if err == nil && src == nil {
		err = errors.New("opener returned no transport")
	}

	s.mu.Lock()
	s.setupDone = true
	if err != nil {
		s.setupErr = fmt.Errorf("sensor %s: setup failed: %w", s.name, err)
		s.functional = false
	} else {
		s.src = src
		s.reader = frame.NewReader(src, s.layout)
		s.functional = true
	}
	setupErr := s.setupErr
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveSetup(s.name, setupErr == nil)
	}
	if setupErr != nil {
		s.logf("Marking sensor as failed: %v", err)
	}
	return setupErr
}

// OnPoll runs one cycle. Errors are already reported through the sink.
func (s *Sensor) OnPoll() {
	_, _ = s.Poll()
}

// Poll runs one Idle→Reading→Validating→Reporting→Idle cycle and returns the
// reading it published. It publishes nothing and returns ErrNotFunctional
// when the sensor has no transport.
func (s *Sensor) Poll() (readings.Reading, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	functional := s.functional
	s.mu.Unlock()
	if !functional {
		return readings.Reading{}, ErrNotFunctional
	}

	start := s.clock.Now()

	s.setState(StateReading)
	var value frame.Measurement
	f, err := s.reader.Acquire()
	if err == nil {
		s.setState(StateValidating)
		value, err = frame.Validate(f, s.layout)
	}

	var r readings.Reading
	if err != nil {
		r = readings.Invalid(s.name, start, frame.Classify(err), err.Error())
		s.logf("%v", err)
	} else {
		r = readings.Reading{Sensor: s.name, At: start, Value: float64(value), Outcome: frame.OutcomeOK}
		s.logf("Received value: %d", value)
	}

	s.setState(StateReporting)
	s.sink.Publish(r)

	s.mu.Lock()
	s.cycles++
	s.outcomes[r.Outcome]++
	last := r
	s.last = &last
	s.state = StateIdle
	s.mu.Unlock()

	if s.observer != nil {
		v := 0.0
		if r.Valid() {
			v = r.Value
		}
		s.observer.ObserveCycle(s.name, r.Outcome, v, s.clock.Since(start))
	}
	return r, nil
}

func (s *Sensor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Sensor) transportLabel() string {
	if s.transport == "" {
		return "unnamed transport"
	}
	return s.transport
}

// Describe renders the sensor configuration, one setting per line.
func (s *Sensor) Describe() string {
	s.mu.Lock()
	functional, setupDone, setupErr := s.functional, s.setupDone, s.setupErr
	s.mu.Unlock()

	c := s.layout.Checksum
	var b strings.Builder
	fmt.Fprintf(&b, "Sensor %q:\n", s.name)
	fmt.Fprintf(&b, "  Transport: %s\n", s.transportLabel())
	fmt.Fprintf(&b, "  Frame Length: %d bytes\n", s.layout.Length)
	fmt.Fprintf(&b, "  Sync Header: % X\n", s.layout.Header)
	fmt.Fprintf(&b, "  Checksum: %d-byte %v sum of [%d,%d) at offset %d\n", c.Width, c.Order, c.Start, c.End, c.Offset)
	fmt.Fprintf(&b, "  Value Bytes: high=%d low=%d\n", s.layout.ValueHigh, s.layout.ValueLow)
	fmt.Fprintf(&b, "  Update Interval: %v\n", s.layout.PollInterval)
	switch {
	case !setupDone:
		b.WriteString("  Status: not set up\n")
	case functional:
		b.WriteString("  Status: functional\n")
	default:
		fmt.Fprintf(&b, "  Status: FAILED (%v)\n", setupErr)
	}
	return b.String()
}

// Status is a point-in-time snapshot of a sensor for the API.
type Status struct {
	Name        string            `json:"name"`
	Functional  bool              `json:"functional"`
	SetupError  string            `json:"setup_error,omitempty"`
	State       string            `json:"state"`
	Cycles      uint64            `json:"cycles"`
	Outcomes    map[string]uint64 `json:"outcomes"`
	Last        *readings.Reading `json:"last,omitempty"`
	Interval    string            `json:"interval"`
	Description string            `json:"description"`
}

// Status returns a snapshot that is safe to use from other goroutines.
func (s *Sensor) Status() Status {
	desc := s.Describe()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:        s.name,
		Functional:  s.functional,
		State:       s.state.String(),
		Cycles:      s.cycles,
		Outcomes:    make(map[string]uint64, len(s.outcomes)),
		Interval:    s.layout.PollInterval.String(),
		Description: desc,
	}
	if s.setupErr != nil {
		st.SetupError = s.setupErr.Error()
	}
	for k, v := range s.outcomes {
		st.Outcomes[k] = v
	}
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	return st
}

// Close releases the transport if it can be closed.
func (s *Sensor) Close() error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	src := s.src
	s.src, s.reader = nil, nil
	s.functional = false
	s.mu.Unlock()

	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
