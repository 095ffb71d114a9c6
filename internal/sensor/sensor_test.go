package sensor

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/particulate/internal/frame"
	"github.com/banshee-data/particulate/internal/metrics"
	"github.com/banshee-data/particulate/internal/readings"
	"github.com/banshee-data/particulate/internal/serialport"
	"github.com/banshee-data/particulate/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu  sync.Mutex
	got []readings.Reading
}

func (r *recorder) Publish(rd readings.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, rd)
}

func (r *recorder) all() []readings.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]readings.Reading(nil), r.got...)
}

func newTestSensor(t *testing.T, tp *serialport.TestablePort, obs Observer) (*Sensor, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := New(Config{
		Name:      "kitchen",
		Layout:    frame.PMS5003Layout(),
		Open:      serialport.PorterOpener(tp, serialport.PortOptions{ReadTimeout: 20 * time.Millisecond}).Source(),
		Transport: "test 9600 8N1",
		Sink:      rec,
		Clock:     timeutil.NewMockClock(t0),
		Observer:  obs,
	})
	require.NoError(t, err)
	return s, rec
}

func encode(t *testing.T, v int) frame.Frame {
	t.Helper()
	f, err := frame.PMS5003Layout().Encode(frame.Measurement(v), nil)
	require.NoError(t, err)
	return f
}

func TestSensor_ValidThenCorrupt(t *testing.T) {
	tp := serialport.NewTestablePort()
	s, rec := newTestSensor(t, tp, nil)
	require.NoError(t, s.OnSetup())

	tp.QueueArrival(encode(t, 300))
	r, err := s.Poll()
	require.NoError(t, err)
	require.True(t, r.Valid())
	require.Equal(t, 300.0, r.Value)
	require.Equal(t, frame.OutcomeOK, r.Outcome)
	require.Equal(t, t0, r.At)

	bad := encode(t, 300)
	bad[10] ^= 0xFF
	tp.QueueArrival(bad)
	r, err = s.Poll()
	require.NoError(t, err)
	require.True(t, math.IsNaN(r.Value))
	require.Equal(t, frame.OutcomeBadCheck, r.Outcome)
	require.Contains(t, r.Detail, "checksum")

	got := rec.all()
	require.Len(t, got, 2)
	require.Equal(t, 300.0, got[0].Value)
	require.False(t, got[1].Valid())
}

func TestSensor_BadHeaderPublishesNaN(t *testing.T) {
	tp := serialport.NewTestablePort()
	s, rec := newTestSensor(t, tp, nil)
	require.NoError(t, s.OnSetup())

	bad := encode(t, 42)
	bad[1] = 0x4E
	tp.QueueArrival(bad)
	s.OnPoll()

	got := rec.all()
	require.Len(t, got, 1)
	require.Equal(t, frame.OutcomeBadHeader, got[0].Outcome)
	require.False(t, got[0].Valid())
}

func TestSensor_IncompleteFramePublishesOnce(t *testing.T) {
	tp := serialport.NewTestablePort()
	s, rec := newTestSensor(t, tp, nil)
	require.NoError(t, s.OnSetup())

	tp.QueueArrival(encode(t, 300)[:20])
	s.OnPoll()

	got := rec.all()
	require.Len(t, got, 1)
	require.Equal(t, frame.OutcomeIncomplete, got[0].Outcome)
	require.Contains(t, got[0].Detail, "20")
	require.True(t, math.IsNaN(got[0].Value))
}

func TestSensor_StaleBytesAreFlushed(t *testing.T) {
	tp := serialport.NewTestablePort()
	s, rec := newTestSensor(t, tp, nil)
	require.NoError(t, s.OnSetup())

	tp.AddReadData(encode(t, 999)[:17])
	tp.QueueArrival(encode(t, 12))
	s.OnPoll()

	got := rec.all()
	require.Len(t, got, 1)
	require.Equal(t, 12.0, got[0].Value)
	require.Equal(t, 1, tp.ResetCalls)
}

func TestSensor_SetupFailureDisablesPolling(t *testing.T) {
	rec := &recorder{}
	s, err := New(Config{
		Name:   "porch",
		Layout: frame.PMS5003Layout(),
		Open:   func() (frame.Source, error) { return nil, errors.New("no such device") },
		Sink:   rec,
	})
	require.NoError(t, err)

	require.ErrorContains(t, s.OnSetup(), "no such device")
	// a second call reports the same failure without reopening
	require.ErrorContains(t, s.OnSetup(), "no such device")

	s.OnPoll()
	_, err = s.Poll()
	require.ErrorIs(t, err, ErrNotFunctional)
	require.Empty(t, rec.all())

	st := s.Status()
	require.False(t, st.Functional)
	require.Contains(t, st.SetupError, "no such device")
	require.Contains(t, s.Describe(), "FAILED")
}

func TestSensor_PollBeforeSetup(t *testing.T) {
	tp := serialport.NewTestablePort()
	s, rec := newTestSensor(t, tp, nil)

	_, err := s.Poll()
	require.ErrorIs(t, err, ErrNotFunctional)
	require.Empty(t, rec.all())
	require.Contains(t, s.Describe(), "not set up")
}

func TestSensor_StatusCountsOutcomes(t *testing.T) {
	tp := serialport.NewTestablePort()
	s, _ := newTestSensor(t, tp, nil)
	require.NoError(t, s.OnSetup())

	tp.QueueArrival(encode(t, 1))
	s.OnPoll()
	s.OnPoll() // nothing on the wire

	st := s.Status()
	require.True(t, st.Functional)
	require.Equal(t, "idle", st.State)
	require.Equal(t, uint64(2), st.Cycles)
	require.Equal(t, map[string]uint64{
		frame.OutcomeOK:         1,
		frame.OutcomeIncomplete: 1,
	}, st.Outcomes)
	require.NotNil(t, st.Last)
	require.Equal(t, frame.OutcomeIncomplete, st.Last.Outcome)
	require.Equal(t, "15s", st.Interval)
}

func TestSensor_ObserverReceivesCycles(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSensorMetrics(reg)

	tp := serialport.NewTestablePort()
	s, _ := newTestSensor(t, tp, m)
	require.NoError(t, s.OnSetup())

	tp.QueueArrival(encode(t, 77))
	s.OnPoll()
	s.OnPoll()

	require.Equal(t, 1.0, promtest.ToFloat64(m.Functional.WithLabelValues("kitchen")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.Cycles.WithLabelValues("kitchen", frame.OutcomeOK)))
	require.Equal(t, 1.0, promtest.ToFloat64(m.Cycles.WithLabelValues("kitchen", frame.OutcomeIncomplete)))
	require.Equal(t, 77.0, promtest.ToFloat64(m.LastValue.WithLabelValues("kitchen")))
}

func TestSensor_DescribeAndClose(t *testing.T) {
	tp := serialport.NewTestablePort()
	s, _ := newTestSensor(t, tp, nil)
	require.NoError(t, s.OnSetup())

	d := s.Describe()
	for _, want := range []string{
		`Sensor "kitchen":`,
		"Transport: test 9600 8N1",
		"Frame Length: 32 bytes",
		"Sync Header: 42 4D",
		"Checksum: 2-byte big-endian sum of [0,30) at offset 30",
		"Value Bytes: high=6 low=7",
		"Update Interval: 15s",
		"Status: functional",
	} {
		require.True(t, strings.Contains(d, want), "missing %q in:\n%s", want, d)
	}

	require.Equal(t, "kitchen", s.Name())
	require.Equal(t, 15*time.Second, s.PollInterval())

	require.NoError(t, s.Close())
	require.True(t, tp.Closed)
	_, err := s.Poll()
	require.ErrorIs(t, err, ErrNotFunctional)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	open := func() (frame.Source, error) { return nil, nil }
	sink := readings.SinkFunc(func(readings.Reading) {})

	_, err := New(Config{Layout: frame.PMS5003Layout(), Open: open, Sink: sink})
	require.Error(t, err)

	_, err = New(Config{Name: "x", Layout: frame.Layout{}, Open: open, Sink: sink})
	require.Error(t, err)

	_, err = New(Config{Name: "x", Layout: frame.PMS5003Layout(), Sink: sink})
	require.Error(t, err)

	_, err = New(Config{Name: "x", Layout: frame.PMS5003Layout(), Open: open})
	require.Error(t, err)
}
