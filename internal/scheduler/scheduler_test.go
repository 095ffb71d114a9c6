package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/particulate/internal/timeutil"
)

type fakeDevice struct {
	name     string
	interval time.Duration
	setupErr error

	// block, when set, holds every poll until it is closed.
	block   chan struct{}
	started chan struct{}

	mu        sync.Mutex
	setups    int
	polls     int
	inPoll    int
	maxInPoll int
}

func newFakeDevice(name string, interval time.Duration) *fakeDevice {
	return &fakeDevice{name: name, interval: interval, started: make(chan struct{}, 16)}
}

func (d *fakeDevice) Name() string                { return d.name }
func (d *fakeDevice) PollInterval() time.Duration { return d.interval }
func (d *fakeDevice) Describe() string            { return "fake " + d.name + "\n  line two\n" }

func (d *fakeDevice) OnSetup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setups++
	return d.setupErr
}

func (d *fakeDevice) OnPoll() {
	d.mu.Lock()
	d.polls++
	d.inPoll++
	if d.inPoll > d.maxInPoll {
		d.maxInPoll = d.inPoll
	}
	d.mu.Unlock()

	d.started <- struct{}{}
	if d.block != nil {
		<-d.block
	}

	d.mu.Lock()
	d.inPoll--
	d.mu.Unlock()
}

func (d *fakeDevice) pollCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls
}

func startScheduler(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func stopScheduler(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScheduler_PollsEachInterval(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a := newFakeDevice("a", 15*time.Second)
	b := newFakeDevice("b", 5*time.Second)

	cancel, done := startScheduler(t, New(clock, a, b))
	require.True(t, clock.WaitForTickers(2, 2*time.Second))

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return b.pollCount() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 0, a.pollCount())

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return b.pollCount() == 2 }, time.Second, time.Millisecond)
	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return a.pollCount() == 1 && b.pollCount() == 3 }, time.Second, time.Millisecond)

	stopScheduler(t, cancel, done)
	require.Equal(t, 1, a.setups)
	require.Equal(t, 1, b.setups)
}

func TestScheduler_SlowCycleDropsTicks(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	d := newFakeDevice("slow", time.Second)
	d.block = make(chan struct{})

	cancel, done := startScheduler(t, New(clock, d))
	require.True(t, clock.WaitForTickers(1, 2*time.Second))

	clock.Advance(time.Second)
	<-d.started

	// three more ticks while the first cycle is stuck; only one is kept
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
	}
	close(d.block)

	require.Eventually(t, func() bool { return d.pollCount() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, d.pollCount())

	stopScheduler(t, cancel, done)
	require.Equal(t, 1, d.maxInPoll)
}

func TestScheduler_SetupFailureIsolated(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	broken := newFakeDevice("broken", time.Second)
	broken.setupErr = errors.New("no such device")
	ok := newFakeDevice("ok", time.Second)

	cancel, done := startScheduler(t, New(clock, broken, ok))
	require.True(t, clock.WaitForTickers(1, 2*time.Second))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return ok.pollCount() == 1 }, time.Second, time.Millisecond)

	stopScheduler(t, cancel, done)
	require.Equal(t, 1, broken.setups)
	require.Equal(t, 0, broken.pollCount())
}

func TestScheduler_NoDevices(t *testing.T) {
	err := New(nil).Run(context.Background())
	require.Error(t, err)
}
