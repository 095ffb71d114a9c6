// Package scheduler drives polled devices: one setup call each, then one poll
// per interval for every device whose setup succeeded.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/particulate/internal/monitoring"
	"github.com/banshee-data/particulate/internal/timeutil"
)

// PolledDevice is anything the scheduler can set up and poll.
type PolledDevice interface {
	Name() string
	PollInterval() time.Duration
	// OnSetup runs once before any poll. A device that returns an error is
	// never polled.
	OnSetup() error
	OnPoll()
	Describe() string
}

// Scheduler runs each device on its own ticker. Cycles of one device never
// overlap: a tick that arrives while a cycle is still running is dropped.
type Scheduler struct {
	clock   timeutil.Clock
	devices []PolledDevice
	logf    func(format string, v ...interface{})
}

// New returns a Scheduler for devices. A nil clock means the real clock.
func New(clock timeutil.Clock, devices ...PolledDevice) *Scheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{
		clock:   clock,
		devices: devices,
		logf:    monitoring.Tagged("scheduler"),
	}
}

// Run sets up every device, then polls until ctx is cancelled. It returns
// once all poll loops have stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.devices) == 0 {
		return errors.New("scheduler: no devices configured")
	}

	var wg sync.WaitGroup
	active := 0
	for _, d := range s.devices {
		err := d.OnSetup()
		for _, line := range strings.Split(strings.TrimRight(d.Describe(), "\n"), "\n") {
			s.logf("%s", line)
		}
		if err != nil {
			s.logf("device %s will not be polled: %v", d.Name(), err)
			continue
		}
		if d.PollInterval() <= 0 {
			s.logf("device %s has no poll interval, not polling", d.Name())
			continue
		}
		active++
		wg.Add(1)
		go func(d PolledDevice) {
			defer wg.Done()
			s.loop(ctx, d)
		}(d)
	}
	s.logf("polling %d of %d devices", active, len(s.devices))

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, d PolledDevice) {
	t := s.clock.NewTicker(d.PollInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			d.OnPoll()
		}
	}
}
