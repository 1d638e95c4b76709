// Package scheduler drives a callback at a fixed rate.
//
// Firing times are computed from the previous scheduled time, never from
// when the callback finished, and overlapping callbacks are not
// suppressed: callers that need re-entrancy protection must provide it.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "mmstatus/internal/log"
)

// ErrRunning is returned by Start on a scheduler that is already running.
var ErrRunning = errors.New("scheduler: already running")

// Scheduler fires a callback immediately and then every interval.
type Scheduler struct {
	mu   sync.Mutex
	cron *cron.Cron
	stop chan struct{}
}

// New returns a stopped Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Start invokes onTick once right away and then every interval. Each
// invocation runs on its own goroutine. A panicking onTick is recovered
// and logged; it never ends the schedule.
func (s *Scheduler) Start(interval time.Duration, onTick func()) error {
	if interval < time.Second {
		return errors.New("scheduler: interval must be at least one second")
	}
	if onTick == nil {
		return errors.New("scheduler: nil callback")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrRunning
	}

	logger := appLog.CronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	job := c.Schedule(cron.Every(interval), cron.FuncJob(onTick))
	appLog.Debug("scheduler started", "interval", interval, "entry", job)

	stop := make(chan struct{})
	s.cron = c
	s.stop = stop

	c.Start()

	// The first firing is immediate; cron's Every only fires after one
	// full interval.
	go func() {
		select {
		case <-stop:
			return
		default:
		}
		runRecovered(onTick)
	}()

	return nil
}

// Stop cancels future firings. Callbacks already dispatched are not
// waited for and run to completion on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	close(s.stop)
	s.cron.Stop()
	s.cron = nil
	s.stop = nil
	appLog.Debug("scheduler stopped")
}

// Running reports whether future firings are scheduled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

func runRecovered(f func()) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("scheduler: tick panicked", errors.New("panic"), "value", r)
		}
	}()
	f()
}
