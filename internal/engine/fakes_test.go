package engine

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"mmstatus/internal/model"
)

// fakeProbe returns a configurable event (or error) and counts calls.
type fakeProbe struct {
	mu    sync.Mutex
	event fn.Option[model.ActiveEvent]
	err   error
	calls int
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{event: fn.None[model.ActiveEvent]()}
}

func (p *fakeProbe) ActiveEventAt(_ context.Context, _ string,
	_ time.Time) (fn.Option[model.ActiveEvent], error) {

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	return p.event, p.err
}

func (p *fakeProbe) busy(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.event = fn.Some(model.ActiveEvent{Title: title})
	p.err = nil
}

func (p *fakeProbe) free() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.event = fn.None[model.ActiveEvent]()
	p.err = nil
}

func (p *fakeProbe) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProbe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeClient records every presence update. Errors queued with failNext
// are returned by the following calls in order. A hook registered for a
// call index runs inside that call, before it returns.
type fakeClient struct {
	mu     sync.Mutex
	calls  []model.Presence
	creds  []model.Credentials
	errs   []error
	hooks  map[int]func(ctx context.Context)
	result func(ctx context.Context) error
}

func newFakeClient() *fakeClient {
	return &fakeClient{hooks: make(map[int]func(ctx context.Context))}
}

func (c *fakeClient) SetStatus(ctx context.Context, creds model.Credentials, p model.Presence) error {
	c.mu.Lock()
	idx := len(c.calls)
	c.calls = append(c.calls, p)
	c.creds = append(c.creds, creds)
	hook := c.hooks[idx]
	var err error
	if len(c.errs) > 0 {
		err, c.errs = c.errs[0], c.errs[1:]
	}
	result := c.result
	c.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err == nil && result != nil {
		err = result(ctx)
	}
	return err
}

func (c *fakeClient) failNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, errs...)
}

// dropErrors discards queued errors no call consumed.
func (c *fakeClient) dropErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = nil
}

func (c *fakeClient) onCall(idx int, hook func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[idx] = hook
}

func (c *fakeClient) history() []model.Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Presence, len(c.calls))
	copy(out, c.calls)
	return out
}

// manualScheduler hands the tick callback to the test instead of firing
// it on a timer.
type manualScheduler struct {
	mu       sync.Mutex
	onTick   func()
	interval time.Duration
	starts   int
	stops    int
}

func (s *manualScheduler) Start(interval time.Duration, onTick func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
	s.onTick = onTick
	s.starts++
	return nil
}

func (s *manualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = nil
	s.stops++
}

// fire runs the registered callback synchronously, like a timer firing.
// It reports whether a callback was registered.
func (s *manualScheduler) fire() bool {
	s.mu.Lock()
	f := s.onTick
	s.mu.Unlock()
	if f == nil {
		return false
	}
	f()
	return true
}
