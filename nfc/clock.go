package nfc

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations so command timeouts and
// presence polling can be driven from tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
	After(d time.Duration) <-chan time.Time
}

// Ticker is an interface for time.Ticker to enable testing
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// Timer is an interface for time.Timer to enable testing
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock implements Clock using actual time operations
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return &RealClock{}
}

func (rc *RealClock) Now() time.Time {
	return time.Now()
}

func (rc *RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

func (rc *RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

func (rc *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type realTicker struct {
	ticker *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time   { return rt.ticker.C }
func (rt *realTicker) Stop()                 { rt.ticker.Stop() }
func (rt *realTicker) Reset(d time.Duration) { rt.ticker.Reset(d) }

type realTimer struct {
	timer *time.Timer
}

func (rt *realTimer) C() <-chan time.Time        { return rt.timer.C }
func (rt *realTimer) Stop() bool                 { return rt.timer.Stop() }
func (rt *realTimer) Reset(d time.Duration) bool { return rt.timer.Reset(d) }

// FakeClock implements Clock for testing with controllable time. Timers and
// tickers fire only from Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(startTime time.Time) *FakeClock {
	return &FakeClock{now: startTime}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTicker{
		clock:    fc,
		interval: d,
		next:     fc.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	fc.tickers = append(fc.tickers, ft)
	return ft
}

func (fc *FakeClock) NewTimer(d time.Duration) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.newTimerLocked(d)
}

func (fc *FakeClock) After(d time.Duration) <-chan time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.newTimerLocked(d).c
}

func (fc *FakeClock) newTimerLocked(d time.Duration) *fakeTimer {
	ft := &fakeTimer{
		clock:    fc,
		deadline: fc.now.Add(d),
		c:        make(chan time.Time, 1),
		armed:    true,
	}
	fc.timers = append(fc.timers, ft)
	return ft
}

// Advance moves the fake clock forward by the given duration
// and fires any tickers/timers that are due.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	for _, ticker := range fc.tickers {
		if ticker.stopped || ticker.interval <= 0 || fc.now.Before(ticker.next) {
			continue
		}
		for !fc.now.Before(ticker.next) {
			ticker.next = ticker.next.Add(ticker.interval)
		}
		select {
		case ticker.c <- fc.now:
		default:
		}
	}

	live := fc.timers[:0]
	for _, timer := range fc.timers {
		if timer.armed && !fc.now.Before(timer.deadline) {
			timer.armed = false
			select {
			case timer.c <- fc.now:
			default:
			}
		}
		if timer.armed {
			live = append(live, timer)
		}
	}
	fc.timers = live
}

// ActiveTimers returns how many timers are armed and not yet fired.
func (fc *FakeClock) ActiveTimers() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n := 0
	for _, t := range fc.timers {
		if t.armed {
			n++
		}
	}
	return n
}

func (fc *FakeClock) tracked(t *fakeTimer) bool {
	for _, x := range fc.timers {
		if x == t {
			return true
		}
	}
	return false
}

type fakeTicker struct {
	clock    *FakeClock
	interval time.Duration
	next     time.Time
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTicker) C() <-chan time.Time {
	return ft.c
}

func (ft *fakeTicker) Stop() {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	ft.stopped = true
}

func (ft *fakeTicker) Reset(d time.Duration) {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	ft.interval = d
	ft.next = ft.clock.now.Add(d)
	ft.stopped = false
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	c        chan time.Time
	armed    bool
}

func (ft *fakeTimer) C() <-chan time.Time {
	return ft.c
}

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	was := ft.armed
	ft.armed = false
	return was
}

func (ft *fakeTimer) Reset(d time.Duration) bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	was := ft.armed
	ft.deadline = ft.clock.now.Add(d)
	if !was && !ft.clock.tracked(ft) {
		ft.clock.timers = append(ft.clock.timers, ft)
	}
	ft.armed = true
	return was
}
