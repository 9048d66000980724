package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced clock. Tickers it creates only fire on Tick.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*FakeTicker
}

// NewFake returns a fake clock set to now
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake current time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// NewTicker returns a ticker that fires when Tick is called
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &FakeTicker{c: make(chan time.Time, 1), period: d}
	f.tickers = append(f.tickers, t)
	return t
}

// Tick advances the clock by each live ticker's period and fires it.
// It returns the number of tickers fired.
func (f *Fake) Tick() int {
	f.mu.Lock()
	live := make([]*FakeTicker, 0, len(f.tickers))
	for _, t := range f.tickers {
		if !t.stopped() {
			live = append(live, t)
		}
	}
	f.tickers = live
	if len(live) > 0 {
		f.now = f.now.Add(live[0].period)
	}
	now := f.now
	f.mu.Unlock()

	for _, t := range live {
		select {
		case t.c <- now:
		default:
		}
	}
	return len(live)
}

// Live reports how many tickers have not been stopped
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tickers {
		if !t.stopped() {
			n++
		}
	}
	return n
}

// FakeTicker is the ticker handed out by Fake
type FakeTicker struct {
	mu     sync.Mutex
	c      chan time.Time
	period time.Duration
	done   bool
}

// C returns the tick channel
func (t *FakeTicker) C() <-chan time.Time { return t.c }

// Stop marks the ticker stopped
func (t *FakeTicker) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *FakeTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
