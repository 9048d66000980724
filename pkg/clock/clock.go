// Package clock abstracts wall-clock reads and repeating tickers so that
// timer-driven code can be driven by hand in tests.
package clock

import "time"

// Ticker delivers ticks on C until stopped
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock is a source of wall-clock time and tickers
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Real is the system clock
type Real struct{}

// Now returns time.Now()
func (Real) Now() time.Time {
	return time.Now()
}

// NewTicker wraps time.NewTicker
func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// InLocation returns c with Now reported in loc, so date-scoped keys follow
// the configured zone rather than the host's.
func InLocation(c Clock, loc *time.Location) Clock {
	if loc == nil {
		return c
	}
	return located{Clock: c, loc: loc}
}

type located struct {
	Clock
	loc *time.Location
}

func (l located) Now() time.Time {
	return l.Clock.Now().In(l.loc)
}

// DateKey formats t as the day component used in date-scoped keys
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
