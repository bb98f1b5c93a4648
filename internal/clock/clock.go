// Package clock lets the emitter's timers be driven by tests. Production
// code uses Real(); tests use Fake() and advance time explicitly.
package clock

import "time"

type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker mirrors time.Ticker. C has capacity 1; ticks are dropped when the
// reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

func (t *Ticker) Stop() { t.stopFunc() }

type realClock struct{}

func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stopFunc: t.Stop}
}
