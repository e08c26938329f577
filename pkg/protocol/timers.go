package protocol

import (
	"sync"
	"time"
)

// TimerKind identifies one of the controller timers.
type TimerKind uint8

const (
	// TimerCadence drives periodic acquisition.
	TimerCadence TimerKind = iota
	// TimerDisconnect tears the link down after a grace delay.
	TimerDisconnect
	// TimerWake stands for an external re-power after the rails were released.
	TimerWake
)

func (k TimerKind) String() string {
	switch k {
	case TimerCadence:
		return "cadence"
	case TimerDisconnect:
		return "disconnect"
	case TimerWake:
		return "wake"
	default:
		return "unknown"
	}
}

// Timers arms one-shot timers whose expiry is delivered to the controller
// loop. Starting an armed timer re-arms it.
type Timers interface {
	Start(k TimerKind, d time.Duration)
	Stop(k TimerKind)
}

// Clock implements Timers on time.AfterFunc and posts expiries into a channel.
type Clock struct {
	mu     sync.Mutex
	timers map[TimerKind]*time.Timer
	gen    map[TimerKind]uint64
	c      chan TimerKind
	done   chan struct{}
	closed bool
}

// NewClock creates a timer source.
func NewClock() *Clock {
	return &Clock{
		timers: make(map[TimerKind]*time.Timer),
		gen:    make(map[TimerKind]uint64),
		c:      make(chan TimerKind, 8),
		done:   make(chan struct{}),
	}
}

// C returns the channel of expired timers.
func (c *Clock) C() <-chan TimerKind {
	return c.c
}

func (c *Clock) Start(k TimerKind, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if t, ok := c.timers[k]; ok {
		t.Stop()
	}
	c.gen[k]++
	g := c.gen[k]
	c.timers[k] = time.AfterFunc(d, func() { c.fire(k, g) })
}

func (c *Clock) Stop(k TimerKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[k]; ok {
		t.Stop()
		delete(c.timers, k)
	}
	c.gen[k]++
}

// Close stops every timer. Pending expiries are discarded.
func (c *Clock) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for k, t := range c.timers {
		t.Stop()
		delete(c.timers, k)
	}
	close(c.done)
}

func (c *Clock) fire(k TimerKind, g uint64) {
	c.mu.Lock()
	if c.closed || c.gen[k] != g {
		c.mu.Unlock()
		return
	}
	delete(c.timers, k)
	c.mu.Unlock()

	select {
	case c.c <- k:
	case <-c.done:
	}
}
