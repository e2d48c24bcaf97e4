package state

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic millisecond counter that wraps at 2^32.
type Clock interface {
	NowMs() uint32
}

// Elapsed returns now - since using unsigned wraparound arithmetic, so the
// result stays correct when the counter overflows between the two readings.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) NowMs() uint32 {
	// Truncation to 32 bits is the intended wrap.
	return uint32(time.Since(c.start).Milliseconds())
}

// FakeClock is a manually advanced clock for tests and replay.
type FakeClock struct {
	ms atomic.Uint32
}

func NewFakeClock(start uint32) *FakeClock {
	c := &FakeClock{}
	c.ms.Store(start)
	return c
}

func (c *FakeClock) NowMs() uint32 {
	return c.ms.Load()
}

func (c *FakeClock) Set(ms uint32) {
	c.ms.Store(ms)
}

// Advance moves the clock forward by d milliseconds, wrapping at 2^32.
func (c *FakeClock) Advance(d uint32) {
	c.ms.Add(d)
}
