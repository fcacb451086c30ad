package uarte

import "sync/atomic"

// Counters tracks receive path statistics using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	Interrupts    atomic.Uint32 // Handler invocations
	Contended     atomic.Uint32 // Invocations with no peripheral installed
	RxStarted     atomic.Uint32 // RXSTARTED events serviced
	RxErrors      atomic.Uint32 // ERROR events flushed
	FramesRelayed atomic.Uint32 // ENDRX frames accepted by the relay
	DecodeErrors  atomic.Uint32 // Frames rejected as invalid text
	RingExhausted atomic.Uint32 // Sentence starts with no free slot
	OverflowBytes atomic.Uint32 // Bytes dropped past slot capacity
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	Interrupts    uint32
	Contended     uint32
	RxStarted     uint32
	RxErrors      uint32
	FramesRelayed uint32
	DecodeErrors  uint32
	RingExhausted uint32
	OverflowBytes uint32
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Interrupts:    c.Interrupts.Load(),
		Contended:     c.Contended.Load(),
		RxStarted:     c.RxStarted.Load(),
		RxErrors:      c.RxErrors.Load(),
		FramesRelayed: c.FramesRelayed.Load(),
		DecodeErrors:  c.DecodeErrors.Load(),
		RingExhausted: c.RingExhausted.Load(),
		OverflowBytes: c.OverflowBytes.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.Interrupts.Store(0)
	c.Contended.Store(0)
	c.RxStarted.Store(0)
	c.RxErrors.Store(0)
	c.FramesRelayed.Store(0)
	c.DecodeErrors.Store(0)
	c.RingExhausted.Store(0)
	c.OverflowBytes.Store(0)
}
