// Package dmaring implements the double-buffered receive ring that keeps a
// DMA-driven UART continuously fed.
//
// The hardware writes into the slot most recently published to its
// next-transfer-target register. When a transfer starts, the interrupt
// handler publishes the following slot (AdvanceAndPublish) so reception never
// stalls; when a transfer ends, the handler copies the completed slot out
// (Consume) and hands it to the relay.
//
// The ring has no backpressure. If the relay falls more than Slots-1 frames
// behind, the hardware is redirected onto slots that have not been read and
// their contents are overwritten without any signal. With a 9600 baud GPS
// module one frame takes about 5ms, so the handler has roughly 50ms of
// latency budget before that happens.
package dmaring

import "github.com/kabili207/gpsrx/core/critical"

const (
	// FrameSize is the fixed DMA transfer length (RXD.MAXCNT) in bytes.
	FrameSize = 5
	// Slots is the number of frames in the ring.
	Slots = 10
)

// Frame is the storage for one DMA transfer.
type Frame [FrameSize]byte

// Target is the hardware's next-transfer-target register.
type Target interface {
	// SetRxPointer points the next DMA transfer at buf.
	SetRxPointer(buf []byte)
}

type state struct {
	frames [Slots]Frame
	write  int // next slot to publish to the hardware
	read   int // next slot to hand to the relay
}

// Ring is a fixed ring of DMA frames. The zero value has both cursors at 0
// and zeroed frames, and is ready to use. A Ring must not be copied after
// first use.
type Ring struct {
	st critical.Mutex[state]
}

// AdvanceAndPublish publishes the slot at the write cursor to t and advances
// the write cursor. It returns the published slot. It is called from
// interrupt context on RXSTARTED, and once during initialization to prime
// the first transfer.
func (r *Ring) AdvanceAndPublish(t Target) int {
	var slot int
	r.st.With(func(s *state) {
		slot = s.write
		t.SetRxPointer(s.frames[slot][:])
		s.write = (slot + 1) % Slots
	})
	return slot
}

// TakeCompleted returns a copy of the frame at index. The index is taken
// modulo Slots. The relay reads completed frames through it.
func (r *Ring) TakeCompleted(index int) Frame {
	var f Frame
	r.st.With(func(s *state) {
		f = s.frames[wrap(index)]
	})
	return f
}

// Consume advances the read cursor and returns TakeCompleted for the slot it
// pointed at, along with that slot's index. Frames come out in the order the
// hardware filled them.
func (r *Ring) Consume() (Frame, int) {
	var slot int
	r.st.With(func(s *state) {
		slot = s.read
		s.read = (slot + 1) % Slots
	})
	return r.TakeCompleted(slot), slot
}

// Cursors returns the current write and read cursors.
func (r *Ring) Cursors() (write, read int) {
	r.st.With(func(s *state) {
		write, read = s.write, s.read
	})
	return write, read
}

// Reset zeroes every frame and both cursors.
func (r *Ring) Reset() {
	r.st.With(func(s *state) {
		*s = state{}
	})
}

func wrap(i int) int {
	i %= Slots
	if i < 0 {
		i += Slots
	}
	return i
}
