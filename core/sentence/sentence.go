// Package sentence reassembles a byte stream into '$'-delimited sentences
// held in a fixed ring of slots.
//
// The producer (the UART interrupt handler) calls Feed for every received
// byte. A marker byte closes the slot currently being written, marking it
// ready, and moves on to the next slot that is not ready. Every other byte
// is appended to the current slot. The consumer reads ready slots and
// releases them; the producer never clears a ready flag and never writes to
// a ready slot.
//
// When every other slot is still ready at the time a new sentence starts,
// Feed returns ErrRingExhausted and the ring discards bytes up to the next
// marker. The sentence being written stays open and is closed on the first
// marker that finds a free slot, so the newest sentence is the one dropped.
// What to do about repeated exhaustion is left to the caller.
package sentence

import (
	"cmp"
	"errors"
	"slices"

	"github.com/kabili207/gpsrx/core/critical"
)

const (
	// SlotCapacity is the maximum payload of a single sentence in bytes.
	SlotCapacity = 256
	// Slots is the number of sentence slots in the ring.
	Slots = 10
	// Marker starts every sentence. It delimits sentences and is not stored
	// in the payload.
	Marker byte = '$'
)

var (
	// ErrRingExhausted is returned when a sentence starts but no slot is free.
	ErrRingExhausted = errors.New("no free sentence slot")
	// ErrSlotOverflow is returned for each byte that does not fit in a slot.
	ErrSlotOverflow = errors.New("sentence exceeds slot capacity")
)

// Sentence is a copy of a ready slot.
type Sentence struct {
	// Slot is the ring index the sentence was read from.
	Slot int
	// Seq orders sentences by completion, starting at 1.
	Seq uint64
	// Payload is the sentence without its leading marker.
	Payload []byte
	// Truncated is set when bytes beyond SlotCapacity were discarded.
	Truncated bool
}

// Raw returns the sentence as it appeared on the wire, marker included.
func (s Sentence) Raw() []byte {
	raw := make([]byte, 0, len(s.Payload)+1)
	raw = append(raw, Marker)
	return append(raw, s.Payload...)
}

// String implements fmt.Stringer.
func (s Sentence) String() string {
	return string(s.Raw())
}

// Stats counts producer-side events since the last Reset.
type Stats struct {
	Sentences      uint64 // slots marked ready
	Exhausted      uint64 // sentence starts with no free slot
	SlotOverflows  uint64 // sentences truncated at SlotCapacity
	DiscardedBytes uint64 // bytes dropped by exhaustion or truncation
}

type slot struct {
	buf       [SlotCapacity]byte
	n         int
	ready     bool
	truncated bool
	seq       uint64
}

func (sl *slot) sentence(index int) Sentence {
	return Sentence{
		Slot:      index,
		Seq:       sl.seq,
		Payload:   slices.Clone(sl.buf[:sl.n]),
		Truncated: sl.truncated,
	}
}

type state struct {
	slots   [Slots]slot
	cur     int
	seq     uint64
	discard bool
	stats   Stats
}

// Ring is the sentence reassembly ring. The zero value is ready to use with
// slot 0 current. A Ring must not be copied after first use.
type Ring struct {
	st critical.Mutex[state]
}

// Feed consumes one byte from the stream.
//
// For a marker it returns ErrRingExhausted if no slot is free for the next
// sentence. For other bytes it returns ErrSlotOverflow if the current
// sentence is already SlotCapacity bytes long; the byte is discarded.
func (r *Ring) Feed(b byte) error {
	var err error
	r.st.With(func(s *state) {
		if b == Marker {
			err = s.start()
			return
		}
		err = s.append(b)
	})
	return err
}

func (s *state) start() error {
	cur := &s.slots[s.cur]
	if cur.n == 0 && !cur.ready {
		// Nothing to publish; keep writing into the same slot.
		s.discard = false
		return nil
	}

	// The current slot is either about to be closed or already ready, so it
	// is never a candidate; the remaining Slots-1 are tried in ring order.
	next := -1
	for i := 1; i < Slots; i++ {
		idx := (s.cur + i) % Slots
		if !s.slots[idx].ready {
			next = idx
			break
		}
	}
	if next < 0 {
		s.discard = true
		s.stats.Exhausted++
		return ErrRingExhausted
	}

	if !cur.ready {
		s.seq++
		cur.seq = s.seq
		cur.ready = true
		s.stats.Sentences++
	}

	s.cur = next
	s.slots[next] = slot{}
	s.discard = false
	return nil
}

func (s *state) append(b byte) error {
	cur := &s.slots[s.cur]
	if s.discard || cur.ready {
		s.stats.DiscardedBytes++
		return nil
	}
	if cur.n >= SlotCapacity {
		if !cur.truncated {
			cur.truncated = true
			s.stats.SlotOverflows++
		}
		s.stats.DiscardedBytes++
		return ErrSlotOverflow
	}
	cur.buf[cur.n] = b
	cur.n++
	return nil
}

// Current returns the index of the slot being written.
func (r *Ring) Current() int {
	var cur int
	r.st.With(func(s *state) { cur = s.cur })
	return cur
}

// Ready returns the indexes of ready slots, oldest sentence first.
func (r *Ring) Ready() []int {
	var idx []int
	r.st.With(func(s *state) { idx = s.readyOrder() })
	return idx
}

func (s *state) readyOrder() []int {
	var idx []int
	for i := range s.slots {
		if s.slots[i].ready {
			idx = append(idx, i)
		}
	}
	slices.SortFunc(idx, func(a, b int) int {
		return cmp.Compare(s.slots[a].seq, s.slots[b].seq)
	})
	return idx
}

// Read returns a copy of slot i if it is ready. The slot stays ready until
// Release is called.
func (r *Ring) Read(i int) (Sentence, bool) {
	if i < 0 || i >= Slots {
		return Sentence{}, false
	}
	var (
		out Sentence
		ok  bool
	)
	r.st.With(func(s *state) {
		if sl := &s.slots[i]; sl.ready {
			out, ok = sl.sentence(i), true
		}
	})
	return out, ok
}

// Release clears the ready flag of slot i so the producer may reuse it.
// It reports whether the slot was ready.
func (r *Ring) Release(i int) bool {
	if i < 0 || i >= Slots {
		return false
	}
	var was bool
	r.st.With(func(s *state) {
		was = s.slots[i].ready
		s.slots[i].ready = false
	})
	return was
}

// Drain copies out and releases every ready slot, then calls fn for each
// sentence oldest first, outside the critical section. It returns the number
// of sentences drained.
func (r *Ring) Drain(fn func(Sentence)) int {
	var out []Sentence
	r.st.With(func(s *state) {
		for _, i := range s.readyOrder() {
			out = append(out, s.slots[i].sentence(i))
			s.slots[i].ready = false
		}
	})
	for _, sn := range out {
		fn(sn)
	}
	return len(out)
}

// Stats returns a copy of the producer counters.
func (r *Ring) Stats() Stats {
	var st Stats
	r.st.With(func(s *state) { st = s.stats })
	return st
}

// Reset returns the ring to its power-on state: every slot empty and not
// ready, slot 0 current, counters zeroed.
func (r *Ring) Reset() {
	r.st.With(func(s *state) {
		*s = state{}
	})
}
