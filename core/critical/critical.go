// Package critical provides the mutual exclusion used between interrupt
// handlers and the main context.
//
// On TinyGo targets a section disables interrupts for its duration. On host
// builds, where the "interrupt" is a goroutine driving a simulated
// peripheral, a section is a sync.Mutex. In both cases sections are meant to
// cover a handful of memory or register operations and must never be held
// across a wait.
//
// Sections on the same container must not nest. Distinct containers may be
// entered one inside the other as long as the order is consistent.
package critical

// Mutex guards a value of type T with a critical section. The zero value
// holds the zero T and is ready to use.
type Mutex[T any] struct {
	s section
	v T
}

// With runs fn inside the critical section with exclusive access to the
// guarded value. The pointer must not escape fn.
func (m *Mutex[T]) With(fn func(v *T)) {
	m.s.lock()
	defer m.s.unlock()
	fn(&m.v)
}

// Cell is a single-owner slot for a capability such as a peripheral handle.
// Whoever has taken the value out owns it until it is put back; while it is
// out, other contexts see an empty cell.
type Cell[T any] struct {
	s    section
	v    T
	full bool
}

// Take moves the value out of the cell. It returns false if the cell is
// empty, i.e. another context currently owns the value.
func (c *Cell[T]) Take() (T, bool) {
	c.s.lock()
	defer c.s.unlock()

	var zero T
	if !c.full {
		return zero, false
	}
	v := c.v
	c.v, c.full = zero, false
	return v, true
}

// Replace stores v in the cell and returns the previous value, if any.
func (c *Cell[T]) Replace(v T) (T, bool) {
	c.s.lock()
	defer c.s.unlock()

	prev, had := c.v, c.full
	c.v, c.full = v, true
	return prev, had
}

// Put stores v in the cell, discarding any previous value.
func (c *Cell[T]) Put(v T) {
	c.Replace(v)
}

// Update runs fn inside the section with the cell's contents and stores
// what it returns; a false second result leaves the cell empty. Swapping or
// retiring the value this way leaves no moment at which an interrupt handler
// finds the cell empty while the old value is still live.
func (c *Cell[T]) Update(fn func(v T, full bool) (T, bool)) {
	c.s.lock()
	defer c.s.unlock()

	v, full := fn(c.v, c.full)
	if !full {
		var zero T
		v = zero
	}
	c.v, c.full = v, full
}

// Full reports whether the cell currently holds a value.
func (c *Cell[T]) Full() bool {
	c.s.lock()
	defer c.s.unlock()
	return c.full
}
