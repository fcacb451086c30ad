//go:build tinygo

package critical

import "runtime/interrupt"

// section masks interrupts. The saved state is restored on unlock so that a
// section entered with interrupts already disabled leaves them disabled.
type section struct {
	state interrupt.State
}

func (s *section) lock()   { s.state = interrupt.Disable() }
func (s *section) unlock() { interrupt.Restore(s.state) }
