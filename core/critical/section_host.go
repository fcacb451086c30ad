//go:build !tinygo

package critical

import "sync"

type section struct {
	mu sync.Mutex
}

func (s *section) lock()   { s.mu.Lock() }
func (s *section) unlock() { s.mu.Unlock() }
