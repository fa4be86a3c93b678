// Package idgen provides monotonic identifier sequences.
package idgen

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out "<prefix>_<n>" identifiers with n starting at 1.
// Each relay session owns its own generators; nothing is shared across sessions.
type Generator struct {
	prefix  string
	counter uint64
}

func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (g *Generator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s_%d", g.prefix, n)
}

// Count returns how many identifiers have been handed out.
func (g *Generator) Count() uint64 {
	return atomic.LoadUint64(&g.counter)
}
