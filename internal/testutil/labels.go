package testutil

import (
	"fmt"
	"sync"
)

// SequenceLabels generates "<prefix>-1", "<prefix>-2", ... for anonymous
// entities.
//
// Thread-safety: SequenceLabels is safe for concurrent use.
type SequenceLabels struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceLabels creates a generator. An empty prefix means "anon".
func NewSequenceLabels(prefix string) *SequenceLabels {
	if prefix == "" {
		prefix = "anon"
	}
	return &SequenceLabels{prefix: prefix}
}

// Generate returns the next label.
func (g *SequenceLabels) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
