// Package idgen generates message ids from a snowflake sequence: a
// millisecond timestamp, a worker id and a per-millisecond counter, so ids
// sort by creation time across the cluster.
package idgen

import (
	"fmt"
	"sync"

	sf "github.com/tinode/snowflake"
)

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	seq *sf.SnowFlake
}

// New creates a generator for the given worker. Every server process sharing
// a database needs its own worker id.
func New(workerID uint) (*Generator, error) {
	seq, err := sf.NewSnowFlake(uint32(workerID))
	if err != nil {
		return nil, fmt.Errorf("init snowflake: %w", err)
	}
	return &Generator{seq: seq}, nil
}

// Next returns the next id.
func (g *Generator) Next() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq.Next()
}
