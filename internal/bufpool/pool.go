// Package bufpool provides size-keyed free lists for the large per-render
// buffers allocated by the scoring pipeline.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// DefaultPerBucket bounds how many idle buffers are kept for one length.
const DefaultPerBucket = 4

// Pool is a free list of slices bucketed by length. Slices returned by Get
// are always zeroed, regardless of what the previous holder wrote into them.
type Pool[T any] struct {
	mu        sync.Mutex
	free      map[int][][]T
	perBucket int

	gets   atomic.Int64
	reuses atomic.Int64
	puts   atomic.Int64
	drops  atomic.Int64
}

// Stats contains pool usage counters.
type Stats struct {
	Gets    int64 `json:"gets"`
	Reuses  int64 `json:"reuses"`
	Puts    int64 `json:"puts"`
	Dropped int64 `json:"dropped"`
	Idle    int   `json:"idle"`
}

// New creates a Pool keeping at most perBucket idle slices per length.
func New[T any](perBucket int) *Pool[T] {
	if perBucket <= 0 {
		perBucket = DefaultPerBucket
	}
	return &Pool[T]{
		free:      make(map[int][][]T),
		perBucket: perBucket,
	}
}

// Get returns a zeroed slice of length n.
func (p *Pool[T]) Get(n int) []T {
	p.gets.Add(1)
	if n <= 0 {
		return nil
	}

	p.mu.Lock()
	bucket := p.free[n]
	if len(bucket) == 0 {
		p.mu.Unlock()
		return make([]T, n)
	}
	buf := bucket[len(bucket)-1]
	bucket[len(bucket)-1] = nil
	p.free[n] = bucket[:len(bucket)-1]
	p.mu.Unlock()

	p.reuses.Add(1)
	clear(buf)
	return buf
}

// Put hands buf back to the pool. Nil and empty slices are ignored. Buffers
// beyond the per-bucket limit are left to the garbage collector.
func (p *Pool[T]) Put(buf []T) {
	if len(buf) == 0 {
		return
	}
	buf = buf[:len(buf):len(buf)]

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.free[len(buf)]
	if len(bucket) >= p.perBucket {
		p.drops.Add(1)
		return
	}
	p.free[len(buf)] = append(bucket, buf)
	p.puts.Add(1)
}

// Stats returns a snapshot of pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	idle := 0
	for _, b := range p.free {
		idle += len(b)
	}
	p.mu.Unlock()

	return Stats{
		Gets:    p.gets.Load(),
		Reuses:  p.reuses.Load(),
		Puts:    p.puts.Load(),
		Dropped: p.drops.Load(),
		Idle:    idle,
	}
}

// Buffers bundles the pools one render needs.
type Buffers struct {
	Float *Pool[float64]
	Bool  *Pool[bool]
	Byte  *Pool[uint8]
}

// NewBuffers creates a Buffers set with the default bucket depth.
func NewBuffers() *Buffers {
	return &Buffers{
		Float: New[float64](DefaultPerBucket),
		Bool:  New[bool](DefaultPerBucket),
		Byte:  New[uint8](DefaultPerBucket),
	}
}
