package live

import "sync"

// Ring is a generic thread-safe ring buffer holding the most recent
// capacity items. Pushing into a full ring overwrites the oldest item.
// Positions are absolute: the Nth item ever pushed has position N-1,
// which lets readers take deltas across overwrites.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	total    int // items ever pushed
}

// NewRing creates a ring buffer with the given capacity (must be > 0).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ring capacity must be greater than zero")
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push inserts an item, overwriting the oldest when full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.total%r.capacity] = item
	r.total++
}

// Snapshot returns all retained items oldest-to-newest. The returned
// slice is a copy and safe to modify.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rangeLocked(r.total-r.sizeLocked(), r.total-1)
}

// Recent returns the n most recent items oldest-to-newest.
func (r *Ring[T]) Recent(n int) []T {
	all := r.Snapshot()
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// Range returns items between absolute positions start and end
// inclusive, clamped to what the buffer still retains. Returns nil for
// an empty or fully-evicted range.
func (r *Ring[T]) Range(start, end int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rangeLocked(start, end)
}

func (r *Ring[T]) rangeLocked(start, end int) []T {
	size := r.sizeLocked()
	if size == 0 || end < start {
		return nil
	}
	oldest := r.total - size
	if start < oldest {
		start = oldest
	}
	if end > r.total-1 {
		end = r.total - 1
	}
	if start > end {
		return nil
	}
	result := make([]T, 0, end-start+1)
	for pos := start; pos <= end; pos++ {
		result = append(result, r.items[pos%r.capacity])
	}
	return result
}

// Pos returns the absolute position of the next push, i.e. the total
// number of items ever pushed.
func (r *Ring[T]) Pos() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Len returns the number of items currently retained.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sizeLocked()
}

// Cap returns the ring's capacity.
func (r *Ring[T]) Cap() int { return r.capacity }

// Clear drops all retained items and resets positions.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = 0
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
}

func (r *Ring[T]) sizeLocked() int {
	if r.total < r.capacity {
		return r.total
	}
	return r.capacity
}
