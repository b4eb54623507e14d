// Package tone builds and stores a session's tone guide: a short description
// of how the counterpart talks, generated from a uniform sample of their
// messages.
package tone

import "math/rand/v2"

// Reservoir keeps a uniform random sample of at most k items from a stream
// of unknown length.
type Reservoir[T any] struct {
	k     int
	seen  int
	items []T
	intN  func(n int) int
}

// NewReservoir returns a reservoir of size k. A nil rng uses the global source.
func NewReservoir[T any](k int, rng *rand.Rand) *Reservoir[T] {
	r := &Reservoir[T]{k: k, intN: rand.IntN}
	if rng != nil {
		r.intN = rng.IntN
	}
	return r
}

// Offer considers one item for the sample.
func (r *Reservoir[T]) Offer(item T) {
	if r.k <= 0 {
		return
	}
	r.seen++
	if len(r.items) < r.k {
		r.items = append(r.items, item)
		return
	}
	if j := r.intN(r.seen); j < r.k {
		r.items[j] = item
	}
}

// Items returns the current sample.
func (r *Reservoir[T]) Items() []T { return r.items }

// Seen returns how many items were offered.
func (r *Reservoir[T]) Seen() int { return r.seen }
