// Package bucket partitions index or time ranges into fixed-width buckets.
package bucket

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidStep is returned when a range cannot be split with the given step
var ErrInvalidStep = errors.New("invalid bucket step")

// Layout is an ordered list of bucket boundaries. Bucket i spans
// Boundaries[i] to Boundaries[i+1]. The final boundary is always the range
// end, so the last bucket may be narrower than the others.
type Layout struct {
	Boundaries []int64
}

// MaxBuckets bounds the size of any layout
const MaxBuckets = 1 << 20

// Count returns ceil((end-start)/step) without overflowing
func Count(start, end, step int64) (int64, error) {
	if step <= 0 {
		return 0, fmt.Errorf("%w: step %d must be positive", ErrInvalidStep, step)
	}
	if end <= start {
		return 0, fmt.Errorf("%w: end %d must be after start %d", ErrInvalidStep, end, start)
	}

	span := end - start
	if span <= 0 {
		return 0, fmt.Errorf("%w: range %d to %d is too wide", ErrInvalidStep, start, end)
	}

	n := span / step
	if span%step != 0 {
		n++
	}
	return n, nil
}

// Split builds the layout for [start, end) with the given step
func Split(start, end, step int64) (Layout, error) {
	n, err := Count(start, end, step)
	if err != nil {
		return Layout{}, err
	}
	if n > MaxBuckets {
		return Layout{}, fmt.Errorf("%w: %d buckets exceed the limit of %d", ErrInvalidStep, n, MaxBuckets)
	}

	// start + i*step < end for every i < n
	bounds := make([]int64, 0, n+1)
	for i := int64(0); i < n; i++ {
		bounds = append(bounds, start+i*step)
	}
	bounds = append(bounds, end)

	return Layout{Boundaries: bounds}, nil
}

// Len returns the number of buckets
func (l Layout) Len() int {
	if len(l.Boundaries) < 2 {
		return 0
	}
	return len(l.Boundaries) - 1
}

// Bounds returns the boundaries of bucket i
func (l Layout) Bounds(i int) (int64, int64) {
	return l.Boundaries[i], l.Boundaries[i+1]
}

// Width returns the width of bucket i
func (l Layout) Width(i int) int64 {
	lo, hi := l.Bounds(i)
	return hi - lo
}

// Index returns the bucket a position falls into, clamped to the layout.
// A position sitting exactly on an interior boundary belongs to the bucket
// that boundary closes; the first boundary belongs to bucket 0 and the
// last boundary to the final bucket.
func (l Layout) Index(p int64) int {
	n := l.Len()
	if n == 0 {
		return 0
	}

	// first boundary >= p
	i := sort.Search(len(l.Boundaries), func(i int) bool {
		return l.Boundaries[i] >= p
	}) - 1

	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

// Assign distributes items into buckets. pos returns the axis position of
// the k-th item. The result always has Len() entries; empty buckets are nil.
func Assign[T any](l Layout, items []T, pos func(k int, item T) int64) [][]T {
	groups := make([][]T, l.Len())
	if len(groups) == 0 {
		return groups
	}
	for k, item := range items {
		i := l.Index(pos(k, item))
		groups[i] = append(groups[i], item)
	}
	return groups
}
