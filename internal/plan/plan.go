// Package plan computes the ordered segment layout for a run.
//
// Planning is a pure function of (total, segment) so that a resumed run
// reproduces the exact descriptor set of the interrupted run; segment
// indices must mean the same slice of the input across restarts.
package plan

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSegmentLength is returned when the configured segment length
// is not positive.
var ErrInvalidSegmentLength = errors.New("segment length must be positive")

// ErrInvalidTotalLength is returned when the probed input length is not
// positive.
var ErrInvalidTotalLength = errors.New("total length must be positive")

// Descriptor identifies one independent slice of the input. Index is the
// sole identity; indices are contiguous from 0. Descriptors are never
// mutated after planning.
type Descriptor struct {
	Index  int
	Offset time.Duration
	Length time.Duration
}

// Plan splits total into ceil(total/segment) descriptors of length segment,
// the last one possibly shorter. Identical inputs always yield an identical
// sequence.
func Plan(total, segment time.Duration) ([]Descriptor, error) {
	if segment <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSegmentLength, segment)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTotalLength, total)
	}

	n := int((total + segment - 1) / segment)
	out := make([]Descriptor, 0, n)
	for i := 0; i < n; i++ {
		offset := time.Duration(i) * segment
		length := segment
		if remaining := total - offset; remaining < length {
			length = remaining
		}
		out = append(out, Descriptor{Index: i, Offset: offset, Length: length})
	}
	return out, nil
}

// Pending filters descriptors whose index is already in done, preserving
// plan order. The returned slice is a fresh allocation.
func Pending(all []Descriptor, done map[int]struct{}) []Descriptor {
	out := make([]Descriptor, 0, len(all))
	for _, d := range all {
		if _, ok := done[d.Index]; ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

// IndexSet returns the set of all indices in the plan.
func IndexSet(all []Descriptor) map[int]struct{} {
	set := make(map[int]struct{}, len(all))
	for _, d := range all {
		set[d.Index] = struct{}{}
	}
	return set
}
