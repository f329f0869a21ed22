package tensor

import (
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Shape represents the dimensions of a tensor. A dimension of -1 is unknown
// (symbolic shapes only, typically the batch dimension).
type Shape []int

// NumElements returns the product of the dimensions; a scalar holds one element.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is concrete (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return errors.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool { return slices.Equal(s, other) }

// Compatible reports whether a concrete shape matches s, where -1 in s matches any size.
func (s Shape) Compatible(concrete Shape) bool {
	if len(s) != len(concrete) {
		return false
	}
	for i := range s {
		if s[i] >= 0 && s[i] != concrete[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape { return slices.Clone(s) }

// ComputeStrides returns row-major strides.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	step := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = step
		step *= s[i]
	}
	return strides
}

// String formats the shape as (d0, d1, ...), printing unknown dimensions as "?".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d < 0 {
			parts[i] = "?"
			continue
		}
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// BroadcastShapes aligns a and b from the trailing dimension and returns the
// broadcast result. A missing or size-1 dimension stretches to the other size.
// The flag reports whether either operand had to stretch.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	n := max(len(a), len(b))
	out := make(Shape, n)
	stretched := false
	dim := func(s Shape, i int) int {
		if k := len(s) - n + i; k >= 0 {
			return s[k]
		}
		return 1
	}
	for i := range n {
		da, db := dim(a, i), dim(b, i)
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i], stretched = db, true
		case db == 1:
			out[i], stretched = da, true
		default:
			return nil, false, errors.Errorf("shapes %v and %v do not broadcast at dimension %d", a, b, i)
		}
	}
	return out, stretched, nil
}

// ResolveReshape resolves a reshape target against the number of elements it must hold.
// At most one dimension may be -1; it is inferred.
func ResolveReshape(target Shape, total int) (Shape, error) {
	out := target.Clone()
	inferIdx := -1
	product := 1
	for i, dim := range out {
		switch {
		case dim == -1:
			if inferIdx >= 0 {
				return nil, errors.New("can only have one -1 dimension")
			}
			inferIdx = i
		case dim <= 0:
			return nil, errors.Errorf("dimensions must be positive, got %d", dim)
		default:
			product *= dim
		}
	}

	if inferIdx >= 0 {
		if product == 0 || total%product != 0 {
			return nil, errors.Errorf("cannot infer dimension for shape %v from %d elements", target, total)
		}
		out[inferIdx] = total / product
	}
	if out.NumElements() != total {
		return nil, errors.Errorf("cannot reshape %d elements to shape %v", total, out)
	}
	return out, nil
}
