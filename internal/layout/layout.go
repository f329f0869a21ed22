// Package layout converts shapes, axes and permutations between the channel-first
// convention of ONNX and the channel-last convention of the layer runtime.
//
// The conversion is rank-conditioned:
//
//	rank 4: (N, C, H, W) <-> (N, H, W, C)
//	rank 3: (C, H, W)    <-> (H, W, C)
//	rank 2: (A, B)       <-> (B, A)
//
// Every other rank is left unchanged.
package layout

// Permutation returns the axis order that takes a channel-first tensor of the given
// rank to channel-last: result[i] is the source axis of destination axis i.
func Permutation(rank int) []int {
	switch rank {
	case 4:
		return []int{0, 2, 3, 1}
	case 3:
		return []int{1, 2, 0}
	case 2:
		return []int{1, 0}
	default:
		return identity(rank)
	}
}

// InversePermutation returns the axis order that takes a channel-last tensor back
// to channel-first.
func InversePermutation(rank int) []int {
	perm := Permutation(rank)
	inv := make([]int, len(perm))
	for dst, src := range perm {
		inv[src] = dst
	}
	return inv
}

// PermuteShape converts a channel-first shape to channel-last.
func PermuteShape(shape []int) []int {
	return apply(shape, Permutation(len(shape)))
}

// RestoreShape converts a channel-last shape back to channel-first.
func RestoreShape(shape []int) []int {
	return apply(shape, InversePermutation(len(shape)))
}

// RemapAxis converts an axis index of a channel-first operand with the given rank
// to the matching channel-last axis. Negative axes count from the end.
//
// Rank 4 only exchanges the channel axis with the last axis (1 <-> 3), which makes
// the mapping its own inverse. Rank 3 follows the (C, H, W) -> (H, W, C)
// permutation and rank 2 swaps.
func RemapAxis(axis, rank int) int {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return axis
	}
	switch rank {
	case 4:
		switch axis {
		case 1:
			return 3
		case 3:
			return 1
		}
		return axis
	case 3, 2:
		return InversePermutation(rank)[axis]
	default:
		return axis
	}
}

// InputShape converts a declared channel-first input shape, batch first, to the
// per-example channel-last shape of a runtime input layer.
//
//	(N, C, H, W) -> (H, W, C)
//	(N, C, L)    -> (L, C)
//	(N, F)       -> (F)
func InputShape(declared []int) []int {
	if len(declared) == 0 {
		return nil
	}
	return PermuteShape(declared[1:])
}

func apply(shape, perm []int) []int {
	if shape == nil {
		return nil
	}
	out := make([]int, len(shape))
	for i, src := range perm {
		out[i] = shape[src]
	}
	return out
}

func identity(rank int) []int {
	perm := make([]int, rank)
	for i := range perm {
		perm[i] = i
	}
	return perm
}
