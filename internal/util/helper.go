// Package util holds small slice helpers.
package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// DivideComplex returns num[i] / den[i] for every i of num.
//
// A zero denominator yields a zero ratio.
func DivideComplex(num, den []complex128) []complex128 {
	out := make([]complex128, len(num))
	for i, v := range num {
		if den[i] != 0 {
			out[i] = v / den[i]
		}
	}

	return out
}
