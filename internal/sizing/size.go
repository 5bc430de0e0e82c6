// Package sizing converts archive offsets and sizes between the on-disk
// uint64 form and the signed types used by the os and io packages.
package sizing

// Fit converts size to T, returning overflowErr if the value does not survive
// the conversion.
func Fit[T int | int64](size uint64, overflowErr error) (T, error) {
	v := T(size) //nolint:gosec // round trip checked below
	if v < 0 || uint64(v) != size {
		return 0, overflowErr
	}
	return v, nil
}

// Within returns the exclusive end of the span [offset, offset+size) and
// reports whether the span lies inside [lower, upper).
func Within(offset, size, lower, upper uint64) (uint64, bool) {
	end := offset + size
	if end < offset || offset < lower || end > upper {
		return end, false
	}
	return end, true
}
