package pgcdc

// HashKey derives a stable non-negative 31-bit integer from an arbitrary
// string. It is used to map advisory-lock key names onto the integer key
// space of pg_try_advisory_lock.
//
// The function is pure and total: equal inputs always produce equal
// outputs, the empty string included, and the result is always within
// [0, 2^31-2].
func HashKey(key string) int64 {
	var h int32
	for _, c := range key {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v % (1<<31 - 1)
}
