package slice

// Chunk splits s into consecutive sub-slices of at most size elements.
// The sub-slices share the backing array of s.
func Chunk[T any](s []T, size int) [][]T {
	if size < 1 {
		size = 1
	}

	r := make([][]T, 0, (len(s)+size-1)/size)
	for start := 0; start < len(s); start += size {
		r = append(r, s[start:min(start+size, len(s))])
	}

	return r
}
