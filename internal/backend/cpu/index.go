package cpu

// strides returns the linear stride of each dimension, dimension 0 fastest.
func strides(dims []int) []int {
	s := make([]int, len(dims))
	n := 1
	for d, size := range dims {
		s[d] = n
		n *= size
	}
	return s
}

func volume(dims []int) int {
	n := 1
	for _, size := range dims {
		n *= size
	}
	return n
}

// positions calls f for every coordinate of dims in linear order. The
// coordinate slice is reused between calls.
func positions(dims []int, f func(pos []int, linear int)) {
	n := volume(dims)
	pos := make([]int, len(dims))
	for i := 0; i < n; i++ {
		f(pos, i)
		for d := range pos {
			pos[d]++
			if pos[d] < dims[d] {
				break
			}
			pos[d] = 0
		}
	}
}

// gather copies src[index[i]] into dst[i]; negative indices yield zero.
func gather(dst, src []float32, index []int) {
	for i, j := range index {
		if j >= 0 {
			dst[i] = src[j]
		} else {
			dst[i] = 0
		}
	}
}

// scatterAdd adds src[i] into dst[index[i]]; negative indices are skipped.
func scatterAdd(dst, src []float32, index []int) {
	for i, j := range index {
		if j >= 0 {
			dst[j] += src[i]
		}
	}
}

func addTo(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}
