package cmplxmat

import "gonum.org/v1/gonum/mat"

// FromReal returns a complex copy of the real matrix m.
func FromReal(m mat.Matrix) *Dense {
	r, c := m.Dims()
	out := NewDense(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.data[i*c+j] = complex(m.At(i, j), 0)
		}
	}
	return out
}
