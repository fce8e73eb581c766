// Package cmplxmat implements the dense complex linear algebra the modal
// propagation engine needs: products, inversion, the matrix exponential, and
// a general complex eigendecomposition. Real factorizations are delegated to
// gonum; complex matrices are handled here because gonum's CDense does not
// provide solves or decompositions.
package cmplxmat

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// Dense is a row-major dense complex matrix.
type Dense struct {
	r, c int
	data []complex128
}

// NewDense returns a zeroed r by c matrix.
func NewDense(r, c int) *Dense {
	if r <= 0 || c <= 0 {
		panic(fmt.Sprintf("cmplxmat: non-positive dimension %dx%d", r, c))
	}
	return &Dense{r: r, c: c, data: make([]complex128, r*c)}
}

// Identity returns the n by n identity.
func Identity(n int) *Dense {
	m := NewDense(n, n)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = 1
	}
	return m
}

// Diag returns a square matrix with d on the diagonal.
func Diag(d []complex128) *Dense {
	m := NewDense(len(d), len(d))
	for i, v := range d {
		m.data[i*len(d)+i] = v
	}
	return m
}

// Dims returns the dimensions of the matrix.
func (m *Dense) Dims() (r, c int) { return m.r, m.c }

// At returns the element at row i, column j.
func (m *Dense) At(i, j int) complex128 { return m.data[i*m.c+j] }

// Set assigns the element at row i, column j.
func (m *Dense) Set(i, j int, v complex128) { m.data[i*m.c+j] = v }

// Clone returns a deep copy of the matrix.
func (m *Dense) Clone() *Dense {
	out := NewDense(m.r, m.c)
	copy(out.data, m.data)
	return out
}

// Add returns m + o.
func (m *Dense) Add(o *Dense) *Dense {
	m.sameDims(o)
	out := NewDense(m.r, m.c)
	for i := range m.data {
		out.data[i] = m.data[i] + o.data[i]
	}
	return out
}

// Sub returns m - o.
func (m *Dense) Sub(o *Dense) *Dense {
	m.sameDims(o)
	out := NewDense(m.r, m.c)
	for i := range m.data {
		out.data[i] = m.data[i] - o.data[i]
	}
	return out
}

// Scale returns z*m.
func (m *Dense) Scale(z complex128) *Dense {
	out := NewDense(m.r, m.c)
	for i := range m.data {
		out.data[i] = z * m.data[i]
	}
	return out
}

// Mul returns the matrix product m*o.
func (m *Dense) Mul(o *Dense) *Dense {
	if m.c != o.r {
		panic(fmt.Sprintf("cmplxmat: dimension mismatch %dx%d * %dx%d", m.r, m.c, o.r, o.c))
	}
	out := NewDense(m.r, o.c)
	for i := 0; i < m.r; i++ {
		for k := 0; k < m.c; k++ {
			a := m.data[i*m.c+k]
			if a == 0 {
				continue
			}
			row := o.data[k*o.c:]
			dst := out.data[i*o.c:]
			for j := 0; j < o.c; j++ {
				dst[j] += a * row[j]
			}
		}
	}
	return out
}

// MulVec returns the product m*v.
func (m *Dense) MulVec(v []complex128) []complex128 {
	if m.c != len(v) {
		panic(fmt.Sprintf("cmplxmat: dimension mismatch %dx%d * %d", m.r, m.c, len(v)))
	}
	out := make([]complex128, m.r)
	for i := 0; i < m.r; i++ {
		var s complex128
		row := m.data[i*m.c : (i+1)*m.c]
		for j, a := range row {
			s += a * v[j]
		}
		out[i] = s
	}
	return out
}

// Transpose returns the (non-conjugated) transpose of m.
func (m *Dense) Transpose() *Dense {
	out := NewDense(m.c, m.r)
	for i := 0; i < m.r; i++ {
		for j := 0; j < m.c; j++ {
			out.data[j*m.r+i] = m.data[i*m.c+j]
		}
	}
	return out
}

// SetSubmatrix copies src into m with its top-left element at (r0, c0).
func (m *Dense) SetSubmatrix(r0, c0 int, src *Dense) {
	for i := 0; i < src.r; i++ {
		copy(m.data[(r0+i)*m.c+c0:(r0+i)*m.c+c0+src.c], src.data[i*src.c:(i+1)*src.c])
	}
}

// Submatrix returns the rows r0..r0+nr, columns c0..c0+nc block of m.
func (m *Dense) Submatrix(r0, c0, nr, nc int) *Dense {
	out := NewDense(nr, nc)
	for i := 0; i < nr; i++ {
		copy(out.data[i*nc:(i+1)*nc], m.data[(r0+i)*m.c+c0:(r0+i)*m.c+c0+nc])
	}
	return out
}

// Norm1 returns the maximum absolute column sum of m.
func (m *Dense) Norm1() float64 {
	best := 0.0
	for j := 0; j < m.c; j++ {
		s := 0.0
		for i := 0; i < m.r; i++ {
			s += cmplx.Abs(m.data[i*m.c+j])
		}
		best = math.Max(best, s)
	}
	return best
}

// MaxAbs returns the largest absolute element of m.
func (m *Dense) MaxAbs() float64 {
	best := 0.0
	for _, v := range m.data {
		best = math.Max(best, cmplx.Abs(v))
	}
	return best
}

// Inverse returns the inverse of the square matrix m. The complex system is
// solved through its real 2n by 2n embedding so the factorization can be
// delegated to gonum.
func (m *Dense) Inverse() (*Dense, error) {
	if m.r != m.c {
		return nil, fmt.Errorf("cmplxmat: cannot invert %dx%d matrix", m.r, m.c)
	}
	n := m.r
	emb := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			re := real(m.data[i*m.c+j])
			im := imag(m.data[i*m.c+j])
			emb.Set(i, j, re)
			emb.Set(i, j+n, -im)
			emb.Set(i+n, j, im)
			emb.Set(i+n, j+n, re)
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(emb); err != nil {
		return nil, fmt.Errorf("cmplxmat: singular matrix: %w", err)
	}
	out := NewDense(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.data[i*n+j] = complex(inv.At(i, j), inv.At(i+n, j))
		}
	}
	return out, nil
}

// Solve returns X such that m*X = b.
func (m *Dense) Solve(b *Dense) (*Dense, error) {
	inv, err := m.Inverse()
	if err != nil {
		return nil, err
	}
	return inv.Mul(b), nil
}

// SolveVec returns x such that m*x = b.
func (m *Dense) SolveVec(b []complex128) ([]complex128, error) {
	inv, err := m.Inverse()
	if err != nil {
		return nil, err
	}
	return inv.MulVec(b), nil
}

func (m *Dense) sameDims(o *Dense) {
	if m.r != o.r || m.c != o.c {
		panic(fmt.Sprintf("cmplxmat: dimension mismatch %dx%d vs %dx%d", m.r, m.c, o.r, o.c))
	}
}
