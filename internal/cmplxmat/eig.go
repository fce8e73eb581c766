package cmplxmat

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Eig computes the eigendecomposition of the square matrix a: eigenvalues
// and a matrix whose columns are the corresponding right eigenvectors. The
// matrix is reduced to Hessenberg form with Householder reflections, brought
// to Schur form with shifted QR iterations, and the eigenvectors of the
// triangular factor are recovered by back substitution.
func Eig(a *Dense) (values []complex128, vectors *Dense, err error) {
	if a.r != a.c {
		return nil, nil, fmt.Errorf("cmplxmat: eig needs a square matrix, got %dx%d", a.r, a.c)
	}
	n := a.r
	h := a.Clone()
	q := Identity(n)

	hessenberg(h, q)
	if err := schur(h, q); err != nil {
		return nil, nil, err
	}

	values = make([]complex128, n)
	for i := 0; i < n; i++ {
		values[i] = h.At(i, i)
	}

	// Eigenvectors of the triangular factor.
	y := NewDense(n, n)
	for k := 0; k < n; k++ {
		lambda := values[k]
		y.Set(k, k, 1)
		for i := k - 1; i >= 0; i-- {
			var s complex128
			for j := i + 1; j <= k; j++ {
				s += h.At(i, j) * y.At(j, k)
			}
			den := h.At(i, i) - lambda
			if cmplx.Abs(den) < 1e-300 {
				den = complex(1e-300, 0)
			}
			y.Set(i, k, -s/den)
		}
	}

	vectors = q.Mul(y)
	// Normalize the columns.
	for k := 0; k < n; k++ {
		norm := 0.0
		for i := 0; i < n; i++ {
			norm += real(vectors.At(i, k))*real(vectors.At(i, k)) +
				imag(vectors.At(i, k))*imag(vectors.At(i, k))
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			vectors.Set(i, k, vectors.At(i, k)/complex(norm, 0))
		}
	}
	return values, vectors, nil
}

// hessenberg reduces h in place with Householder reflections, accumulating
// the similarity transform into q.
func hessenberg(h, q *Dense) {
	n := h.r
	for k := 0; k < n-2; k++ {
		// Build the reflector zeroing h[k+2.., k].
		norm := 0.0
		for i := k + 1; i < n; i++ {
			norm += real(h.At(i, k))*real(h.At(i, k)) + imag(h.At(i, k))*imag(h.At(i, k))
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		alpha := h.At(k+1, k)
		phase := complex(1, 0)
		if alpha != 0 {
			phase = alpha / complex(cmplx.Abs(alpha), 0)
		}
		v := make([]complex128, n)
		v[k+1] = alpha + phase*complex(norm, 0)
		for i := k + 2; i < n; i++ {
			v[i] = h.At(i, k)
		}
		vn := 0.0
		for i := k + 1; i < n; i++ {
			vn += real(v[i])*real(v[i]) + imag(v[i])*imag(v[i])
		}
		if vn == 0 {
			continue
		}
		beta := complex(2/vn, 0)

		applyLeft(h, v, beta, k+1)
		applyRight(h, v, beta, k+1)
		applyRight(q, v, beta, k+1)
	}
}

// applyLeft computes m <- (I - beta v v*) m, using rows from lo on.
func applyLeft(m *Dense, v []complex128, beta complex128, lo int) {
	n := m.r
	for j := 0; j < m.c; j++ {
		var s complex128
		for i := lo; i < n; i++ {
			s += cmplx.Conj(v[i]) * m.At(i, j)
		}
		s *= beta
		for i := lo; i < n; i++ {
			m.Set(i, j, m.At(i, j)-v[i]*s)
		}
	}
}

// applyRight computes m <- m (I - beta v v*), using columns from lo on.
func applyRight(m *Dense, v []complex128, beta complex128, lo int) {
	n := m.c
	for i := 0; i < m.r; i++ {
		var s complex128
		for j := lo; j < n; j++ {
			s += m.At(i, j) * v[j]
		}
		s *= beta
		for j := lo; j < n; j++ {
			m.Set(i, j, m.At(i, j)-s*cmplx.Conj(v[j]))
		}
	}
}

// schur drives shifted QR iterations on the Hessenberg matrix h until it is
// upper triangular, accumulating Schur vectors into q.
func schur(h, q *Dense) error {
	n := h.r
	const maxIterPerEig = 60
	hi := n - 1
	iter := 0
	scale := math.Max(h.MaxAbs(), 1e-300)
	tol := 1e-14 * scale

	for hi > 0 {
		// Deflate converged subdiagonals.
		if cmplx.Abs(h.At(hi, hi-1)) < tol {
			h.Set(hi, hi-1, 0)
			hi--
			iter = 0
			continue
		}
		iter++
		if iter > maxIterPerEig {
			return fmt.Errorf("cmplxmat: QR iteration failed to converge")
		}

		// Find the active block [lo, hi].
		lo := hi
		for lo > 0 && cmplx.Abs(h.At(lo, lo-1)) >= tol {
			lo--
		}

		sigma := wilkinsonShift(h, hi)
		qrStep(h, q, lo, hi, sigma)
	}
	return nil
}

// wilkinsonShift picks the eigenvalue of the trailing 2x2 block closest to
// the bottom-right entry.
func wilkinsonShift(h *Dense, hi int) complex128 {
	d := h.At(hi, hi)
	if hi == 0 {
		return d
	}
	a := h.At(hi-1, hi-1)
	b := h.At(hi-1, hi)
	c := h.At(hi, hi-1)
	tr := a + d
	det := a*d - b*c
	disc := cmplx.Sqrt(tr*tr - 4*det)
	l1 := (tr + disc) / 2
	l2 := (tr - disc) / 2
	if cmplx.Abs(l1-d) < cmplx.Abs(l2-d) {
		return l1
	}
	return l2
}

// qrStep performs one shifted QR sweep on the active block with Givens
// rotations.
func qrStep(h, q *Dense, lo, hi int, sigma complex128) {
	n := h.r

	// Implicit shift: chase the bulge down the subdiagonal.
	for i := lo; i < hi; i++ {
		var a, b complex128
		if i == lo {
			a = h.At(lo, lo) - sigma
			b = h.At(lo+1, lo)
		} else {
			a = h.At(i, i-1)
			b = h.At(i+1, i-1)
		}
		r := math.Hypot(cmplx.Abs(a), cmplx.Abs(b))
		if r == 0 {
			continue
		}
		c := a / complex(r, 0)
		s := b / complex(r, 0)

		// Apply the rotation on the left to rows i, i+1.
		for j := max(0, i-1); j < n; j++ {
			x := h.At(i, j)
			y := h.At(i+1, j)
			h.Set(i, j, cmplx.Conj(c)*x+cmplx.Conj(s)*y)
			h.Set(i+1, j, -s*x+c*y)
		}
		// Apply on the right to columns i, i+1.
		upTo := min(n-1, i+2)
		for k := 0; k <= upTo; k++ {
			x := h.At(k, i)
			y := h.At(k, i+1)
			h.Set(k, i, x*c+y*s)
			h.Set(k, i+1, -x*cmplx.Conj(s)+y*cmplx.Conj(c))
		}
		for k := 0; k < n; k++ {
			x := q.At(k, i)
			y := q.At(k, i+1)
			q.Set(k, i, x*c+y*s)
			q.Set(k, i+1, -x*cmplx.Conj(s)+y*cmplx.Conj(c))
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
