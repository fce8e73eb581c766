package cmplxmat

import (
	"fmt"
	"math"
)

// Expm returns the matrix exponential of the square matrix a, computed with
// a diagonal Pade approximant of order 6 combined with scaling and squaring.
func Expm(a *Dense) (*Dense, error) {
	if a.r != a.c {
		return nil, fmt.Errorf("cmplxmat: expm needs a square matrix, got %dx%d", a.r, a.c)
	}
	n := a.r

	// Scale so that the 1-norm is at most 1/2.
	norm := a.Norm1()
	s := 0
	if norm > 0.5 {
		s = int(math.Ceil(math.Log2(norm / 0.5)))
	}
	x := a.Scale(complex(math.Ldexp(1, -s), 0))

	const q = 6
	c := 0.5
	e := Identity(n).Add(x.Scale(complex(c, 0)))
	d := Identity(n).Sub(x.Scale(complex(c, 0)))
	pow := x.Clone()
	sign := 1.0
	for k := 2; k <= q; k++ {
		c = c * float64(q-k+1) / float64(k*(2*q-k+1))
		pow = pow.Mul(x)
		cp := pow.Scale(complex(c, 0))
		e = e.Add(cp)
		if sign > 0 {
			d = d.Add(cp)
		} else {
			d = d.Sub(cp)
		}
		sign = -sign
	}

	f, err := d.Solve(e)
	if err != nil {
		return nil, fmt.Errorf("cmplxmat: expm Pade solve failed: %w", err)
	}
	for k := 0; k < s; k++ {
		f = f.Mul(f)
	}
	return f, nil
}
