package cmplxmat

import (
	"math"
	"math/cmplx"
	"sort"
	"testing"
)

// eigResidual returns max over columns of |A v - lambda v| / |v|.
func eigResidual(a *Dense, vals []complex128, vecs *Dense) float64 {
	n, _ := a.Dims()
	worst := 0.0
	for j := 0; j < n; j++ {
		normV := 0.0
		res := 0.0
		for i := 0; i < n; i++ {
			var av complex128
			for k := 0; k < n; k++ {
				av += a.At(i, k) * vecs.At(k, j)
			}
			res = math.Max(res, cmplx.Abs(av-vals[j]*vecs.At(i, j)))
			normV = math.Max(normV, cmplx.Abs(vecs.At(i, j)))
		}
		if normV > 0 {
			worst = math.Max(worst, res/normV)
		}
	}
	return worst
}

func sortedReals(vals []complex128) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = real(v)
	}
	sort.Float64s(out)
	return out
}

func TestEigSymmetricMatrix(t *testing.T) {
	// [[2,1],[1,2]] has eigenvalues 1 and 3.
	a := NewDense(2, 2)
	a.Set(0, 0, 2)
	a.Set(0, 1, 1)
	a.Set(1, 0, 1)
	a.Set(1, 1, 2)

	vals, vecs, err := Eig(a)
	if err != nil {
		t.Fatalf("Eig failed: %v", err)
	}
	got := sortedReals(vals)
	if math.Abs(got[0]-1) > 1e-9 || math.Abs(got[1]-3) > 1e-9 {
		t.Errorf("eigenvalues = %v, want {1, 3}", got)
	}
	for _, v := range vals {
		if math.Abs(imag(v)) > 1e-9 {
			t.Errorf("eigenvalue %v should be real", v)
		}
	}
	if res := eigResidual(a, vals, vecs); res > 1e-8 {
		t.Errorf("eigenpair residual = %g", res)
	}
}

func TestEigRotationMatrix(t *testing.T) {
	// The 90-degree rotation has eigenvalues +i and -i.
	a := NewDense(2, 2)
	a.Set(0, 1, -1)
	a.Set(1, 0, 1)

	vals, vecs, err := Eig(a)
	if err != nil {
		t.Fatalf("Eig failed: %v", err)
	}
	sum := vals[0] + vals[1]
	prod := vals[0] * vals[1]
	if cmplx.Abs(sum) > 1e-9 {
		t.Errorf("eigenvalue sum = %v, want 0", sum)
	}
	if cmplx.Abs(prod-1) > 1e-9 {
		t.Errorf("eigenvalue product = %v, want 1", prod)
	}
	if res := eigResidual(a, vals, vecs); res > 1e-8 {
		t.Errorf("eigenpair residual = %g", res)
	}
}

func TestEigUpperTriangular(t *testing.T) {
	a := NewDense(3, 3)
	a.Set(0, 0, 1)
	a.Set(0, 1, 4)
	a.Set(0, 2, -2)
	a.Set(1, 1, 2+1i)
	a.Set(1, 2, 0.5)
	a.Set(2, 2, -3)

	vals, vecs, err := Eig(a)
	if err != nil {
		t.Fatalf("Eig failed: %v", err)
	}
	// The trace is invariant under the similarity transforms of the
	// decomposition.
	var sum complex128
	for _, v := range vals {
		sum += v
	}
	if cmplx.Abs(sum-(1+2+1i-3)) > 1e-8 {
		t.Errorf("eigenvalue sum = %v, want %v", sum, 1+2+1i-3)
	}
	if res := eigResidual(a, vals, vecs); res > 1e-7 {
		t.Errorf("eigenpair residual = %g", res)
	}
}
