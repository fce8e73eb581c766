package cmplxmat

import (
	"math"
	"math/cmplx"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func maxAbsDiff(a, b *Dense) float64 {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb || ca != cb {
		return math.Inf(1)
	}
	d := 0.0
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			d = math.Max(d, cmplx.Abs(a.At(i, j)-b.At(i, j)))
		}
	}
	return d
}

func TestIdentityAndDiag(t *testing.T) {
	id := Identity(3)
	d := Diag([]complex128{1, 1, 1})
	if diff := maxAbsDiff(id, d); diff > 0 {
		t.Errorf("Identity(3) differs from Diag(1,1,1) by %g", diff)
	}
	if got := id.At(0, 1); got != 0 {
		t.Errorf("off-diagonal entry = %v, want 0", got)
	}
}

func TestMulAgainstHandComputedProduct(t *testing.T) {
	a := NewDense(2, 2)
	a.Set(0, 0, 1)
	a.Set(0, 1, 2i)
	a.Set(1, 0, -1)
	a.Set(1, 1, 3)
	b := NewDense(2, 2)
	b.Set(0, 0, 2)
	b.Set(0, 1, 0)
	b.Set(1, 0, 1)
	b.Set(1, 1, 1i)

	got := a.Mul(b)
	want := NewDense(2, 2)
	want.Set(0, 0, 2+2i)
	want.Set(0, 1, -2)
	want.Set(1, 0, 1)
	want.Set(1, 1, 3i)
	if diff := maxAbsDiff(got, want); diff > 1e-14 {
		t.Errorf("Mul differs from the hand-computed product by %g", diff)
	}

	v := a.MulVec([]complex128{1, 1i})
	if cmplx.Abs(v[0]-(1-2)) > 1e-14 || cmplx.Abs(v[1]-(-1+3i)) > 1e-14 {
		t.Errorf("MulVec = %v, want [-1, -1+3i]", v)
	}
}

func TestAddSubScaleTranspose(t *testing.T) {
	a := Diag([]complex128{1, 2})
	b := Diag([]complex128{3, 4})
	if got := a.Add(b).At(1, 1); got != 6 {
		t.Errorf("Add diagonal = %v, want 6", got)
	}
	if got := b.Sub(a).At(0, 0); got != 2 {
		t.Errorf("Sub diagonal = %v, want 2", got)
	}
	if got := a.Scale(2i).At(1, 1); got != 4i {
		t.Errorf("Scale diagonal = %v, want 4i", got)
	}

	m := NewDense(2, 3)
	m.Set(0, 2, 5)
	mt := m.Transpose()
	if r, c := mt.Dims(); r != 3 || c != 2 {
		t.Fatalf("Transpose dims = %dx%d, want 3x2", r, c)
	}
	if got := mt.At(2, 0); got != 5 {
		t.Errorf("Transpose moved entry to %v, want 5 at (2,0)", got)
	}
}

func TestInverseRecoversIdentity(t *testing.T) {
	a := NewDense(3, 3)
	a.Set(0, 0, 2)
	a.Set(0, 1, 1i)
	a.Set(1, 0, -1i)
	a.Set(1, 1, 3)
	a.Set(1, 2, 1)
	a.Set(2, 1, 1)
	a.Set(2, 2, 4)

	inv, err := a.Inverse()
	if err != nil {
		t.Fatalf("Inverse failed: %v", err)
	}
	if diff := maxAbsDiff(a.Mul(inv), Identity(3)); diff > 1e-12 {
		t.Errorf("A * A^-1 differs from identity by %g", diff)
	}
	if diff := maxAbsDiff(inv.Mul(a), Identity(3)); diff > 1e-12 {
		t.Errorf("A^-1 * A differs from identity by %g", diff)
	}
}

func TestInverseRejectsSingularMatrix(t *testing.T) {
	a := NewDense(2, 2)
	a.Set(0, 0, 1)
	a.Set(0, 1, 2)
	a.Set(1, 0, 2)
	a.Set(1, 1, 4)
	if _, err := a.Inverse(); err == nil {
		t.Errorf("expected an error for a singular matrix")
	}
}

func TestSolveMatchesInverse(t *testing.T) {
	a := NewDense(2, 2)
	a.Set(0, 0, 4)
	a.Set(0, 1, 1)
	a.Set(1, 0, 2i)
	a.Set(1, 1, 3)
	b := NewDense(2, 1)
	b.Set(0, 0, 1)
	b.Set(1, 0, -1i)

	x, err := a.Solve(b)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if diff := maxAbsDiff(a.Mul(x), b); diff > 1e-12 {
		t.Errorf("A x differs from b by %g", diff)
	}

	xv, err := a.SolveVec([]complex128{1, -1i})
	if err != nil {
		t.Fatalf("SolveVec failed: %v", err)
	}
	for i := range xv {
		if cmplx.Abs(xv[i]-x.At(i, 0)) > 1e-12 {
			t.Errorf("SolveVec[%d] = %v, Solve gives %v", i, xv[i], x.At(i, 0))
		}
	}
}

func TestSubmatrixRoundTrip(t *testing.T) {
	m := NewDense(4, 4)
	blk := NewDense(2, 2)
	blk.Set(0, 0, 1)
	blk.Set(0, 1, 2)
	blk.Set(1, 0, 3)
	blk.Set(1, 1, 4)
	m.SetSubmatrix(1, 2, blk)
	got := m.Submatrix(1, 2, 2, 2)
	if diff := maxAbsDiff(got, blk); diff > 0 {
		t.Errorf("Submatrix round trip differs by %g", diff)
	}
	if m.At(0, 0) != 0 || m.At(3, 3) != 0 {
		t.Errorf("SetSubmatrix touched entries outside the block")
	}
}

func TestNorms(t *testing.T) {
	m := NewDense(2, 2)
	m.Set(0, 0, 3)
	m.Set(1, 0, 4i)
	m.Set(0, 1, -1)
	// Column 0 has absolute sum 7, column 1 has 1.
	if got := m.Norm1(); math.Abs(got-7) > 1e-14 {
		t.Errorf("Norm1 = %g, want 7", got)
	}
	if got := m.MaxAbs(); math.Abs(got-4) > 1e-14 {
		t.Errorf("MaxAbs = %g, want 4", got)
	}
}

func TestExpmDiagonalAndNilpotent(t *testing.T) {
	// Diagonal matrices exponentiate entrywise.
	d := Diag([]complex128{1, 2i})
	e, err := Expm(d)
	if err != nil {
		t.Fatalf("Expm failed: %v", err)
	}
	if diff := cmplx.Abs(e.At(0, 0) - cmplx.Exp(1)); diff > 1e-12 {
		t.Errorf("Expm diagonal entry differs from exp(1) by %g", diff)
	}
	if diff := cmplx.Abs(e.At(1, 1) - cmplx.Exp(2i)); diff > 1e-12 {
		t.Errorf("Expm diagonal entry differs from exp(2i) by %g", diff)
	}
	if cmplx.Abs(e.At(0, 1)) > 1e-12 || cmplx.Abs(e.At(1, 0)) > 1e-12 {
		t.Errorf("Expm of a diagonal matrix is not diagonal")
	}

	// exp([[0,a],[0,0]]) = [[1,a],[0,1]] since the matrix is nilpotent.
	n := NewDense(2, 2)
	n.Set(0, 1, 2.5)
	e, err = Expm(n)
	if err != nil {
		t.Fatalf("Expm failed: %v", err)
	}
	want := Identity(2)
	want.Set(0, 1, 2.5)
	if diff := maxAbsDiff(e, want); diff > 1e-12 {
		t.Errorf("Expm of nilpotent matrix differs by %g", diff)
	}
}

// exp(A) exp(-A) = I for any A.
func TestExpmInverseProperty(t *testing.T) {
	a := NewDense(3, 3)
	vals := []complex128{0.3, -0.1i, 0.2, 0.5, -0.4, 0.1i, 0.05, 0.2, -0.3}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.Set(i, j, vals[3*i+j])
		}
	}
	ea, err := Expm(a)
	if err != nil {
		t.Fatalf("Expm(A) failed: %v", err)
	}
	ena, err := Expm(a.Scale(-1))
	if err != nil {
		t.Fatalf("Expm(-A) failed: %v", err)
	}
	if diff := maxAbsDiff(ea.Mul(ena), Identity(3)); diff > 1e-10 {
		t.Errorf("exp(A) exp(-A) differs from identity by %g", diff)
	}
}

func TestFromReal(t *testing.T) {
	r := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	c := FromReal(r)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want := complex(r.At(i, j), 0)
			if c.At(i, j) != want {
				t.Errorf("FromReal(%d,%d) = %v, want %v", i, j, c.At(i, j), want)
			}
		}
	}
}
