package core

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
	"github.com/signalsfoundry/waveguide-acoustics/internal/cmplxmat"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// forkSegment builds one straight unit-scaling segment for the hand-wired
// branching tracts.
func forkSegment(contour geom.Polygon, length float64, ctrIn, ctrOut geom.Point,
	p *model.SimulationParameters) *Segment {
	return &Segment{
		Kind:         KindFEM,
		Contour:      contour,
		SurfaceIdx:   make([]int, len(contour)),
		Length:       length,
		ScaleIn:      1,
		ScaleOut:     1,
		CtrLinePtIn:  ctrIn,
		CtrLinePtOut: ctrOut,
		NormalIn:     geom.Point{X: 0, Y: 1},
		NormalOut:    geom.Point{X: 0, Y: 1},
		Spacing:      math.Sqrt(contour.Area()) / float64(p.MeshDensity),
	}
}

// forkTract wires a unit square trunk feeding two smaller side ducts at its
// exit plane, with modes and junction matrices computed.
func forkTract(t *testing.T, p *model.SimulationParameters) *Tract {
	t.Helper()
	trunkC := squareContour(1)
	leftC := geom.Polygon{{X: -0.45, Y: -0.2}, {X: -0.05, Y: -0.2},
		{X: -0.05, Y: 0.2}, {X: -0.45, Y: 0.2}}
	rightC := geom.Polygon{{X: 0.05, Y: -0.2}, {X: 0.45, Y: -0.2},
		{X: 0.45, Y: 0.2}, {X: 0.05, Y: 0.2}}

	tract := NewTract()
	trunk := tract.Add(forkSegment(trunkC, 2, geom.Point{}, geom.Point{X: 2}, p))
	left := tract.Add(forkSegment(leftC, 1, geom.Point{X: 2}, geom.Point{X: 3}, p))
	right := tract.Add(forkSegment(rightC, 1, geom.Point{X: 2}, geom.Point{X: 3}, p))
	tract.MustSegment(trunk).Next = []int{left, right}
	tract.MustSegment(left).Prev = []int{trunk}
	tract.MustSegment(right).Prev = []int{trunk}

	for _, s := range tract.Segments() {
		if err := ComputeModes(s, p); err != nil {
			t.Fatalf("ComputeModes failed: %v", err)
		}
	}
	if err := ComputeJunctions(tract, p, false); err != nil {
		t.Fatalf("ComputeJunctions failed: %v", err)
	}
	return tract
}

// A lossless trunk feeding two hard-walled side ducts is a purely reactive
// system: the admittance gathered at the trunk entrance keeps a vanishing
// real part, and the fan-in block assembly matches the sum of the branch
// admittances weighted by the junction matrices.
func TestPropagateImpedAdmitBranchFanInPassivity(t *testing.T) {
	p := losslessParams()
	tract := forkTract(t, &p)
	trunk := tract.MustSegment(0)

	// Plane mode overlap of the trunk with each 0.4 x 0.4 duct.
	for w := 0; w < 2; w++ {
		want := 0.16 / math.Sqrt(1*0.16)
		if got := trunk.F[w].At(0, 0); math.Abs(got-want) > 0.02 {
			t.Errorf("F[%d](0,0) = %g, want %g", w, got, want)
		}
	}

	freq := 500.0
	st := NewSolveState(tract, freq)
	y0 := cmplxmat.Diag([]complex128{1e-10})
	if err := PropagateImpedAdmitBranch(tract, st, []*cmplxmat.Dense{y0, y0},
		freq, []int{1, 2}, []int{0}, -1, &p); err != nil {
		t.Fatalf("PropagateImpedAdmitBranch failed: %v", err)
	}

	yin := st.Field(0).Yin().At(0, 0)
	if math.Abs(real(yin)) > 1e-6 {
		t.Errorf("trunk entrance admittance has real part %g, want a reactive value", real(yin))
	}
	if real(yin) < -1e-9 {
		t.Errorf("trunk entrance admittance real part %g is negative, branches created power", real(yin))
	}
	if imag(yin) == 0 {
		t.Errorf("trunk entrance admittance has no reactive part")
	}

	// The gathered exit admittance equals F * blockdiag(Y1, Y2) * F^T for the
	// hand-assembled junction matrices, propagated through the trunk alone.
	fm := concatColumns([]*cmplxmat.Dense{
		cmplxmat.FromReal(trunk.F[0]),
		cmplxmat.FromReal(trunk.F[1]),
	})
	mn1 := tract.MustSegment(1).ModeCount()
	qout := cmplxmat.NewDense(mn1*2, mn1*2)
	qout.SetSubmatrix(0, 0, st.Field(1).Yin())
	qout.SetSubmatrix(mn1, mn1, st.Field(2).Yin())
	qini := fm.Mul(qout).Mul(fm.Transpose())

	ref := &segmentField{Zdir: -1, Ydir: -1, Pdir: 1, Vdir: 1}
	if err := propagateMagnus(trunk, ref, qini, &p, freq, -1, quantAdmittance); err != nil {
		t.Fatalf("reference propagation failed: %v", err)
	}
	if d := cmplx.Abs(yin - ref.Yin().At(0, 0)); d > 1e-12 {
		t.Errorf("fan-in assembly differs from the hand-assembled reference by %g", d)
	}
}

// mergeTract wires two small ducts joining into one unit square duct, the
// mirror topology of forkTract.
func mergeTract(t *testing.T, p *model.SimulationParameters) *Tract {
	t.Helper()
	bigC := squareContour(1)
	leftC := geom.Polygon{{X: -0.45, Y: -0.2}, {X: -0.05, Y: -0.2},
		{X: -0.05, Y: 0.2}, {X: -0.45, Y: 0.2}}
	rightC := geom.Polygon{{X: 0.05, Y: -0.2}, {X: 0.45, Y: -0.2},
		{X: 0.45, Y: 0.2}, {X: 0.05, Y: 0.2}}

	tract := NewTract()
	left := tract.Add(forkSegment(leftC, 1, geom.Point{}, geom.Point{X: 1}, p))
	right := tract.Add(forkSegment(rightC, 1, geom.Point{}, geom.Point{X: 1}, p))
	big := tract.Add(forkSegment(bigC, 2, geom.Point{X: 1}, geom.Point{X: 3}, p))
	tract.MustSegment(left).Next = []int{big}
	tract.MustSegment(right).Next = []int{big}
	tract.MustSegment(big).Prev = []int{left, right}

	for _, s := range tract.Segments() {
		if err := ComputeModes(s, p); err != nil {
			t.Fatalf("ComputeModes failed: %v", err)
		}
	}
	if err := ComputeJunctions(tract, p, false); err != nil {
		t.Fatalf("ComputeJunctions failed: %v", err)
	}
	return tract
}

// Walking backward out of the merged duct distributes the diagonal blocks of
// the matched input impedance onto the joining ducts.
func TestPropagateImpedAdmitBranchFanOut(t *testing.T) {
	p := losslessParams()
	tract := mergeTract(t, &p)

	freq := 500.0
	st := NewSolveState(tract, freq)
	y0 := cmplxmat.Diag([]complex128{1e-10})
	if err := PropagateImpedAdmitBranch(tract, st, []*cmplxmat.Dense{y0},
		freq, []int{2}, []int{0, 1}, -1, &p); err != nil {
		t.Fatalf("PropagateImpedAdmitBranch failed: %v", err)
	}

	// Entrance impedance of the merged duct, distributed through the
	// junction matrix of each joining duct.
	zb, err := st.Field(2).Yin().Inverse()
	if err != nil {
		t.Fatalf("merged duct admittance is singular: %v", err)
	}

	for _, idx := range []int{0, 1} {
		f := st.Field(idx)
		if len(f.Z) == 0 {
			t.Fatalf("duct %d was not propagated", idx)
		}
		z := f.Zin().At(0, 0)
		if cmplx.IsNaN(z) || cmplx.IsInf(z) {
			t.Errorf("duct %d impedance is not finite: %v", idx, z)
		}
		if math.Abs(real(z)) > 1e-3*math.Abs(imag(z)) {
			t.Errorf("duct %d impedance %v is not reactive", idx, z)
		}

		f0 := cmplxmat.FromReal(tract.MustSegment(idx).F[0])
		qref := f0.Mul(zb).Mul(f0.Transpose())
		ref := &segmentField{Zdir: -1, Ydir: -1, Pdir: 1, Vdir: 1}
		if err := propagateMagnus(tract.MustSegment(idx), ref, qref, &p, freq,
			-1, quantImpedance); err != nil {
			t.Fatalf("reference propagation failed: %v", err)
		}
		if d := cmplx.Abs(z - ref.Zin().At(0, 0)); d > 1e-12 {
			t.Errorf("duct %d differs from the hand-distributed reference by %g", idx, d)
		}
	}
}
