package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
)

// Identical facing contours match mode to mode, so F is the identity and the
// boundary residues vanish.
func TestComputeJunctionsIdenticalContours(t *testing.T) {
	p := testParams()
	p.ModeCount = 2
	tract, err := BuildTract(tubeProfiles([]float64{0, 4}, 2), &p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}
	for _, s := range tract.Segments() {
		if err := ComputeModes(s, &p); err != nil {
			t.Fatalf("ComputeModes failed: %v", err)
		}
	}
	if err := ComputeJunctions(tract, &p, true); err != nil {
		t.Fatalf("ComputeJunctions failed: %v", err)
	}

	s0 := tract.MustSegment(0)
	if len(s0.F) != 1 {
		t.Fatalf("segment 0 has %d matching matrices, want 1", len(s0.F))
	}
	f := s0.F[0]
	r, c := f.Dims()
	if r != 2 || c != 2 {
		t.Fatalf("F dims = %dx%d, want 2x2", r, c)
	}
	for m := 0; m < 2; m++ {
		for n := 0; n < 2; n++ {
			want := 0.0
			if m == n {
				want = 1
			}
			if math.Abs(f.At(m, n)-want) > 0.05 {
				t.Errorf("F(%d,%d) = %g, want %g", m, n, f.At(m, n), want)
			}
		}
	}

	// No uncovered exit or entrance surface: Gend and Gstart stay identity.
	for name, g := range map[string]interface {
		At(i, j int) float64
	}{"Gend(0)": s0.Gend, "Gstart(1)": tract.MustSegment(1).Gstart} {
		for m := 0; m < 2; m++ {
			for n := 0; n < 2; n++ {
				want := 0.0
				if m == n {
					want = 1
				}
				if math.Abs(g.At(m, n)-want) > 0.02 {
					t.Errorf("%s(%d,%d) = %g, want %g", name, m, n, g.At(m, n), want)
				}
			}
		}
	}
}

// Across a cross-section change the plane modes overlap over the matching
// surface only: F(0,0) = S_match / sqrt(A1 * A2).
func TestComputeJunctionsPlaneModeOverlap(t *testing.T) {
	profs := tubeProfiles([]float64{0, 2}, 1)
	profs[1].Contour = squareContour(0.5)
	profs[1].SurfaceIdx = make([]int, 4)

	p := testParams()
	p.ModeCount = 1
	tract, err := BuildTract(profs, &p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}
	for _, s := range tract.Segments() {
		if err := ComputeModes(s, &p); err != nil {
			t.Fatalf("ComputeModes failed: %v", err)
		}
	}
	if err := ComputeJunctions(tract, &p, true); err != nil {
		t.Fatalf("ComputeJunctions failed: %v", err)
	}

	// The small square is contained in the large one, so the tract has no
	// junction segment and the matching surface is the small contour.
	if tract.Count() != 2 {
		t.Fatalf("Count = %d, want 2 segments", tract.Count())
	}
	s0 := tract.MustSegment(0)
	want := 0.25 / math.Sqrt(1*0.25) // S_match / sqrt(A1*A2) = 0.5
	if got := s0.F[0].At(0, 0); math.Abs(got-want) > 0.02 {
		t.Errorf("F(0,0) = %g, want %g", got, want)
	}

	// Three quarters of the exit surface face the wall: the residue integral
	// of the constant mode is 0.75, so Gend(0,0) = 1/(1-0.75).
	if got := s0.Gend.At(0, 0); math.Abs(got-4) > 0.2 {
		t.Errorf("Gend(0,0) = %g, want 4", got)
	}
	// The entrance of the narrow segment is fully covered.
	if got := tract.MustSegment(1).Gstart.At(0, 0); math.Abs(got-1) > 0.02 {
		t.Errorf("Gstart(0,0) = %g, want 1", got)
	}
}

// A junction segment carries the intersection contour and matches against the
// whole of its own surface on both sides.
func TestComputeJunctionsThroughJunctionSegment(t *testing.T) {
	profs := tubeProfiles([]float64{0, 2}, 1)
	shifted := geom.Polygon{
		{X: -0.2, Y: -0.7}, {X: 0.8, Y: -0.7}, {X: 0.8, Y: 0.7}, {X: -0.2, Y: 0.7},
	}
	profs[1].Contour = shifted
	profs[1].SurfaceIdx = make([]int, len(shifted))

	p := testParams()
	p.ModeCount = 1
	tract, err := BuildTract(profs, &p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}
	if tract.Count() != 3 {
		t.Fatalf("Count = %d, want 2 slices + 1 junction", tract.Count())
	}
	for _, s := range tract.Segments() {
		if err := ComputeModes(s, &p); err != nil {
			t.Fatalf("ComputeModes failed: %v", err)
		}
	}
	if err := ComputeJunctions(tract, &p, false); err != nil {
		t.Fatalf("ComputeJunctions failed: %v", err)
	}

	// Intersection [-0.2, 0.5] x [-0.5, 0.5]: area 0.7. The constant modes
	// overlap over the junction surface only: S_int / sqrt(A_left * A_junc)
	// into the junction and S_int / sqrt(A_junc * A_right) out of it.
	wantIn := 0.7 / math.Sqrt(1*0.7)
	if got := tract.MustSegment(0).F[0].At(0, 0); math.Abs(got-wantIn) > 0.02 {
		t.Errorf("F into the junction = %g, want %g", got, wantIn)
	}
	wantOut := 0.7 / math.Sqrt(0.7*1.4)
	if got := tract.MustSegment(1).F[0].At(0, 0); math.Abs(got-wantOut) > 0.02 {
		t.Errorf("F out of the junction = %g, want %g", got, wantOut)
	}
}
