package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
)

// A hard-walled square duct of side a has cut-on frequencies
// c/(2a) * sqrt(m^2 + n^2); the first transverse pair is degenerate.
func TestComputeModesSquareDuctCutoffs(t *testing.T) {
	p := testParams()
	p.ModeCount = 4

	tract, err := BuildTract(tubeProfiles([]float64{0, 4}, 2), &p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}
	s := tract.MustSegment(0)
	if err := ComputeModes(s, &p); err != nil {
		t.Fatalf("ComputeModes failed: %v", err)
	}
	if got := s.ModeCount(); got != 4 {
		t.Fatalf("ModeCount = %d, want 4", got)
	}

	if s.EigenFreqs[0] != 0 {
		t.Errorf("plane mode cut-on = %g, want 0", s.EigenFreqs[0])
	}
	fc := p.SndSpeed / 4 // c/(2a), a = 2
	for m := 1; m <= 2; m++ {
		if rel := math.Abs(s.EigenFreqs[m]-fc) / fc; rel > 0.05 {
			t.Errorf("mode %d cut-on = %g, want %g within 5%%", m, s.EigenFreqs[m], fc)
		}
	}
	fc11 := fc * math.Sqrt2
	if rel := math.Abs(s.EigenFreqs[3]-fc11) / fc11; rel > 0.08 {
		t.Errorf("mode 3 cut-on = %g, want %g within 8%%", s.EigenFreqs[3], fc11)
	}
	for m := 1; m < 4; m++ {
		if s.EigenFreqs[m] < s.EigenFreqs[m-1] {
			t.Errorf("cut-on frequencies not sorted at mode %d", m)
		}
	}
}

// The plane mode is the constant 1/sqrt(area), positive by the sign
// convention.
func TestComputeModesPlaneModeAmplitude(t *testing.T) {
	p := testParams()
	p.ModeCount = 2

	tract, err := BuildTract(tubeProfiles([]float64{0, 4}, 2), &p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}
	s := tract.MustSegment(0)
	if err := ComputeModes(s, &p); err != nil {
		t.Fatalf("ComputeModes failed: %v", err)
	}

	want := 1 / math.Sqrt(s.Area()) // 0.5 for the side-2 square
	v, ok := s.ModeAmplitude(geom.Point{X: 0.1, Y: -0.3}, 0)
	if !ok {
		t.Fatalf("ModeAmplitude missed an interior point")
	}
	if math.Abs(v-want) > 0.02*want {
		t.Errorf("plane mode amplitude = %g, want %g", v, want)
	}
	// Constant across the section.
	if spread := s.MaxAmp[0] - s.MinAmp[0]; spread > 0.02*want {
		t.Errorf("plane mode amplitude varies by %g across the section", spread)
	}
	if s.MinAmp[0] <= 0 {
		t.Errorf("plane mode amplitude should be positive, min = %g", s.MinAmp[0])
	}

	if _, ok := s.ModeAmplitude(geom.Point{X: 5, Y: 5}, 0); ok {
		t.Errorf("ModeAmplitude accepted a point outside the contour")
	}
}

// The first transverse mode integrates to zero against the plane mode.
func TestComputeModesOrthogonality(t *testing.T) {
	p := testParams()
	p.ModeCount = 3

	tract, err := BuildTract(tubeProfiles([]float64{0, 4}, 2), &p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}
	s := tract.MustSegment(0)
	if err := ComputeModes(s, &p); err != nil {
		t.Fatalf("ComputeModes failed: %v", err)
	}

	pts, areas := s.Mesh.GaussPoints()
	modes := modeMatrixAt(s, pts, func(pt geom.Point) geom.Point { return pt })
	for m := 1; m < 3; m++ {
		dot := 0.0
		norm := 0.0
		for fi, area := range areas {
			for g := 0; g < 3; g++ {
				v0 := modes.At(fi*3+g, 0)
				vm := modes.At(fi*3+g, m)
				dot += area * geom.QuadWeight * v0 * vm
				norm += area * geom.QuadWeight * vm * vm
			}
		}
		if math.Abs(norm-1) > 0.1 {
			t.Errorf("mode %d norm = %g, want 1", m, norm)
		}
		if math.Abs(dot) > 0.05 {
			t.Errorf("modes 0 and %d are not orthogonal: %g", m, dot)
		}
	}
}

func TestComputeModesProjections(t *testing.T) {
	p := testParams()
	p.ModeCount = 2

	tract, err := BuildTract(tubeProfiles([]float64{0, 4}, 2), &p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}
	s := tract.MustSegment(0)
	if err := ComputeModes(s, &p); err != nil {
		t.Fatalf("ComputeModes failed: %v", err)
	}

	for name, m := range map[string]interface {
		Dims() (int, int)
	}{"C": s.C, "DN": s.DN, "E": s.E} {
		r, c := m.Dims()
		if r != 2 || c != 2 {
			t.Errorf("projection %s has dims %dx%d, want 2x2", name, r, c)
		}
	}
	if len(s.KR2) != 1 {
		t.Fatalf("KR2 has %d boundary matrices, want 1 for a single material", len(s.KR2))
	}
	// The boundary mass of the plane mode is perimeter/area for a constant
	// mode: (1/sqrt(A))^2 * perimeter.
	wantKR2 := s.Perimeter() / s.Area()
	if got := s.KR2[0].At(0, 0); math.Abs(got-wantKR2) > 0.05*wantKR2 {
		t.Errorf("KR2[0](0,0) = %g, want %g", got, wantKR2)
	}
}
