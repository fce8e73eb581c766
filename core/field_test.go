package core

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
	"github.com/signalsfoundry/waveguide-acoustics/internal/cmplxmat"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// For a straight tract the exit landmark axis continues the centerline: a
// point at axial distance x beyond the mouth maps to (L + x, 0, 0).
func TestMovePointFromExitLandmarkStraightTract(t *testing.T) {
	p := testParams()
	tract, err := BuildTract(tubeProfiles([]float64{0, 2, 4}, 1), &p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}

	got := MovePointFromExitLandmarkToGeoLandmark(tract, model.Point3{X: 1})
	if math.Abs(got.X-5) > 1e-9 || math.Abs(got.Y) > 1e-9 || math.Abs(got.Z) > 1e-9 {
		t.Errorf("mapped point = %v, want {5 0 0}", got)
	}

	// The transverse coordinate is carried through unchanged.
	got = MovePointFromExitLandmarkToGeoLandmark(tract, model.Point3{X: 0.5, Y: 0.2})
	if math.Abs(got.X-4.5) > 1e-9 || math.Abs(got.Y-0.2) > 1e-9 {
		t.Errorf("mapped point = %v, want {4.5 0.2 0}", got)
	}
}

func TestCoordinateFromCartesian(t *testing.T) {
	p := testParams()
	tract, err := BuildTract(tubeProfiles([]float64{0, 2, 4}, 1), &p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}
	s := tract.MustSegment(0)

	x, local, ok := coordinateFromCartesian(s, model.Point3{X: 1, Y: 0.2, Z: 0.3}, false)
	if !ok {
		t.Fatalf("interior point was not resolved")
	}
	if math.Abs(x-1) > 1e-9 {
		t.Errorf("axial coordinate = %g, want 1", x)
	}
	if math.Abs(local.X-0.2) > 1e-9 || math.Abs(local.Y-0.3) > 1e-9 {
		t.Errorf("transverse coordinates = %v, want {0.2 0.3}", local)
	}

	// Beyond the exit plane of the segment.
	if _, _, ok := coordinateFromCartesian(s, model.Point3{X: 2.5}, false); ok {
		t.Errorf("point past the segment exit was accepted")
	}
	// Outside the contour.
	if _, _, ok := coordinateFromCartesian(s, model.Point3{X: 1, Y: 3}, false); ok {
		t.Errorf("point outside the contour was accepted")
	}
	// The bounding box test accepts the square corners region all the same.
	if _, _, ok := coordinateFromCartesian(s, model.Point3{X: 1, Y: 0.49, Z: 0.49}, true); !ok {
		t.Errorf("bounding box containment rejected an inside point")
	}
}

func TestNewFieldGrid(t *testing.T) {
	p := testParams()
	p.BBoxMin = model.Point3{X: 0, Y: 0, Z: -1}
	p.BBoxMax = model.Point3{X: 2, Y: 0, Z: 1}
	p.FieldResolution = 10

	g, err := NewFieldGrid(&p)
	if err != nil {
		t.Fatalf("NewFieldGrid failed: %v", err)
	}
	if g.Nx != 20 || g.Ny != 20 {
		t.Errorf("grid dims = %dx%d, want 20x20", g.Nx, g.Ny)
	}
	if len(g.Values) != 20 || len(g.Values[0]) != 20 {
		t.Errorf("value storage does not match the grid dims")
	}
	if g.MinAmp != 100 {
		t.Errorf("MinAmp initialized to %g, want the 100 sentinel", g.MinAmp)
	}

	p.FieldResolution = 0
	if _, err := NewFieldGrid(&p); err == nil {
		t.Errorf("expected an error for a degenerate resolution")
	}
}

func TestFieldGridValueAt(t *testing.T) {
	p := testParams()
	p.BBoxMin = model.Point3{}
	p.BBoxMax = model.Point3{X: 1, Z: 1}
	g := &FieldGrid{Nx: 2, Ny: 2, Values: [][]complex128{
		{1, 3},
		{cmplx.NaN(), 5},
	}}

	// The average skips undefined neighbors.
	v := g.ValueAt(&p, model.Point3{X: 0.5, Z: 0.5})
	if cmplx.Abs(v-3) > 1e-12 {
		t.Errorf("ValueAt center = %v, want the mean 3 of the defined neighbors", v)
	}
	if !cmplx.IsNaN(g.ValueAt(&p, model.Point3{X: 2, Z: 0.5})) {
		t.Errorf("point outside the grid should be NaN")
	}
}

// The interior field of a solved plane wave matches the modal amplitude times
// the plane mode shape.
func TestInteriorFieldPlaneWave(t *testing.T) {
	p := losslessParams()
	p.NumIntegrationStep = 7
	s := planeSegment(t, &p)

	freq := 1000.0
	f := &segmentField{Zdir: -1, Ydir: -1, Pdir: 1, Vdir: 1}
	z0 := cmplxmat.Diag([]complex128{1e10})
	if err := propagateMagnus(s, f, z0, &p, freq, -1, quantImpedance); err != nil {
		t.Fatalf("impedance pass failed: %v", err)
	}
	y0 := cmplxmat.Diag([]complex128{1e-10})
	if err := propagateMagnus(s, f, y0, &p, freq, -1, quantAdmittance); err != nil {
		t.Fatalf("admittance pass failed: %v", err)
	}
	p0 := cmplxmat.Diag([]complex128{1})
	if err := propagateMagnus(s, f, p0, &p, freq, 1, quantPressure); err != nil {
		t.Fatalf("pressure pass failed: %v", err)
	}

	// At the entrance the modal amplitude is 1 and the plane mode shape is
	// 1/sqrt(area): the physical pressure there is 1/2 for the side-2 duct.
	v, err := interiorField(s, f, 0, geom.Point{}, quantPressure)
	if err != nil {
		t.Fatalf("interiorField failed: %v", err)
	}
	want := 1 / math.Sqrt(s.Area())
	if math.Abs(real(v)-want) > 0.02*want || math.Abs(imag(v)) > 0.02*want {
		t.Errorf("entrance pressure = %v, want %g", v, want)
	}
}

// The straight tube solution stores only the segment ends, whatever the
// Magnus integration step count says: the interpolation grid has to follow
// the stored stations instead of the parameter.
func TestInteriorFieldStraightTubeStations(t *testing.T) {
	p := losslessParams()
	p.PropMethod = model.StraightTubes
	p.NumIntegrationStep = 5
	s := planeSegment(t, &p)

	freq := 1000.0
	f := &segmentField{Zdir: -1, Ydir: -1, Pdir: 1, Vdir: 1}
	z0 := cmplxmat.Diag([]complex128{1e10})
	y0 := cmplxmat.Diag([]complex128{1e-10})
	if err := propagateImpedAdmitStraight(s, f, z0, y0, &p, freq, s.Area(), s.Area()); err != nil {
		t.Fatalf("impedance pass failed: %v", err)
	}
	p0 := cmplxmat.Diag([]complex128{1})
	v0 := f.Yin().Mul(p0)
	if err := propagatePressureVelocityStraight(s, f, v0, p0, &p, freq, s.Area()); err != nil {
		t.Fatalf("pressure pass failed: %v", err)
	}
	if len(f.P) != 2 {
		t.Fatalf("stored %d pressure stations, want 2", len(f.P))
	}

	x := 0.9 * s.Length
	got, err := interiorField(s, f, x, geom.Point{}, quantPressure)
	if err != nil {
		t.Fatalf("interiorField failed: %v", err)
	}

	// Linear interpolation between the two stored stations, times the plane
	// mode shape at the duct center.
	w := complex(x/s.Length, 0)
	want := ((1-w)*f.P[0].At(0, 0) + w*f.P[1].At(0, 0)) /
		complex(math.Sqrt(s.Area()), 0)
	if cmplx.Abs(got-want) > 1e-9*cmplx.Abs(want) {
		t.Errorf("pressure at 0.9L = %v, want %v", got, want)
	}

	// The segment ends resolve to the stored end stations exactly.
	for _, c := range []struct {
		x    float64
		want complex128
	}{
		{0, f.P[0].At(0, 0)},
		{s.Length, f.P[1].At(0, 0)},
	} {
		v, err := interiorField(s, f, c.x, geom.Point{}, quantPressure)
		if err != nil {
			t.Fatalf("interiorField at %g failed: %v", c.x, err)
		}
		want := c.want / complex(math.Sqrt(s.Area()), 0)
		if cmplx.Abs(v-want) > 1e-9*cmplx.Abs(want) {
			t.Errorf("pressure at %g = %v, want %v", c.x, v, want)
		}
	}
}
