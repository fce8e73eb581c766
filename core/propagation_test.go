package core

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/signalsfoundry/waveguide-acoustics/internal/cmplxmat"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// losslessParams disables every wall loss model so the plane mode follows the
// textbook transmission line solution.
func losslessParams() model.SimulationParameters {
	p := testParams()
	p.ModeCount = 1
	p.ViscoThermalLosses = false
	p.WallLosses = false
	p.ConstantWallImped = false
	return p
}

// planeSegment builds a single meshed square duct segment of length 2.
func planeSegment(t *testing.T, p *model.SimulationParameters) *Segment {
	t.Helper()
	tract, err := BuildTract(tubeProfiles([]float64{0, 4}, 2), p, false)
	if err != nil {
		t.Fatalf("BuildTract failed: %v", err)
	}
	s := tract.MustSegment(0)
	if err := ComputeModes(s, p); err != nil {
		t.Fatalf("ComputeModes failed: %v", err)
	}
	return s
}

func TestCharacteristicImpedanceAdmittanceAreInverse(t *testing.T) {
	for _, method := range []model.PropagationMethod{model.Magnus, model.StraightTubes} {
		p := losslessParams()
		p.ModeCount = 3
		p.PropMethod = method
		s := planeSegment(t, &p)

		z := characteristicImpedance(s, &p, 500)
		y := characteristicAdmittance(s, &p, 500)
		prod := z.Mul(y)
		for m := 0; m < s.ModeCount(); m++ {
			if d := cmplx.Abs(prod.At(m, m) - 1); d > 1e-12 {
				t.Errorf("%v: Zc*Yc diagonal %d off identity by %g", method, m, d)
			}
		}
	}
}

// A hard-walled uniform tube of length L seen from its entrance has the
// normalized plane-mode impedance cot(kL)/k.
func TestPropagateMagnusHardWallImpedance(t *testing.T) {
	for _, order := range []int{2, 4} {
		for _, freq := range []float64{200, 500, 1000, 4000} {
			p := losslessParams()
			p.MagnusOrder = order
			p.NumIntegrationStep = 7
			s := planeSegment(t, &p)

			k := 2 * math.Pi * freq / p.SndSpeed
			want := 1 / (k * math.Tan(k*s.Length))

			f := &segmentField{Zdir: -1, Ydir: -1, Pdir: 1, Vdir: 1}
			z0 := cmplxmat.Diag([]complex128{1e10})
			if err := propagateMagnus(s, f, z0, &p, freq, -1, quantImpedance); err != nil {
				t.Fatalf("order %d at %g Hz: propagateMagnus failed: %v", order, freq, err)
			}
			if len(f.Z) != p.NumIntegrationStep {
				t.Fatalf("order %d: stored %d stations, want %d", order, len(f.Z), p.NumIntegrationStep)
			}
			got := cmplx.Abs(f.Zin().At(0, 0))
			if rel := math.Abs(got-want) / want; rel > 1e-6 {
				t.Errorf("order %d at %g Hz: |Zin| = %g, want %g", order, freq, got, want)
			}
		}
	}
}

// Propagating the admittance from the inverse terminal condition keeps Y equal
// to the inverse of Z at every station, and the forward pressure and velocity
// passes stay consistent with them.
func TestPropagateMagnusConsistency(t *testing.T) {
	p := losslessParams()
	p.NumIntegrationStep = 7
	s := planeSegment(t, &p)

	freq := 1000.0
	f := &segmentField{Zdir: -1, Ydir: -1, Pdir: 1, Vdir: 1}
	z0 := cmplxmat.Diag([]complex128{1e10})
	y0 := cmplxmat.Diag([]complex128{1e-10})
	if err := propagateMagnus(s, f, z0, &p, freq, -1, quantImpedance); err != nil {
		t.Fatalf("impedance pass failed: %v", err)
	}
	if err := propagateMagnus(s, f, y0, &p, freq, -1, quantAdmittance); err != nil {
		t.Fatalf("admittance pass failed: %v", err)
	}
	for i := range f.Z {
		zy := f.Z[i].Mul(f.Y[i]).At(0, 0)
		if d := cmplx.Abs(zy - 1); d > 1e-6 {
			t.Errorf("station %d: Z*Y off identity by %g", i, d)
		}
	}

	p0 := cmplxmat.Diag([]complex128{1})
	v0 := f.Yin().Mul(p0)
	if err := propagateMagnus(s, f, p0, &p, freq, 1, quantPressure); err != nil {
		t.Fatalf("pressure pass failed: %v", err)
	}
	if err := propagateMagnus(s, f, v0, &p, freq, 1, quantVelocity); err != nil {
		t.Fatalf("velocity pass failed: %v", err)
	}

	// Hard wall at the exit: the pressure rises by 1/cos(kL) along the tube
	// and the exit flow stays near zero.
	k := 2 * math.Pi * freq / p.SndSpeed
	wantGain := 1 / math.Cos(k*s.Length)
	gain := cmplx.Abs(f.Pout().At(0, 0)) / cmplx.Abs(f.Pin().At(0, 0))
	if rel := math.Abs(gain-wantGain) / wantGain; rel > 1e-4 {
		t.Errorf("pressure gain = %g, want %g", gain, wantGain)
	}
	qOut := cmplx.Abs(f.Qout().At(0, 0))
	yp := cmplx.Abs(f.Yout().Mul(f.Pout()).At(0, 0))
	if math.Abs(qOut-yp) > 1e-6*(1+yp) {
		t.Errorf("exit flow %g inconsistent with Yout*Pout = %g", qOut, yp)
	}
}

// The closed-form straight tube solution reproduces the physical hard wall
// input impedance rho*c/A * cot(kL) of the plane mode.
func TestPropagateStraightTubesHardWall(t *testing.T) {
	p := losslessParams()
	p.PropMethod = model.StraightTubes
	s := planeSegment(t, &p)

	for _, freq := range []float64{200, 500, 1000, 4000} {
		k := 2 * math.Pi * freq / p.SndSpeed
		want := p.VolumicMass * p.SndSpeed / s.Area() / math.Tan(k*s.Length)

		f := &segmentField{Zdir: -1, Ydir: -1, Pdir: 1, Vdir: 1}
		z0 := cmplxmat.Diag([]complex128{1e10})
		y0 := cmplxmat.Diag([]complex128{1e-10})
		if err := propagateImpedAdmitStraight(s, f, z0, y0, &p, freq, s.Area(), s.Area()); err != nil {
			t.Fatalf("%g Hz: propagateImpedAdmitStraight failed: %v", freq, err)
		}
		got := cmplx.Abs(f.Zin().At(0, 0))
		if rel := math.Abs(got-want) / math.Abs(want); rel > 1e-6 {
			t.Errorf("%g Hz: |Zin| = %g, want %g", freq, got, want)
		}
		zy := f.Zin().Mul(f.Yin()).At(0, 0)
		if d := cmplx.Abs(zy - 1); d > 1e-6 {
			t.Errorf("%g Hz: entrance Z*Y off identity by %g", freq, d)
		}
	}
}

func TestWallAdmittanceDisabled(t *testing.T) {
	p := losslessParams()
	s := planeSegment(t, &p)
	if got := wallAdmittance(s, &p, 1000); got != 0 {
		t.Errorf("wall admittance = %v with wall losses disabled, want 0", got)
	}
	p.WallLosses = true
	p.PercentageLosses = 1
	if got := wallAdmittance(s, &p, 1000); real(got) == 0 && imag(got) == 0 {
		t.Errorf("wall admittance should be nonzero when enabled")
	}
}
