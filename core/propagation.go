package core

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/signalsfoundry/waveguide-acoustics/internal/cmplxmat"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// quantity identifies the modal amplitude propagated along a segment.
type quantity int

const (
	quantImpedance quantity = iota
	quantAdmittance
	quantPressure
	quantVelocity
)

// segmentField holds the modal state of one segment at one frequency: the
// impedance, admittance, pressure and velocity amplitudes at every
// integration station, in the order they were propagated, together with the
// propagation direction of each slice.
type segmentField struct {
	Z []*cmplxmat.Dense
	Y []*cmplxmat.Dense
	P []*cmplxmat.Dense
	V []*cmplxmat.Dense

	Zdir int
	Ydir int
	Pdir int
	Vdir int

	// impedancePropagated records whether the last impedance/admittance
	// pass stored an impedance (fan-out branch) or an admittance.
	impedancePropagated bool
}

// In/Out accessors resolve the stored slices against the propagation
// direction, so callers always address the physical entrance and exit of the
// segment.

func (f *segmentField) Zin() *cmplxmat.Dense {
	if f.Zdir == 1 {
		return f.Z[0]
	}
	return f.Z[len(f.Z)-1]
}

func (f *segmentField) Zout() *cmplxmat.Dense {
	if f.Zdir == 1 {
		return f.Z[len(f.Z)-1]
	}
	return f.Z[0]
}

func (f *segmentField) Yin() *cmplxmat.Dense {
	if f.Ydir == 1 {
		return f.Y[0]
	}
	return f.Y[len(f.Y)-1]
}

func (f *segmentField) Yout() *cmplxmat.Dense {
	if f.Ydir == 1 {
		return f.Y[len(f.Y)-1]
	}
	return f.Y[0]
}

func (f *segmentField) Pin() *cmplxmat.Dense {
	if f.Pdir == 1 {
		return f.P[0]
	}
	return f.P[len(f.P)-1]
}

func (f *segmentField) Pout() *cmplxmat.Dense {
	if f.Pdir == 1 {
		return f.P[len(f.P)-1]
	}
	return f.P[0]
}

func (f *segmentField) Qin() *cmplxmat.Dense {
	if f.Vdir == 1 {
		return f.V[0]
	}
	return f.V[len(f.V)-1]
}

func (f *segmentField) Qout() *cmplxmat.Dense {
	if len(f.V) == 0 {
		return f.Yout().Mul(f.Pout())
	}
	if f.Vdir == 1 {
		return f.V[len(f.V)-1]
	}
	return f.V[0]
}

// SolveState is the per-frequency state of a wave problem: one field per
// segment of the tract.
type SolveState struct {
	Freq   float64
	fields []*segmentField
}

// NewSolveState allocates the field state for every segment of the tract.
func NewSolveState(t *Tract, freq float64) *SolveState {
	st := &SolveState{Freq: freq, fields: make([]*segmentField, t.Count())}
	for i := range st.fields {
		st.fields[i] = &segmentField{Zdir: -1, Ydir: -1, Pdir: 1, Vdir: 1}
	}
	return st
}

// Field returns the modal state of segment i.
func (st *SolveState) Field(i int) *segmentField { return st.fields[i] }

// wallAdmittance returns the lumped yielding-wall admittance of the segment,
// derived from the mechanical resistance, mass and stiffness per unit area of
// the wall spread over the segment surface.
func wallAdmittance(s *Segment, p *model.SimulationParameters, freq float64) complex128 {
	if !p.WallLosses {
		return 0
	}
	zw := complex(model.StandardWallResistanceCGS,
		2*math.Pi*freq*model.StandardWallMassCGS-
			model.StandardWallStiffnessCGS/(2*math.Pi*freq)) /
		complex(s.Perimeter()*s.Length, 0)
	return -complex(p.PercentageLosses, 0) *
		(-complex(p.VolumicMass*p.SndSpeed, 0) / zw)
}

// boundarySpecAdm returns the per-mode specific boundary admittance of the
// visco-thermal boundary layer model, or the constant wall admittance when
// that model is selected instead.
func boundarySpecAdm(s *Segment, p *model.SimulationParameters, freq float64) []complex128 {
	mn := s.ModeCount()
	adm := make([]complex128, mn)
	switch {
	case p.ViscoThermalLosses:
		k := 2 * math.Pi * freq / p.SndSpeed
		for m := 0; m < mn; m++ {
			km := 2 * math.Pi * s.EigenFreqs[m] / p.SndSpeed
			adm[m] = complex(p.PercentageLosses, 0) *
				(complex(1-km*km/(k*k), 0)*p.ViscousBndSpecAdm +
					p.ThermalBndSpecAdm) * complex(math.Sqrt(freq), 0)
		}
	case p.ConstantWallImped:
		for m := 0; m < mn; m++ {
			adm[m] = complex(p.PercentageLosses, 0) * p.WallAdmit
		}
	}
	return adm
}

// characteristicImpedance returns the local characteristic impedance matrix
// of the segment at the given frequency.
func characteristicImpedance(s *Segment, p *model.SimulationParameters, freq float64) *cmplxmat.Dense {
	mn := s.ModeCount()
	k := 2 * math.Pi * freq / p.SndSpeed

	if s.Kind == KindRadiation {
		k2 := complex(k*k, 0)
		d := make([]complex128, mn)
		for m := 0; m < mn; m++ {
			d[m] = 1 / (1i * cmplx.Sqrt(k2-s.Rad.EigVal[m]))
		}
		return s.Rad.EigVec.Mul(cmplxmat.Diag(d)).Mul(s.Rad.InvEigVec)
	}

	out := cmplxmat.NewDense(mn, mn)
	for m := 0; m < mn; m++ {
		km := 2 * math.Pi * s.EigenFreqs[m] / p.SndSpeed
		switch p.PropMethod {
		case model.Magnus:
			out.Set(m, m, 1/cmplx.Sqrt(complex(km*km-k*k, 0)))
		case model.StraightTubes:
			out.Set(m, m, complex(p.VolumicMass*2*math.Pi*freq, 0)/
				cmplx.Sqrt(complex(k*k-km*km, 0))/complex(s.Area(), 0))
		}
	}
	return out
}

// characteristicAdmittance is the modal inverse of characteristicImpedance.
func characteristicAdmittance(s *Segment, p *model.SimulationParameters, freq float64) *cmplxmat.Dense {
	mn := s.ModeCount()
	k := 2 * math.Pi * freq / p.SndSpeed

	if s.Kind == KindRadiation {
		k2 := complex(k*k, 0)
		d := make([]complex128, mn)
		for m := 0; m < mn; m++ {
			d[m] = 1i * cmplx.Sqrt(k2-s.Rad.EigVal[m])
		}
		return s.Rad.EigVec.Mul(cmplxmat.Diag(d)).Mul(s.Rad.InvEigVec)
	}

	out := cmplxmat.NewDense(mn, mn)
	for m := 0; m < mn; m++ {
		km := 2 * math.Pi * s.EigenFreqs[m] / p.SndSpeed
		switch p.PropMethod {
		case model.Magnus:
			out.Set(m, m, cmplx.Sqrt(complex(km*km-k*k, 0)))
		case model.StraightTubes:
			out.Set(m, m, cmplx.Sqrt(complex(k*k-km*km, 0))*
				complex(s.Area()/(p.VolumicMass*2*math.Pi*freq), 0))
		}
	}
	return out
}

// scalingDerivative is the derivative of the linear taper profile with
// respect to the arc length.
func scalingDerivative(s *Segment) float64 {
	al := s.AxialLength()
	if al == 0 {
		return 0
	}
	return (s.ScaleOut - s.ScaleIn) / al
}

// lossyBoundaryMatrix assembles the complex boundary matrix that enters the
// transverse wavenumber operator: the per-material boundary mass matrices
// weighted by the specific boundary admittance and the wall admittance.
func lossyBoundaryMatrix(s *Segment, p *model.SimulationParameters, freq float64) *cmplxmat.Dense {
	mn := s.ModeCount()
	wallAdm := wallAdmittance(s, p, freq)
	bndAdm := boundarySpecAdm(s, p, freq)

	kr2 := cmplxmat.NewDense(mn, mn)
	for _, r := range s.KR2 {
		rc := cmplxmat.FromReal(r)
		for i := 0; i < mn; i++ {
			for j := 0; j < mn; j++ {
				kr2.Set(i, j, kr2.At(i, j)+
					rc.At(i, j)*bndAdm[j]+wallAdm*rc.At(i, j))
			}
		}
	}
	return kr2
}

// propagateMagnus integrates the chosen quantity along the segment with the
// Magnus-Moebius scheme of order 2 or 4, starting from the amplitude q0.
// Impedance and admittance walk backward along the axis, pressure and
// velocity forward; direction tells which physical end q0 belongs to.
func propagateMagnus(s *Segment, f *segmentField, q0 *cmplxmat.Dense,
	p *model.SimulationParameters, freq, direction float64, quant quantity) error {

	numX := p.NumIntegrationStep
	mn := s.ModeCount()
	al := s.AxialLength()

	push := func(m *cmplxmat.Dense) {
		switch quant {
		case quantImpedance:
			f.Z = append(f.Z, m)
		case quantAdmittance:
			f.Y = append(f.Y, m)
		case quantPressure:
			f.P = append(f.P, m)
		case quantVelocity:
			f.V = append(f.V, m)
		}
	}

	switch quant {
	case quantImpedance:
		f.Z = f.Z[:0]
	case quantAdmittance:
		f.Y = f.Y[:0]
	case quantPressure:
		f.P = f.P[:0]
	case quantVelocity:
		f.V = f.V[:0]
	}
	push(q0)

	if al == 0 {
		return nil
	}

	var dX float64
	switch quant {
	case quantImpedance, quantAdmittance:
		dX = -al / float64(numX-1)
	case quantPressure, quantVelocity:
		dX = al / float64(numX-1)
	}

	curv := 0.0
	if p.Curved {
		curv = s.Curvature()
	}
	k := 2 * math.Pi * freq / p.SndSpeed
	kr2 := lossyBoundaryMatrix(s, p, freq)

	eMat := cmplxmat.FromReal(s.E)
	eMatT := eMat.Transpose()
	cMat := cmplxmat.FromReal(s.C)
	dnMat := cmplxmat.FromReal(s.DN)
	sd := scalingDerivative(s)

	// systemMatrix assembles the first-order modal propagation operator at
	// the normalized position tau, with dl the local taper derivative.
	systemMatrix := func(l, dl float64) *cmplxmat.Dense {
		k2 := cmplxmat.NewDense(mn, mn)
		for j := 0; j < mn; j++ {
			km := 2 * math.Pi * s.EigenFreqs[j] / p.SndSpeed
			k2.Set(j, j, complex(km*km-k*k*l*l, 0))
		}
		k2 = k2.Add(kr2.Scale(1i * complex(k*l, 0)))

		a := cmplxmat.NewDense(2*mn, 2*mn)
		a.SetSubmatrix(0, 0, eMat.Scale(complex(dl/l, 0)))
		tr := cmplxmat.Identity(mn).Sub(cMat.Scale(complex(curv*l, 0))).
			Scale(complex(1/(l*l), 0))
		a.SetSubmatrix(0, mn, tr)
		bl := k2.Add(cMat.Scale(complex(k*l, 0) * complex(k*l, 0)).
			Sub(dnMat).Scale(complex(curv*l, 0)))
		a.SetSubmatrix(mn, 0, bl)
		a.SetSubmatrix(mn, mn, eMatT.Scale(complex(-dl/l, 0)))
		return a
	}

	for i := 0; i < numX-1; i++ {
		var omega *cmplxmat.Dense
		var err error

		switch p.MagnusOrder {
		case 2:
			var tau float64
			if direction < 0 {
				tau = (float64(numX-i) - 1.5) / float64(numX-1)
			} else {
				tau = (float64(i) + 0.5) / float64(numX-1)
			}
			l0 := s.ScalingAt(tau)
			dl0 := -float64(f.Ydir) * sd
			omega, err = cmplxmat.Expm(systemMatrix(l0, dl0).Scale(complex(dX, 0)))
			if err != nil {
				return fmt.Errorf("magnus step %d: %w", i, err)
			}

		case 4:
			var tau0, tau1 float64
			if dX < 0 {
				tau0 = (float64(numX-i) - 1.5 + math.Sqrt(3)/6) / float64(numX-1)
				tau1 = (float64(numX-i) - 1.5 - math.Sqrt(3)/6) / float64(numX-1)
			} else {
				tau0 = (float64(i) + 0.5 - math.Sqrt(3)/6) / float64(numX-1)
				tau1 = (float64(i) + 0.5 + math.Sqrt(3)/6) / float64(numX-1)
			}
			a0 := systemMatrix(s.ScalingAt(tau0), sd)
			a1 := systemMatrix(s.ScalingAt(tau1), sd)
			commutator := a1.Mul(a0).Sub(a0.Mul(a1))
			arg := a0.Add(a1).Scale(complex(0.5*dX, 0)).
				Add(commutator.Scale(complex(math.Sqrt(3)*dX*dX/12, 0)))
			omega, err = cmplxmat.Expm(arg)
			if err != nil {
				return fmt.Errorf("magnus step %d: %w", i, err)
			}

		default:
			return fmt.Errorf("%w: unsupported magnus order %d", ErrConfiguration, p.MagnusOrder)
		}

		o11 := omega.Submatrix(0, 0, mn, mn)
		o12 := omega.Submatrix(0, mn, mn, mn)
		o21 := omega.Submatrix(mn, 0, mn, mn)
		o22 := omega.Submatrix(mn, mn, mn, mn)

		switch quant {
		case quantImpedance:
			z := f.Z[len(f.Z)-1]
			den, err := o21.Mul(z).Add(o22).Inverse()
			if err != nil {
				return fmt.Errorf("impedance update at step %d: %w", i, err)
			}
			f.Z = append(f.Z, o11.Mul(z).Add(o12).Mul(den))
		case quantAdmittance:
			y := f.Y[len(f.Y)-1]
			den, err := o11.Add(o12.Mul(y)).Inverse()
			if err != nil {
				return fmt.Errorf("admittance update at step %d: %w", i, err)
			}
			f.Y = append(f.Y, o21.Add(o22.Mul(y)).Mul(den))
		case quantPressure:
			f.P = append(f.P, o11.Add(o12.Mul(f.Y[numX-1-i])).Mul(f.P[len(f.P)-1]))
		case quantVelocity:
			f.V = append(f.V, o21.Mul(f.Z[numX-1-i]).Add(o22).Mul(f.V[len(f.V)-1]))
		}
	}
	return nil
}

// straightTubeMatrices returns the per-mode transfer matrices of a straight
// constant section: iD2 = 1/(j sin(kn L)), iD3 = 1/(j tan(kn L)),
// D1 = cos(kn L), D2 = j sin(kn L).
func straightTubeMatrices(s *Segment, p *model.SimulationParameters, freq float64) (iD2, iD3, d1, d2 *cmplxmat.Dense) {
	mn := s.ModeCount()
	k := 2 * math.Pi * freq / p.SndSpeed
	iD2 = cmplxmat.NewDense(mn, mn)
	iD3 = cmplxmat.NewDense(mn, mn)
	d1 = cmplxmat.NewDense(mn, mn)
	d2 = cmplxmat.NewDense(mn, mn)
	for m := 0; m < mn; m++ {
		km := 2 * math.Pi * s.EigenFreqs[m] / p.SndSpeed
		kn := cmplx.Sqrt(complex(k*k-km*km, 0))
		knl := kn * complex(s.Length, 0)
		iD2.Set(m, m, 1/(1i*cmplx.Sin(knl)))
		iD3.Set(m, m, 1/(1i*cmplx.Tan(knl)))
		d1.Set(m, m, cmplx.Cos(knl))
		d2.Set(m, m, 1i*cmplx.Sin(knl))
	}
	return iD2, iD3, d1, d2
}

// propagateImpedAdmitStraight advances the impedance and admittance through
// the segment with the closed-form straight tube solution. The analytic form
// depends on whether the neighboring junctions contract or expand.
func propagateImpedAdmitStraight(s *Segment, f *segmentField, z0, y0 *cmplxmat.Dense,
	p *model.SimulationParameters, freq, prevArea, nextArea float64) error {

	f.Z = f.Z[:0]
	f.Y = f.Y[:0]
	f.Z = append(f.Z, z0)
	f.Y = append(f.Y, y0)
	if s.Kind == KindRadiation || s.Length == 0 {
		return nil
	}

	yc := characteristicAdmittance(s, p, freq)
	zc, err := yc.Inverse()
	if err != nil {
		return fmt.Errorf("characteristic admittance is singular: %w", err)
	}
	iD2, iD3, _, _ := straightTubeMatrices(s, p, freq)
	id := cmplxmat.Identity(s.ModeCount())

	area := s.Area()
	switch {
	case area > prevArea && nextArea > area:
		den, err := y0.Add(iD3.Mul(yc)).Inverse()
		if err != nil {
			return fmt.Errorf("straight tube admittance update: %w", err)
		}
		y := iD3.Mul(yc).Sub(iD2.Mul(yc).Mul(den).Mul(iD2).Mul(yc))
		z, err := y.Inverse()
		if err != nil {
			return fmt.Errorf("straight tube impedance: %w", err)
		}
		f.Y = append(f.Y, y)
		f.Z = append(f.Z, z)
	case area > prevArea:
		den, err := id.Add(iD3.Mul(zc).Mul(y0)).Inverse()
		if err != nil {
			return fmt.Errorf("straight tube impedance update: %w", err)
		}
		z := iD3.Mul(zc).Sub(iD2.Mul(zc).Mul(y0).Mul(den).Mul(iD2).Mul(zc))
		y, err := z.Inverse()
		if err != nil {
			return fmt.Errorf("straight tube admittance: %w", err)
		}
		f.Z = append(f.Z, z)
		f.Y = append(f.Y, y)
	case nextArea > area:
		den, err := id.Add(iD3.Mul(yc).Mul(z0)).Inverse()
		if err != nil {
			return fmt.Errorf("straight tube admittance update: %w", err)
		}
		y := iD3.Mul(yc).Sub(iD2.Mul(yc).Mul(z0).Mul(den).Mul(iD2).Mul(yc))
		z, err := y.Inverse()
		if err != nil {
			return fmt.Errorf("straight tube impedance: %w", err)
		}
		f.Y = append(f.Y, y)
		f.Z = append(f.Z, z)
	default:
		den, err := z0.Add(iD3.Mul(zc)).Inverse()
		if err != nil {
			return fmt.Errorf("straight tube impedance update: %w", err)
		}
		z := iD3.Mul(zc).Sub(iD2.Mul(zc).Mul(den).Mul(iD2).Mul(zc))
		y, err := z.Inverse()
		if err != nil {
			return fmt.Errorf("straight tube admittance: %w", err)
		}
		f.Z = append(f.Z, z)
		f.Y = append(f.Y, y)
	}
	return nil
}

// propagatePressureVelocityStraight advances the pressure and velocity with
// the closed-form straight tube solution, using the impedance or admittance
// stored by the preceding backward pass.
func propagatePressureVelocityStraight(s *Segment, f *segmentField, v0, p0 *cmplxmat.Dense,
	p *model.SimulationParameters, freq, nextArea float64) error {

	f.V = f.V[:0]
	f.P = f.P[:0]
	f.V = append(f.V, v0)
	f.P = append(f.P, p0)
	if s.Kind == KindRadiation || s.Length == 0 {
		return nil
	}

	yc := characteristicAdmittance(s, p, freq)
	_, _, d1, d2 := straightTubeMatrices(s, p, freq)

	if nextArea > s.Area() {
		den, err := d2.Mul(yc).Mul(f.Z[0]).Add(d1).Inverse()
		if err != nil {
			return fmt.Errorf("straight tube velocity update: %w", err)
		}
		v := den.Mul(f.V[len(f.V)-1])
		f.V = append(f.V, v)
		f.P = append(f.P, f.Z[0].Mul(v))
	} else {
		ycInv, err := yc.Inverse()
		if err != nil {
			return fmt.Errorf("characteristic admittance is singular: %w", err)
		}
		den, err := d1.Add(d2.Mul(ycInv).Mul(f.Y[0])).Inverse()
		if err != nil {
			return fmt.Errorf("straight tube pressure update: %w", err)
		}
		press := den.Mul(f.P[len(f.P)-1])
		f.P = append(f.P, press)
		f.V = append(f.V, f.Y[0].Mul(press))
	}
	return nil
}
