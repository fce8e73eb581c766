package core

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
	"github.com/signalsfoundry/waveguide-acoustics/internal/cmplxmat"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// coordinateFromCartesian maps a cartesian query point into the local frame
// of the segment: the axial coordinate along the centerline and the unscaled
// transverse coordinates. The last return is false when the point does not
// belong to the segment. With useBbox set, the transverse containment test
// uses the contour bounding box instead of the polygon itself.
func coordinateFromCartesian(s *Segment, pt model.Point3, useBbox bool) (float64, geom.Point, bool) {
	al := s.AxialLength()
	if al <= 0 {
		return 0, geom.Point{}, false
	}

	var x, y, z float64
	ctl := s.CtrLinePtIn
	if math.Abs(s.CircleArcAngle) < model.MinimalDistance {
		x = pt.X - ctl.X
		sc := s.ScalingAt(x / al)
		y = pt.Y / sc
		z = pt.Z / sc
	} else {
		r := math.Abs(s.CurvRadius)
		center := ctl.Add(s.NormalIn.Scale(s.CurvRadius))
		ptC := geom.Point{X: pt.X - center.X, Y: pt.Z - center.Y}
		ctlC := ctl.Sub(center)

		if (s.CurvRadius < 0 && s.CurvRadius*s.CircleArcAngle > 0) ||
			(s.CurvRadius > 0 && s.CurvRadius*s.CircleArcAngle < 0) {
			x = r * math.Mod(ctlC.Angle()-ptC.Angle()+2*math.Pi, 2*math.Pi)
		} else {
			x = r * math.Mod(ptC.Angle()-ctlC.Angle()+2*math.Pi, 2*math.Pi)
		}

		sc := s.ScalingAt(x / al)
		y = pt.Y / sc
		if s.CurvRadius < 0 {
			z = (ptC.Norm() - r) / sc
		} else {
			z = -(ptC.Norm() - r) / sc
		}
	}

	if x > al || x < 0 {
		return 0, geom.Point{}, false
	}
	local := geom.Point{X: y, Y: z}
	if useBbox {
		if !s.Contour.Bounds().Contains(local) {
			return 0, geom.Point{}, false
		}
	} else if !s.Contour.Contains(local) {
		return 0, geom.Point{}, false
	}
	return x, local, true
}

// ensurePressure derives the modal pressure amplitudes from the stored
// impedances and velocities when the pressure pass was skipped.
func (f *segmentField) ensurePressure() {
	if len(f.P) > 0 || len(f.Z) == 0 || len(f.V) == 0 {
		return
	}
	numStep := len(f.Z)
	for i := 0; i < numStep; i++ {
		f.P = append(f.P, f.Z[numStep-1-i].Mul(f.V[i]))
	}
}

// ensureVelocity derives the modal velocity amplitudes from the stored
// admittances and pressures.
func (f *segmentField) ensureVelocity() {
	if len(f.V) > 0 || len(f.Y) == 0 || len(f.P) == 0 {
		return
	}
	numStep := len(f.Y)
	for i := 0; i < numStep; i++ {
		f.V = append(f.V, f.Y[numStep-1-i].Mul(f.P[i]))
	}
}

// interiorField evaluates the acoustic pressure or axial velocity at a point
// inside the segment, interpolating the modal amplitudes linearly between the
// two nearest stored stations and summing the modes at the transverse
// position. The station grid is derived from the stored stacks themselves:
// the Magnus scheme stores one amplitude per integration step, the straight
// tube solution only the segment ends.
func interiorField(s *Segment, f *segmentField, x float64, local geom.Point,
	quant quantity) (complex128, error) {

	var stack []*cmplxmat.Dense
	var dir int
	switch quant {
	case quantPressure:
		f.ensurePressure()
		stack = f.P
		dir = f.Pdir
	case quantVelocity:
		f.ensureVelocity()
		stack = f.V
		dir = f.Vdir
	default:
		return 0, fmt.Errorf("%w: unsupported field quantity", ErrConfiguration)
	}
	if len(stack) == 0 {
		return 0, fmt.Errorf("%w: no modal amplitudes stored", ErrUnresolvedPoint)
	}
	if len(stack) == 1 {
		return sumModesAt(s, local, stack[0]), nil
	}

	numX := len(stack)
	nPt := numX - 1
	dx := s.AxialLength() / float64(nPt)
	i0 := min(max(int(math.Floor(x/dx)), 0), numX-2)
	i1 := i0 + 1
	x0 := float64(i0) * dx
	if dir == -1 {
		i0, i1 = nPt-i0, nPt-i1
	}
	q := stack[i1].Sub(stack[i0]).Scale(complex((x-x0)/dx, 0)).Add(stack[i0])
	return sumModesAt(s, local, q), nil
}

// sumModesAt contracts a modal amplitude column with the mode shapes at one
// transverse point.
func sumModesAt(s *Segment, local geom.Point, q *cmplxmat.Dense) complex128 {
	modes := modeMatrixAt(s, []geom.Point{local}, func(pt geom.Point) geom.Point { return pt })
	var out complex128
	for m := 0; m < s.ModeCount(); m++ {
		out += complex(modes.At(0, m), 0) * q.At(m, 0)
	}
	return out
}

// AcousticFieldAt returns the complex acoustic pressure at a cartesian query
// point, from the interior modal field when the point lies inside the
// waveguide and from the Rayleigh-Sommerfeld integral over the exit section
// when it lies in the radiation half-space. Points covered by neither return
// NaN.
func AcousticFieldAt(t *Tract, st *SolveState, p *model.SimulationParameters,
	queryPt model.Point3) complex128 {

	numSec := t.Count()
	if numSec == 0 {
		return cmplx.NaN()
	}
	last := t.MustSegment(numSec - 1)
	endNormal := last.NormalOut
	endCenterLine := last.CtrLinePtOut

	vec := geom.Point{X: queryPt.X - endCenterLine.X, Y: queryPt.Z - endCenterLine.Y}

	// Side of the exit plane the query point lies on.
	var angle float64
	if math.Abs(last.CircleArcAngle) <= model.MinimalDistance {
		length := last.CtrLinePtOut.X - last.CtrLinePtIn.X
		if math.Signbit(vec.X * length) {
			angle = -1
		} else {
			angle = 1
		}
	} else if math.Signbit(last.CurvRadius * last.CircleArcAngle) {
		angle = math.Pi - math.Mod(vec.Angle()-endNormal.Angle()+2*math.Pi, 2*math.Pi)
	} else {
		angle = math.Mod(vec.Angle()-endNormal.Angle()+2*math.Pi, 2*math.Pi) - math.Pi
	}

	if angle <= 0 {
		for i := 0; i < numSec; i++ {
			s := t.MustSegment(i)
			if s.Kind != KindFEM {
				continue
			}
			if x, local, ok := coordinateFromCartesian(s, queryPt, false); ok {
				field, err := interiorField(s, st.Field(i), x, local, quantPressure)
				if err != nil {
					return cmplx.NaN()
				}
				return field
			}
		}
		return cmplx.NaN()
	}

	radSec := t.LastFEM()
	radPress, err := RayleighSommerfeldIntegral(t, st, p,
		[]model.Point3{{X: vec.X, Y: queryPt.Y, Z: vec.Y}}, st.Freq, radSec)
	if err != nil {
		return cmplx.NaN()
	}
	return radPress[0]
}

func dist3(a, b model.Point3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// RayleighSommerfeldIntegral computes the pressure radiated at the given
// points by the exit velocity distribution of the section radSecIdx, the
// section being baffled in an infinite plane. The points are expressed in the
// exit landmark, the axial distance first.
func RayleighSommerfeldIntegral(t *Tract, st *SolveState, p *model.SimulationParameters,
	points []model.Point3, freq float64, radSecIdx int) ([]complex128, error) {

	s := t.MustSegment(radSecIdx)
	f := st.Field(radSecIdx)
	if len(f.P) == 0 && len(f.V) == 0 {
		return nil, fmt.Errorf("%w: no exit velocity available", ErrUnresolvedPoint)
	}
	scaling := s.ScaleOut
	vm := f.Qout()
	k := 2 * math.Pi * freq / p.SndSpeed
	mn := s.ModeCount()

	radPress := make([]complex128, len(points))

	switch p.RadIntegrationMethod {
	case model.DiscreteGrid:
		const gridDensity = 15
		spacing := math.Sqrt(s.Area()) / gridDensity
		dS := spacing * spacing

		cartGrid := cartesianGrid(s.Contour, spacing)
		if len(cartGrid) == 0 {
			return nil, fmt.Errorf("%w: radiating surface grid is empty", ErrMeshDegenerate)
		}
		modes := modeMatrixAt(s, cartGrid, func(pt geom.Point) geom.Point { return pt })

		for c, g := range cartGrid {
			src := model.Point3{X: 0, Y: g.X, Z: g.Y}
			for m := 0; m < mn; m++ {
				for pi := range points {
					r := dist3(points[pi], src)
					radPress[pi] -= vm.At(m, 0) * complex(modes.At(c, m), 0) *
						cmplx.Exp(1i*complex(k*scaling*r, 0)) *
						complex(dS/scaling/r, 0)
				}
			}
		}

	case model.GaussIntegration:
		if s.Mesh == nil {
			if err := ComputeMesh(s); err != nil {
				return nil, err
			}
		}
		gaussPts, areaFaces := s.Mesh.GaussPoints()
		modes := modeMatrixAt(s, gaussPts, func(pt geom.Point) geom.Point { return pt })

		scaled := make([]model.Point3, len(points))
		for i, pt := range points {
			scaled[i] = model.Point3{X: pt.X / scaling, Y: pt.Y / scaling, Z: pt.Z / scaling}
		}

		for face, area := range areaFaces {
			for m := 0; m < mn; m++ {
				for pi := range scaled {
					for g := 0; g < 3; g++ {
						gp := gaussPts[face*3+g]
						r := dist3(scaled[pi], model.Point3{X: 0, Y: gp.X, Z: gp.Y})
						radPress[pi] -= complex(area*geom.QuadWeight, 0) *
							vm.At(m, 0) * complex(modes.At(face*3+g, m), 0) *
							cmplx.Exp(-1i*complex(k*scaling*r, 0)) /
							complex(scaling*r, 0)
					}
				}
			}
		}

	default:
		return nil, fmt.Errorf("%w: unknown radiation integration method", ErrConfiguration)
	}

	for i := range radPress {
		radPress[i] /= complex(2*math.Pi, 0)
	}
	return radPress, nil
}

// MovePointFromExitLandmarkToGeoLandmark converts a point expressed in the
// exit landmark of the tract, the axis along the exit normal, into the
// geometry landmark the field computations work in.
func MovePointFromExitLandmarkToGeoLandmark(t *Tract, pt model.Point3) model.Point3 {
	last := t.MustSegment(t.Count() - 1)
	endNormal := last.NormalOut
	ptVert := geom.Point{X: pt.X, Y: pt.Z}

	angle := math.Mod(endNormal.Angle()-geom.Point{X: 0, Y: 1}.Angle()+2*math.Pi, 2*math.Pi)

	flip := false
	if math.Abs(last.CircleArcAngle) > model.MinimalDistance {
		flip = math.Signbit(last.CurvRadius * last.CircleArcAngle)
	} else {
		ctlVec := last.CtrLinePtIn.Sub(last.CtrLinePtOut)
		angleCtlNorm := math.Mod(ctlVec.Angle()-endNormal.Angle()+2*math.Pi, 2*math.Pi)
		ptVec := last.CtrLinePtOut.Sub(ptVert)
		anglePtNorm := math.Mod(ptVec.Angle()-endNormal.Angle()+2*math.Pi, 2*math.Pi)
		flip = !math.Signbit((angleCtlNorm - math.Pi) * anglePtNorm)
	}
	if flip {
		angle -= math.Pi
		ptVert = geom.Point{X: ptVert.X, Y: -ptVert.Y}.Rotate(angle)
	} else {
		ptVert = ptVert.Rotate(angle)
	}

	return model.Point3{
		X: ptVert.X + last.CtrLinePtOut.X,
		Y: pt.Y,
		Z: ptVert.Y + last.CtrLinePtOut.Y,
	}
}

// FieldGrid is the sampled acoustic field over a rectangular region of the
// midsagittal plane, with the amplitude and phase extrema tracked during the
// sampling.
type FieldGrid struct {
	Nx, Ny int
	// Values is indexed [iy][ix], NaN where the field is undefined.
	Values [][]complex128

	MaxAmp, MinAmp     float64
	MaxPhase, MinPhase float64
}

// NewFieldGrid sizes the grid from the bounding box and resolution of the
// parameters.
func NewFieldGrid(p *model.SimulationParameters) (*FieldGrid, error) {
	lx := p.BBoxMax.X - p.BBoxMin.X
	ly := p.BBoxMax.Z - p.BBoxMin.Z
	nx := int(math.Round(lx * float64(p.FieldResolution)))
	ny := int(math.Round(ly * float64(p.FieldResolution)))
	if nx < 2 || ny < 2 {
		return nil, fmt.Errorf("%w: field bounding box too small for resolution %d",
			ErrConfiguration, p.FieldResolution)
	}
	g := &FieldGrid{Nx: nx, Ny: ny, MinAmp: 100}
	g.Values = make([][]complex128, ny)
	for j := range g.Values {
		g.Values[j] = make([]complex128, nx)
		for i := range g.Values[j] {
			g.Values[j][i] = cmplx.NaN()
		}
	}
	return g, nil
}

// sampleLine fills one vertical line of the grid.
func (g *FieldGrid) sampleLine(t *Tract, st *SolveState, p *model.SimulationParameters, ix int) {
	lx := p.BBoxMax.X - p.BBoxMin.X
	ly := p.BBoxMax.Z - p.BBoxMin.Z
	for j := 0; j < g.Ny; j++ {
		queryPt := model.Point3{
			X: lx*float64(ix)/float64(g.Nx-1) + p.BBoxMin.X,
			Z: ly*float64(j)/float64(g.Ny-1) + p.BBoxMin.Z,
		}
		v := AcousticFieldAt(t, st, p, queryPt)
		g.Values[j][ix] = v

		if !cmplx.IsNaN(v) {
			g.MaxAmp = math.Max(g.MaxAmp, cmplx.Abs(v))
			g.MinAmp = math.Min(g.MinAmp, cmplx.Abs(v))
			g.MaxPhase = math.Max(g.MaxPhase, cmplx.Phase(v))
			g.MinPhase = math.Min(g.MinPhase, cmplx.Phase(v))
		}
	}
}

// ValueAt returns the field at an arbitrary point of the sampled plane: the
// average of the defined values among the four grid nodes surrounding it. NaN
// when the point lies outside the grid or all four neighbors are undefined.
func (g *FieldGrid) ValueAt(p *model.SimulationParameters, pt model.Point3) complex128 {
	lx := p.BBoxMax.X - p.BBoxMin.X
	ly := p.BBoxMax.Z - p.BBoxMin.Z
	fx := (pt.X - p.BBoxMin.X) / lx * float64(g.Nx-1)
	fz := (pt.Z - p.BBoxMin.Z) / ly * float64(g.Ny-1)
	if fx < 0 || fz < 0 || fx > float64(g.Nx-1) || fz > float64(g.Ny-1) {
		return cmplx.NaN()
	}

	i0 := int(math.Floor(fx))
	j0 := int(math.Floor(fz))
	i1 := min(i0+1, g.Nx-1)
	j1 := min(j0+1, g.Ny-1)

	var sum complex128
	cnt := 0
	for _, idx := range [4][2]int{{j0, i0}, {j0, i1}, {j1, i0}, {j1, i1}} {
		if v := g.Values[idx[0]][idx[1]]; !cmplx.IsNaN(v) {
			sum += v
			cnt++
		}
	}
	if cnt == 0 {
		return cmplx.NaN()
	}
	return sum / complex(float64(cnt), 0)
}

// Sample fills the whole grid. The progress callback, when non-nil, receives
// the fraction of columns completed.
func (g *FieldGrid) Sample(t *Tract, st *SolveState, p *model.SimulationParameters,
	progress func(done float64)) {
	for i := 0; i < g.Nx; i++ {
		g.sampleLine(t, st, p, i)
		if progress != nil {
			progress(float64(i+1) / float64(g.Nx))
		}
	}
}
