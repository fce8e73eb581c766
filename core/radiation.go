package core

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
	"github.com/signalsfoundry/waveguide-acoustics/internal/cmplxmat"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// besselJDerivativeZeros returns the n first zeros of d/dx Jv(x), in
// ascending order. The zeros are located with McMahon's asymptotic expansion
// and refined by Newton iterations. By convention the first zero of J0' is 0,
// carrying the plane mode.
func besselJDerivativeZeros(v, n int) []float64 {
	mu := 4 * float64(v) * float64(v)
	out := make([]float64, 0, n)

	dJ := func(z float64) float64 {
		return 0.5 * (math.Jn(v-1, z) - math.Jn(v+1, z))
	}
	d2J := func(z float64) float64 {
		return 0.25 * (math.Jn(v-2, z) - 2*math.Jn(v, z) + math.Jn(v+2, z))
	}

	for i := 1; i <= n; i++ {
		if v == 0 && i == 1 {
			out = append(out, 0)
			continue
		}
		b := (float64(i) + 0.5*float64(v) - 0.75) * math.Pi
		est := b - (mu+3)/8/b -
			4*(7*mu*mu+82*mu-9)/3/math.Pow(8*b, 3) -
			32*(83*mu*mu*mu+2075*mu*mu-3039*mu+3537)/15/math.Pow(8*b, 5) -
			64*(6949*mu*mu*mu*mu+296492*mu*mu*mu-1248002*mu*mu+7414380*mu-5853627)/
				105/math.Pow(8*b, 7)

		z := est
		for iter := 0; iter < 50; iter++ {
			step := dJ(z) / d2J(z)
			z -= step
			if z < est-0.5 {
				z = est - 0.5
			} else if z > est+0.5 {
				z = est + 0.5
			}
			if math.Abs(step) < 1e-13 {
				break
			}
		}
		out = append(out, z)
	}
	return out
}

// pmlAttenuation is the average complex stretching of the perfectly matched
// layer.
var pmlAttenuation = 20 * cmplx.Exp(1i*math.Pi/4)

// ComputeRadiationModes fills the Bessel mode basis of the radiation disk
// and the eigendecomposition of its PML propagation operator. The number of
// azimuthal orders is driven by the maximal cut-on frequency, each order
// contributing its first zeros of Jv'.
func ComputeRadiationModes(s *Segment, p *model.SimulationParameters) error {
	if s.Kind != KindRadiation {
		return nil
	}
	rad := s.Rad
	const zerosPerOrder = 30

	// The highest azimuthal order kept is the last one whose first
	// cut-on lies below half the maximal cut-on frequency.
	maxOrder := 0
	for {
		z := besselJDerivativeZeros(maxOrder+1, 1)[0]
		fc := p.SndSpeed * z / (2 * math.Pi * rad.Radius)
		if fc >= p.MaxCutOnFreq/2 {
			break
		}
		maxOrder++
	}

	type zeroEntry struct {
		z     float64
		order int
	}
	var entries []zeroEntry
	for v := 0; v <= maxOrder; v++ {
		for _, z := range besselJDerivativeZeros(v, zerosPerOrder) {
			entries = append(entries, zeroEntry{z, v})
		}
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].z < entries[j-1].z; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}

	rad.Order = rad.Order[:0]
	rad.Zero = rad.Zero[:0]
	rad.Norm = rad.Norm[:0]
	rad.SinVariant = rad.SinVariant[:0]
	for _, e := range entries {
		if e.order == 0 {
			rad.Order = append(rad.Order, 0)
			rad.Zero = append(rad.Zero, e.z)
			rad.SinVariant = append(rad.SinVariant, false)
			rad.Norm = append(rad.Norm,
				1/(rad.Radius*math.Sqrt(math.Pi)*math.Jn(0, e.z)))
			continue
		}
		norm := math.Sqrt(2/(math.Pi*(1-math.Pow(float64(e.order)/e.z, 2)))) /
			rad.Radius / math.Jn(e.order, e.z)
		// Each nonzero order carries a degenerate cos/sin pair.
		rad.Order = append(rad.Order, e.order, e.order)
		rad.Zero = append(rad.Zero, e.z, e.z)
		rad.SinVariant = append(rad.SinVariant, false, true)
		rad.Norm = append(rad.Norm, norm, norm)
	}

	return computePMLOperator(rad)
}

// computePMLOperator builds the CPML and DPML matrices of the stretched
// radial coordinate and diagonalizes CPML^-1 DPML.
func computePMLOperator(rad *RadiationData) error {
	mn := len(rad.Order)
	r0 := rad.Radius - rad.PMLThickness

	alpha := func(r float64) complex128 {
		if r >= r0 {
			return 1 + 2*(pmlAttenuation-1)*complex((r-r0)/rad.PMLThickness, 0)
		}
		return 1
	}
	beta := func(r float64) complex128 {
		if r >= r0 {
			return 1 + (pmlAttenuation-1)*complex((r-r0)*(r-r0)/r/rad.PMLThickness, 0)
		}
		return 1
	}

	// 15-point Gauss-Legendre quadrature over the layer.
	integrate := func(f func(float64) complex128) complex128 {
		re := quad.Fixed(func(r float64) float64 { return real(f(r)) },
			r0, rad.Radius, 15, nil, 0)
		im := quad.Fixed(func(r float64) float64 { return imag(f(r)) },
			r0, rad.Radius, 15, nil, 0)
		return complex(re, im)
	}

	cpml := cmplxmat.NewDense(mn, mn)
	dpml := cmplxmat.NewDense(mn, mn)
	for m := 0; m < mn; m++ {
		vm, zm, nm := rad.Order[m], rad.Zero[m], rad.Norm[m]
		for n := 0; n < mn; n++ {
			vn, zn, nn := rad.Order[n], rad.Zero[n], rad.Norm[n]
			if vm != vn || rad.SinVariant[m] != rad.SinVariant[n] {
				continue
			}
			var delta, doubling complex128
			if m == n {
				delta = 1
			}
			doubling = 1
			if vm == 0 {
				doubling = 2
			}

			q1 := integrate(func(r float64) complex128 {
				return (alpha(r)*beta(r) - 1) * complex(
					math.Jn(vm, r*zm/rad.Radius)*
						math.Jn(vn, r*zn/rad.Radius)*r, 0)
			})
			cpml.Set(m, n, delta+
				complex(nm*nn, 0)*doubling*complex(math.Pi, 0)*q1)

			q21 := integrate(func(r float64) complex128 {
				return (beta(r)/alpha(r) - 1) * complex(0.25*
					(math.Jn(vm-1, r*zm/rad.Radius)-math.Jn(vm+1, r*zm/rad.Radius))*
					(math.Jn(vn-1, r*zn/rad.Radius)-math.Jn(vn+1, r*zn/rad.Radius))*r, 0)
			})
			q22 := integrate(func(r float64) complex128 {
				return (alpha(r)/beta(r) - 1) * complex(
					math.Jn(vm, r*zm/rad.Radius)*
						math.Jn(vn, r*zn/rad.Radius)/r, 0)
			})
			dpml.Set(m, n, delta*complex(math.Pow(zm/rad.Radius, 2), 0)+
				complex(nm*nn, 0)*doubling*complex(math.Pi, 0)*
					(complex(zm*zn/(rad.Radius*rad.Radius), 0)*q21+
						complex(float64(vm*vm), 0)*q22))
		}
	}
	rad.CPML = cpml
	rad.DPML = dpml

	op, err := cpml.Solve(dpml)
	if err != nil {
		return fmt.Errorf("PML operator: %w", err)
	}
	vals, vecs, err := cmplxmat.Eig(op)
	if err != nil {
		return fmt.Errorf("PML eigendecomposition: %w", err)
	}
	inv, err := vecs.Inverse()
	if err != nil {
		return fmt.Errorf("PML eigenvectors are singular: %w", err)
	}
	rad.EigVal = vals
	rad.EigVec = vecs
	rad.InvEigVec = inv
	return nil
}

// Amplitude evaluates mode m at the point pt of the radiation disk plane.
// The second return is false when pt lies outside the disk.
func (rad *RadiationData) Amplitude(pt geom.Point, m int) (float64, bool) {
	r := math.Hypot(pt.X, pt.Y)
	if r > rad.Radius {
		return 0, false
	}
	t := math.Atan2(pt.Y, pt.X)
	v := rad.Order[m]
	a := rad.Norm[m] * math.Jn(v, r*rad.Zero[m]/rad.Radius)
	if rad.SinVariant[m] {
		return a * math.Sin(float64(v)*t), true
	}
	return a * math.Cos(float64(v)*t), true
}

// RadiatePressure returns the modal pressure amplitudes at the given
// distance beyond the radiation disk, propagated through the PML eigenbasis
// from the pressure stored at the disk.
func RadiatePressure(s *Segment, f *segmentField, distance, freq float64,
	p *model.SimulationParameters) (*cmplxmat.Dense, error) {

	if s.Kind != KindRadiation || len(f.P) == 0 {
		return nil, fmt.Errorf("%w: no radiated pressure available", ErrConfiguration)
	}
	rad := s.Rad
	mn := len(rad.Order)
	k2 := math.Pow(2*math.Pi*freq/p.SndSpeed, 2)

	propa := make([]complex128, mn)
	for m := 0; m < mn; m++ {
		propa[m] = cmplx.Exp(complex(distance, 0) * 1i * (complex(k2, 0) - rad.EigVal[m]))
	}
	return rad.EigVec.Mul(cmplxmat.Diag(propa)).Mul(rad.InvEigVec).Mul(f.P[0]), nil
}

// cartesianGrid samples the interior of the contour on a square grid whose
// spacing derives from the section area and the grid density.
func cartesianGrid(contour geom.Polygon, spacing float64) []geom.Point {
	bb := contour.Bounds()
	nx := int(math.Ceil((bb.XMax - bb.XMin) / spacing))
	ny := int(math.Ceil((bb.YMax - bb.YMin) / spacing))
	var pts []geom.Point
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			pt := geom.Point{X: bb.XMin + float64(i)*spacing, Y: bb.YMin + float64(j)*spacing}
			if contour.Contains(pt) {
				pts = append(pts, pt)
			}
		}
	}
	return pts
}

// RadiationImpedance computes the multimodal radiation impedance of the open
// end terminated in an infinite baffle, by double integration of the
// free-field Green function over the section: a cartesian grid for the outer
// integral and a polar grid centered on each of its points for the inner one.
func RadiationImpedance(s *Segment, freq, gridDensity float64,
	p *model.SimulationParameters) (*cmplxmat.Dense, error) {

	mn := s.ModeCount()
	scaling := s.ScaleOut
	spacing := math.Sqrt(s.Area()) / gridDensity

	cartGrid := cartesianGrid(s.Contour, spacing)
	if len(cartGrid) == 0 {
		return nil, fmt.Errorf("%w: radiation grid is empty", ErrMeshDegenerate)
	}
	intCart := modeMatrixAt(s, cartGrid, func(pt geom.Point) geom.Point { return pt })

	imped := cmplxmat.NewDense(mn, mn)
	for c, center := range cartGrid {
		// Estimate the direction count of the polar grid so its point
		// count stays close to the cartesian one.
		probeDirs := 50
		nbPts := 0
		for i := 0; i < probeDirs; i++ {
			dir := float64(i)*2*math.Pi/float64(probeDirs) - math.Pi
			for cnt := 0; ; cnt++ {
				r := (0.5 + float64(cnt)) * spacing
				pt := geom.Point{X: r*math.Cos(dir) + center.X, Y: r*math.Sin(dir) + center.Y}
				if !s.Contour.Contains(pt) {
					break
				}
				nbPts++
			}
		}
		if nbPts == 0 {
			continue
		}
		numDirections := len(cartGrid) * probeDirs / nbPts
		if numDirections < 1 {
			numDirections = 1
		}

		var polGrid []geom.Point
		var radius []float64
		for i := 0; i < numDirections; i++ {
			dir := float64(i)*2*math.Pi/float64(numDirections) - math.Pi
			for cnt := 0; ; cnt++ {
				r := (0.5 + float64(cnt)) * spacing
				pt := geom.Point{X: r*math.Cos(dir) + center.X, Y: r*math.Sin(dir) + center.Y}
				if !s.Contour.Contains(pt) {
					break
				}
				polGrid = append(polGrid, pt)
				radius = append(radius, r)
			}
		}
		if len(polGrid) == 0 {
			continue
		}
		intPol := modeMatrixAt(s, polGrid, func(pt geom.Point) geom.Point { return pt })

		sumH := 0.0
		integral := cmplxmat.NewDense(mn, mn)
		for pi := range polGrid {
			sumH += radius[pi]
			green := cmplx.Exp(-1i * complex(2*math.Pi*freq*scaling*radius[pi]/p.SndSpeed, 0))
			for m := 0; m < mn; m++ {
				for n := 0; n < mn; n++ {
					integral.Set(m, n, integral.At(m, n)+
						complex(intPol.At(pi, m)*intCart.At(c, n), 0)*green)
				}
			}
		}
		imped = imped.Add(integral.Scale(complex(
			-1/(sumH*2*math.Pi*float64(len(cartGrid))*scaling), 0)))
	}

	return imped.Scale(complex(s.Area()*s.Area(), 0)), nil
}

// RadiationCache interpolates the radiation impedance and admittance over
// frequency with natural cubic splines fitted on a few exactly computed
// matrices.
type RadiationCache struct {
	freqs []float64
	// Spline coefficients a, b, c, d for the four interleaved real series:
	// impedance real/imag, admittance real/imag.
	coef [16][]*mat.Dense
	mn   int
}

// BuildRadiationCache computes the radiation matrices at nbFreqs support
// frequencies and fits the interpolation splines.
func BuildRadiationCache(s *Segment, nbFreqs int, p *model.SimulationParameters) (*RadiationCache, error) {
	if nbFreqs < 4 {
		return nil, fmt.Errorf("%w: at least 4 support frequencies required, got %d",
			ErrConfiguration, nbFreqs)
	}
	mn := s.ModeCount()
	cache := &RadiationCache{mn: mn}

	freqStep := model.SamplingRate / 2 / float64(nbFreqs-1)
	for g := range cache.coef {
		cache.coef[g] = make([]*mat.Dense, 0, nbFreqs)
	}
	for i := 0; i < nbFreqs; i++ {
		freq := math.Max(500, float64(i)*freqStep)
		cache.freqs = append(cache.freqs, freq)

		imped, err := RadiationImpedance(s, freq, 15, p)
		if err != nil {
			return nil, fmt.Errorf("radiation impedance at %g Hz: %w", freq, err)
		}
		admit, err := imped.Inverse()
		if err != nil {
			return nil, fmt.Errorf("radiation impedance at %g Hz is singular: %w", freq, err)
		}

		parts := [4]*mat.Dense{
			mat.NewDense(mn, mn, nil), mat.NewDense(mn, mn, nil),
			mat.NewDense(mn, mn, nil), mat.NewDense(mn, mn, nil),
		}
		for m := 0; m < mn; m++ {
			for n := 0; n < mn; n++ {
				parts[0].Set(m, n, real(imped.At(m, n)))
				parts[1].Set(m, n, imag(imped.At(m, n)))
				parts[2].Set(m, n, real(admit.At(m, n)))
				parts[3].Set(m, n, imag(admit.At(m, n)))
			}
		}
		for g := 0; g < 4; g++ {
			cache.coef[g] = append(cache.coef[g], parts[g])
		}
	}

	cache.fitSplines()
	return cache, nil
}

// fitSplines computes the natural cubic spline coefficients b, c, d from the
// support values a for each matrix entry of each series.
func (cache *RadiationCache) fitSplines() {
	nf := len(cache.freqs)
	h := make([]float64, nf-1)
	for i := range h {
		h[i] = cache.freqs[i+1] - cache.freqs[i]
	}

	for g := 0; g < 4; g++ {
		for seg := 0; seg < nf-1; seg++ {
			cache.coef[g+4] = append(cache.coef[g+4], mat.NewDense(cache.mn, cache.mn, nil))
			cache.coef[g+12] = append(cache.coef[g+12], mat.NewDense(cache.mn, cache.mn, nil))
		}
		for seg := 0; seg < nf; seg++ {
			cache.coef[g+8] = append(cache.coef[g+8], mat.NewDense(cache.mn, cache.mn, nil))
		}

		for m := 0; m < cache.mn; m++ {
			for n := 0; n < cache.mn; n++ {
				a := make([]float64, nf)
				for i := 0; i < nf; i++ {
					a[i] = cache.coef[g][i].At(m, n)
				}

				// Tridiagonal system for the c coefficients with
				// natural end conditions.
				sys := mat.NewDense(nf-2, nf-2, nil)
				rhs := mat.NewVecDense(nf-2, nil)
				for f := 0; f < nf-2; f++ {
					if f > 0 {
						sys.Set(f, f-1, h[f])
					}
					sys.Set(f, f, 2*(h[f]+h[f+1]))
					if f < nf-3 {
						sys.Set(f, f+1, h[f+1])
					}
					rhs.SetVec(f, 3*(a[f+2]-a[f+1])/h[f+1]-3*(a[f+1]-a[f])/h[f])
				}
				var sol mat.VecDense
				if err := sol.SolveVec(sys, rhs); err != nil {
					// A singular spline system only happens with
					// degenerate support spacing; fall back to a
					// flat extension.
					continue
				}

				c := make([]float64, nf)
				for f := 0; f < nf-2; f++ {
					c[f+1] = sol.AtVec(f)
				}
				for f := 0; f < nf-1; f++ {
					b := (a[f+1]-a[f])/h[f] - h[f]*(c[f+1]+2*c[f])/3
					d := (c[f+1] - c[f]) / 3 / h[f]
					cache.coef[g+4][f].Set(m, n, b)
					cache.coef[g+12][f].Set(m, n, d)
				}
				for f := 0; f < nf; f++ {
					cache.coef[g+8][f].Set(m, n, c[f])
				}
			}
		}
	}
}

func (cache *RadiationCache) segmentIndex(freq float64) int {
	idx := len(cache.freqs) - 2
	for idx > 0 && cache.freqs[idx] > freq {
		idx--
	}
	return idx
}

func (cache *RadiationCache) interpolate(freq float64, gRe, gIm int) *cmplxmat.Dense {
	idx := cache.segmentIndex(freq)
	df := freq - cache.freqs[idx]
	out := cmplxmat.NewDense(cache.mn, cache.mn)
	for m := 0; m < cache.mn; m++ {
		for n := 0; n < cache.mn; n++ {
			re := cache.coef[gRe][idx].At(m, n) +
				cache.coef[gRe+4][idx].At(m, n)*df +
				cache.coef[gRe+8][idx].At(m, n)*df*df +
				cache.coef[gRe+12][idx].At(m, n)*df*df*df
			im := cache.coef[gIm][idx].At(m, n) +
				cache.coef[gIm+4][idx].At(m, n)*df +
				cache.coef[gIm+8][idx].At(m, n)*df*df +
				cache.coef[gIm+12][idx].At(m, n)*df*df*df
			out.Set(m, n, complex(re, im))
		}
	}
	return out
}

// Impedance returns the interpolated radiation impedance at freq.
func (cache *RadiationCache) Impedance(freq float64) *cmplxmat.Dense {
	return cache.interpolate(freq, 0, 1)
}

// Admittance returns the interpolated radiation admittance at freq.
func (cache *RadiationCache) Admittance(freq float64) *cmplxmat.Dense {
	return cache.interpolate(freq, 2, 3)
}

// radiationImpedanceAdmittance resolves the radiation matrices at freq, from
// the spline cache when one is available, from the direct integral otherwise.
func radiationImpedanceAdmittance(s *Segment, cache *RadiationCache, freq float64,
	p *model.SimulationParameters) (imped, admit *cmplxmat.Dense, err error) {

	if cache != nil {
		return cache.Impedance(freq), cache.Admittance(freq), nil
	}
	imped, err = RadiationImpedance(s, freq, p.RadImpedGridDensity, p)
	if err != nil {
		return nil, nil, err
	}
	admit, err = imped.Inverse()
	if err != nil {
		return nil, nil, fmt.Errorf("radiation impedance is singular: %w", err)
	}
	return imped, admit, nil
}
