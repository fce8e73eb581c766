package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/waveguide-acoustics/internal/cmplxmat"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// wallInterfaceAdmittance is the specific admittance of the annular wall
// interface exposed at a junction between two sections of different areas.
func wallInterfaceAdmittance(p *model.SimulationParameters, freq float64) complex128 {
	return 1i * complex(2*math.Pi*freq, 0) * p.ThermalBndSpecAdm /
		complex(p.SndSpeed, 0)
}

// junctionComplement returns the complement G = I - F*F^T (or I - F^T*F) of
// the mode matching matrix, on the side of the larger section.
func junctionComplement(f *cmplxmat.Dense, transposeFirst bool) *cmplxmat.Dense {
	var p *cmplxmat.Dense
	if transposeFirst {
		p = f.Transpose().Mul(f)
	} else {
		p = f.Mul(f.Transpose())
	}
	n, _ := p.Dims()
	return cmplxmat.Identity(n).Sub(p)
}

// PropagateImpedAdmit propagates the impedance and admittance from the
// terminal matrices z0, y0 at startSection through the chain of segments
// down to endSection. The walking direction is inferred from the indexes.
func PropagateImpedAdmit(t *Tract, st *SolveState, z0, y0 *cmplxmat.Dense,
	freq float64, startSection, endSection int, p *model.SimulationParameters) error {

	direction := 1
	if startSection > endSection {
		direction = -1
	}
	return propagateImpedAdmitDir(t, st, z0, y0, freq, startSection, endSection, direction, p)
}

func propagateImpedAdmitDir(t *Tract, st *SolveState, z0, y0 *cmplxmat.Dense,
	freq float64, startSection, endSection, direction int, p *model.SimulationParameters) error {

	numSec := t.Count()
	start := t.MustSegment(startSection)
	fStart := st.Field(startSection)
	fStart.Zdir = direction
	fStart.Ydir = direction

	switch p.PropMethod {
	case model.Magnus:
		if err := propagateMagnus(start, fStart, y0, p, freq, float64(direction), quantAdmittance); err != nil {
			return fmt.Errorf("segment %d: %w", startSection, err)
		}
		if err := impedanceFromAdmittance(fStart); err != nil {
			return fmt.Errorf("segment %d: %w", startSection, err)
		}
	case model.StraightTubes:
		nextIdx := startSection + direction
		if nextIdx < 0 {
			nextIdx = 0
		} else if nextIdx >= numSec {
			nextIdx = numSec - 1
		}
		if err := propagateImpedAdmitStraight(start, fStart, z0, y0, p, freq,
			100, t.MustSegment(nextIdx).Area()); err != nil {
			return fmt.Errorf("segment %d: %w", startSection, err)
		}
	}

	wAdm := wallInterfaceAdmittance(p, freq)

	for i := startSection + direction; i != endSection+direction; i += direction {
		prevSec := i - direction
		s := t.MustSegment(i)
		prev := t.MustSegment(prevSec)
		f := st.Field(i)
		fPrev := st.Field(prevSec)
		f.Zdir = direction
		f.Ydir = direction

		// Mode matching matrix of the junction and its complement on
		// the side of the larger section.
		var fm, g *cmplxmat.Dense
		if direction == -1 {
			fm = cmplxmat.FromReal(s.F[0])
			g = junctionComplement(fm, s.Area() <= prev.Area())
		} else {
			fm = cmplxmat.FromReal(prev.F[0])
			g = junctionComplement(fm, s.Area() > prev.Area())
		}

		var prevImped, prevAdmit *cmplxmat.Dense

		switch p.PropMethod {
		case model.Magnus:
			var err error
			if direction == -1 {
				prevImped, prevAdmit, err = junctionUpdateBackward(s, prev, fPrev, fm, g, wAdm, p)
			} else {
				prevImped, prevAdmit, err = junctionUpdateForward(s, prev, fPrev, fm, g, wAdm, p)
			}
			if err != nil {
				return fmt.Errorf("junction %d-%d: %w", prevSec, i, err)
			}

			if err := propagateMagnus(s, f, prevAdmit, p, freq, float64(direction), quantAdmittance); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			if err := impedanceFromAdmittance(f); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}

		case model.StraightTubes:
			areaRatio := math.Max(prev.Area(), s.Area()) / math.Min(prev.Area(), s.Area())
			var qPrev *cmplxmat.Dense
			contraction := s.Area() > prev.Area()
			if direction == -1 {
				if contraction {
					qPrev = fPrev.Yin()
				} else {
					qPrev = fPrev.Zin()
				}
			} else {
				if contraction {
					qPrev = fPrev.Yout()
				} else {
					qPrev = fPrev.Zout()
				}
			}
			var fq *cmplxmat.Dense
			if direction == -1 {
				fq = fm.Mul(qPrev).Mul(fm.Transpose())
			} else {
				fq = fm.Transpose().Mul(qPrev).Mul(fm)
			}
			fq = fq.Scale(complex(areaRatio, 0))
			inv, err := fq.Inverse()
			if err != nil {
				return fmt.Errorf("junction %d-%d: %w", prevSec, i, err)
			}
			if contraction {
				prevAdmit, prevImped = fq, inv
			} else {
				prevImped, prevAdmit = fq, inv
			}

			nextIdx := i + direction
			if nextIdx < 0 {
				nextIdx = 0
			} else if nextIdx >= numSec {
				nextIdx = numSec - 1
			}
			if err := propagateImpedAdmitStraight(s, f, prevImped, prevAdmit, p, freq,
				prev.Area(), t.MustSegment(nextIdx).Area()); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
		}
	}
	return nil
}

// impedanceFromAdmittance fills the impedance slice as the station-wise
// inverse of the admittance slice.
func impedanceFromAdmittance(f *segmentField) error {
	f.Z = f.Z[:0]
	for _, y := range f.Y {
		z, err := y.Inverse()
		if err != nil {
			return fmt.Errorf("admittance is singular: %w", err)
		}
		f.Z = append(f.Z, z)
	}
	f.Zdir = f.Ydir
	return nil
}

// junctionUpdateBackward computes the admittance (contraction) or impedance
// (expansion) just downstream of the junction when walking against the
// propagation axis. fm maps the modes of s onto those of prev.
func junctionUpdateBackward(s, prev *Segment, fPrev *segmentField,
	fm, g *cmplxmat.Dense, wAdm complex128, p *model.SimulationParameters) (*cmplxmat.Dense, *cmplxmat.Dense, error) {

	if s.Area()*s.ScaleOut*s.ScaleOut > prev.Area()*prev.ScaleIn*prev.ScaleIn {
		ratio := complex(s.ScaleOut*s.ScaleOut/(prev.ScaleIn*prev.ScaleIn), 0)
		adm := fm.Mul(fPrev.Yin()).Mul(fm.Transpose()).Scale(ratio)
		if p.JunctionLosses {
			adm = adm.Sub(g.Scale(wAdm))
		}
		return nil, adm, nil
	}

	ratio := complex(prev.ScaleIn*prev.ScaleIn/(s.ScaleOut*s.ScaleOut), 0)
	zin := fPrev.Zin()
	var imp *cmplxmat.Dense
	if p.JunctionLosses {
		n, _ := zin.Dims()
		den, err := cmplxmat.Identity(n).Sub(g.Scale(wAdm).Mul(zin)).Inverse()
		if err != nil {
			return nil, nil, err
		}
		imp = fm.Mul(zin).Mul(den).Mul(fm.Transpose()).Scale(ratio)
	} else {
		imp = fm.Mul(zin).Mul(fm.Transpose()).Scale(ratio)
	}
	adm, err := imp.Inverse()
	if err != nil {
		return nil, nil, err
	}
	return imp, adm, nil
}

// junctionUpdateForward is the mirror of junctionUpdateBackward for walks
// along the propagation axis; fm maps the modes of prev onto those of s.
func junctionUpdateForward(s, prev *Segment, fPrev *segmentField,
	fm, g *cmplxmat.Dense, wAdm complex128, p *model.SimulationParameters) (*cmplxmat.Dense, *cmplxmat.Dense, error) {

	if s.Area()*s.ScaleIn*s.ScaleIn > prev.Area()*prev.ScaleOut*prev.ScaleOut {
		ratio := complex(s.ScaleIn*s.ScaleIn/(prev.ScaleOut*prev.ScaleOut), 0)
		adm := fm.Transpose().Mul(fPrev.Yout()).Mul(fm).Scale(ratio)
		if p.JunctionLosses {
			adm = adm.Add(g.Scale(wAdm))
		}
		return nil, adm, nil
	}

	ratio := complex(prev.ScaleOut*prev.ScaleOut/(s.ScaleIn*s.ScaleIn), 0)
	zout := fPrev.Zout()
	var imp *cmplxmat.Dense
	if p.JunctionLosses {
		n, _ := zout.Dims()
		den, err := cmplxmat.Identity(n).Add(g.Scale(wAdm).Mul(zout)).Inverse()
		if err != nil {
			return nil, nil, err
		}
		imp = fm.Transpose().Mul(zout).Mul(den).Mul(fm).Scale(ratio)
	} else {
		imp = fm.Transpose().Mul(zout).Mul(fm).Scale(ratio)
	}
	adm, err := imp.Inverse()
	if err != nil {
		return nil, nil, err
	}
	return imp, adm, nil
}

// PropagateVelocityPress propagates the modal velocity and pressure from
// startSection to endSection, using the impedance and admittance stored by a
// preceding PropagateImpedAdmit pass running the other way.
func PropagateVelocityPress(t *Tract, st *SolveState, v0, p0 *cmplxmat.Dense,
	freq float64, startSection, endSection int, p *model.SimulationParameters) error {

	direction := 1
	if startSection > endSection {
		direction = -1
	}

	wAdm := wallInterfaceAdmittance(p, freq)
	prevVelo, prevPress := v0, p0

	propagateIn := func(idx int) error {
		s := t.MustSegment(idx)
		f := st.Field(idx)
		f.Vdir = direction
		f.Pdir = direction

		switch p.PropMethod {
		case model.Magnus:
			if err := propagateMagnus(s, f, prevPress, p, freq, float64(direction), quantPressure); err != nil {
				return fmt.Errorf("segment %d: %w", idx, err)
			}
			// The velocity derives from the pressure through the
			// stored admittance, station by station.
			numX := len(f.Y)
			f.V = f.V[:0]
			for pt := 0; pt < numX; pt++ {
				f.V = append(f.V, f.Y[numX-1-pt].Mul(f.P[pt]))
			}
		case model.StraightTubes:
			nextArea := 100.0
			if next := idx + direction; next >= 0 && next < t.Count() {
				nextArea = t.MustSegment(next).Area()
			}
			if err := propagatePressureVelocityStraight(s, f, prevVelo, prevPress, p, freq, nextArea); err != nil {
				return fmt.Errorf("segment %d: %w", idx, err)
			}
		}
		return nil
	}

	for i := startSection; i != endSection; i += direction {
		if err := propagateIn(i); err != nil {
			return err
		}

		nextSec := i + direction
		s := t.MustSegment(i)
		next := t.MustSegment(nextSec)
		f := st.Field(i)
		fNext := st.Field(nextSec)

		var fm, g *cmplxmat.Dense
		if direction == 1 {
			fm = cmplxmat.FromReal(s.F[0])
			g = junctionComplement(fm, s.Area() <= next.Area())
		} else {
			fm = cmplxmat.FromReal(next.F[0])
			g = junctionComplement(fm, s.Area() > next.Area())
		}

		switch p.PropMethod {
		case model.Magnus:
			if direction == -1 {
				if s.Area()*s.ScaleIn*s.ScaleIn > next.Area()*next.ScaleOut*next.ScaleOut {
					prevPress = fm.Mul(f.Pin()).
						Scale(complex(s.ScaleIn/next.ScaleOut, 0))
					prevVelo = fNext.Yout().Mul(prevPress)
				} else {
					v := fm.Mul(f.Qin()).Scale(complex(next.ScaleOut/s.ScaleIn, 0))
					if p.JunctionLosses {
						n, _ := fNext.Zin().Dims()
						den, err := cmplxmat.Identity(n).
							Add(g.Scale(wAdm).Mul(fNext.Zin())).Inverse()
						if err != nil {
							return fmt.Errorf("junction %d-%d: %w", i, nextSec, err)
						}
						v = den.Mul(v)
					}
					prevVelo = v
					prevPress = fNext.Zout().Mul(prevVelo)
				}
			} else {
				if s.Area()*s.ScaleOut*s.ScaleOut > next.Area()*next.ScaleIn*next.ScaleIn {
					prevPress = fm.Transpose().Mul(f.Pout()).
						Scale(complex(s.ScaleOut/next.ScaleIn, 0))
					prevVelo = fNext.Yin().Mul(prevPress)
				} else {
					v := fm.Transpose().Mul(f.Qout()).
						Scale(complex(next.ScaleIn/s.ScaleOut, 0))
					if p.JunctionLosses {
						n, _ := fNext.Zin().Dims()
						den, err := cmplxmat.Identity(n).
							Sub(g.Scale(wAdm).Mul(fNext.Zin())).Inverse()
						if err != nil {
							return fmt.Errorf("junction %d-%d: %w", i, nextSec, err)
						}
						v = den.Mul(v)
					}
					prevVelo = v
					prevPress = fNext.Zin().Mul(prevVelo)
				}
			}

		case model.StraightTubes:
			areaRatio := math.Sqrt(math.Max(next.Area(), s.Area()) /
				math.Min(next.Area(), s.Area()))
			if direction == -1 {
				if next.Area() > s.Area() {
					prevVelo = fm.Transpose().Mul(f.Qin()).Scale(complex(areaRatio, 0))
					prevPress = fNext.Zout().Mul(prevVelo)
				} else {
					prevPress = fm.Transpose().Mul(f.Pin()).Scale(complex(areaRatio, 0))
					prevVelo = fNext.Yout().Mul(prevPress)
				}
			} else {
				if next.Area() > s.Area() {
					prevVelo = fm.Transpose().Mul(f.Qout()).Scale(complex(areaRatio, 0))
					prevPress = fNext.Zin().Mul(prevVelo)
				} else {
					prevPress = fm.Transpose().Mul(f.Pout()).Scale(complex(areaRatio, 0))
					prevVelo = fNext.Yin().Mul(prevPress)
				}
			}
		}
	}

	return propagateIn(endSection)
}

// PropagateImpedAdmitBranch propagates the impedance or admittance through a
// branching segment graph. q0 holds one terminal matrix per start segment;
// whether it is an impedance or an admittance is read from the field flag of
// the start segment. Fan-in junctions gather the admittances of all merged
// branches through a block-diagonal matrix, fan-out junctions distribute the
// diagonal blocks of the concatenated input impedance.
func PropagateImpedAdmitBranch(t *Tract, st *SolveState, q0 []*cmplxmat.Dense,
	freq float64, startSections []int, endSections []int, direction int,
	p *model.SimulationParameters) error {

	// Groups of segments to propagate together. Each group either contains
	// one segment, or the set of segments fed by a common fan-out.
	segToProp := make([][]int, 0, len(startSections))
	for _, s := range startSections {
		segToProp = append(segToProp, []int{s})
	}

	prevOf := func(idx int) []int {
		if direction > 0 {
			return t.MustSegment(idx).Prev
		}
		return t.MustSegment(idx).Next
	}
	nextOf := func(idx int) []int {
		if direction > 0 {
			return t.MustSegment(idx).Next
		}
		return t.MustSegment(idx).Prev
	}
	matrixF := func(idx, which int) *cmplxmat.Dense {
		return cmplxmat.FromReal(t.MustSegment(idx).F[which])
	}

	for ns := 0; ns < len(segToProp); ns++ {
		group := segToProp[ns]

		if ns < len(startSections) {
			idx := group[0]
			f := st.Field(idx)
			f.Zdir = direction
			f.Ydir = direction
			quant := quantAdmittance
			if f.impedancePropagated {
				quant = quantImpedance
			}
			if err := propagateMagnus(t.MustSegment(idx), f, q0[ns], p, freq,
				float64(direction), quant); err != nil {
				return fmt.Errorf("segment %d: %w", idx, err)
			}
		} else {
			prevSegs := prevOf(group[0])

			if t.MustSegment(group[0]).Area() < t.MustSegment(prevSegs[0]).Area() {
				// Fan-out: the single larger previous segment feeds
				// every member of the group.
				var blocks []*cmplxmat.Dense
				if direction > 0 {
					for w := range t.MustSegment(prevSegs[0]).F {
						blocks = append(blocks, matrixF(prevSegs[0], w))
					}
				} else {
					for _, it := range group {
						blocks = append(blocks, matrixF(it, 0).Transpose())
					}
				}
				fm := concatColumns(blocks)

				fPrev := st.Field(prevSegs[0])
				var qout *cmplxmat.Dense
				if fPrev.impedancePropagated {
					qout = fPrev.Zin()
				} else {
					var err error
					qout, err = fPrev.Yin().Inverse()
					if err != nil {
						return fmt.Errorf("segment %d: %w", prevSegs[0], err)
					}
				}

				qini := fm.Transpose().Mul(qout).Mul(fm)

				off := 0
				for _, it := range group {
					mn := t.MustSegment(it).ModeCount()
					f := st.Field(it)
					f.Zdir = direction
					f.Ydir = direction
					f.impedancePropagated = true
					if err := propagateMagnus(t.MustSegment(it), f,
						qini.Submatrix(off, off, mn, mn), p, freq,
						float64(direction), quantImpedance); err != nil {
						return fmt.Errorf("segment %d: %w", it, err)
					}
					off += mn
				}
			} else {
				// Fan-in: several smaller previous segments merge
				// into the single member of the group.
				var blocks []*cmplxmat.Dense
				if direction > 0 {
					for _, it := range prevSegs {
						blocks = append(blocks, matrixF(it, 0).Transpose())
					}
				} else {
					for w := range t.MustSegment(group[0]).F {
						blocks = append(blocks, matrixF(group[0], w))
					}
				}
				fm := concatColumns(blocks)

				_, n := fm.Dims()
				qout := cmplxmat.NewDense(n, n)
				off := 0
				for _, it := range prevSegs {
					mn := t.MustSegment(it).ModeCount()
					fPrev := st.Field(it)
					if fPrev.impedancePropagated {
						inv, err := fPrev.Zin().Inverse()
						if err != nil {
							return fmt.Errorf("segment %d: %w", it, err)
						}
						qout.SetSubmatrix(off, off, inv)
					} else {
						qout.SetSubmatrix(off, off, fPrev.Yin())
					}
					off += mn
				}

				qini := fm.Mul(qout).Mul(fm.Transpose())
				idx := group[0]
				f := st.Field(idx)
				f.Zdir = direction
				f.Ydir = direction
				f.impedancePropagated = false
				if err := propagateMagnus(t.MustSegment(idx), f, qini, p, freq,
					float64(direction), quantAdmittance); err != nil {
					return fmt.Errorf("segment %d: %w", idx, err)
				}
			}
		}

		// Queue the connected groups whose inputs are all propagated.
		for _, it := range group {
			isEnd := false
			for _, e := range endSections {
				if it == e {
					isEnd = true
					break
				}
			}
			nextSegs := nextOf(it)
			if isEnd || len(nextSegs) == 0 {
				continue
			}

			inList := false
			for i := ns; i < len(segToProp); i++ {
				if segToProp[i][0] == nextSegs[0] {
					inList = true
					break
				}
			}
			if inList {
				continue
			}

			add := true
			if len(nextSegs) == 1 {
				// A merge group is admitted only once every branch
				// feeding it has been propagated.
				for _, prevSeg := range prevOf(nextSegs[0]) {
					propagated := false
					for i := ns; i >= 0 && !propagated; i-- {
						for _, propSeg := range segToProp[i] {
							if propSeg == prevSeg {
								propagated = true
								break
							}
						}
					}
					if !propagated {
						add = false
						break
					}
				}
			}
			if add {
				segToProp = append(segToProp, nextSegs)
			}
		}
	}
	return nil
}

// concatColumns joins matrices with a common row count side by side.
func concatColumns(blocks []*cmplxmat.Dense) *cmplxmat.Dense {
	rows, _ := blocks[0].Dims()
	cols := 0
	for _, b := range blocks {
		_, c := b.Dims()
		cols += c
	}
	out := cmplxmat.NewDense(rows, cols)
	off := 0
	for _, b := range blocks {
		out.SetSubmatrix(0, off, b)
		_, c := b.Dims()
		off += c
	}
	return out
}
