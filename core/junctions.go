package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// modeMatrixAt evaluates every mode of the segment at the given points,
// mapped through transform into the segment's unscaled local frame. Points
// falling outside the contour contribute zero.
func modeMatrixAt(s *Segment, pts []geom.Point, transform func(geom.Point) geom.Point) *mat.Dense {
	n := s.ModeCount()
	out := mat.NewDense(len(pts), n, nil)
	for i, pt := range pts {
		local := transform(pt)
		for m := 0; m < n; m++ {
			var v float64
			var ok bool
			if s.Kind == KindRadiation {
				v, ok = s.Rad.Amplitude(local, m)
			} else {
				v, ok = s.ModeAmplitude(local, m)
			}
			if ok {
				out.Set(i, m, v)
			}
		}
	}
	return out
}

// junctionShift returns the vertical offset, in the exit plane of s, between
// its exit landmark and the entrance landmark of its first next neighbor.
func junctionShift(t *Tract, s *Segment) float64 {
	if len(s.Next) == 0 {
		return 0
	}
	next := t.MustSegment(s.Next[0])
	return s.CtrLinePtOut.Sub(next.CtrLinePtIn).Dot(s.NormalOut)
}

// ComputeJunctions fills the mode-matching matrix F of every segment toward
// each of its next neighbors, integrating the mode products over the meshed
// intersection of the facing contours. When withResidue is set, the
// boundary residue matrices Gend and Gstart used by the junction loss model
// are computed from the polygon differences at both ends.
func ComputeJunctions(t *Tract, p *model.SimulationParameters, withResidue bool) error {
	segs := t.Segments()
	for i, s := range segs {
		if len(s.Next) > 0 {
			if err := computeSegmentF(t, i, s); err != nil {
				return err
			}
			if withResidue {
				if err := computeGend(t, s); err != nil {
					return err
				}
			}
		}
		if withResidue && len(s.Prev) > 0 && s.Kind == KindFEM {
			if err := computeGstart(t, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func computeSegmentF(t *Tract, idx int, s *Segment) error {
	nModes := s.ModeCount()
	scaling0 := s.ScaleOut
	dy := junctionShift(t, s)
	contour := s.Contour.Scale(scaling0).Translate(geom.Point{X: 0, Y: dy})

	s.F = make([]*mat.Dense, len(s.Next))
	for ns, nextIdx := range s.Next {
		next := t.MustSegment(nextIdx)
		nModesNext := next.ModeCount()
		scaling1 := next.ScaleIn
		f := mat.NewDense(nModes, nModesNext, nil)

		// The matching surface: the smaller contour when one is a
		// junction or the radiation disk, the polygon intersection
		// otherwise.
		var pieces []geom.Polygon
		switch {
		case next.Kind == KindRadiation || s.IsJunction:
			pieces = []geom.Polygon{contour}
		case next.IsJunction:
			pieces = []geom.Polygon{next.Contour}
		case contour.Similar(next.Contour, model.MinimalDistanceDiffPolygons):
			pieces = []geom.Polygon{next.Contour}
		default:
			pieces = geom.Intersect(contour, next.Contour)
		}

		spacing := math.Min(scaling0*s.Spacing, next.Spacing)
		for _, piece := range pieces {
			if piece.Area() < model.MinimalDistanceDiffPolygons {
				continue
			}
			mesh, err := geom.MeshPolygon(piece, spacing)
			if err != nil {
				return fmt.Errorf("%w: junction %d-%d: %v", ErrMeshDegenerate, idx, nextIdx, err)
			}
			pts, areas := mesh.GaussPoints()

			interp1 := modeMatrixAt(s, pts, func(pt geom.Point) geom.Point {
				return pt.Sub(geom.Point{X: 0, Y: dy}).Scale(1 / scaling0)
			})
			interp2 := modeMatrixAt(next, pts, func(pt geom.Point) geom.Point {
				return pt.Scale(1 / scaling1)
			})

			for fi, area := range areas {
				if area == 0 {
					continue
				}
				for m := 0; m < nModes; m++ {
					for n := 0; n < nModesNext; n++ {
						sum := 0.0
						for g := 0; g < 3; g++ {
							sum += interp1.At(fi*3+g, m) * interp2.At(fi*3+g, n)
						}
						f.Set(m, n, f.At(m, n)+
							area*sum*geom.QuadWeight/scaling0/scaling1)
					}
				}
			}
		}
		s.F[ns] = f
	}
	return nil
}

// computeGend integrates the mode products of s over the part of its scaled
// exit contour not covered by any next contour, and stores
// (I - integral)^-1.
func computeGend(t *Tract, s *Segment) error {
	nModes := s.ModeCount()
	scaling0 := s.ScaleOut
	dy := junctionShift(t, s)
	contour := s.Contour.Scale(scaling0).Translate(geom.Point{X: 0, Y: dy})

	residue := []geom.Polygon{contour}
	spacing := scaling0 * s.Spacing
	for _, nextIdx := range s.Next {
		next := t.MustSegment(nextIdx)
		if next.Kind == KindRadiation {
			// The radiation disk always covers the exit contour.
			residue = nil
			break
		}
		spacing = math.Min(spacing, next.Spacing)
		var kept []geom.Polygon
		for _, piece := range residue {
			kept = append(kept, geom.Difference(piece, next.Contour)...)
		}
		residue = kept
	}

	g, err := residueIntegral(s, residue, spacing, nModes, scaling0, dy)
	if err != nil {
		return err
	}
	s.Gend = g
	return nil
}

// computeGstart does the same at the entrance of s against its previous
// contours, mapped into the entrance plane of s.
func computeGstart(t *Tract, s *Segment) error {
	nModes := s.ModeCount()
	scaling := s.ScaleIn
	contour := s.Contour.Scale(scaling)

	residue := []geom.Polygon{contour}
	spacing := scaling * s.Spacing
	for _, prevIdx := range s.Prev {
		prev := t.MustSegment(prevIdx)
		dy := prev.CtrLinePtOut.Sub(s.CtrLinePtIn).Dot(prev.NormalOut)
		prevCont := prev.Contour.Scale(prev.ScaleOut).Translate(geom.Point{X: 0, Y: dy})
		spacing = math.Min(spacing, prev.ScaleOut*prev.Spacing)
		var kept []geom.Polygon
		for _, piece := range residue {
			kept = append(kept, geom.Difference(piece, prevCont)...)
		}
		residue = kept
	}

	g, err := residueIntegral(s, residue, spacing, nModes, scaling, 0)
	if err != nil {
		return err
	}
	s.Gstart = g
	return nil
}

func residueIntegral(s *Segment, residue []geom.Polygon, spacing float64, nModes int, scaling, dy float64) (*mat.Dense, error) {
	acc := mat.NewDense(nModes, nModes, nil)
	for _, piece := range residue {
		if piece.Area() < model.MinimalDistanceDiffPolygons {
			continue
		}
		mesh, err := geom.MeshPolygon(piece, spacing)
		if err != nil {
			return nil, fmt.Errorf("%w: boundary residue: %v", ErrMeshDegenerate, err)
		}
		pts, areas := mesh.GaussPoints()
		interp := modeMatrixAt(s, pts, func(pt geom.Point) geom.Point {
			return pt.Sub(geom.Point{X: 0, Y: dy}).Scale(1 / scaling)
		})
		for fi, area := range areas {
			if area == 0 {
				continue
			}
			for m := 0; m < nModes; m++ {
				for n := m; n < nModes; n++ {
					sum := 0.0
					for g := 0; g < 3; g++ {
						sum += interp.At(fi*3+g, m) * interp.At(fi*3+g, n)
					}
					v := acc.At(m, n) + area*sum*geom.QuadWeight/scaling/scaling
					acc.Set(m, n, v)
					if m != n {
						acc.Set(n, m, v)
					}
				}
			}
		}
	}

	// (I - acc)^-1
	diff := mat.NewDense(nModes, nModes, nil)
	for m := 0; m < nModes; m++ {
		for n := 0; n < nModes; n++ {
			id := 0.0
			if m == n {
				id = 1
			}
			diff.Set(m, n, id-acc.At(m, n))
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(diff); err != nil {
		return nil, fmt.Errorf("boundary residue matrix is singular: %w", err)
	}
	return &inv, nil
}
