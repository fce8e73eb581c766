package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// minimalArea is the cross-section area (cm2) below which a slice is treated
// as a constriction closure: its contour is replaced by the scaled contour
// of the previous slice so the mesh stays well conditioned.
const minimalArea = 0.15

// curvatureAngleShift computes the circle arc joining two consecutive
// centerline landmarks: its signed radius, the signed angle spanned between
// the two section planes, and the shift to apply along n2 for p2 to lie on
// the arc through p1.
func curvatureAngleShift(p1, p2, n1, n2 geom.Point) (radius, angle, shift float64) {
	den := n2.X*n1.Y - n2.Y*n1.X
	r0 := ((p2.Y-p1.Y)*n2.X - (p2.X-p1.X)*n2.Y) / den
	radius = r0
	shift = 0

	a0 := math.Mod(math.Atan2(n1.Y, n1.X)+2*math.Pi, 2*math.Pi)
	a1 := math.Mod(math.Atan2(n2.Y, n2.X)+2*math.Pi, 2*math.Pi)
	angle = a1 - a0
	if 2*math.Pi-math.Abs(angle) < math.Abs(angle) {
		if math.Signbit(angle) {
			angle = 2*math.Pi - math.Abs(angle)
		} else {
			angle = math.Abs(angle) - 2*math.Pi
		}
	}
	return radius, angle, shift
}

// centerlinePointOut returns the exit landmark of a segment whose entrance
// landmark is ptIn with normal normalIn. Straight segments translate along
// the axis; curved ones follow the circle arc.
func centerlinePointOut(ptIn, normalIn geom.Point, arcAngle, curvRadius, length float64) geom.Point {
	if length <= 0 {
		return ptIn
	}
	if math.Abs(arcAngle) < model.MinimalDistance {
		return ptIn.Add(normalIn.Rotate(-math.Pi / 2).Scale(length))
	}
	theta := math.Abs(arcAngle) / 2
	if math.Signbit(curvRadius) != math.Signbit(curvRadius*arcAngle) {
		dir := normalIn.Scale(-1).Rotate(math.Pi/2 - theta)
		return ptIn.Add(dir.Scale(-2 * curvRadius * math.Sin(theta)))
	}
	dir := normalIn.Rotate(theta - math.Pi/2)
	return ptIn.Add(dir.Scale(2 * curvRadius * math.Sin(theta)))
}

// normalOutOf returns the exit normal: the entrance normal rotated by the
// arc angle.
func normalOutOf(normalIn geom.Point, arcAngle, length float64) geom.Point {
	if length <= 0 {
		return normalIn
	}
	return normalIn.Rotate(arcAngle)
}

// contoursIntersect reports whether two contours overlap at all, used as a
// fallback connectivity test when no boundary crossing is detected.
func contoursIntersect(a, b geom.Polygon) bool {
	return geom.Overlap(a, b)
}

// BuildTract turns the imported profile sequence into the segment graph:
// one FEM segment per slice and contour, zero-length junction segments
// wherever consecutive contours differ in shape, and an optional terminal
// radiation segment sized to enclose the last slice.
func BuildTract(profiles []CrossProfile, p *model.SimulationParameters, withRadiation bool) (*Tract, error) {
	if len(profiles) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 profiles, got %d", ErrImport, len(profiles))
	}

	nbCont := len(profiles)
	contours := make([][]geom.Polygon, nbCont)
	surfIdx := make([][][]int, nbCont)
	centerLine := make([]geom.Point, nbCont)
	normals := make([]geom.Point, nbCont)
	fileScalings := make([][2]float64, nbCont)
	totAreas := make([]float64, nbCont)
	bboxes := make([]geom.BBox, nbCont)

	for i, prof := range profiles {
		contours[i] = []geom.Polygon{append(geom.Polygon(nil), prof.Contour...)}
		surfIdx[i] = [][]int{append([]int(nil), prof.SurfaceIdx...)}
		centerLine[i] = prof.Center
		normals[i] = prof.Normal
		fileScalings[i] = [2]float64{prof.ScalingIn, prof.ScalingOut}
	}

	// Per-slice areas and contour-plane bounding boxes.
	var maxCSBBox geom.BBox
	for i := range contours {
		for _, cont := range contours[i] {
			totAreas[i] += cont.Area()
			cb := cont.Bounds()
			bboxes[i] = bboxes[i].Union(cb)
		}

		// Recenter the contours vertically for curved geometries so the
		// centerline passes through the middle of the airway.
		if p.Curved {
			shiftY := -(bboxes[i].YMin + bboxes[i].YMax) / 2
			for j := range contours[i] {
				contours[i][j] = contours[i][j].Translate(geom.Point{X: 0, Y: shiftY})
			}
			centerLine[i] = centerLine[i].Sub(normals[i].Scale(shiftY))
			bboxes[i].YMin += shiftY
			bboxes[i].YMax += shiftY
		}
		maxCSBBox = maxCSBBox.Union(bboxes[i])
	}

	// Straight rendition: unfold the centerline on the x axis, preserving
	// the landmark distances, with all normals upward.
	if !p.Curved {
		length := 0.0
		prev := centerLine[0]
		centerLine[0] = geom.Point{}
		normals[0] = geom.Point{X: 0, Y: 1}
		for i := 1; i < nbCont; i++ {
			length += prev.DistanceTo(centerLine[i])
			prev = centerLine[i]
			centerLine[i] = geom.Point{X: length}
			normals[i] = geom.Point{X: 0, Y: 1}
		}
	}

	// Insert a synthetic centerline landmark before the last one so the
	// final segment exits perpendicular to the mouth plane.
	centerLine = append(centerLine, centerLine[nbCont-1])
	normals = append(normals, normals[nbCont-1])
	lastCtl := len(centerLine) - 1

	curvRadius, angle, _ := curvatureAngleShift(centerLine[lastCtl-2], centerLine[lastCtl],
		normals[lastCtl-2], normals[lastCtl])
	signCurv := 0.0
	if curvRadius > 0 {
		signCurv = 1
	} else if curvRadius < 0 {
		signCurv = -1
	}
	if math.Abs(angle) > model.MinimalDistance {
		angle /= 4
		n := normals[lastCtl]
		var rot geom.Point
		if math.Signbit(curvRadius) != math.Signbit(curvRadius*angle) {
			rot = n.Rotate(math.Pi/2 - signCurv*math.Abs(angle))
		} else {
			rot = n.Rotate(signCurv*math.Abs(angle) - math.Pi/2)
		}
		centerLine[lastCtl-1] = centerLine[lastCtl].Add(
			rot.Scale(-2 * math.Abs(curvRadius) * math.Sin(signCurv*math.Abs(angle))))

		angle *= -2
		normals[lastCtl-1] = n.Rotate(angle)
	} else {
		tr := centerLine[lastCtl-2].Sub(centerLine[lastCtl]).Scale(0.5)
		centerLine[lastCtl-1] = centerLine[lastCtl].Add(tr)
	}

	t := NewTract()

	// Scaling of slice idx1 toward slice idx2 when the file does not
	// provide one: the area ratio, possibly limited by the bounding box
	// ratio so the scaled contour stays inside the next one.
	var prevCurvRadius, prevAngle, length float64
	scalingFor := func(idx1, idx2 int) float64 {
		scalingArea := math.Sqrt(math.Max(minimalArea, totAreas[idx2]) /
			math.Max(minimalArea, totAreas[idx1]))
		if totAreas[idx1] < minimalArea || totAreas[idx2] < minimalArea ||
			p.ContInterpMeth == model.AreaRatio {
			return 0.999 * scalingArea
		}
		bb1, bb2 := bboxes[idx1], bboxes[idx2]
		ptOut := centerlinePointOut(centerLine[idx1], normals[idx1], prevAngle, prevCurvRadius, length)
		shift := -centerLine[idx2].Sub(ptOut).Dot(normals[idx2])

		meanX := math.Abs(bb1.XMin) + math.Abs(bb1.XMax) + math.Abs(bb2.XMin) + math.Abs(bb2.XMax)
		meanY := math.Abs(bb1.YMin) + math.Abs(bb1.YMax) + math.Abs(bb2.YMin) + math.Abs(bb2.YMax+2*shift)

		var scaling float64
		if meanX > meanY {
			scaling = math.Min(bb2.XMin/bb1.XMin, bb2.XMax/bb1.XMax)
		} else {
			scaling = math.Min((bb2.YMin+shift)/bb1.YMin, (bb2.YMax+shift)/bb1.YMax)
		}
		return 0.999 * math.Min(scalingArea, scaling)
	}

	addFEM := func(contour geom.Polygon, surf []int, segLen float64, ctr, normal geom.Point, sf [2]float64) int {
		area := contour.Area()
		s := &Segment{
			Kind:         KindFEM,
			Contour:      contour,
			SurfaceIdx:   surf,
			Length:       segLen,
			ScaleIn:      sf[0],
			ScaleOut:     sf[1],
			CtrLinePtIn:  ctr,
			NormalIn:     normal,
			Spacing:      math.Sqrt(area) / float64(p.MeshDensity),
			CtrLinePtOut: ctr,
			NormalOut:    normal,
		}
		return t.Add(s)
	}
	setCurvature := func(idx int, radius, arc float64) {
		s := t.MustSegment(idx)
		s.CurvRadius = radius
		s.CircleArcAngle = arc
		s.Curved = math.Abs(arc) >= model.MinimalDistance
		al := s.AxialLength()
		s.CtrLinePtOut = centerlinePointOut(s.CtrLinePtIn, s.NormalIn, arc, radius, al)
		s.NormalOut = normalOutOf(s.NormalIn, arc, al)
	}

	prevCurvRadius, prevAngle, _ = curvatureAngleShift(centerLine[0], centerLine[1], normals[0], normals[1])
	length = centerLine[0].DistanceTo(centerLine[1])

	prevScaling := [2]float64{1, 1}
	scaling := [2]float64{1, 1}
	if p.VaryingArea {
		switch p.ContInterpMeth {
		case model.FromFile:
			prevScaling = fileScalings[0]
		default:
			prevScaling = [2]float64{1, scalingFor(0, 1)}
		}
	}

	prevSections := make([][]int, len(contours[0]))
	secIdx := 0

	for i := 1; i < nbCont; i++ {
		length = centerLine[i-1].DistanceTo(centerLine[i])

		if p.VaryingArea {
			switch p.ContInterpMeth {
			case model.FromFile:
				scaling = fileScalings[i]
			default:
				if i == nbCont-1 {
					scaling = [2]float64{scalingFor(i-1, i), 1}
				} else {
					scaling = [2]float64{1, scalingFor(i, i+1)}
				}
			}
		}

		// Create the segments of the previous slice.
		for c := range contours[i-1] {
			idx := addFEM(contours[i-1][c], surfIdx[i-1][c], length,
				centerLine[i-1], normals[i-1], prevScaling)
			t.MustSegment(idx).Prev = append([]int(nil), prevSections[c]...)
			setCurvature(idx, prevCurvRadius, prevAngle)
			secIdx++
		}

		curvRadius, angle, _ = curvatureAngleShift(centerLine[i], centerLine[i+1], normals[i], normals[i+1])

		// A closed slice keeps the previous contour, scaled down, with
		// its landmark moved onto the previous exit.
		area := 0.0
		for _, cont := range contours[i] {
			area += cont.Area()
		}
		if area <= minimalArea {
			contours[i] = contours[i-1]
			surfIdx[i] = surfIdx[i-1]
			scaling = [2]float64{1, 1}

			ptOut := centerlinePointOut(centerLine[i-1], normals[i-1], prevAngle, prevCurvRadius, length)
			centerLine[i] = ptOut
			for j := range contours[i] {
				contours[i][j] = contours[i][j].Scale(prevScaling[1])
			}
		}

		// Insert zero-length junction segments wherever the scaled
		// contours of the two slices cross each other.
		var intContours []geom.Polygon
		var prevSecInt, listNextCont []int
		newPrev := make([][]int, len(contours[i]))
		intSecIdx := 0

		lastPrevSeg := t.MustSegment(secIdx - 1)
		for c := range contours[i] {
			var tmpPrev []int
			cont := contours[i][c].Scale(scaling[0])

			for cp := range contours[i-1] {
				ctlShift := lastPrevSeg.CtrLinePtOut.Sub(centerLine[i])
				dy := ctlShift.Dot(lastPrevSeg.NormalOut)
				prevCont := contours[i-1][cp].Scale(prevScaling[1]).
					Translate(geom.Point{X: 0, Y: dy})

				prevSegIdx := secIdx - len(contours[i-1]) + cp
				if cont.Similar(prevCont, model.MinimalDistanceDiffPolygons) {
					tmpPrev = append(tmpPrev, prevSegIdx)
					continue
				}

				crossed := false
				sidePrev := cont.Contains(prevCont[0])
				for _, pt := range prevCont {
					side := cont.Contains(pt)
					if side != sidePrev {
						crossed = true
						for _, pol := range geom.Intersect(prevCont, cont) {
							pol = pol.RemoveDuplicates(model.MinimalDistance)
							prevSecInt = append(prevSecInt, prevSegIdx)
							listNextCont = append(listNextCont, c)
							tmpPrev = append(tmpPrev, secIdx+intSecIdx)
							intContours = append(intContours, pol)
							intSecIdx++
						}
						break
					}
					sidePrev = side
				}
				if !crossed && contoursIntersect(contours[i][c], contours[i-1][cp]) {
					tmpPrev = append(tmpPrev, prevSegIdx)
				}
			}
			newPrev[c] = tmpPrev
		}

		// Wire the next indexes of the previous slice segments.
		nextSecIdx := secIdx + intSecIdx
		for c, list := range newPrev {
			for _, prevIdx := range list {
				if prevIdx < secIdx {
					s := t.MustSegment(prevIdx)
					s.Next = append(s.Next, nextSecIdx+c)
				}
			}
		}

		// Create the junction segments.
		for c, cont := range intContours {
			idx := addFEM(cont, make([]int, len(cont)), 0,
				centerLine[i], normals[i], [2]float64{1, 1})
			s := t.MustSegment(idx)
			s.IsJunction = true
			s.Prev = []int{prevSecInt[c]}
			s.Next = []int{nextSecIdx + listNextCont[c]}
			prev := t.MustSegment(prevSecInt[c])
			prev.Next = append(prev.Next, idx)
			secIdx++
		}

		prevSections = newPrev
		prevScaling = scaling
		prevCurvRadius = curvRadius
		prevAngle = angle
	}

	// Segments of the last slice, and the radius enclosing them.
	radius := 0.0
	var radPrev []int
	length = centerLine[len(centerLine)-2].DistanceTo(centerLine[len(centerLine)-1])
	for c := range contours[nbCont-1] {
		radPrev = append(radPrev, secIdx)
		idx := addFEM(contours[nbCont-1][c], surfIdx[nbCont-1][c], length,
			centerLine[len(centerLine)-2], normals[len(normals)-2], prevScaling)
		t.MustSegment(idx).Prev = append([]int(nil), prevSections[c]...)
		setCurvature(idx, prevCurvRadius, prevAngle)

		cb := contours[nbCont-1][c].Bounds()
		radius = math.Max(radius, math.Max(
			math.Max(cb.XMax, math.Abs(cb.XMin)),
			math.Max(cb.YMax, math.Abs(cb.YMin))))
		secIdx++
	}

	if withRadiation {
		pmlThickness := radius
		radius *= 2.1
		radIdx := t.Add(&Segment{
			Kind:        KindRadiation,
			ScaleIn:     1,
			ScaleOut:    1,
			CtrLinePtIn: centerLine[len(centerLine)-1],
			NormalIn:    normals[len(normals)-1],
			CtrLinePtOut: centerLine[len(centerLine)-1],
			NormalOut:    normals[len(normals)-1],
			Rad: &RadiationData{
				Radius:       radius,
				PMLThickness: pmlThickness,
			},
		})
		radSeg := t.MustSegment(radIdx)
		for _, prevIdx := range radPrev {
			radSeg.Prev = append(radSeg.Prev, prevIdx)
			s := t.MustSegment(prevIdx)
			s.Next = append(s.Next, radIdx)
		}
	}

	t.SetBounds(sagittalBounds(t))
	t.MarkModesDirty()
	return t, nil
}

// sagittalBounds computes the midsagittal bounding box of the tract from
// the vertical extent of each contour at its entrance and exit landmarks.
func sagittalBounds(t *Tract) geom.BBox {
	var bb geom.BBox
	for _, s := range t.Segments() {
		if s.Kind != KindFEM || len(s.Contour) == 0 {
			continue
		}
		cb := s.Contour.Bounds()
		for _, cand := range []geom.Point{
			s.CtrLinePtIn.Add(s.NormalIn.Scale(s.ScaleIn * cb.YMin)),
			s.CtrLinePtIn.Add(s.NormalIn.Scale(s.ScaleIn * cb.YMax)),
			s.CtrLinePtOut.Add(s.NormalOut.Scale(s.ScaleOut * cb.YMin)),
			s.CtrLinePtOut.Add(s.NormalOut.Scale(s.ScaleOut * cb.YMax)),
		} {
			bb.Expand(cand)
		}
	}
	return bb
}
