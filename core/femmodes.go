package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// ComputeMesh triangulates the segment contour with the spacing derived from
// its area and the mesh density parameter.
func ComputeMesh(s *Segment) error {
	if s.Kind != KindFEM {
		return nil
	}
	m, err := geom.MeshPolygon(s.Contour, s.Spacing)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMeshDegenerate, err)
	}
	s.Mesh = m
	return nil
}

// ComputeModes solves the transverse eigenproblem of a FEM segment on its
// mesh: P1 mass and stiffness matrices, generalized symmetric
// eigendecomposition reduced through the Cholesky factor of the mass, and
// the modal projection matrices feeding the propagation operator.
func ComputeModes(s *Segment, p *model.SimulationParameters) error {
	if s.Kind != KindFEM {
		return nil
	}
	if s.Mesh == nil {
		if err := ComputeMesh(s); err != nil {
			return err
		}
	}
	m := s.Mesh
	numVert := len(m.Vertices)

	mass := mat.NewDense(numVert, numVert, nil)
	massY := mat.NewDense(numVert, numVert, nil)
	stiffness := mat.NewDense(numVert, numVert, nil)
	stiffnessY := mat.NewDense(numVert, numVert, nil)
	b := mat.NewDense(numVert, numVert, nil)

	// Shape functions of the reference triangle at the quadrature points.
	quadCoord := [3][2]float64{{1. / 6., 1. / 6.}, {2. / 3., 1. / 6.}, {1. / 6., 2. / 3.}}
	var shape [3][3]float64
	for q := 0; q < 3; q++ {
		shape[q][0] = 1 - quadCoord[q][0] - quadCoord[q][1]
		shape[q][1] = quadCoord[q][0]
		shape[q][2] = quadCoord[q][1]
	}
	dSdr := [3]float64{-1, 1, 0}
	dSds := [3]float64{-1, 0, 1}

	for _, tr := range m.Triangles {
		v := [3]geom.Point{m.Vertices[tr[0]], m.Vertices[tr[1]], m.Vertices[tr[2]]}
		faceArea := math.Abs(v[1].Sub(v[0]).Cross(v[2].Sub(v[0]))) / 2
		if faceArea == 0 {
			return fmt.Errorf("%w: zero-area element", ErrMeshDegenerate)
		}

		// Jacobian of the isoparametric mapping.
		var j00, j01, j10, j11 float64
		for pv := 0; pv < 3; pv++ {
			j00 += v[pv].X * dSdr[pv]
			j01 += v[pv].Y * dSdr[pv]
			j10 += v[pv].X * dSds[pv]
			j11 += v[pv].Y * dSds[pv]
		}
		detJ := j00*j11 - j01*j10
		wDetJ := geom.QuadWeight * detJ / 2

		var dSdx, dSdy [3]float64
		for pv := 0; pv < 3; pv++ {
			dSdx[pv] = (j11*dSdr[pv] - j01*dSds[pv]) / detJ
			dSdy[pv] = (j00*dSds[pv] - j10*dSdr[pv]) / detJ
		}

		// Quadrature point coordinates.
		var xq, yq [3]float64
		for q := 0; q < 3; q++ {
			for pv := 0; pv < 3; pv++ {
				xq[q] += v[pv].X * shape[q][pv]
				yq[q] += v[pv].Y * shape[q][pv]
			}
		}

		for jj := 0; jj < 3; jj++ {
			for kk := 0; kk < 3; kk++ {
				im, in := tr[jj], tr[kk]
				delta := 0.0
				if jj == kk {
					delta = 1
				}
				mass.Set(im, in, mass.At(im, in)+(1+delta)*faceArea/12)

				for q := 0; q < 3; q++ {
					massY.Set(im, in, massY.At(im, in)+yq[q]*shape[q][jj]*shape[q][kk]*wDetJ)
					stiffnessY.Set(im, in, stiffnessY.At(im, in)+
						yq[q]*(dSdx[jj]*dSdx[kk]+dSdy[jj]*dSdy[kk])*wDetJ)
					b.Set(im, in, b.At(im, in)+
						(xq[q]*shape[q][jj]*dSdx[kk]+yq[q]*shape[q][jj]*dSdy[kk])*wDetJ)
				}

				bm := v[(jj+1)%3].Y - v[(jj+2)%3].Y
				bn := v[(kk+1)%3].Y - v[(kk+2)%3].Y
				cm := v[(jj+2)%3].X - v[(jj+1)%3].X
				cn := v[(kk+2)%3].X - v[(kk+1)%3].X
				stiffness.Set(im, in, stiffness.At(im, in)+(bm*bn+cm*cn)/faceArea/4)
			}
		}
	}

	// Boundary mass matrices, one per distinct wall material. The material
	// of a boundary edge is that of the nearest original contour vertex.
	surfList := []int{s.SurfaceIdx[0]}
	for _, idx := range s.SurfaceIdx[1:] {
		known := false
		for _, sl := range surfList {
			if sl == idx {
				known = true
				break
			}
		}
		if !known {
			surfList = append(surfList, idx)
		}
	}
	r := make([]*mat.Dense, len(surfList))
	for i := range r {
		r[i] = mat.NewDense(numVert, numVert, nil)
	}

	for _, e := range m.BoundaryEdges() {
		p0, p1 := m.Vertices[e[0]], m.Vertices[e[1]]
		mid := p0.Add(p1).Scale(0.5)

		// Nearest contour vertex, the closing vertex excluded.
		bestIdx := 0
		bestDist := s.Contour[0].DistanceTo(mid)
		for ci := 1; ci < len(s.Contour)-1; ci++ {
			if d := s.Contour[ci].DistanceTo(mid); d < bestDist {
				bestDist = d
				bestIdx = ci
			}
		}
		surf := 0
		for si, sl := range surfList {
			if sl == s.SurfaceIdx[bestIdx] {
				surf = si
				break
			}
		}

		segLength := p0.DistanceTo(p1)
		for jj := 0; jj < 2; jj++ {
			for kk := 0; kk < 2; kk++ {
				delta := 0.0
				if jj == kk {
					delta = 1
				}
				r[surf].Set(e[jj], e[kk], r[surf].At(e[jj], e[kk])+(1+delta)*segLength/6)
			}
		}
	}

	// Generalized symmetric eigenproblem through the Cholesky factor of
	// the mass matrix.
	massSym := mat.NewSymDense(numVert, nil)
	for i := 0; i < numVert; i++ {
		for j := i; j < numVert; j++ {
			massSym.SetSym(i, j, (mass.At(i, j)+mass.At(j, i))/2)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(massSym) {
		return fmt.Errorf("%w: mass matrix not positive definite", ErrMeshDegenerate)
	}
	var lower mat.TriDense
	chol.LTo(&lower)

	var lk mat.Dense
	if err := lk.Solve(&lower, stiffness); err != nil {
		return fmt.Errorf("%w: reduction solve failed: %v", ErrMeshDegenerate, err)
	}
	var reducedT mat.Dense
	if err := reducedT.Solve(&lower, lk.T()); err != nil {
		return fmt.Errorf("%w: reduction solve failed: %v", ErrMeshDegenerate, err)
	}
	reduced := mat.NewSymDense(numVert, nil)
	for i := 0; i < numVert; i++ {
		for j := i; j < numVert; j++ {
			reduced.SetSym(i, j, (reducedT.At(i, j)+reducedT.At(j, i))/2)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(reduced, true) {
		return fmt.Errorf("%w: eigendecomposition failed", ErrMeshDegenerate)
	}
	eigVals := eig.Values(nil)
	var eigVecsY mat.Dense
	eig.VectorsTo(&eigVecsY)
	var eigVecs mat.Dense
	if err := eigVecs.Solve(lower.T(), &eigVecsY); err != nil {
		return fmt.Errorf("%w: back substitution failed: %v", ErrMeshDegenerate, err)
	}

	// Number of propagating modes kept: either the requested fixed count,
	// or every mode whose cut-on lies below the maximal cut-on frequency.
	nModes := 0
	if p.ModeCount > 0 {
		nModes = p.ModeCount
		if nModes > numVert {
			nModes = numVert
		}
	} else {
		maxWaveNumber := math.Pow(2*math.Pi*p.MaxCutOnFreq/p.SndSpeed, 2)
		for nModes < numVert && eigVals[nModes] < maxWaveNumber {
			nModes++
		}
	}
	if nModes == 0 {
		nModes = 1
	}

	s.EigenFreqs = make([]float64, nModes)
	for i := 0; i < nModes; i++ {
		s.EigenFreqs[i] = math.Sqrt(math.Max(0, eigVals[i])) * p.SndSpeed / (2 * math.Pi)
	}
	// The plane mode has no cut-on.
	s.EigenFreqs[0] = 0

	// All modes share the sign of the first one so junction matrices of
	// similar contours match.
	signFirst := 1.0
	if eigVecs.At(0, 0) < 0 {
		signFirst = -1
	}
	modes := mat.NewDense(numVert, nModes, nil)
	s.MaxAmp = make([]float64, nModes)
	s.MinAmp = make([]float64, nModes)
	for mm := 0; mm < nModes; mm++ {
		maxA, minA := math.Inf(-1), math.Inf(1)
		for vv := 0; vv < numVert; vv++ {
			val := signFirst * eigVecs.At(vv, mm)
			modes.Set(vv, mm, val)
			maxA = math.Max(maxA, val)
			minA = math.Min(minA, val)
		}
		s.MaxAmp[mm] = maxA
		s.MinAmp[mm] = minA
	}
	s.Modes = modes

	// Modal projections.
	project := func(w *mat.Dense) *mat.Dense {
		var tmp, out mat.Dense
		tmp.Mul(w, modes)
		out.Mul(modes.T(), &tmp)
		return &out
	}
	s.C = project(massY)
	s.DN = project(stiffnessY)
	s.E = project(b)
	s.KR2 = make([]*mat.Dense, len(r))
	for i := range r {
		s.KR2[i] = project(r[i])
	}
	return nil
}
