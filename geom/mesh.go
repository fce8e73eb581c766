package geom

import (
	"fmt"
	"math"
)

// Mesh is a triangulation. The first BoundaryCount vertices are the resampled
// contour points, in boundary order.
type Mesh struct {
	Vertices      []Point
	Triangles     [][3]int
	BoundaryCount int
}

// quadCoord are the barycentric coordinates of the three-point quadrature
// rule used for all surface integrals, with weight 1/3 each.
var quadCoord = [3][2]float64{{1. / 6., 1. / 6.}, {2. / 3., 1. / 6.}, {1. / 6., 2. / 3.}}

// QuadWeight is the weight of each of the three quadrature points.
const QuadWeight = 1. / 3.

// TriangleArea returns the area of triangle t.
func (m *Mesh) TriangleArea(t int) float64 {
	tr := m.Triangles[t]
	a, b, c := m.Vertices[tr[0]], m.Vertices[tr[1]], m.Vertices[tr[2]]
	return math.Abs(b.Sub(a).Cross(c.Sub(a))) / 2
}

// GaussPoints returns the three quadrature points of every triangle,
// concatenated face by face, together with the face areas.
func (m *Mesh) GaussPoints() (pts []Point, areas []float64) {
	pts = make([]Point, 0, 3*len(m.Triangles))
	areas = make([]float64, 0, len(m.Triangles))
	for t := range m.Triangles {
		tr := m.Triangles[t]
		a, b, c := m.Vertices[tr[0]], m.Vertices[tr[1]], m.Vertices[tr[2]]
		for g := 0; g < 3; g++ {
			l1, l2 := quadCoord[g][0], quadCoord[g][1]
			l0 := 1 - l1 - l2
			pts = append(pts, Point{
				X: l0*a.X + l1*b.X + l2*c.X,
				Y: l0*a.Y + l1*b.Y + l2*c.Y,
			})
		}
		areas = append(areas, m.TriangleArea(t))
	}
	return pts, areas
}

// BoundaryEdges returns the vertex index pairs of edges that belong to
// exactly one triangle, i.e. the mesh boundary.
func (m *Mesh) BoundaryEdges() [][2]int {
	type edge struct{ a, b int }
	count := make(map[edge]int)
	for _, tr := range m.Triangles {
		for e := 0; e < 3; e++ {
			a, b := tr[e], tr[(e+1)%3]
			if a > b {
				a, b = b, a
			}
			count[edge{a, b}]++
		}
	}
	var out [][2]int
	for e, c := range count {
		if c == 1 {
			out = append(out, [2]int{e.a, e.b})
		}
	}
	return out
}

// FindTriangle locates the triangle containing pt and returns its index with
// the barycentric coordinates of pt. ok is false when pt lies outside the
// mesh.
func (m *Mesh) FindTriangle(pt Point) (t int, bary [3]float64, ok bool) {
	const tol = -1e-9
	for i, tr := range m.Triangles {
		a, b, c := m.Vertices[tr[0]], m.Vertices[tr[1]], m.Vertices[tr[2]]
		den := b.Sub(a).Cross(c.Sub(a))
		if den == 0 {
			continue
		}
		l1 := pt.Sub(a).Cross(c.Sub(a)) / den
		l2 := b.Sub(a).Cross(pt.Sub(a)) / den
		l0 := 1 - l1 - l2
		if l0 >= tol && l1 >= tol && l2 >= tol {
			return i, [3]float64{l0, l1, l2}, true
		}
	}
	return 0, bary, false
}

// MeshPolygon triangulates the polygon with a target edge length close to
// spacing: the boundary is resampled at that spacing, interior points are
// seeded on a staggered grid, the point set is Delaunay triangulated, and a
// few Laplacian relaxation passes improve element quality.
func MeshPolygon(poly Polygon, spacing float64) (*Mesh, error) {
	if len(poly) < 3 {
		return nil, fmt.Errorf("mesh: polygon has %d vertices", len(poly))
	}
	if spacing <= 0 {
		return nil, fmt.Errorf("mesh: non-positive spacing %g", spacing)
	}
	poly = poly.EnsureCCW()

	boundary := resampleBoundary(poly, spacing)
	pts := append([]Point(nil), boundary...)

	// Staggered interior seed grid, kept away from the boundary to avoid
	// slivers.
	bb := poly.Bounds()
	rowH := spacing * math.Sqrt(3) / 2
	minDist := 0.5 * spacing
	row := 0
	for y := bb.YMin + rowH/2; y < bb.YMax; y += rowH {
		offset := 0.0
		if row%2 == 1 {
			offset = spacing / 2
		}
		for x := bb.XMin + offset; x < bb.XMax; x += spacing {
			p := Point{x, y}
			if !poly.Contains(p) {
				continue
			}
			if distToBoundary(boundary, p) < minDist {
				continue
			}
			pts = append(pts, p)
		}
		row++
	}

	tris, err := delaunay(pts)
	if err != nil {
		return nil, err
	}

	// Keep only triangles inside the polygon, oriented counterclockwise.
	kept := tris[:0]
	for _, tr := range tris {
		c := Point{
			X: (pts[tr[0]].X + pts[tr[1]].X + pts[tr[2]].X) / 3,
			Y: (pts[tr[0]].Y + pts[tr[1]].Y + pts[tr[2]].Y) / 3,
		}
		if !poly.Contains(c) {
			continue
		}
		if pts[tr[1]].Sub(pts[tr[0]]).Cross(pts[tr[2]].Sub(pts[tr[0]])) < 0 {
			tr[1], tr[2] = tr[2], tr[1]
		}
		kept = append(kept, tr)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("mesh: no interior triangles (spacing %g too coarse)", spacing)
	}

	m := &Mesh{Vertices: pts, Triangles: kept, BoundaryCount: len(boundary)}
	m.relax(3)
	return m, nil
}

// relax runs Laplacian smoothing passes over the interior vertices.
func (m *Mesh) relax(passes int) {
	adj := make(map[int]map[int]struct{})
	for _, tr := range m.Triangles {
		for e := 0; e < 3; e++ {
			a, b := tr[e], tr[(e+1)%3]
			if adj[a] == nil {
				adj[a] = make(map[int]struct{})
			}
			if adj[b] == nil {
				adj[b] = make(map[int]struct{})
			}
			adj[a][b] = struct{}{}
			adj[b][a] = struct{}{}
		}
	}
	for pass := 0; pass < passes; pass++ {
		for v := m.BoundaryCount; v < len(m.Vertices); v++ {
			nb := adj[v]
			if len(nb) == 0 {
				continue
			}
			var s Point
			for n := range nb {
				s = s.Add(m.Vertices[n])
			}
			m.Vertices[v] = s.Scale(1 / float64(len(nb)))
		}
	}
}

func resampleBoundary(poly Polygon, spacing float64) []Point {
	var out []Point
	n := len(poly)
	for i := 0; i < n; i++ {
		a := poly[i]
		b := poly[(i+1)%n]
		out = append(out, a)
		l := a.DistanceTo(b)
		steps := int(math.Floor(l / spacing))
		for s := 1; s <= steps; s++ {
			t := float64(s) / float64(steps+1)
			out = append(out, a.Add(b.Sub(a).Scale(t)))
		}
	}
	return Polygon(out).RemoveDuplicates(spacing / 100)
}

func distToBoundary(boundary []Point, p Point) float64 {
	best := math.Inf(1)
	n := len(boundary)
	for i := 0; i < n; i++ {
		a := boundary[i]
		b := boundary[(i+1)%n]
		ab := b.Sub(a)
		t := 0.0
		if l2 := ab.Dot(ab); l2 > 0 {
			t = math.Max(0, math.Min(1, p.Sub(a).Dot(ab)/l2))
		}
		if d := p.DistanceTo(a.Add(ab.Scale(t))); d < best {
			best = d
		}
	}
	return best
}

// delaunay triangulates the point set with the Bowyer-Watson incremental
// algorithm.
func delaunay(pts []Point) ([][3]int, error) {
	n := len(pts)
	if n < 3 {
		return nil, fmt.Errorf("mesh: need at least 3 points, got %d", n)
	}

	// Super-triangle enclosing every point.
	bb := BBox{XMin: pts[0].X, XMax: pts[0].X, YMin: pts[0].Y, YMax: pts[0].Y}
	for _, p := range pts[1:] {
		bb.Expand(p)
	}
	dx := bb.XMax - bb.XMin
	dy := bb.YMax - bb.YMin
	d := math.Max(dx, dy) * 10
	if d == 0 {
		return nil, fmt.Errorf("mesh: degenerate point set")
	}
	cx := (bb.XMin + bb.XMax) / 2
	cy := (bb.YMin + bb.YMax) / 2
	all := append(append([]Point(nil), pts...),
		Point{cx - 2*d, cy - d}, Point{cx + 2*d, cy - d}, Point{cx, cy + 2*d})
	s0, s1, s2 := n, n+1, n+2

	type tri struct {
		v  [3]int
		cc Point
		r2 float64
	}
	mkTri := func(a, b, c int) (tri, bool) {
		t := tri{v: [3]int{a, b, c}}
		pa, pb, pc := all[a], all[b], all[c]
		d2 := 2 * (pa.X*(pb.Y-pc.Y) + pb.X*(pc.Y-pa.Y) + pc.X*(pa.Y-pb.Y))
		if d2 == 0 {
			return t, false
		}
		na := pa.X*pa.X + pa.Y*pa.Y
		nb := pb.X*pb.X + pb.Y*pb.Y
		nc := pc.X*pc.X + pc.Y*pc.Y
		t.cc = Point{
			X: (na*(pb.Y-pc.Y) + nb*(pc.Y-pa.Y) + nc*(pa.Y-pb.Y)) / d2,
			Y: (na*(pc.X-pb.X) + nb*(pa.X-pc.X) + nc*(pb.X-pa.X)) / d2,
		}
		t.r2 = t.cc.Sub(pa).Dot(t.cc.Sub(pa))
		return t, true
	}

	super, _ := mkTri(s0, s1, s2)
	tris := []tri{super}

	for i := 0; i < n; i++ {
		p := all[i]

		// Triangles whose circumcircle contains p.
		var bad []int
		for ti, t := range tris {
			if t.cc.Sub(p).Dot(t.cc.Sub(p)) <= t.r2*(1+1e-12) {
				bad = append(bad, ti)
			}
		}

		// Boundary of the cavity.
		type edge struct{ a, b int }
		edgeCount := make(map[edge]int)
		for _, ti := range bad {
			v := tris[ti].v
			for e := 0; e < 3; e++ {
				a, b := v[e], v[(e+1)%3]
				key := edge{a, b}
				if a > b {
					key = edge{b, a}
				}
				edgeCount[key]++
			}
		}
		var hole []edge
		for _, ti := range bad {
			v := tris[ti].v
			for e := 0; e < 3; e++ {
				a, b := v[e], v[(e+1)%3]
				key := edge{a, b}
				if a > b {
					key = edge{b, a}
				}
				if edgeCount[key] == 1 {
					hole = append(hole, edge{a, b})
				}
			}
		}

		// Remove the bad triangles (reverse order keeps indices valid).
		for k := len(bad) - 1; k >= 0; k-- {
			ti := bad[k]
			tris[ti] = tris[len(tris)-1]
			tris = tris[:len(tris)-1]
		}

		// Re-triangulate the cavity.
		for _, e := range hole {
			if t, ok := mkTri(e.a, e.b, i); ok {
				tris = append(tris, t)
			}
		}
	}

	var out [][3]int
	for _, t := range tris {
		if t.v[0] >= n || t.v[1] >= n || t.v[2] >= n {
			continue
		}
		out = append(out, t.v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mesh: triangulation produced no triangles")
	}
	return out, nil
}
