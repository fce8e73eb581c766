package geom

import (
	"math"
	"testing"
)

func TestMeshPolygonCoversSquare(t *testing.T) {
	poly := square(2)
	m, err := MeshPolygon(poly, 0.4)
	if err != nil {
		t.Fatalf("MeshPolygon failed: %v", err)
	}
	if len(m.Triangles) == 0 {
		t.Fatalf("mesh has no triangles")
	}

	// The triangulation must tile the polygon: the summed face areas equal
	// the polygon area.
	area := 0.0
	for ti := range m.Triangles {
		area += m.TriangleArea(ti)
	}
	if math.Abs(area-poly.Area()) > 0.02*poly.Area() {
		t.Errorf("mesh area = %g, polygon area = %g", area, poly.Area())
	}

	// All triangles are counterclockwise.
	for ti, tr := range m.Triangles {
		a, b, c := m.Vertices[tr[0]], m.Vertices[tr[1]], m.Vertices[tr[2]]
		if b.Sub(a).Cross(c.Sub(a)) <= 0 {
			t.Errorf("triangle %d is not counterclockwise", ti)
		}
	}
}

func TestMeshGaussPoints(t *testing.T) {
	poly := square(2)
	m, err := MeshPolygon(poly, 0.5)
	if err != nil {
		t.Fatalf("MeshPolygon failed: %v", err)
	}
	pts, areas := m.GaussPoints()
	if len(pts) != 3*len(m.Triangles) {
		t.Fatalf("GaussPoints returned %d points for %d triangles", len(pts), len(m.Triangles))
	}
	if len(areas) != len(m.Triangles) {
		t.Fatalf("GaussPoints returned %d areas for %d triangles", len(areas), len(m.Triangles))
	}
	bb := poly.Bounds()
	for i, pt := range pts {
		if !bb.Contains(pt) {
			t.Errorf("quadrature point %d = %v lies outside the polygon bounds", i, pt)
		}
	}
}

func TestMeshFindTriangle(t *testing.T) {
	m, err := MeshPolygon(square(2), 0.5)
	if err != nil {
		t.Fatalf("MeshPolygon failed: %v", err)
	}

	ti, bary, ok := m.FindTriangle(Point{0.1, -0.2})
	if !ok {
		t.Fatalf("FindTriangle missed an interior point")
	}
	sum := bary[0] + bary[1] + bary[2]
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("barycentric coordinates sum to %g, want 1", sum)
	}
	tr := m.Triangles[ti]
	var rec Point
	for k := 0; k < 3; k++ {
		rec = rec.Add(m.Vertices[tr[k]].Scale(bary[k]))
	}
	if rec.DistanceTo(Point{0.1, -0.2}) > 1e-9 {
		t.Errorf("barycentric reconstruction = %v, want (0.1, -0.2)", rec)
	}

	if _, _, ok := m.FindTriangle(Point{5, 5}); ok {
		t.Errorf("FindTriangle located a point outside the mesh")
	}
}

// The boundary of a simply connected mesh is a single closed loop: as many
// boundary edges as boundary vertices.
func TestMeshBoundaryEdges(t *testing.T) {
	m, err := MeshPolygon(square(2), 0.4)
	if err != nil {
		t.Fatalf("MeshPolygon failed: %v", err)
	}
	edges := m.BoundaryEdges()
	if len(edges) == 0 {
		t.Fatalf("mesh has no boundary edges")
	}
	deg := make(map[int]int)
	for _, e := range edges {
		deg[e[0]]++
		deg[e[1]]++
	}
	for v, d := range deg {
		if d != 2 {
			t.Errorf("boundary vertex %d has degree %d, want 2", v, d)
		}
	}
}

func TestMeshPolygonRejectsDegenerateInput(t *testing.T) {
	if _, err := MeshPolygon(Polygon{{0, 0}, {1, 0}}, 0.1); err == nil {
		t.Errorf("expected an error for a two-vertex polygon")
	}
	if _, err := MeshPolygon(square(1), 0); err == nil {
		t.Errorf("expected an error for zero spacing")
	}
}
