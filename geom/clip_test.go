package geom

import (
	"math"
	"testing"
)

func totalArea(polys []Polygon) float64 {
	a := 0.0
	for _, p := range polys {
		a += p.Area()
	}
	return a
}

// Two unit squares offset by half a side overlap on a 0.5 x 1 strip.
func TestIntersectOverlappingSquares(t *testing.T) {
	a := square(1)
	b := square(1).Translate(Point{0.5, 0})

	got := Intersect(a, b)
	if len(got) == 0 {
		t.Fatalf("Intersect returned no polygons")
	}
	if area := totalArea(got); math.Abs(area-0.5) > 1e-9 {
		t.Errorf("intersection area = %g, want 0.5", area)
	}
}

func TestIntersectDisjointSquares(t *testing.T) {
	a := square(1)
	b := square(1).Translate(Point{5, 0})
	if got := Intersect(a, b); len(got) != 0 {
		t.Errorf("disjoint squares should not intersect, got %d polygons", len(got))
	}
}

// A fully contained clip polygon produces the smaller polygon for the
// intersection and a keyholed ring for the difference.
func TestClipContainedSquare(t *testing.T) {
	outer := square(4)
	inner := square(1)

	inter := Intersect(outer, inner)
	if len(inter) != 1 {
		t.Fatalf("Intersect(outer, inner) returned %d polygons, want 1", len(inter))
	}
	if area := inter[0].Area(); math.Abs(area-1) > 1e-9 {
		t.Errorf("contained intersection area = %g, want 1", area)
	}

	diff := Difference(outer, inner)
	if len(diff) != 1 {
		t.Fatalf("Difference(outer, inner) returned %d polygons, want 1", len(diff))
	}
	if area := diff[0].Area(); math.Abs(area-15) > 1e-6 {
		t.Errorf("keyholed difference area = %g, want 15", area)
	}
}

func TestDifferenceOverlappingSquares(t *testing.T) {
	a := square(1)
	b := square(1).Translate(Point{0.5, 0})
	got := Difference(a, b)
	if len(got) == 0 {
		t.Fatalf("Difference returned no polygons")
	}
	if area := totalArea(got); math.Abs(area-0.5) > 1e-9 {
		t.Errorf("difference area = %g, want 0.5", area)
	}
}

func TestOverlap(t *testing.T) {
	a := square(1)
	cases := []struct {
		name string
		b    Polygon
		want bool
	}{
		{"crossing", square(1).Translate(Point{0.5, 0.5}), true},
		{"contained", square(0.2), true},
		{"containing", square(10), true},
		{"disjoint", square(1).Translate(Point{3, 0}), false},
	}
	for _, c := range cases {
		if got := Overlap(a, c.b); got != c.want {
			t.Errorf("Overlap %s = %v, want %v", c.name, got, c.want)
		}
	}
}
