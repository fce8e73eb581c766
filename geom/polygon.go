package geom

import "math"

// Polygon is a simple closed polygon given by its vertices in order, without
// repeating the first vertex at the end.
type Polygon []Point

// SignedArea returns the signed area of the polygon (positive for
// counterclockwise orientation).
func (p Polygon) SignedArea() float64 {
	n := len(p)
	if n < 3 {
		return 0
	}
	a := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		a += p[i].Cross(p[j])
	}
	return a / 2
}

// Area returns the absolute area of the polygon.
func (p Polygon) Area() float64 { return math.Abs(p.SignedArea()) }

// Perimeter returns the length of the polygon boundary.
func (p Polygon) Perimeter() float64 {
	n := len(p)
	if n < 2 {
		return 0
	}
	l := 0.0
	for i := 0; i < n; i++ {
		l += p[i].DistanceTo(p[(i+1)%n])
	}
	return l
}

// Bounds returns the axis-aligned bounding box of the polygon.
func (p Polygon) Bounds() BBox {
	if len(p) == 0 {
		return BBox{}
	}
	b := BBox{XMin: p[0].X, XMax: p[0].X, YMin: p[0].Y, YMax: p[0].Y}
	for _, pt := range p[1:] {
		b.Expand(pt)
	}
	return b
}

// Contains reports whether pt lies strictly inside the polygon, using the
// even-odd crossing rule.
func (p Polygon) Contains(pt Point) bool {
	inside := false
	n := len(p)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := p[i], p[j]
		if (pi.Y > pt.Y) != (pj.Y > pt.Y) {
			xCross := (pj.X-pi.X)*(pt.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if pt.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// IsCCW reports whether the vertices wind counterclockwise.
func (p Polygon) IsCCW() bool { return p.SignedArea() > 0 }

// Reversed returns the polygon with opposite winding.
func (p Polygon) Reversed() Polygon {
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[len(p)-1-i] = pt
	}
	return out
}

// EnsureCCW returns the polygon with counterclockwise winding.
func (p Polygon) EnsureCCW() Polygon {
	if p.IsCCW() {
		return p
	}
	return p.Reversed()
}

// Translate returns the polygon shifted by v.
func (p Polygon) Translate(v Point) Polygon {
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[i] = pt.Add(v)
	}
	return out
}

// Scale returns the polygon scaled about the origin by s.
func (p Polygon) Scale(s float64) Polygon {
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[i] = pt.Scale(s)
	}
	return out
}

// RemoveDuplicates drops consecutive vertices closer than tol, including a
// last vertex duplicating the first.
func (p Polygon) RemoveDuplicates(tol float64) Polygon {
	if len(p) == 0 {
		return p
	}
	out := make(Polygon, 0, len(p))
	for _, pt := range p {
		if len(out) == 0 || out[len(out)-1].DistanceTo(pt) > tol {
			out = append(out, pt)
		}
	}
	for len(out) > 1 && out[0].DistanceTo(out[len(out)-1]) <= tol {
		out = out[:len(out)-1]
	}
	return out
}

// Similar reports whether q has the same vertex count as p and every vertex
// lies within tol of the corresponding vertex of p.
func (p Polygon) Similar(q Polygon, tol float64) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i].DistanceTo(q[i]) >= tol {
			return false
		}
	}
	return true
}

// Simplify removes vertices whose removal moves the boundary by less than
// tol, walking the contour once. The endpoints of nearly collinear runs are
// kept so the overall shape survives.
func (p Polygon) Simplify(tol float64) Polygon {
	n := len(p)
	if n <= 4 {
		return p
	}
	keep := make([]bool, n)
	keep[0] = true
	last := 0
	for i := 1; i < n; i++ {
		next := (i + 1) % n
		// Distance from p[i] to the chord p[last]..p[next].
		chord := p[next].Sub(p[last])
		l := chord.Norm()
		var d float64
		if l == 0 {
			d = p[i].DistanceTo(p[last])
		} else {
			d = math.Abs(chord.Cross(p[i].Sub(p[last]))) / l
		}
		if d > tol {
			keep[i] = true
			last = i
		}
	}
	out := make(Polygon, 0, n)
	for i, k := range keep {
		if k {
			out = append(out, p[i])
		}
	}
	if len(out) < 3 {
		return p
	}
	return out
}

// Centroid returns the area centroid of the polygon.
func (p Polygon) Centroid() Point {
	n := len(p)
	if n == 0 {
		return Point{}
	}
	var cx, cy, a float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		w := p[i].Cross(p[j])
		cx += (p[i].X + p[j].X) * w
		cy += (p[i].Y + p[j].Y) * w
		a += w
	}
	if a == 0 {
		// Degenerate: fall back to the vertex average.
		var s Point
		for _, pt := range p {
			s = s.Add(pt)
		}
		return s.Scale(1 / float64(n))
	}
	return Point{cx / (3 * a), cy / (3 * a)}
}
