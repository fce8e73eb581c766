// Package geom provides the 2-D computational geometry used by the waveguide
// engine: polygons with boolean operations, Delaunay meshing of contours, and
// quadrature point generation. All coordinates are in centimetres.
package geom

import "math"

// Point is a point or vector in the transverse plane of a cross-section.
type Point struct {
	X, Y float64
}

// Add returns p + q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Scale returns s*p.
func (p Point) Scale(s float64) Point { return Point{s * p.X, s * p.Y} }

// Dot returns the scalar product of p and q.
func (p Point) Dot(q Point) float64 { return p.X*q.X + p.Y*q.Y }

// Cross returns the z-component of the cross product of p and q.
func (p Point) Cross(q Point) float64 { return p.X*q.Y - p.Y*q.X }

// Norm returns the Euclidean norm of p.
func (p Point) Norm() float64 { return math.Hypot(p.X, p.Y) }

// DistanceTo returns the distance between p and q.
func (p Point) DistanceTo(q Point) float64 { return p.Sub(q).Norm() }

// Normalize returns p scaled to unit norm. The zero vector is returned
// unchanged.
func (p Point) Normalize() Point {
	n := p.Norm()
	if n == 0 {
		return p
	}
	return p.Scale(1 / n)
}

// Rotate returns p rotated by the angle theta (radians, counterclockwise).
func (p Point) Rotate(theta float64) Point {
	s, c := math.Sincos(theta)
	return Point{c*p.X - s*p.Y, s*p.X + c*p.Y}
}

// Angle returns the polar angle of p in (-pi, pi].
func (p Point) Angle() float64 { return math.Atan2(p.Y, p.X) }

// BBox is an axis-aligned bounding box.
type BBox struct {
	XMin, XMax, YMin, YMax float64
}

// Expand grows the box to contain p.
func (b *BBox) Expand(p Point) {
	b.XMin = math.Min(b.XMin, p.X)
	b.XMax = math.Max(b.XMax, p.X)
	b.YMin = math.Min(b.YMin, p.Y)
	b.YMax = math.Max(b.YMax, p.Y)
}

// Union returns the smallest box containing both operands.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		XMin: math.Min(b.XMin, o.XMin),
		XMax: math.Max(b.XMax, o.XMax),
		YMin: math.Min(b.YMin, o.YMin),
		YMax: math.Max(b.YMax, o.YMax),
	}
}

// Contains reports whether p lies inside or on the box.
func (b BBox) Contains(p Point) bool {
	return p.X >= b.XMin && p.X <= b.XMax && p.Y >= b.YMin && p.Y <= b.YMax
}

// Overlaps reports whether the two boxes share any area.
func (b BBox) Overlaps(o BBox) bool {
	return b.XMin <= o.XMax && o.XMin <= b.XMax &&
		b.YMin <= o.YMax && o.YMin <= b.YMax
}
