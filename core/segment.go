package core

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
	"github.com/signalsfoundry/waveguide-acoustics/internal/cmplxmat"
)

// SegmentKind discriminates the two segment variants of the tract graph.
type SegmentKind int

const (
	// KindFEM is a tubular segment whose transverse modes come from a
	// finite-element eigenproblem on its cross-section.
	KindFEM SegmentKind = iota
	// KindRadiation is the terminal open-space segment whose modes are
	// Bessel functions on a disk surrounded by a perfectly matched layer.
	KindRadiation
)

// Segment is one element of the waveguide graph: either a tube slice with a
// polygonal cross-section, or the terminal radiation domain. Zero-length
// segments inserted at cross-section changes carry the mode-matching
// matrices between their neighbors.
type Segment struct {
	Kind SegmentKind

	// Cross-section contour in its local frame, at scale 1, and the
	// material index of each contour edge.
	Contour    geom.Polygon
	SurfaceIdx []int

	// Axial geometry. For curved segments the axis is a circle arc of
	// radius CurvRadius spanning CircleArcAngle.
	Length         float64
	Curved         bool
	CurvRadius     float64
	CircleArcAngle float64

	// Scaling of the contour at the entrance and exit planes.
	ScaleIn  float64
	ScaleOut float64

	// Entrance and exit landmarks in the midsagittal plane.
	CtrLinePtIn  geom.Point
	CtrLinePtOut geom.Point
	NormalIn     geom.Point
	NormalOut    geom.Point

	// IsJunction marks the zero-length segments inserted between
	// cross-sections that differ in shape.
	IsJunction bool

	// Graph connectivity, as indexes into the tract arena.
	Prev []int
	Next []int

	// Modal data, populated by the mesh-and-modes pass.
	Mesh       *geom.Mesh
	Spacing    float64
	EigenFreqs []float64
	Modes      *mat.Dense
	MaxAmp     []float64
	MinAmp     []float64

	// Modal projections feeding the propagation matrices: C and DN carry
	// the curvature coupling, E the axial scaling coupling, KR2 one
	// boundary mass matrix per wall material.
	C   *mat.Dense
	DN  *mat.Dense
	E   *mat.Dense
	KR2 []*mat.Dense

	// Mode-matching matrices toward each Next neighbor, and the boundary
	// residue matrices at both ends.
	F      []*mat.Dense
	Gstart *mat.Dense
	Gend   *mat.Dense

	Rad *RadiationData
}

// RadiationData is the payload of a KindRadiation segment: the Bessel mode
// basis on the radiation disk and the eigendecomposition of its perfectly
// matched layer operator.
type RadiationData struct {
	Radius       float64
	PMLThickness float64

	// One entry per mode: azimuthal order, zero of J'v, normalization,
	// and whether the mode is the sin member of a degenerate pair.
	Order     []int
	Zero      []float64
	Norm      []float64
	SinVariant []bool

	CPML *cmplxmat.Dense
	DPML *cmplxmat.Dense

	EigVal    []complex128
	EigVec    *cmplxmat.Dense
	InvEigVec *cmplxmat.Dense
}

// Area returns the cross-section area at scale 1.
func (s *Segment) Area() float64 {
	if s.Kind == KindRadiation {
		return math.Pi * s.Rad.Radius * s.Rad.Radius
	}
	return s.Contour.Area()
}

// Perimeter returns the contour perimeter at scale 1.
func (s *Segment) Perimeter() float64 {
	if s.Kind == KindRadiation {
		return 2 * math.Pi * s.Rad.Radius
	}
	return s.Contour.Perimeter()
}

// ModeCount returns the number of transverse modes kept for the segment.
func (s *Segment) ModeCount() int {
	if s.Kind == KindRadiation {
		return len(s.Rad.Order)
	}
	if s.Modes == nil {
		return 0
	}
	_, c := s.Modes.Dims()
	return c
}

// AxialLength returns the propagation length of the segment: the arc length
// for curved segments, the straight length otherwise.
func (s *Segment) AxialLength() float64 {
	if s.Curved {
		return math.Abs(s.CircleArcAngle) * math.Abs(s.CurvRadius)
	}
	return s.Length
}

// ScalingAt returns the contour scaling at the normalized axial position
// tau in [0, 1].
func (s *Segment) ScalingAt(tau float64) float64 {
	return (s.ScaleOut-s.ScaleIn)*tau + s.ScaleIn
}

// Curvature returns the signed inverse curvature radius, zero for straight
// segments.
func (s *Segment) Curvature() float64 {
	if !s.Curved || s.CurvRadius == 0 {
		return 0
	}
	return 1 / s.CurvRadius
}

// ModeAmplitude evaluates mode m of a FEM segment at the point pt of the
// unscaled cross-section plane, interpolating linearly on the mesh. The
// second return is false when pt lies outside the meshed contour.
func (s *Segment) ModeAmplitude(pt geom.Point, m int) (float64, bool) {
	if s.Mesh == nil || s.Modes == nil {
		return 0, false
	}
	t, bary, ok := s.Mesh.FindTriangle(pt)
	if !ok {
		return 0, false
	}
	tr := s.Mesh.Triangles[t]
	v := 0.0
	for k := 0; k < 3; k++ {
		v += bary[k] * s.Modes.At(tr[k], m)
	}
	return v, true
}
