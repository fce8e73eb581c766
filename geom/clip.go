package geom

import "math"

// Polygon boolean operations with a Greiner-Hormann style clipper. The
// contours handled here come from measured airway slices: generic position is
// assumed, and exactly-touching boundaries should be filtered out beforehand
// with Similar.

const clipEps = 1e-12

type clipNode struct {
	p          Point
	next, prev *clipNode
	neighbor   *clipNode
	intersect  bool
	entry      bool
	visited    bool
	alpha      float64
}

func buildRing(p Polygon) *clipNode {
	var first, last *clipNode
	for _, pt := range p {
		n := &clipNode{p: pt}
		if first == nil {
			first = n
			last = n
			n.next = n
			n.prev = n
			continue
		}
		n.prev = last
		n.next = first
		last.next = n
		first.prev = n
		last = n
	}
	return first
}

// segIntersect returns the parameters of the proper crossing of segments
// a1a2 and b1b2, if any.
func segIntersect(a1, a2, b1, b2 Point) (t, u float64, ok bool) {
	s1 := a2.Sub(a1)
	s2 := b2.Sub(b1)
	den := s1.Cross(s2)
	if math.Abs(den) < clipEps {
		return 0, 0, false
	}
	d := b1.Sub(a1)
	t = d.Cross(s2) / den
	u = d.Cross(s1) / den
	if t <= clipEps || t >= 1-clipEps || u <= clipEps || u >= 1-clipEps {
		return 0, 0, false
	}
	return t, u, true
}

// insertSorted inserts n between start and the next original vertex, keeping
// intersection nodes ordered by their position along the edge.
func insertSorted(start *clipNode, n *clipNode) {
	cur := start
	for cur.next.intersect && cur.next.alpha < n.alpha {
		cur = cur.next
	}
	n.next = cur.next
	n.prev = cur
	cur.next.prev = n
	cur.next = n
}

// originalNext returns the next non-intersection node.
func originalNext(n *clipNode) *clipNode {
	c := n.next
	for c.intersect {
		c = c.next
	}
	return c
}

type clipOp int

const (
	opIntersection clipOp = iota
	opDifference
)

// Intersect returns the connected pieces of the intersection of a and b.
func Intersect(a, b Polygon) []Polygon {
	return clip(a.EnsureCCW(), b.EnsureCCW(), opIntersection)
}

// Difference returns the connected pieces of a with b removed. A fully
// enclosed hole is returned as a single keyholed polygon.
func Difference(a, b Polygon) []Polygon {
	return clip(a.EnsureCCW(), b.EnsureCCW(), opDifference)
}

func clip(a, b Polygon, op clipOp) []Polygon {
	if len(a) < 3 || len(b) < 3 {
		if op == opDifference && len(a) >= 3 {
			return []Polygon{a}
		}
		return nil
	}

	ringA := buildRing(a)
	ringB := buildRing(b)

	// Phase 1: find and link crossings.
	crossings := 0
	for na := ringA; ; {
		a2 := originalNext(na)
		for nb := ringB; ; {
			b2 := originalNext(nb)
			if t, u, ok := segIntersect(na.p, a2.p, nb.p, b2.p); ok {
				pt := na.p.Add(a2.p.Sub(na.p).Scale(t))
				ia := &clipNode{p: pt, intersect: true, alpha: t}
				ib := &clipNode{p: pt, intersect: true, alpha: u}
				ia.neighbor = ib
				ib.neighbor = ia
				insertSorted(na, ia)
				insertSorted(nb, ib)
				crossings++
			}
			nb = b2
			if nb == ringB {
				break
			}
		}
		na = a2
		if na == ringA {
			break
		}
	}

	if crossings == 0 {
		return clipNoCrossing(a, b, op)
	}

	// Phase 2: entry/exit classification.
	markEntries(ringA, b, false)
	markEntries(ringB, a, op == opDifference)

	// Phase 3: traversal.
	var out []Polygon
	for {
		start := firstUnvisited(ringA)
		if start == nil {
			break
		}
		poly := traceResult(start)
		poly = poly.RemoveDuplicates(clipEps)
		if len(poly) >= 3 && poly.Area() > clipEps {
			out = append(out, poly)
		}
	}
	return out
}

// markEntries walks a ring and flags each crossing as an entry into other
// or an exit from it. invert flips the classification, which turns the
// intersection traversal into a difference traversal for the clip ring.
func markEntries(ring *clipNode, other Polygon, invert bool) {
	entry := !other.Contains(ring.p)
	if invert {
		entry = !entry
	}
	for n := ring; ; {
		if n.intersect {
			n.entry = entry
			entry = !entry
		}
		n = n.next
		if n == ring {
			break
		}
	}
}

func firstUnvisited(ring *clipNode) *clipNode {
	for n := ring; ; {
		if n.intersect && !n.visited {
			return n
		}
		n = n.next
		if n == ring {
			return nil
		}
	}
}

func traceResult(start *clipNode) Polygon {
	var poly Polygon
	cur := start
	for {
		cur.visited = true
		cur.neighbor.visited = true
		poly = append(poly, cur.p)
		if cur.entry {
			for {
				cur = cur.next
				poly = append(poly, cur.p)
				if cur.intersect {
					break
				}
			}
		} else {
			for {
				cur = cur.prev
				poly = append(poly, cur.p)
				if cur.intersect {
					break
				}
			}
		}
		cur = cur.neighbor
		if cur == start || cur.visited {
			break
		}
		// Guard against pathological rings.
		if len(poly) > 100000 {
			break
		}
	}
	return poly
}

// Overlap reports whether the two polygons share any area: either their
// boundaries cross, or one contains the other.
func Overlap(a, b Polygon) bool {
	if len(a) < 3 || len(b) < 3 {
		return false
	}
	for i := range a {
		a1, a2 := a[i], a[(i+1)%len(a)]
		for j := range b {
			if _, _, ok := segIntersect(a1, a2, b[j], b[(j+1)%len(b)]); ok {
				return true
			}
		}
	}
	return a.Contains(b[0]) || b.Contains(a[0])
}

func clipNoCrossing(a, b Polygon, op clipOp) []Polygon {
	aInB := b.Contains(a[0]) && b.Contains(a.Centroid())
	bInA := a.Contains(b[0]) && a.Contains(b.Centroid())
	switch op {
	case opIntersection:
		if aInB {
			return []Polygon{a}
		}
		if bInA {
			return []Polygon{b}
		}
		return nil
	default: // difference
		if aInB {
			return nil
		}
		if bInA {
			return []Polygon{keyhole(a, b)}
		}
		return []Polygon{a}
	}
}

// keyhole joins the outer boundary a and the fully enclosed hole b into one
// simple polygon through a zero-width slit at the closest vertex pair.
func keyhole(a, b Polygon) Polygon {
	b = b.Reversed() // hole winds opposite to the outer boundary
	bi, bj := 0, 0
	best := math.Inf(1)
	for i, pa := range a {
		for j, pb := range b {
			if d := pa.DistanceTo(pb); d < best {
				best = d
				bi, bj = i, j
			}
		}
	}
	out := make(Polygon, 0, len(a)+len(b)+2)
	for k := 0; k <= len(a); k++ {
		out = append(out, a[(bi+k)%len(a)])
	}
	for k := 0; k <= len(b); k++ {
		out = append(out, b[(bj+k)%len(b)])
	}
	return out
}
