package core

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
)

// Tract is the in-memory, thread-safe arena holding the segment graph of one
// vocal tract geometry. Segments refer to each other by index, so rebuilding
// the graph never leaves dangling pointers. A version counter and dirty
// flags let the solver know when meshes and modes must be recomputed.
type Tract struct {
	mu sync.RWMutex

	segments []*Segment
	bbox     geom.BBox

	version       uint64
	geometryDirty bool
	modesDirty    bool
}

// NewTract constructs an empty tract.
func NewTract() *Tract {
	return &Tract{geometryDirty: true, modesDirty: true}
}

// Reset discards all segments and bumps the version.
func (t *Tract) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = nil
	t.bbox = geom.BBox{}
	t.version++
	t.geometryDirty = true
	t.modesDirty = true
}

// Add appends a segment and returns its index.
func (t *Tract) Add(s *Segment) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = append(t.segments, s)
	t.version++
	t.modesDirty = true
	return len(t.segments) - 1
}

// Segment returns the segment at index i, or an error when i is out of
// range. The pointer stays valid until the next Reset.
func (t *Tract) Segment(i int) (*Segment, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.segments) {
		return nil, fmt.Errorf("segment index %d out of range [0, %d)", i, len(t.segments))
	}
	return t.segments[i], nil
}

// MustSegment returns the segment at index i and panics on a bad index. It
// is meant for internal passes that iterate indexes obtained from the tract
// itself.
func (t *Tract) MustSegment(i int) *Segment {
	s, err := t.Segment(i)
	if err != nil {
		panic(err)
	}
	return s
}

// Count returns the number of segments.
func (t *Tract) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.segments)
}

// Segments returns a snapshot slice of the segment pointers.
func (t *Tract) Segments() []*Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Segment(nil), t.segments...)
}

// Version returns the current arena version. It changes on every structural
// mutation.
func (t *Tract) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// SetBounds stores the midsagittal bounding box of the geometry.
func (t *Tract) SetBounds(bb geom.BBox) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bbox = bb
}

// Bounds returns the midsagittal bounding box of the geometry.
func (t *Tract) Bounds() geom.BBox {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bbox
}

// MarkModesDirty flags the modal data as stale, forcing the next solve to
// recompute meshes and modes.
func (t *Tract) MarkModesDirty() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modesDirty = true
}

// MarkModesClean records that meshes, modes and junction matrices match the
// current geometry.
func (t *Tract) MarkModesClean() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modesDirty = false
}

// ModesDirty reports whether modal data must be recomputed.
func (t *Tract) ModesDirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modesDirty
}

// LastFEM returns the index of the last non-radiation segment, or -1 when
// the tract is empty.
func (t *Tract) LastFEM() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.segments) - 1; i >= 0; i-- {
		if t.segments[i].Kind == KindFEM {
			return i
		}
	}
	return -1
}

// RadiationIndex returns the index of the radiation segment, or -1 when the
// tract has none.
func (t *Tract) RadiationIndex() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, s := range t.segments {
		if s.Kind == KindRadiation {
			return i
		}
	}
	return -1
}
