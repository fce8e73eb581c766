package core

import "errors"

// Sentinel errors of the simulation pipeline. Callers match them with
// errors.Is; the wrapped message carries the concrete location (file, line,
// segment or point).
var (
	// ErrImport reports a malformed or incomplete geometry file. The tract
	// is left untouched when an import fails.
	ErrImport = errors.New("geometry import failed")

	// ErrMeshDegenerate reports a cross-section whose contour cannot be
	// triangulated, usually a collapsed airway slice.
	ErrMeshDegenerate = errors.New("degenerate cross-section mesh")

	// ErrUnresolvedPoint reports a field query at a point that no
	// cross-section of the computed field contains.
	ErrUnresolvedPoint = errors.New("point not covered by the acoustic field")

	// ErrConfiguration reports simulation parameters that are out of range
	// or mutually inconsistent.
	ErrConfiguration = errors.New("invalid simulation configuration")
)
