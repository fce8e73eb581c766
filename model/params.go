// Package model holds the pure data types shared by the simulation engine:
// physical constants, configuration enums, and the per-solve parameter set.
package model

import (
	"fmt"
	"math"
	"math/cmplx"
)

// PropagationMethod selects how modal quantities are integrated along a
// segment.
type PropagationMethod int

const (
	// Magnus integrates the full curved, tapered, lossy system matrix with
	// a Magnus scheme of order 2 or 4.
	Magnus PropagationMethod = iota
	// StraightTubes applies closed-form per-mode transfer matrices, valid
	// for straight, piecewise-constant waveguides.
	StraightTubes
)

func (m PropagationMethod) String() string {
	switch m {
	case Magnus:
		return "magnus"
	case StraightTubes:
		return "straight-tubes"
	default:
		return fmt.Sprintf("PropagationMethod(%d)", int(m))
	}
}

// ContourInterpolationMethod selects how the taper scaling factors between
// two consecutive contours are obtained.
type ContourInterpolationMethod int

const (
	// AreaRatio scales by the square root of the area ratio.
	AreaRatio ContourInterpolationMethod = iota
	// BoundingBox scales by the bounding box ratio along the more
	// elongated axis.
	BoundingBox
	// FromFile uses the scaling pair carried by the geometry source.
	FromFile
)

// MouthBoundaryCond is the boundary condition applied at the open end.
type MouthBoundaryCond int

const (
	// RadiationCond terminates the waveguide with a multimodal radiation
	// impedance (direct integral, cached splines, or PML eigenmodel).
	RadiationCond MouthBoundaryCond = iota
	// Admittance1 terminates with a unit specific admittance.
	Admittance1
	// ZeroPressure forces a pressure-release termination.
	ZeroPressure
)

// GlottisBoundaryCond is the boundary condition at the entrance, used by the
// noise-source transfer path.
type GlottisBoundaryCond int

const (
	// HardWall closes the entrance with a quasi-rigid impedance.
	HardWall GlottisBoundaryCond = iota
	// InfiniteWaveguide terminates the entrance anechoically with the
	// local characteristic impedance.
	InfiniteWaveguide
)

// RadiationIntegration selects the discretization of the radiation and
// exterior field integrals.
type RadiationIntegration int

const (
	// DiscreteGrid integrates over a cartesian grid inside the contour.
	DiscreteGrid RadiationIntegration = iota
	// GaussIntegration integrates with three-point quadrature over the
	// contour triangulation.
	GaussIntegration
)

// TransferKind identifies one of the recorded transfer function families.
type TransferKind int

const (
	// GlottalTransfer is the transfer from the entrance volume velocity
	// source to the observation points.
	GlottalTransfer TransferKind = iota
	// NoiseTransfer is the transfer from the interior noise source.
	NoiseTransfer
	// InputImpedance is the plane-mode input impedance at the entrance.
	InputImpedance
)

// Point3 is a cartesian point in the geometry landmark (cm). X runs along the
// initial centerline direction, Y is the transverse in-plane axis, Z the
// sagittal elevation.
type Point3 struct {
	X, Y, Z float64
}

// SimulationParameters is the immutable-per-solve configuration of the
// engine. The orchestrator owns one instance and copies it into each solve.
type SimulationParameters struct {
	// Temperature in Celsius. VolumicMass and SndSpeed are derived from it
	// with the perfect gas law, see UpdateDerived.
	Temperature float64
	// VolumicMass is the air density in g/cm^3.
	VolumicMass float64
	// SndSpeed is the speed of sound in cm/s.
	SndSpeed float64

	PropMethod  PropagationMethod
	MagnusOrder int // 2 or 4

	// NumIntegrationStep is the number of state snapshots along a segment
	// (NumIntegrationStep-1 Magnus steps).
	NumIntegrationStep int

	// MaxCutOnFreq bounds the retained transverse modes: modes whose
	// cutoff frequency exceeds it are truncated.
	MaxCutOnFreq float64
	// ModeCount forces a fixed number of modes per segment when positive.
	ModeCount int

	// Loss model.
	PercentageLosses  float64 // 0..1
	ViscoThermalLosses bool
	WallLosses         bool
	ConstantWallImped  bool
	WallAdmit          complex128

	// Geometry handling.
	Curved       bool
	VaryingArea  bool
	ContInterpMeth ContourInterpolationMethod
	MeshDensity  float64

	// Junction handling.
	JunctionLosses bool

	// Boundary conditions.
	MouthBoundaryCond   MouthBoundaryCond
	GlottisBoundaryCond GlottisBoundaryCond

	// Radiation model.
	RadIntegrationMethod RadiationIntegration
	RadImpedGridDensity  float64
	RadImpedPrecomputed  bool
	RadImpedTableSize    int

	// Frequency sweep.
	SpectrumLgthExponent int
	MaxComputedFreq      float64

	// Acoustic field extraction.
	FreqField       float64
	FieldResolution int
	ShowAmplitude   bool
	// Bounding box of the sagittal plane region sampled by field
	// computations, updated from the geometry.
	BBoxMin, BBoxMax Point3

	// Transfer function observation points, in the exit landmark of the
	// last segment (cm).
	TfPoints []Point3

	// NoiseSourceIdx is the segment index of the interior noise source.
	NoiseSourceIdx int

	// Derived visco-thermal boundary specific admittance coefficients.
	ViscousBndSpecAdm complex128
	ThermalBndSpecAdm complex128
}

// DefaultParameters mirrors the reference configuration of the simulator.
func DefaultParameters() SimulationParameters {
	p := SimulationParameters{
		Temperature:          31.4266,
		PropMethod:           Magnus,
		MagnusOrder:          2,
		NumIntegrationStep:   3,
		MaxCutOnFreq:         20000,
		PercentageLosses:     1,
		ViscoThermalLosses:   false,
		WallLosses:           false,
		ConstantWallImped:    false,
		WallAdmit:            complex(0, 0.005),
		Curved:               true,
		VaryingArea:          true,
		ContInterpMeth:       FromFile,
		MeshDensity:          5,
		JunctionLosses:       false,
		MouthBoundaryCond:    RadiationCond,
		GlottisBoundaryCond:  HardWall,
		RadIntegrationMethod: GaussIntegration,
		RadImpedGridDensity:  15,
		RadImpedTableSize:    16,
		SpectrumLgthExponent: 10,
		MaxComputedFreq:      10000,
		FreqField:            5000,
		FieldResolution:      30,
		ShowAmplitude:        true,
		TfPoints:             []Point3{{X: 3}},
	}
	p.UpdateDerived()
	return p
}

// UpdateDerived recomputes the air density, the sound speed, and the
// visco-thermal boundary admittance coefficients from the temperature.
// It must be called after the temperature or the loss ratio changes.
func (p *SimulationParameters) UpdateDerived() {
	p.VolumicMass = StaticPressureCGS * MolecularMassCGS /
		(GasConstantCGS * (p.Temperature + KelvinShift))
	p.SndSpeed = math.Sqrt(AdiabaticConstant * StaticPressureCGS / p.VolumicMass)

	// Characteristic boundary layer lengths.
	lv := AirViscosityCGS / p.VolumicMass / p.SndSpeed
	lt := HeatConductionCGS * MolecularMassCGS /
		(p.VolumicMass * p.SndSpeed * MolarHeatCapacityCGS)

	p.ViscousBndSpecAdm = complex(1, 1) *
		complex(math.Sqrt(math.Pi*lv/p.SndSpeed), 0)
	p.ThermalBndSpecAdm = complex(1, 1) *
		complex(math.Sqrt(math.Pi*lt/p.SndSpeed)*(AdiabaticConstant-1), 0)
}

// NumFreq is the length of the half spectrum of the sweep.
func (p *SimulationParameters) NumFreq() int {
	return 1 << (p.SpectrumLgthExponent - 1)
}

// FreqSteps is the frequency resolution of the sweep in Hz.
func (p *SimulationParameters) FreqSteps() float64 {
	return SamplingRate / 2 / float64(p.NumFreq())
}

// NumFreqComputed is the number of frequency bins actually solved, bounded
// by MaxComputedFreq.
func (p *SimulationParameters) NumFreqComputed() int {
	return int(math.Ceil(p.MaxComputedFreq / p.FreqSteps()))
}

// Validate reports configuration inconsistencies that would make a solve
// meaningless.
func (p *SimulationParameters) Validate() error {
	if p.NumIntegrationStep < 2 {
		return fmt.Errorf("numIntegrationStep must be at least 2, got %d", p.NumIntegrationStep)
	}
	if p.MagnusOrder != 2 && p.MagnusOrder != 4 {
		return fmt.Errorf("magnus order must be 2 or 4, got %d", p.MagnusOrder)
	}
	if p.MeshDensity <= 0 {
		return fmt.Errorf("mesh density must be positive, got %g", p.MeshDensity)
	}
	if p.MaxCutOnFreq <= 0 && p.ModeCount <= 0 {
		return fmt.Errorf("either maxCutOnFreq or a fixed mode count must be positive")
	}
	if p.SpectrumLgthExponent < 2 || p.SpectrumLgthExponent > 20 {
		return fmt.Errorf("spectrum length exponent out of range: %d", p.SpectrumLgthExponent)
	}
	if p.PercentageLosses < 0 || p.PercentageLosses > 1 {
		return fmt.Errorf("loss ratio must lie in [0,1], got %g", p.PercentageLosses)
	}
	if cmplx.IsNaN(p.WallAdmit) {
		return fmt.Errorf("wall admittance is NaN")
	}
	return nil
}
