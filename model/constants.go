package model

// Physical constants in CGS units (cm, g, s, dyn). The whole engine works in
// CGS because the geometry exchange format expresses contours in centimetres.
const (
	// StaticPressureCGS is the atmospheric pressure in dyn/cm^2.
	StaticPressureCGS = 1013250.0

	// MolecularMassCGS is the molar mass of air in g/mol.
	MolecularMassCGS = 28.8

	// GasConstantCGS is the perfect gas constant in erg/(mol K).
	GasConstantCGS = 8.3144598e7

	// AdiabaticConstant is the heat capacity ratio of air.
	AdiabaticConstant = 1.4

	// KelvinShift converts Celsius temperatures to Kelvin.
	KelvinShift = 273.15

	// AirViscosityCGS is the dynamic viscosity of air in poise.
	AirViscosityCGS = 1.86e-4

	// HeatConductionCGS is the thermal conductivity of air in erg/(cm s K).
	HeatConductionCGS = 2600.0

	// MolarHeatCapacityCGS is the molar heat capacity of air at constant
	// pressure in erg/(mol K).
	MolarHeatCapacityCGS = 2.91e8

	// Mass-stiffness-resistance wall model of the soft tissues surrounding
	// the airway, per unit area.
	StandardWallResistanceCGS = 8000.0   // dyn s/cm^3
	StandardWallMassCGS       = 21.0     // g/cm^2
	StandardWallStiffnessCGS  = 845000.0 // dyn/cm^3
)

// SamplingRate is the audio sampling rate in Hz from which the frequency grid
// of transfer function sweeps is derived.
const SamplingRate = 44100.0

// Geometric tolerances. These are implementation-defined: the geometry
// pipeline only needs them to separate "exactly straight / exactly identical
// up to round-off" from genuinely distinct configurations.
const (
	// MinimalDistance discriminates zero lengths, angles and curvatures
	// from floating point residue.
	MinimalDistance = 1e-12

	// MinimalDistanceDiffPolygons is the per-vertex distance (cm) under
	// which two contours are considered identical.
	MinimalDistanceDiffPolygons = 1e-6
)
