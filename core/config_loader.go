// core/config_loader.go
package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// internal JSON shapes - keep them unexported so we're free to evolve them.
type simulationConfigJSON struct {
	Temperature         *float64 `json:"temperature_celsius"`
	PropagationMethod   string   `json:"propagation_method"` // "magnus" | "straight_tubes"
	MagnusOrder         *int     `json:"magnus_order"`
	NumIntegrationStep  *int     `json:"num_integration_steps"`
	MaxCutOnFreq        *float64 `json:"max_cut_on_freq_hz"`
	ModeCount           *int     `json:"mode_count"`
	PercentageLosses    *float64 `json:"percentage_losses"`
	ViscoThermalLosses  *bool    `json:"visco_thermal_losses"`
	WallLosses          *bool    `json:"wall_losses"`
	ConstantWallImped   *bool    `json:"constant_wall_impedance"`
	WallAdmit           *[2]float64 `json:"wall_admittance"`
	Curved              *bool    `json:"curved"`
	VaryingArea         *bool    `json:"varying_area"`
	ContourInterp       string   `json:"contour_interpolation"` // "area_ratio" | "bounding_box" | "from_file"
	MeshDensity         *float64 `json:"mesh_density"`
	JunctionLosses      *bool    `json:"junction_losses"`
	MouthBoundaryCond   string   `json:"mouth_boundary_condition"`   // "radiation" | "admittance_1" | "zero_pressure"
	GlottisBoundaryCond string   `json:"glottis_boundary_condition"` // "hard_wall" | "infinite_waveguide"
	RadIntegration      string   `json:"radiation_integration"`      // "discrete" | "gauss"
	RadImpedGridDensity *float64 `json:"radiation_grid_density"`
	RadImpedPrecomputed *bool    `json:"radiation_precomputed"`
	SpectrumExponent    *int     `json:"spectrum_length_exponent"`
	MaxComputedFreq     *float64 `json:"max_computed_freq_hz"`
	FreqField           *float64 `json:"field_freq_hz"`
	FieldResolution     *int     `json:"field_resolution"`
	BBoxMin             *point3JSON `json:"field_bbox_min"`
	BBoxMax             *point3JSON `json:"field_bbox_max"`
	TfPoints            []point3JSON `json:"tf_points"`
	NoiseSourceIdx      *int     `json:"noise_source_segment"`
}

type point3JSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LoadSimulationConfig reads a JSON parameter file from r and overlays it on
// the defaults. Absent fields keep their default value, so a config file only
// states what it changes.
func LoadSimulationConfig(r io.Reader) (model.SimulationParameters, error) {
	p := model.DefaultParameters()

	var payload simulationConfigJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return p, fmt.Errorf("LoadSimulationConfig: decode failed: %w", err)
	}

	if payload.Temperature != nil {
		p.Temperature = *payload.Temperature
	}
	if payload.PropagationMethod != "" {
		switch strings.ToLower(strings.TrimSpace(payload.PropagationMethod)) {
		case "magnus":
			p.PropMethod = model.Magnus
		case "straight_tubes", "straight":
			p.PropMethod = model.StraightTubes
		default:
			return p, fmt.Errorf("%w: unknown propagation method %q",
				ErrConfiguration, payload.PropagationMethod)
		}
	}
	if payload.MagnusOrder != nil {
		p.MagnusOrder = *payload.MagnusOrder
	}
	if payload.NumIntegrationStep != nil {
		p.NumIntegrationStep = *payload.NumIntegrationStep
	}
	if payload.MaxCutOnFreq != nil {
		p.MaxCutOnFreq = *payload.MaxCutOnFreq
	}
	if payload.ModeCount != nil {
		p.ModeCount = *payload.ModeCount
	}
	if payload.PercentageLosses != nil {
		p.PercentageLosses = *payload.PercentageLosses
	}
	if payload.ViscoThermalLosses != nil {
		p.ViscoThermalLosses = *payload.ViscoThermalLosses
	}
	if payload.WallLosses != nil {
		p.WallLosses = *payload.WallLosses
	}
	if payload.ConstantWallImped != nil {
		p.ConstantWallImped = *payload.ConstantWallImped
	}
	if payload.WallAdmit != nil {
		p.WallAdmit = complex(payload.WallAdmit[0], payload.WallAdmit[1])
	}
	if payload.Curved != nil {
		p.Curved = *payload.Curved
	}
	if payload.VaryingArea != nil {
		p.VaryingArea = *payload.VaryingArea
	}
	if payload.ContourInterp != "" {
		switch strings.ToLower(strings.TrimSpace(payload.ContourInterp)) {
		case "area_ratio", "area":
			p.ContInterpMeth = model.AreaRatio
		case "bounding_box", "bbox":
			p.ContInterpMeth = model.BoundingBox
		case "from_file", "file":
			p.ContInterpMeth = model.FromFile
		default:
			return p, fmt.Errorf("%w: unknown contour interpolation %q",
				ErrConfiguration, payload.ContourInterp)
		}
	}
	if payload.MeshDensity != nil {
		p.MeshDensity = *payload.MeshDensity
	}
	if payload.JunctionLosses != nil {
		p.JunctionLosses = *payload.JunctionLosses
	}
	if payload.MouthBoundaryCond != "" {
		switch strings.ToLower(strings.TrimSpace(payload.MouthBoundaryCond)) {
		case "radiation":
			p.MouthBoundaryCond = model.RadiationCond
		case "admittance_1", "unit_admittance":
			p.MouthBoundaryCond = model.Admittance1
		case "zero_pressure", "pressure_release":
			p.MouthBoundaryCond = model.ZeroPressure
		default:
			return p, fmt.Errorf("%w: unknown mouth boundary condition %q",
				ErrConfiguration, payload.MouthBoundaryCond)
		}
	}
	if payload.GlottisBoundaryCond != "" {
		switch strings.ToLower(strings.TrimSpace(payload.GlottisBoundaryCond)) {
		case "hard_wall":
			p.GlottisBoundaryCond = model.HardWall
		case "infinite_waveguide", "anechoic":
			p.GlottisBoundaryCond = model.InfiniteWaveguide
		default:
			return p, fmt.Errorf("%w: unknown glottis boundary condition %q",
				ErrConfiguration, payload.GlottisBoundaryCond)
		}
	}
	if payload.RadIntegration != "" {
		switch strings.ToLower(strings.TrimSpace(payload.RadIntegration)) {
		case "discrete", "grid":
			p.RadIntegrationMethod = model.DiscreteGrid
		case "gauss", "quadrature":
			p.RadIntegrationMethod = model.GaussIntegration
		default:
			return p, fmt.Errorf("%w: unknown radiation integration method %q",
				ErrConfiguration, payload.RadIntegration)
		}
	}
	if payload.RadImpedGridDensity != nil {
		p.RadImpedGridDensity = *payload.RadImpedGridDensity
	}
	if payload.RadImpedPrecomputed != nil {
		p.RadImpedPrecomputed = *payload.RadImpedPrecomputed
	}
	if payload.SpectrumExponent != nil {
		p.SpectrumLgthExponent = *payload.SpectrumExponent
	}
	if payload.MaxComputedFreq != nil {
		p.MaxComputedFreq = *payload.MaxComputedFreq
	}
	if payload.FreqField != nil {
		p.FreqField = *payload.FreqField
	}
	if payload.FieldResolution != nil {
		p.FieldResolution = *payload.FieldResolution
	}
	if payload.BBoxMin != nil {
		p.BBoxMin = model.Point3{X: payload.BBoxMin.X, Y: payload.BBoxMin.Y, Z: payload.BBoxMin.Z}
	}
	if payload.BBoxMax != nil {
		p.BBoxMax = model.Point3{X: payload.BBoxMax.X, Y: payload.BBoxMax.Y, Z: payload.BBoxMax.Z}
	}
	if len(payload.TfPoints) > 0 {
		p.TfPoints = p.TfPoints[:0]
		for _, pt := range payload.TfPoints {
			p.TfPoints = append(p.TfPoints, model.Point3{X: pt.X, Y: pt.Y, Z: pt.Z})
		}
	}
	if payload.NoiseSourceIdx != nil {
		p.NoiseSourceIdx = *payload.NoiseSourceIdx
	}

	p.UpdateDerived()
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// ReadTfPointsCSV reads reception point coordinates from r, one point per
// line, the three coordinates separated by semicolons. Lines with fewer than
// three readable coordinates are skipped.
func ReadTfPointsCSV(r io.Reader) ([]model.Point3, error) {
	var pts []model.Point3

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var coord [3]float64
		cnt := 0
		for _, fieldStr := range strings.Split(line, ";") {
			if cnt >= 3 {
				break
			}
			fieldStr = strings.TrimSpace(fieldStr)
			if fieldStr == "" {
				continue
			}
			v, err := strconv.ParseFloat(fieldStr, 64)
			if err != nil {
				continue
			}
			coord[cnt] = v
			cnt++
		}
		if cnt == 3 {
			pts = append(pts, model.Point3{X: coord[0], Y: coord[1], Z: coord[2]})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ReadTfPointsCSV: %w", err)
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: no reception points found", ErrImport)
	}
	return pts, nil
}
