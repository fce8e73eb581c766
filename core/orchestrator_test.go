package core

import (
	"context"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/waveguide-acoustics/model"
)

func TestNewSimulationValidatesParameters(t *testing.T) {
	p := testParams()
	p.MagnusOrder = 3
	if _, err := NewSimulation(p); err == nil {
		t.Errorf("expected a validation error for an unsupported scheme order")
	}
}

func TestSetParametersInvalidatesModalData(t *testing.T) {
	sim, err := NewSimulation(testParams())
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}
	if sim.RunID() == "" {
		t.Errorf("RunID is empty")
	}

	bad := testParams()
	bad.NumIntegrationStep = 1
	if err := sim.SetParameters(bad); err == nil {
		t.Errorf("expected a validation error")
	}

	good := testParams()
	good.Temperature = 25
	if err := sim.SetParameters(good); err != nil {
		t.Fatalf("SetParameters failed: %v", err)
	}
	if !sim.Tract().ModesDirty() {
		t.Errorf("modal data was not invalidated")
	}
	if sim.Parameters().Temperature != 25 {
		t.Errorf("parameters were not replaced")
	}
}

// sweepParams tunes the solver for a fast end-to-end sweep on the two section
// test geometry: one mode, a short spectrum, a pressure release mouth.
func sweepParams() model.SimulationParameters {
	p := testParams()
	p.ModeCount = 1
	p.NumIntegrationStep = 5
	p.MagnusOrder = 2
	p.MouthBoundaryCond = model.ZeroPressure
	p.SpectrumLgthExponent = 4
	p.MaxComputedFreq = 6000
	p.NoiseSourceIdx = 0
	p.TfPoints = []model.Point3{{X: 3}}
	p.UpdateDerived()
	return p
}

func writeGeometryFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tract.csv")
	if err := os.WriteFile(path, []byte(twoSectionCSV), 0o644); err != nil {
		t.Fatalf("writing the geometry file failed: %v", err)
	}
	return path
}

func TestComputeTransferFunctionEndToEnd(t *testing.T) {
	sim, err := NewSimulation(sweepParams())
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}
	ctx := context.Background()
	src := CSVProfileSource{Path: writeGeometryFile(t)}
	if err := sim.ImportGeometry(ctx, src); err != nil {
		t.Fatalf("ImportGeometry failed: %v", err)
	}
	if got := sim.Tract().Count(); got != 2 {
		t.Fatalf("imported tract has %d segments, want 2", got)
	}

	res, err := sim.ComputeTransferFunction(ctx)
	if err != nil {
		t.Fatalf("ComputeTransferFunction failed: %v", err)
	}

	// Exponent 4: 8 positive bins of 22050/8 Hz, 3 of them below 6 kHz.
	if len(res.Freqs) != 3 {
		t.Fatalf("computed %d frequencies, want 3", len(res.Freqs))
	}
	if res.Freqs[0] != 0.1 {
		t.Errorf("first frequency = %g, want the 0.1 Hz floor", res.Freqs[0])
	}
	for i := range res.Freqs {
		if len(res.Glottal[i]) != 1 {
			t.Fatalf("frequency %d has %d reception values, want 1", i, len(res.Glottal[i]))
		}
		if cmplx.IsNaN(res.Glottal[i][0]) || cmplx.IsInf(res.Glottal[i][0]) {
			t.Errorf("glottal response at %g Hz is not finite: %v",
				res.Freqs[i], res.Glottal[i][0])
		}
		if res.PlaneInputImpedance[i] == 0 {
			t.Errorf("plane input impedance at %g Hz is zero", res.Freqs[i])
		}
	}

	// The noise source sits below the mouth, so the secondary responses are
	// present and finite.
	if res.Noise == nil {
		t.Fatalf("noise responses missing despite an interior noise source")
	}
	for i := range res.Freqs {
		if cmplx.IsNaN(res.Noise[i][0]) || cmplx.IsInf(res.Noise[i][0]) {
			t.Errorf("noise response at %g Hz is not finite: %v", res.Freqs[i], res.Noise[i][0])
		}
	}

	if mag, _ := res.InputImpedanceMagnitude(1); mag <= 0 || math.IsNaN(mag) {
		t.Errorf("input impedance magnitude = %g, want positive", mag)
	}
	spec := res.Spectrum(0, false)
	if len(spec) != 16 {
		t.Fatalf("spectrum length = %d, want 16", len(spec))
	}
	if spec[15] != cmplx.Conj(spec[0]) {
		t.Errorf("spectrum is not conjugate symmetric: bin 15 = %v, bin 0 = %v", spec[15], spec[0])
	}
}

func TestComputeAcousticFieldEndToEnd(t *testing.T) {
	p := sweepParams()
	p.FreqField = 500
	p.FieldResolution = 2
	p.BBoxMin = model.Point3{X: 0, Y: 0, Z: -1}
	p.BBoxMax = model.Point3{X: 2, Y: 0, Z: 1}

	sim, err := NewSimulation(p)
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}
	ctx := context.Background()
	if err := sim.ImportGeometry(ctx, CSVProfileSource{Path: writeGeometryFile(t)}); err != nil {
		t.Fatalf("ImportGeometry failed: %v", err)
	}

	var lastDone float64
	sim.progress = func(stage string, done float64) {
		if stage == "field" {
			lastDone = done
		}
	}
	grid, err := sim.ComputeAcousticField(ctx)
	if err != nil {
		t.Fatalf("ComputeAcousticField failed: %v", err)
	}
	if grid.Nx != 4 || grid.Ny != 4 {
		t.Fatalf("grid dims = %dx%d, want 4x4", grid.Nx, grid.Ny)
	}
	if lastDone != 1 {
		t.Errorf("progress ended at %g, want 1", lastDone)
	}

	inside := 0
	for _, row := range grid.Values {
		for _, v := range row {
			if !cmplx.IsNaN(v) {
				inside++
			}
		}
	}
	if inside == 0 {
		t.Errorf("no grid point landed inside the waveguide")
	}
	if grid.MaxAmp <= 0 {
		t.Errorf("MaxAmp = %g, want positive after sampling", grid.MaxAmp)
	}
}

func TestComputeTransferFunctionCancellation(t *testing.T) {
	sim, err := NewSimulation(sweepParams())
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}
	ctx := context.Background()
	if err := sim.ImportGeometry(ctx, CSVProfileSource{Path: writeGeometryFile(t)}); err != nil {
		t.Fatalf("ImportGeometry failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := sim.ComputeTransferFunction(cancelled); err == nil {
		t.Errorf("expected an error from a cancelled context")
	}
}
