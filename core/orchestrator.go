package core

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/waveguide-acoustics/internal/cmplxmat"
	"github.com/signalsfoundry/waveguide-acoustics/internal/logging"
	"github.com/signalsfoundry/waveguide-acoustics/internal/observability"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

// ProgressFunc receives the completion fraction of a long-running stage.
type ProgressFunc func(stage string, done float64)

// Simulation owns one tract geometry, the simulation parameters, and the
// results of the last solves. It is the entry point of the engine: import a
// geometry, then compute transfer functions or acoustic fields.
type Simulation struct {
	params model.SimulationParameters
	tract  *Tract

	log      logging.Logger
	metrics  *observability.SolveCollector
	tracer   trace.Tracer
	runID    string
	progress ProgressFunc

	radCache *RadiationCache
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the structured logger of the simulation.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulation) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the Prometheus collector the pipeline stages report to.
func WithMetrics(c *observability.SolveCollector) Option {
	return func(s *Simulation) { s.metrics = c }
}

// WithProgress sets a callback receiving stage completion fractions.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Simulation) { s.progress = fn }
}

// NewSimulation constructs a simulation with the given parameters.
func NewSimulation(params model.SimulationParameters, opts ...Option) (*Simulation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params.UpdateDerived()
	sim := &Simulation{
		params: params,
		tract:  NewTract(),
		log:    logging.Noop(),
		tracer: otel.Tracer("waveguide-acoustics/core"),
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(sim)
	}
	return sim, nil
}

// RunID returns the unique identifier of this simulation instance.
func (sim *Simulation) RunID() string { return sim.runID }

// Tract returns the current segment graph.
func (sim *Simulation) Tract() *Tract { return sim.tract }

// Parameters returns a copy of the current simulation parameters.
func (sim *Simulation) Parameters() model.SimulationParameters { return sim.params }

// SetParameters replaces the simulation parameters. Modal data and the
// radiation impedance cache are invalidated, since most parameters affect
// them.
func (sim *Simulation) SetParameters(params model.SimulationParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	params.UpdateDerived()
	sim.params = params
	sim.tract.MarkModesDirty()
	sim.radCache = nil
	return nil
}

func (sim *Simulation) reportProgress(stage string, done float64) {
	if sim.progress != nil {
		sim.progress(stage, done)
	}
}

func (sim *Simulation) observeStage(stage string, start time.Time, err error) {
	if sim.metrics != nil {
		sim.metrics.ObserveStage(stage, time.Since(start).Seconds(), err)
	}
}

// ImportGeometry reads the cross-profile sequence from the source and builds
// the segment graph. The noise source index is clamped to the last segment.
func (sim *Simulation) ImportGeometry(ctx context.Context, src ProfileSource) (err error) {
	ctx = logging.ContextWithRunID(ctx, sim.runID)
	ctx, span := sim.tracer.Start(ctx, "ImportGeometry")
	defer span.End()
	start := time.Now()
	defer func() { sim.observeStage("import", start, err) }()

	profiles, err := src.Profiles()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImport, err)
	}

	t, err := BuildTract(profiles, &sim.params, false)
	if err != nil {
		return err
	}
	sim.tract = t
	sim.radCache = nil

	if sim.params.NoiseSourceIdx > t.Count()-1 {
		sim.params.NoiseSourceIdx = t.Count() - 1
	}

	if sim.metrics != nil {
		sim.metrics.SetTractCounts(t.Count(), 0)
	}
	span.SetAttributes(
		attribute.Int("tract.profiles", len(profiles)),
		attribute.Int("tract.segments", t.Count()),
	)
	sim.log.Info(ctx, "geometry imported",
		logging.Int("profiles", len(profiles)),
		logging.Int("segments", t.Count()))
	return nil
}

// ComputeModesAndJunctions meshes every cross-section, solves the transverse
// eigenproblems, and assembles the mode-matching matrices. It is a no-op when
// the modal data already matches the geometry.
func (sim *Simulation) ComputeModesAndJunctions(ctx context.Context) (err error) {
	if !sim.tract.ModesDirty() {
		return nil
	}
	ctx = logging.ContextWithRunID(ctx, sim.runID)
	ctx, span := sim.tracer.Start(ctx, "ComputeModesAndJunctions")
	defer span.End()
	start := time.Now()
	defer func() { sim.observeStage("modes", start, err) }()

	t := sim.tract
	segs := t.Segments()
	for i, s := range segs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		switch s.Kind {
		case KindFEM:
			if err = ComputeModes(s, &sim.params); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
		case KindRadiation:
			if err = ComputeRadiationModes(s, &sim.params); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
		}
		sim.reportProgress("modes", float64(i+1)/float64(len(segs)))
	}

	if err = ComputeJunctions(t, &sim.params, sim.params.JunctionLosses); err != nil {
		return err
	}
	t.MarkModesClean()
	sim.radCache = nil

	totalModes := 0
	for _, s := range segs {
		totalModes += s.ModeCount()
	}
	if sim.metrics != nil {
		sim.metrics.SetTractCounts(t.Count(), totalModes)
	}
	span.SetAttributes(attribute.Int("tract.modes", totalModes))
	sim.log.Info(ctx, "modes and junctions computed",
		logging.Int("segments", t.Count()),
		logging.Int("modes", totalModes))
	return nil
}

// mouthRadiationMatrices resolves the radiation impedance and admittance at
// the mouth for one frequency, building the spline cache on first use when
// precomputation is requested.
func (sim *Simulation) mouthRadiationMatrices(ctx context.Context, freq float64,
	precompute bool) (*cmplxmat.Dense, *cmplxmat.Dense, error) {

	lastSec := sim.tract.Count() - 1
	last := sim.tract.MustSegment(lastSec)

	if precompute && sim.radCache == nil {
		start := time.Now()
		cache, err := BuildRadiationCache(last, sim.params.RadImpedTableSize, &sim.params)
		sim.observeStage("radiation_cache", start, err)
		if err != nil {
			return nil, nil, err
		}
		sim.radCache = cache
		sim.log.Info(ctx, "radiation impedance cache built",
			logging.Int("frequencies", sim.params.RadImpedTableSize))
	}

	var cache *RadiationCache
	if sim.params.RadImpedPrecomputed || precompute {
		cache = sim.radCache
	}
	return radiationImpedanceAdmittance(last, cache, freq, &sim.params)
}

// SolveWaveProblem runs one frequency through the full propagation pipeline:
// terminal boundary condition at the mouth, backward impedance/admittance
// pass, then forward velocity/pressure pass from a unit volume velocity
// source at the glottis.
func (sim *Simulation) SolveWaveProblem(ctx context.Context, freq float64,
	precomputeRadImped bool) (st *SolveState, err error) {

	ctx = logging.ContextWithRunID(ctx, sim.runID)
	ctx, span := sim.tracer.Start(ctx, "SolveWaveProblem",
		trace.WithAttributes(attribute.Float64("freq_hz", freq)))
	defer span.End()
	start := time.Now()
	defer func() { sim.observeStage("solve", start, err) }()

	if err = sim.ComputeModesAndJunctions(ctx); err != nil {
		return nil, err
	}

	t := sim.tract
	p := &sim.params
	lastSec := t.Count() - 1
	if lastSec < 0 {
		return nil, fmt.Errorf("%w: empty tract", ErrConfiguration)
	}
	last := t.MustSegment(lastSec)
	mn := last.ModeCount()

	st = NewSolveState(t, freq)

	var radImped, radAdmit *cmplxmat.Dense
	switch p.MouthBoundaryCond {
	case model.RadiationCond:
		radImped, radAdmit, err = sim.mouthRadiationMatrices(ctx, freq, precomputeRadImped)
		if err != nil {
			return nil, err
		}
	case model.Admittance1:
		diag := make([]complex128, mn)
		for i := range diag {
			diag[i] = complex(last.ScaleOut*last.ScaleOut, 0)
		}
		radAdmit = cmplxmat.Diag(diag)
		radImped, err = radAdmit.Inverse()
		if err != nil {
			return nil, err
		}
	case model.ZeroPressure:
		diag := make([]complex128, mn)
		for i := range diag {
			diag[i] = 1e10
		}
		radAdmit = cmplxmat.Diag(diag)
		radImped, err = radAdmit.Inverse()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown mouth boundary condition", ErrConfiguration)
	}

	if err = PropagateImpedAdmit(t, st, radImped, radAdmit, freq, lastSec, 0, p); err != nil {
		return nil, err
	}

	// Constant volume velocity source at the glottis: q = -j*w*rho*v.
	first := t.MustSegment(0)
	mn0 := first.ModeCount()
	inputVelocity := cmplxmat.NewDense(mn0, 1)
	inputVelocity.Set(0, 0, -1i*complex(2*math.Pi*freq*p.VolumicMass*
		math.Pow(first.ScaleIn, 3)*first.Area(), 0))
	inputPressure := st.Field(0).Zin().Mul(inputVelocity)

	if err = PropagateVelocityPress(t, st, inputVelocity, inputPressure, freq, 0, lastSec, p); err != nil {
		return nil, err
	}
	return st, nil
}

// solveNoiseSource runs the secondary (noise) source solve on an existing
// state: a unit plane-mode pressure source at the exit of the noise segment,
// the upstream side terminated by the glottis boundary condition.
func (sim *Simulation) solveNoiseSource(ctx context.Context, st *SolveState, freq float64) error {
	t := sim.tract
	p := &sim.params
	lastSec := t.Count() - 1
	idxNoise := p.NoiseSourceIdx
	if idxNoise >= lastSec {
		return nil
	}

	noiseSeg := t.MustSegment(idxNoise)
	nextSeg := t.MustSegment(idxNoise + 1)
	if len(noiseSeg.F) == 0 {
		return fmt.Errorf("%w: junction matrix missing at noise source segment %d",
			ErrConfiguration, idxNoise)
	}
	f := cmplxmat.FromReal(noiseSeg.F[0])

	mnNoise := noiseSeg.ModeCount()
	inputPressureNoise := cmplxmat.NewDense(mnNoise, 1)
	inputPressureNoise.Set(0, 0, 1)

	// Whether the junction at the source expands or contracts decides which
	// upstream quantity enters the source equations.
	expands := math.Pow(nextSeg.ScaleIn, 2)*nextSeg.Area() >
		math.Pow(noiseSeg.ScaleOut, 2)*noiseSeg.Area()

	noiseField := st.Field(idxNoise)
	var upstream *cmplxmat.Dense
	if expands {
		upstream = noiseField.Zout()
	} else {
		upstream = noiseField.Yout()
	}

	// Glottis boundary condition.
	first := t.MustSegment(0)
	mn0 := first.ModeCount()
	var radImped, radAdmit *cmplxmat.Dense
	switch p.GlottisBoundaryCond {
	case model.HardWall:
		diagZ := make([]complex128, mn0)
		diagY := make([]complex128, mn0)
		for i := range diagZ {
			diagZ[i] = 1e5
			diagY[i] = 1e-5
		}
		radImped = cmplxmat.Diag(diagZ)
		radAdmit = cmplxmat.Diag(diagY)
	case model.InfiniteWaveguide:
		radImped = characteristicImpedance(first, p, freq)
		radAdmit = characteristicAdmittance(first, p, freq)
	default:
		return fmt.Errorf("%w: unknown glottis boundary condition", ErrConfiguration)
	}

	if err := PropagateImpedAdmit(t, st, radImped, radAdmit, freq, 0, idxNoise, p); err != nil {
		return err
	}

	freqC := complex(freq, 0)
	var prevVelo, prevPress *cmplxmat.Dense
	if expands {
		den := upstream.Scale(freqC).Add(noiseField.Zout().Scale(freqC))
		sol, err := den.Solve(inputPressureNoise)
		if err != nil {
			return fmt.Errorf("noise source system: %w", err)
		}
		prevVelo = f.Transpose().Mul(sol)
		prevPress = st.Field(idxNoise + 1).Zin().Scale(freqC).Mul(prevVelo)
	} else {
		den := upstream.Add(noiseField.Yout())
		rhs := noiseField.Yout().Mul(inputPressureNoise).Scale(-1)
		sol, err := den.Solve(rhs)
		if err != nil {
			return fmt.Errorf("noise source system: %w", err)
		}
		prevPress = f.Transpose().Mul(sol)
		prevVelo = st.Field(idxNoise + 1).Yin().Mul(prevPress)
	}

	startSec := idxNoise + 1
	if startSec > lastSec {
		startSec = lastSec
	}
	return PropagateVelocityPress(t, st, prevVelo, prevPress, freq, startSec, lastSec, p)
}

// TransferFunctionResult holds the frequency responses of one sweep.
type TransferFunctionResult struct {
	// Freqs are the computed frequencies (Hz).
	Freqs []float64
	// Glottal[i][j] is the pressure at reception point j for the glottal
	// source at Freqs[i]. Noise is the same for the noise source, nil when
	// no noise source lies inside the tract.
	Glottal [][]complex128
	Noise   [][]complex128
	// PlaneInputImpedance is the (0,0) entry of the input impedance matrix.
	PlaneInputImpedance []complex128
	// NumFreq is half the length of the synthesis spectrum.
	NumFreq int

	volumicMass float64
}

// solveBin runs one frequency bin of a sweep and stores its results at index
// i. The result slices are preallocated, so concurrent bins never contend.
func (sim *Simulation) solveBin(ctx context.Context, res *TransferFunctionResult,
	tfPoints []model.Point3, i int, freqSteps float64) error {

	p := &sim.params
	t := sim.tract
	freq := math.Max(0.1, float64(i)*freqSteps)
	sim.log.Debug(ctx, "solving frequency",
		logging.Int("index", i+1),
		logging.Any("freq_hz", freq))

	st, err := sim.SolveWaveProblem(ctx, freq, true)
	if err != nil {
		return fmt.Errorf("frequency %g Hz: %w", freq, err)
	}

	row := make([]complex128, len(tfPoints))
	for j, pt := range tfPoints {
		row[j] = AcousticFieldAt(t, st, p, pt)
	}
	res.Glottal[i] = row
	res.PlaneInputImpedance[i] = st.Field(0).Zin().At(0, 0)
	res.Freqs[i] = freq

	if res.Noise != nil {
		if err := sim.solveNoiseSource(ctx, st, freq); err != nil {
			return fmt.Errorf("noise source at %g Hz: %w", freq, err)
		}
		noiseRow := make([]complex128, len(tfPoints))
		for j, pt := range tfPoints {
			noiseRow[j] = AcousticFieldAt(t, st, p, pt)
		}
		res.Noise[i] = noiseRow
	}

	if sim.metrics != nil {
		sim.metrics.AddFieldPoints(len(tfPoints))
	}
	return nil
}

// ComputeTransferFunction sweeps the frequency grid and accumulates the
// transfer functions at the reception points, together with the plane-mode
// input impedance. The per-frequency state lives in a SolveState, so the bins
// fan out over a small worker pool.
func (sim *Simulation) ComputeTransferFunction(ctx context.Context) (res *TransferFunctionResult, err error) {
	ctx = logging.ContextWithRunID(ctx, sim.runID)
	ctx, span := sim.tracer.Start(ctx, "ComputeTransferFunction")
	defer span.End()
	start := time.Now()
	defer func() { sim.observeStage("transfer_function", start, err) }()

	if err = sim.ComputeModesAndJunctions(ctx); err != nil {
		return nil, err
	}

	p := &sim.params
	t := sim.tract
	numFreqComputed := p.NumFreqComputed()
	freqSteps := p.FreqSteps()
	lastSec := t.Count() - 1

	// Warm the radiation impedance cache before fanning out, so the workers
	// only ever read it.
	if p.MouthBoundaryCond == model.RadiationCond {
		if _, _, err = sim.mouthRadiationMatrices(ctx, math.Max(0.1, freqSteps), true); err != nil {
			return nil, err
		}
	}

	tfPoints := make([]model.Point3, len(p.TfPoints))
	for i, pt := range p.TfPoints {
		tfPoints[i] = MovePointFromExitLandmarkToGeoLandmark(t, pt)
	}

	res = &TransferFunctionResult{
		Freqs:               make([]float64, numFreqComputed),
		Glottal:             make([][]complex128, numFreqComputed),
		PlaneInputImpedance: make([]complex128, numFreqComputed),
		NumFreq:             p.NumFreq(),
		volumicMass:         p.VolumicMass,
	}
	if p.NoiseSourceIdx < lastSec {
		res.Noise = make([][]complex128, numFreqComputed)
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > numFreqComputed {
		workers = numFreqComputed
	}

	bins := make(chan int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	done := 0

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range bins {
				mu.Lock()
				failed := firstErr != nil
				mu.Unlock()
				if failed {
					continue
				}
				binErr := sim.solveBin(ctx, res, tfPoints, i, freqSteps)
				mu.Lock()
				if binErr != nil && firstErr == nil {
					firstErr = binErr
				}
				done++
				frac := float64(done) / float64(numFreqComputed)
				mu.Unlock()
				if binErr == nil {
					sim.reportProgress("transfer_function", frac)
				}
			}
		}()
	}

feed:
	for i := 0; i < numFreqComputed; i++ {
		select {
		case <-ctx.Done():
			mu.Lock()
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			mu.Unlock()
			break feed
		case bins <- i:
		}
	}
	close(bins)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	span.SetAttributes(attribute.Int("frequencies", numFreqComputed))
	sim.log.Info(ctx, "transfer function computed",
		logging.Int("frequencies", numFreqComputed),
		logging.Int("points", len(tfPoints)))
	return res, nil
}

// Spectrum returns the synthesis spectrum of reception point tfIdx: the
// computed transfer function padded to NumFreq bins, mirrored with conjugate
// symmetry into 2*NumFreq bins.
func (r *TransferFunctionResult) Spectrum(tfIdx int, noise bool) []complex128 {
	src := r.Glottal
	if noise {
		src = r.Noise
	}
	out := make([]complex128, 2*r.NumFreq)
	if src == nil {
		return out
	}
	for i := range src {
		if i >= r.NumFreq {
			break
		}
		out[i] = src[i][tfIdx]
	}
	for i := r.NumFreq; i < 2*r.NumFreq; i++ {
		out[i] = cmplx.Conj(out[2*r.NumFreq-i-1])
	}
	return out
}

// ResponseAt returns the transfer function of reception point tfIdx at an
// arbitrary frequency, interpolated between the two nearest computed bins:
// the magnitude in the log domain, the phase unwrapped and linear. Outside the
// computed range the edge bin is returned.
func (r *TransferFunctionResult) ResponseAt(tfIdx int, freq float64, noise bool) complex128 {
	src := r.Glottal
	if noise {
		src = r.Noise
	}
	if src == nil || len(r.Freqs) == 0 {
		return cmplx.NaN()
	}
	n := len(r.Freqs)
	if freq <= r.Freqs[0] {
		return src[0][tfIdx]
	}
	if freq >= r.Freqs[n-1] {
		return src[n-1][tfIdx]
	}
	hi := 1
	for hi < n-1 && r.Freqs[hi] < freq {
		hi++
	}
	lo := hi - 1
	w := (freq - r.Freqs[lo]) / (r.Freqs[hi] - r.Freqs[lo])

	m0, m1 := cmplx.Abs(src[lo][tfIdx]), cmplx.Abs(src[hi][tfIdx])
	if m0 == 0 || m1 == 0 {
		return src[lo][tfIdx] + complex(w, 0)*(src[hi][tfIdx]-src[lo][tfIdx])
	}
	mag := math.Exp((1-w)*math.Log(m0) + w*math.Log(m1))

	p0, p1 := cmplx.Phase(src[lo][tfIdx]), cmplx.Phase(src[hi][tfIdx])
	if p1-p0 > math.Pi {
		p1 -= 2 * math.Pi
	} else if p0-p1 > math.Pi {
		p1 += 2 * math.Pi
	}
	return cmplx.Rect(mag, (1-w)*p0+w*p1)
}

// InputImpedanceMagnitude returns |j*w*rho*Zin(0,0)| and its phase at index
// i of the sweep.
func (r *TransferFunctionResult) InputImpedanceMagnitude(i int) (float64, float64) {
	v := 1i * complex(2*math.Pi*r.Freqs[i]*r.volumicMass, 0) * r.PlaneInputImpedance[i]
	return cmplx.Abs(v), cmplx.Phase(v)
}

// ComputeAcousticField solves the wave problem at the field frequency and
// samples the pressure field on the configured bounding box.
func (sim *Simulation) ComputeAcousticField(ctx context.Context) (grid *FieldGrid, err error) {
	ctx = logging.ContextWithRunID(ctx, sim.runID)
	ctx, span := sim.tracer.Start(ctx, "ComputeAcousticField")
	defer span.End()
	start := time.Now()
	defer func() { sim.observeStage("field", start, err) }()

	st, err := sim.SolveWaveProblem(ctx, sim.params.FreqField, false)
	if err != nil {
		return nil, err
	}

	grid, err = NewFieldGrid(&sim.params)
	if err != nil {
		return nil, err
	}
	grid.Sample(sim.tract, st, &sim.params, func(done float64) {
		sim.reportProgress("field", done)
	})
	if sim.metrics != nil {
		sim.metrics.AddFieldPoints(grid.Nx * grid.Ny)
	}
	sim.log.Info(ctx, "acoustic field computed",
		logging.Int("nx", grid.Nx),
		logging.Int("ny", grid.Ny),
		logging.Any("freq_hz", sim.params.FreqField))
	return grid, nil
}
