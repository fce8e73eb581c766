package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/cmplx"
	"net/http"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/signalsfoundry/waveguide-acoustics/core"
	"github.com/signalsfoundry/waveguide-acoustics/internal/logging"
	"github.com/signalsfoundry/waveguide-acoustics/internal/observability"
	"github.com/signalsfoundry/waveguide-acoustics/model"
)

func main() {
	geometryPath := flag.String("geometry", "", "path of the cross-profile geometry CSV (required)")
	configPath := flag.String("config", "", "path of the JSON parameter file (defaults apply when empty)")
	tfPointsPath := flag.String("tf-points", "", "path of a semicolon-separated CSV of reception points")
	mode := flag.String("mode", "tf", "computation to run: tf | field")
	outDir := flag.String("out", ".", "directory the result files are written to")
	plotPath := flag.String("plot", "transfer_function.png", "name of the magnitude plot, empty to disable")
	metricsAddr := flag.String("metrics-addr", "", "listen address of the /metrics endpoint, empty to disable")

	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	if *geometryPath == "" {
		fmt.Fprintln(os.Stderr, "usage: tractsim -geometry <file.csv> [-config <file.json>] [-mode tf|field]")
		os.Exit(2)
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		fatal(ctx, log, "init tracing", err)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	collector, err := observability.NewSolveCollector(nil)
	if err != nil {
		fatal(ctx, log, "init metrics", err)
	}
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn(ctx, "metrics endpoint stopped", logging.String("error", err.Error()))
			}
		}()
		log.Info(ctx, "metrics endpoint listening", logging.String("addr", *metricsAddr))
	}

	params, err := loadParameters(*configPath)
	if err != nil {
		fatal(ctx, log, "load configuration", err)
	}

	if *tfPointsPath != "" {
		f, err := os.Open(*tfPointsPath)
		if err != nil {
			fatal(ctx, log, "open reception points", err)
		}
		pts, err := core.ReadTfPointsCSV(f)
		f.Close()
		if err != nil {
			fatal(ctx, log, "read reception points", err)
		}
		params.TfPoints = pts
	}

	sim, err := core.NewSimulation(params,
		core.WithLogger(log),
		core.WithMetrics(collector),
	)
	if err != nil {
		fatal(ctx, log, "create simulation", err)
	}
	ctx = logging.ContextWithRunID(ctx, sim.RunID())
	log.Info(ctx, "simulation created")

	if err := sim.ImportGeometry(ctx, core.CSVProfileSource{Path: *geometryPath, Simplify: true}); err != nil {
		fatal(ctx, log, "import geometry", err)
	}

	switch *mode {
	case "tf":
		res, err := sim.ComputeTransferFunction(ctx)
		if err != nil {
			fatal(ctx, log, "compute transfer function", err)
		}
		if err := writeTransferOutputs(*outDir, res); err != nil {
			fatal(ctx, log, "write results", err)
		}
		if *plotPath != "" {
			if err := plotTransferFunction(filepath.Join(*outDir, *plotPath), res); err != nil {
				fatal(ctx, log, "plot transfer function", err)
			}
		}
		log.Info(ctx, "transfer function written",
			logging.Int("frequencies", len(res.Freqs)),
			logging.String("dir", *outDir))

	case "field":
		grid, err := sim.ComputeAcousticField(ctx)
		if err != nil {
			fatal(ctx, log, "compute acoustic field", err)
		}
		f, err := os.Create(filepath.Join(*outDir, "field.txt"))
		if err != nil {
			fatal(ctx, log, "create field file", err)
		}
		err = core.ExportFieldGrid(f, grid)
		f.Close()
		if err != nil {
			fatal(ctx, log, "write field file", err)
		}
		log.Info(ctx, "acoustic field written",
			logging.Int("nx", grid.Nx),
			logging.Int("ny", grid.Ny),
			logging.String("dir", *outDir))

	default:
		fatal(ctx, log, "parse flags", fmt.Errorf("unknown mode %q", *mode))
	}
}

func loadParameters(path string) (model.SimulationParameters, error) {
	if path == "" {
		return model.DefaultParameters(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return model.SimulationParameters{}, err
	}
	defer f.Close()
	return core.LoadSimulationConfig(f)
}

func writeTransferOutputs(dir string, res *core.TransferFunctionResult) error {
	tf, err := os.Create(filepath.Join(dir, "transfer_function.txt"))
	if err != nil {
		return err
	}
	defer tf.Close()
	if err := core.ExportTransferFunction(tf, res, false); err != nil {
		return err
	}

	if res.Noise != nil {
		nf, err := os.Create(filepath.Join(dir, "transfer_function_noise.txt"))
		if err != nil {
			return err
		}
		defer nf.Close()
		if err := core.ExportTransferFunction(nf, res, true); err != nil {
			return err
		}
	}

	zin, err := os.Create(filepath.Join(dir, "zin.txt"))
	if err != nil {
		return err
	}
	defer zin.Close()
	return core.ExportPlaneInputImpedance(zin, res)
}

func plotTransferFunction(path string, res *core.TransferFunctionResult) error {
	if len(res.Freqs) < 2 || len(res.Glottal[0]) == 0 {
		return nil
	}
	p := plot.New()
	p.Title.Text = "Transfer function"
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Magnitude (dB)"

	// Resample on a dense axis through the sweep interpolation so short
	// sweeps still plot as smooth curves.
	axis := floats.Span(make([]float64, 8*len(res.Freqs)),
		res.Freqs[0], res.Freqs[len(res.Freqs)-1])
	pts := make(plotter.XYs, 0, len(axis))
	for _, freq := range axis {
		mag := cmplx.Abs(res.ResponseAt(0, freq, false))
		if mag <= 0 || math.IsNaN(mag) {
			continue
		}
		pts = append(pts, plotter.XY{X: freq, Y: 20 * math.Log10(mag)})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line)
	p.Add(plotter.NewGrid())

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

func fatal(ctx context.Context, log logging.Logger, msg string, err error) {
	log.Error(ctx, msg, logging.String("error", err.Error()))
	os.Exit(1)
}
