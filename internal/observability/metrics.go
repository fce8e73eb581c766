package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SolveCollector bundles the Prometheus metrics of the acoustic engine and
// provides a ready-to-serve /metrics handler.
type SolveCollector struct {
	gatherer prometheus.Gatherer

	Solves         *prometheus.CounterVec
	SolveDurations *prometheus.HistogramVec

	TractSegments prometheus.Gauge
	TractModes    prometheus.Gauge
	FieldPoints   prometheus.Counter
}

// NewSolveCollector registers the engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSolveCollector(reg prometheus.Registerer) (*SolveCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	solves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acsim_solves_total",
		Help: "Total number of wave problems solved, labeled by stage and outcome.",
	}, []string{"stage", "outcome"})
	solves, err := registerCounterVec(reg, solves, "acsim_solves_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acsim_solve_duration_seconds",
		Help:    "Wall time of one stage of the simulation pipeline.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage"})
	durations, err = registerHistogramVec(reg, durations, "acsim_solve_duration_seconds")
	if err != nil {
		return nil, err
	}

	segments, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "acsim_tract_segments",
		Help: "Number of segments in the current tract graph.",
	}), "acsim_tract_segments")
	if err != nil {
		return nil, err
	}
	modes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "acsim_tract_modes",
		Help: "Total number of transverse modes over all segments.",
	}), "acsim_tract_modes")
	if err != nil {
		return nil, err
	}
	fieldPoints := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acsim_field_points_total",
		Help: "Total number of acoustic field points sampled.",
	})
	fieldPoints, err = registerCounter(reg, fieldPoints, "acsim_field_points_total")
	if err != nil {
		return nil, err
	}

	return &SolveCollector{
		gatherer:       gatherer,
		Solves:         solves,
		SolveDurations: durations,
		TractSegments:  segments,
		TractModes:     modes,
		FieldPoints:    fieldPoints,
	}, nil
}

// ObserveStage records one completed pipeline stage.
func (c *SolveCollector) ObserveStage(stage string, seconds float64, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if c.Solves != nil {
		c.Solves.WithLabelValues(stage, outcome).Inc()
	}
	if c.SolveDurations != nil {
		c.SolveDurations.WithLabelValues(stage).Observe(seconds)
	}
}

// SetTractCounts records the size of the current tract graph.
func (c *SolveCollector) SetTractCounts(segments, modes int) {
	if c == nil {
		return
	}
	if c.TractSegments != nil {
		c.TractSegments.Set(float64(segments))
	}
	if c.TractModes != nil {
		c.TractModes.Set(float64(modes))
	}
}

// AddFieldPoints counts sampled field points.
func (c *SolveCollector) AddFieldPoints(n int) {
	if c == nil || c.FieldPoints == nil {
		return
	}
	c.FieldPoints.Add(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SolveCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
