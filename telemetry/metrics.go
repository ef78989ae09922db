package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/viam-modules/viam-gridslam/gridslam"
	"github.com/viam-modules/viam-gridslam/icp"
)

// Metrics holds the prometheus collectors of one session. A nil *Metrics records nothing.
type Metrics struct {
	ticksTotal      prometheus.Counter
	tickSeconds     prometheus.Histogram
	neff            *prometheus.GaugeVec
	resamplesTotal  *prometheus.CounterVec
	weightResets    *prometheus.CounterVec
	malformedScans  *prometheus.CounterVec
	droppedCells    *prometheus.CounterVec
	icpIterations   *prometheus.HistogramVec
	icpNotConverged *prometheus.CounterVec
}

func newCounterVec(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridslam",
			Subsystem: "node",
			Name:      name,
			Help:      help,
		},
		[]string{"node"},
	)
}

// NewMetrics creates the collectors and registers them with registerer. Every session should use
// its own registry so that sessions never share state.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridslam",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Number of ticks executed",
		}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gridslam",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent executing one tick",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		neff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gridslam",
			Subsystem: "node",
			Name:      "effective_sample_size",
			Help:      "Effective sample size of the particle weights after the last update",
		}, []string{"node"}),
		resamplesTotal:  newCounterVec("resamples_total", "Number of ticks on which the particles were resampled"),
		weightResets:    newCounterVec("weight_resets_total", "Number of ticks on which degenerate weights were reset to uniform"),
		malformedScans:  newCounterVec("malformed_scans_total", "Number of scans skipped because they were malformed"),
		droppedCells:    newCounterVec("dropped_endpoints_total", "Number of scan end points that fell outside the grid"),
		icpNotConverged: newCounterVec("icp_not_converged_total", "Number of scan matches that did not converge"),
		icpIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gridslam",
			Subsystem: "node",
			Name:      "icp_iterations",
			Help:      "Iterations used by a scan match",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}, []string{"node"}),
	}

	var errs error
	for _, c := range []prometheus.Collector{
		m.ticksTotal, m.tickSeconds, m.neff, m.resamplesTotal, m.weightResets,
		m.malformedScans, m.droppedCells, m.icpIterations, m.icpNotConverged,
	} {
		errs = multierr.Append(errs, registerer.Register(c))
	}
	if errs != nil {
		return nil, errs
	}
	return m, nil
}

// ObserveTick records one executed tick.
func (m *Metrics) ObserveTick(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
	m.tickSeconds.Observe(elapsed.Seconds())
}

// ObserveReport records the outcome of one engine update of node.
func (m *Metrics) ObserveReport(node string, report gridslam.Report) {
	if m == nil {
		return
	}
	if report.MalformedScan != nil {
		m.malformedScans.WithLabelValues(node).Inc()
		return
	}
	m.neff.WithLabelValues(node).Set(report.EffectiveSampleSize)
	if report.Resampled {
		m.resamplesTotal.WithLabelValues(node).Inc()
	}
	if report.WeightsReset {
		m.weightResets.WithLabelValues(node).Inc()
	}
	if report.DroppedEndPoints > 0 {
		m.droppedCells.WithLabelValues(node).Add(float64(report.DroppedEndPoints))
	}
	if report.ScanMatch != nil {
		m.ObserveMatch(node, *report.ScanMatch)
	}
}

// ObserveMatch records one scan match of node.
func (m *Metrics) ObserveMatch(node string, result icp.Result) {
	if m == nil {
		return
	}
	m.icpIterations.WithLabelValues(node).Observe(float64(result.Iterations))
	if !result.Converged {
		m.icpNotConverged.WithLabelValues(node).Inc()
	}
}

// ObserveMalformedScan records a scan node skipped.
func (m *Metrics) ObserveMalformedScan(node string) {
	if m == nil {
		return
	}
	m.malformedScans.WithLabelValues(node).Inc()
}
