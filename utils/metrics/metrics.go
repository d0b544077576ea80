package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// Namespace prefixes every engine metric
const Namespace = "arbengine"

// NewRegistry creates a registry carrying the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

type ScannerMetrics struct {
	Ticks          prometheus.Counter
	Found          prometheus.Counter
	NotFound       prometheus.Counter
	RefreshErrors  prometheus.Counter
	QuoteErrors    prometheus.Counter
	ConsumerErrors prometheus.Counter
	PathsEvaluated prometheus.Counter
	TickDuration   prometheus.Histogram
	BestNetProfit  prometheus.Gauge
}

func NewScannerMetrics(reg prometheus.Registerer, namespace string) *ScannerMetrics {
	f := promauto.With(reg)
	return &ScannerMetrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "ticks_total",
			Help:      "Total number of scan ticks",
		}),
		Found: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "found_total",
			Help:      "Ticks that ended with a profitable opportunity",
		}),
		NotFound: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "not_found_total",
			Help:      "Ticks that ended without a profitable opportunity",
		}),
		RefreshErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "refresh_errors_total",
			Help:      "Venue reserve refreshes that failed",
		}),
		QuoteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "quote_errors_total",
			Help:      "Candidate paths skipped because a hop could not be quoted",
		}),
		ConsumerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "consumer_errors_total",
			Help:      "Opportunities the consumer failed to handle",
		}),
		PathsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "paths_evaluated_total",
			Help:      "Cyclic paths quoted",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a scan tick including reserve refresh",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		BestNetProfit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "best_net_profit",
			Help:      "Net profit of the last tick's best opportunity, in start token units",
		}),
	}
}

// Fields summarizes the counters for a log line
func (m *ScannerMetrics) Fields() []zap.Field {
	return []zap.Field{
		zap.Float64("ticks", CounterValue(m.Ticks)),
		zap.Float64("found", CounterValue(m.Found)),
		zap.Float64("not_found", CounterValue(m.NotFound)),
		zap.Float64("refresh_errors", CounterValue(m.RefreshErrors)),
		zap.Float64("quote_errors", CounterValue(m.QuoteErrors)),
	}
}

type ExecutionMetrics struct {
	Plans         prometheus.Counter
	Steps         *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	ExecutionTime prometheus.Histogram
}

func NewExecutionMetrics(reg prometheus.Registerer, namespace string) *ExecutionMetrics {
	f := promauto.With(reg)
	return &ExecutionMetrics{
		Plans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "plans_total",
			Help:      "Execution plans run",
		}),
		Steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "steps_total",
			Help:      "Execution steps by kind and outcome",
		}, []string{"kind", "status"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "failures_total",
			Help:      "Plan failures by reason",
		}, []string{"reason"}),
		ExecutionTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "execution_seconds",
			Help:      "Wall time of a plan execution",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

type BundleMetrics struct {
	Built        prometheus.Counter
	Accepted     prometheus.Counter
	Rejected     prometheus.Counter
	Submitted    prometheus.Counter
	SubmitFailed prometheus.Counter
	GasUsed      prometheus.Histogram
}

func NewBundleMetrics(reg prometheus.Registerer, namespace string) *BundleMetrics {
	f := promauto.With(reg)
	return &BundleMetrics{
		Built: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "built_total",
			Help:      "Bundles assembled",
		}),
		Accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "simulation_accepted_total",
			Help:      "Bundles whose simulation succeeded",
		}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "simulation_rejected_total",
			Help:      "Bundles whose simulation failed",
		}),
		Submitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "submitted_total",
			Help:      "Bundles accepted by the relay",
		}),
		SubmitFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "submit_failed_total",
			Help:      "Bundles the relay did not accept",
		}),
		GasUsed: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "simulated_gas_used",
			Help:      "Gas used by simulated bundles",
			Buckets:   prometheus.LinearBuckets(100000, 100000, 10),
		}),
	}
}

// CounterValue reads the current value of a counter
func CounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
