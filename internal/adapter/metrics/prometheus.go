package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/stockroom/internal/port"
)

var _ port.MutationRecorder = (*Recorder)(nil)

// Recorder exports engine call counts and latencies.
type Recorder struct {
	mutations *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	gatherer  prometheus.Gatherer
}

// NewRecorder registers the collectors on a fresh registry that also carries the Go and
// process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return newRecorder(reg, reg)
}

func newRecorder(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockroom",
			Name:      "mutations_total",
			Help:      "Batch mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stockroom",
			Name:      "mutation_duration_seconds",
			Help:      "Latency of batch mutations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		gatherer: gatherer,
	}
}

func (r *Recorder) ObserveMutation(op, outcome string, elapsed time.Duration) {
	r.mutations.WithLabelValues(op, outcome).Inc()
	r.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
