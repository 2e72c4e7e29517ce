package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clusterpost_queue"

// PrometheusMetrics exports queue activity and depth to Prometheus.
type PrometheusMetrics struct {
	Enqueued *prometheus.CounterVec // labels: queue
	Drained  *prometheus.CounterVec // labels: queue
	Drains   *prometheus.CounterVec // labels: queue
}

// NewPrometheusMetrics registers the queue counters with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		Enqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_enqueued_total",
			Help:      "Total number of entries enqueued",
		}, []string{"queue"}),
		Drained: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_drained_total",
			Help:      "Total number of entries handed to drainers",
		}, []string{"queue"}),
		Drains: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drains_total",
			Help:      "Total number of drain calls",
		}, []string{"queue"}),
	}
}

func (m *PrometheusMetrics) IncEnqueued(kind string) { m.Enqueued.WithLabelValues(kind).Inc() }

func (m *PrometheusMetrics) ObserveDrained(kind string, n int) {
	m.Drains.WithLabelValues(kind).Inc()
	m.Drained.WithLabelValues(kind).Add(float64(n))
}

// RegisterDepthGauges exports the current length of every queue.
func RegisterDepthGauges(reg prometheus.Registerer, q *Queues) error {
	for _, k := range Kinds {
		kind := k
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "depth",
			Help:        "Number of entries waiting in the queue",
			ConstLabels: prometheus.Labels{"queue": string(kind)},
		}, func() float64 { return float64(q.Len(kind)) })
		if err := reg.Register(g); err != nil {
			return err
		}
	}

	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "depth",
		Help:        "Number of entries waiting in the queue",
		ConstLabels: prometheus.Labels{"queue": deleteQueueName},
	}, func() float64 { return float64(q.DeleteQueueLen()) }))
}
