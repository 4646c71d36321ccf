package reflector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pixelpandemonium",
		Subsystem: "reflector",
		Name:      "clients",
		Help:      "Connected replicas",
	})

	orderedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixelpandemonium",
		Subsystem: "reflector",
		Name:      "ordered_total",
		Help:      "Ordered messages emitted, by type",
	}, []string{"type"})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixelpandemonium",
		Subsystem: "reflector",
		Name:      "rejected_total",
		Help:      "PUBLISH messages rejected at the boundary, by error code",
	}, []string{"code"})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixelpandemonium",
		Subsystem: "reflector",
		Name:      "evictions_total",
		Help:      "Replicas disconnected because their outbound queue filled",
	})

	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixelpandemonium",
		Subsystem: "model",
		Name:      "broadcasts_total",
		Help:      "Model broadcasts observed on the reflector replica",
	}, []string{"scope", "name"})

	lastSeq = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pixelpandemonium",
		Subsystem: "reflector",
		Name:      "seq",
		Help:      "Last sequence number emitted",
	})

	deliverSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pixelpandemonium",
		Subsystem: "reflector",
		Name:      "deliver_seconds",
		Help:      "Time to apply one ordered message to the reflector replica",
		Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	})
)
