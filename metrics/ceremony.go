package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CeremonyMetrics are the gauges and counters the coordinator updates on every state change.
type CeremonyMetrics struct {
	RoundHeight          prometheus.Gauge
	QueueSize            prometheus.Gauge
	CurrentContributors  prometheus.Gauge
	ActiveLocks          prometheus.Gauge
	PendingVerifications prometheus.Gauge
	Verifications        *prometheus.CounterVec
	DroppedParticipants  prometheus.Counter
}

func NewCeremonyMetrics(namespace string) *CeremonyMetrics {
	return &CeremonyMetrics{
		RoundHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round_height",
			Help:      "Height of the current ceremony round",
		}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Number of participants waiting in the queue",
		}),
		CurrentContributors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_contributors",
			Help:      "Number of contributors assigned to the current round",
		}),
		ActiveLocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_locks",
			Help:      "Number of chunks currently locked",
		}),
		PendingVerifications: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_verifications",
			Help:      "Number of uploaded contributions waiting for verification",
		}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Contribution verifications by outcome",
		}, []string{"outcome"}),
		DroppedParticipants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_participants_total",
			Help:      "Participants dropped for missed heartbeats or stale locks",
		}),
	}
}

// Register adds all ceremony collectors to the registerer.
func (m *CeremonyMetrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.RoundHeight,
		m.QueueSize,
		m.CurrentContributors,
		m.ActiveLocks,
		m.PendingVerifications,
		m.Verifications,
		m.DroppedParticipants,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
