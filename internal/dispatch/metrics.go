package dispatch

import (
	"github.com/farmguard/farmguard/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "farmguard"

var (
	incidentsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "incidents_total",
			Help:      "Resolved incidents by channel and resolution",
		},
		[]string{"channel", "resolution"},
	)

	soundInvocations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "sound_invocations_total",
			Help:      "Alarm sound invocations",
		},
	)

	publishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "publish_failures_total",
			Help:      "Cloud publish failures that triggered the GSM fallback",
		},
	)
)

func recordIncident(incident *domain.Incident) {
	incidentsResolved.WithLabelValues(string(incident.Channel), string(incident.Resolution)).Inc()
}

func recordSoundInvocation() {
	soundInvocations.Inc()
}

func recordPublishFailure() {
	publishFailures.Inc()
}
