package session

import (
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicelink",
		Name:      "connect_attempts_total",
		Help:      "Connection attempts by outcome.",
	}, []string{"result"})

	connectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "voicelink",
		Name:      "connection_status",
		Help:      "1 for the current connection status, 0 otherwise.",
	}, []string{"status"})

	participantsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicelink",
		Name:      "participants",
		Help:      "Participants in the registry, local included.",
	})

	publishedTracks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicelink",
		Name:      "track_publish_total",
		Help:      "Local track publish operations by kind and result.",
	}, []string{"kind", "result"})

	networkEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicelink",
		Name:      "network_events_total",
		Help:      "Events received from the network layer.",
	}, []string{"kind"})
)

var allStatuses = []domain.ConnectionStatus{
	domain.StatusIdle,
	domain.StatusConnecting,
	domain.StatusConnected,
	domain.StatusReconnecting,
	domain.StatusDisconnected,
	domain.StatusError,
}

func observeStatus(s domain.ConnectionStatus) {
	for _, st := range allStatuses {
		v := 0.0
		if st == s {
			v = 1
		}
		connectionStatus.WithLabelValues(string(st)).Set(v)
	}
}

func attemptResult(err error) string {
	switch domain.Kind(err) {
	case nil:
		if err == nil {
			return "ok"
		}
		return "canceled"
	case domain.ErrAuth:
		return "auth"
	case domain.ErrProtocol:
		return "protocol"
	case domain.ErrDevice:
		return "device"
	}
	return "network"
}
