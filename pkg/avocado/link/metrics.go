package link

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "link",
		Name:      "packets_sent_total",
		Help:      "Packets written to the device by content type",
	}, []string{"content"})
	bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "link",
		Name:      "bytes_sent_total",
		Help:      "Framed bytes written to the device",
	})
	packetsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "link",
		Name:      "packets_received_total",
		Help:      "Valid packets received from the device by content type",
	}, []string{"content"})
	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "link",
		Name:      "frames_dropped_total",
		Help:      "Inbound frames discarded by reason",
	}, []string{"reason"})
	sequenceAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "link",
		Name:      "sequence_anomalies_total",
		Help:      "Sequence anomalies by kind",
	}, []string{"kind"})
	partialPackages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pixcut",
		Subsystem: "link",
		Name:      "partial_packages",
		Help:      "Multi package messages waiting for missing packets",
	})
	packagesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "link",
		Name:      "packages_evicted_total",
		Help:      "Partial packages abandoned after inactivity",
	})
)
