package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pixcut",
		Subsystem: "rpc",
		Name:      "calls_pending",
		Help:      "Calls waiting for a device response",
	})
	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pixcut",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "Time from submitting a call until it resolved",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"method", "outcome"})
	unsolicitedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "rpc",
		Name:      "unsolicited_responses_total",
		Help:      "Responses that matched no pending call",
	})
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "rpc",
		Name:      "device_requests_total",
		Help:      "Requests issued by the device by method",
	}, []string{"method"})
)
