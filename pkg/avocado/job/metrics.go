package job

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "job",
		Name:      "uploaded_bytes_total",
		Help:      "Job payload bytes uploaded, excluding framing and job ID prefixes",
	})
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixcut",
		Subsystem: "job",
		Name:      "submitted_total",
		Help:      "Jobs submitted by kind and outcome",
	}, []string{"kind", "outcome"})
)
