package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/device"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/rpc"
)

var (
	stateMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pixcut_state",
		Name:      "printer_state",
		Help:      "Printer state as last polled (label values are the printer state names)",
	}, []string{"state"})

	lastFinishedJob = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pixcut_state",
		Name:      "last_finished_job_id",
		Help:      "Job ID of the last job finish event",
	})
)

type printerState struct {
	mutex sync.Mutex

	status device.Status
	known  bool
	// idleChan is closed and replaced whenever the printer is seen idle
	idleChan chan struct{}

	finished map[uint32]device.JobStatusInfo
}

func newPrinterState() *printerState {
	return &printerState{
		idleChan: make(chan struct{}),
		finished: make(map[uint32]device.JobStatusInfo),
	}
}

// RegisterStatus stores a polled status and reports whether the printer
// state changed.
func (s *printerState) RegisterStatus(status device.Status) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	changed := !s.known || s.status.State != status.State || s.status.SubState != status.SubState
	if s.known {
		stateMetric.WithLabelValues(s.status.State.String()).Set(0)
	}
	s.status = status
	s.known = true
	stateMetric.WithLabelValues(status.State.String()).Set(1)

	if status.State == device.PrinterIdle {
		close(s.idleChan)
		s.idleChan = make(chan struct{})
	}
	return changed
}

// RegisterFinish decodes a job finish event and remembers the final state.
func (s *printerState) RegisterFinish(ev rpc.Event) (device.JobStatusInfo, error) {
	var info device.JobStatusInfo
	if err := json.Unmarshal(ev.Params, &info); err != nil {
		return info, fmt.Errorf("decode %s params: %w", ev.Method, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.finished[info.JobID] = info
	lastFinishedJob.Set(float64(info.JobID))
	return info, nil
}

func (s *printerState) Status() (device.Status, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.status, s.known
}

// Finished returns the final state of a job announced by a finish event.
func (s *printerState) Finished(jobID uint32) (device.JobStatusInfo, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	info, ok := s.finished[jobID]
	return info, ok
}

func (s *printerState) WaitForIdle(ctx context.Context) error {
	s.mutex.Lock()
	if s.known && s.status.State == device.PrinterIdle {
		s.mutex.Unlock()
		return nil
	}
	idle := s.idleChan
	s.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}
