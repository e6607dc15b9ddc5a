package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/device"
)

// Device methods.
const (
	MethodGetProp       = "get-prop"
	MethodGetJobInfo    = "get-job-info"
	MethodPrintJob      = "print-job"
	MethodCutJob        = "cut-job"
	MethodComboJob      = "combo-job"
	MethodResumePrinter = "resume-printer"
)

type jobIDParams struct {
	JobID uint32 `json:"job-id"`
}

type jobResult struct {
	JobID *uint32 `json:"job-id"`
}

// SubCall is one element of a combo-job parameter list.
type SubCall struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// GetProp reads device properties. Values are returned in request order and
// are left undecoded since their shapes differ per property.
func (s *Session) GetProp(ctx context.Context, props ...string) ([]json.RawMessage, error) {
	if props == nil {
		props = []string{}
	}

	var values []json.RawMessage
	if err := s.Invoke(ctx, MethodGetProp, props, &values); err != nil {
		return nil, err
	}
	if len(values) != len(props) {
		return nil, fmt.Errorf("get-prop returned %d values for %d properties", len(values), len(props))
	}
	return values, nil
}

// GetDeviceStatus reads the printer state properties.
func (s *Session) GetDeviceStatus(ctx context.Context) (device.Status, error) {
	values, err := s.GetProp(ctx, device.StatusProperties...)
	if err != nil {
		return device.Status{}, err
	}
	return device.ParseStatus(values)
}

func (s *Session) GetJobInfo(ctx context.Context, jobID uint32) (*device.JobStatusInfo, error) {
	var info device.JobStatusInfo
	if err := s.Invoke(ctx, MethodGetJobInfo, jobIDParams{JobID: jobID}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PrintJob submits a print descriptor and returns the job ID assigned by the device.
func (s *Session) PrintJob(ctx context.Context, params device.PrintJobParams) (uint32, error) {
	return s.submitJob(ctx, MethodPrintJob, params)
}

// ComboJob submits a print followed by a cut of the same media.
func (s *Session) ComboJob(ctx context.Context, printJob device.PrintJobParams, cutJob device.CutJobParams) (uint32, error) {
	return s.submitJob(ctx, MethodComboJob, []SubCall{
		{Method: MethodPrintJob, Params: printJob},
		{Method: MethodCutJob, Params: cutJob},
	})
}

func (s *Session) submitJob(ctx context.Context, method string, params any) (uint32, error) {
	var result jobResult
	if err := s.Invoke(ctx, method, params, &result); err != nil {
		return 0, err
	}
	if result.JobID == nil {
		return 0, fmt.Errorf("%s result carries no job-id", method)
	}
	return *result.JobID, nil
}

// ResumePrinter asks the device to continue after a recoverable stop.
func (s *Session) ResumePrinter(ctx context.Context) error {
	return s.Invoke(ctx, MethodResumePrinter, []any{}, nil)
}
