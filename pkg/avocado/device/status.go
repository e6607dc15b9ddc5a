package device

import (
	"encoding/json"
	"fmt"
)

// JobStatusInfo is the job state object returned by get-job-info and carried
// by job finish events.
type JobStatusInfo struct {
	JobID              uint32      `json:"job-id"`
	JobState           JobState    `json:"job-state"`
	JobSubState        JobSubState `json:"job-sub-state"`
	Copies             uint8       `json:"copies"`
	PrintingPageNumber uint8       `json:"printing-page-number"`
	UserAccount        string      `json:"user-account"`
	Channel            uint32      `json:"channel"`
	MediaSize          uint32      `json:"media-size"`
	MediaType          uint32      `json:"media-type"`
	JobType            uint32      `json:"job-type"`
	DocumentFormat     uint32      `json:"document-format"`
	FileSize           uint32      `json:"file-size"`
	TransferStatus     uint32      `json:"transfer-status"`
	TransferSize       uint32      `json:"transfer-size"`
}

// Property names accepted by get-prop.
const (
	PropModel              = "model"
	PropMACAddress         = "mac-address"
	PropSerialNumber       = "serial-number"
	PropSerialNumberPCBA   = "sn-pcba"
	PropFirmwareRevision   = "firmware-revision"
	PropHardwareRevision   = "hardware-revision"
	PropBTPhoneMAC         = "bt-phone-mac"
	PropPrinterState       = "printer-state"
	PropPrinterSubState    = "printer-sub-state"
	PropPrinterStateAlerts = "printer-state-alerts"
	PropAutoOffInterval    = "auto-off-interval"
	PropMediaSize          = "media-size"
)

// AllProperties lists every known property in the order the vendor app asks for them.
var AllProperties = []string{
	PropModel,
	PropMACAddress,
	PropSerialNumber,
	PropSerialNumberPCBA,
	PropFirmwareRevision,
	PropHardwareRevision,
	PropBTPhoneMAC,
	PropPrinterState,
	PropPrinterSubState,
	PropPrinterStateAlerts,
	PropAutoOffInterval,
	PropMediaSize,
}

// StatusProperties are the properties requested for a Status.
var StatusProperties = []string{PropPrinterState, PropPrinterSubState, PropPrinterStateAlerts}

// Status is the printer state as reported by get-prop.
type Status struct {
	State    PrinterState
	SubState PrinterSubState
	Alerts   json.RawMessage
}

// ParseStatus decodes the get-prop result for StatusProperties.
func ParseStatus(values []json.RawMessage) (Status, error) {
	if len(values) != len(StatusProperties) {
		return Status{}, fmt.Errorf("expected %d property values, got %d", len(StatusProperties), len(values))
	}

	var s Status
	if err := json.Unmarshal(values[0], &s.State); err != nil {
		return Status{}, fmt.Errorf("%s: %w", PropPrinterState, err)
	}
	if err := json.Unmarshal(values[1], &s.SubState); err != nil {
		return Status{}, fmt.Errorf("%s: %w", PropPrinterSubState, err)
	}
	s.Alerts = values[2]
	return s, nil
}

// Properties pairs requested names with their returned values. Values the
// device reports as an object keyed by the property name are unwrapped.
func Properties(names []string, values []json.RawMessage) (map[string]json.RawMessage, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("requested %d properties, got %d values", len(names), len(values))
	}

	props := make(map[string]json.RawMessage, len(names))
	for i, name := range names {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(values[i], &wrapped); err == nil {
			if v, ok := wrapped[name]; ok && len(wrapped) == 1 {
				props[name] = v
				continue
			}
		}
		props[name] = values[i]
	}
	return props, nil
}
