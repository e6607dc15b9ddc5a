package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrUnknownState = errors.New("unknown state value")

// JobState is the coarse lifecycle state of a job.
type JobState uint8

const (
	JobWaiting        JobState = 1
	JobStart          JobState = 2
	JobProcessing     JobState = 3
	JobProcessingHeld JobState = 4
	JobPending        JobState = 5
	JobTerminating    JobState = 6
	JobAborted        JobState = 7
	JobCancelled      JobState = 8
	JobCompleted      JobState = 9
)

var jobStateNames = map[JobState]string{
	JobWaiting:        "waiting",
	JobStart:          "start",
	JobProcessing:     "processing",
	JobProcessingHeld: "processing-held",
	JobPending:        "pending",
	JobTerminating:    "terminating",
	JobAborted:        "aborted",
	JobCancelled:      "cancelled",
	JobCompleted:      "completed",
}

func (s JobState) String() string {
	return nameOf(jobStateNames, s)
}

// Terminal reports whether the job will not change state anymore.
func (s JobState) Terminal() bool {
	return s == JobAborted || s == JobCancelled || s == JobCompleted
}

func (s *JobState) UnmarshalJSON(data []byte) error {
	return unmarshalState(data, jobStateNames, s)
}

// JobSubState refines JobState.
type JobSubState uint16

const (
	JobSubWaitingNone                JobSubState = 1000
	JobSubStartNone                  JobSubState = 2000
	JobSubProcessingNone             JobSubState = 3000
	JobSubPrintingDataDownloading    JobSubState = 3001
	JobSubPrintingDataUploading      JobSubState = 3002
	JobSubPrintingDataCloudRendering JobSubState = 3003
	JobSubPrintingDataLocalRendering JobSubState = 3004
	JobSubPrinting                   JobSubState = 3005
	JobSubProcessingHeldNone         JobSubState = 4000
	JobSubPendingNone                JobSubState = 5000
	JobSubTerminatingNone            JobSubState = 6000
	JobSubAbortedNone                JobSubState = 7000
	JobSubCancelledNone              JobSubState = 8000
	JobSubCompletedNone              JobSubState = 9000
)

var jobSubStateNames = map[JobSubState]string{
	JobSubWaitingNone:                "waiting",
	JobSubStartNone:                  "start",
	JobSubProcessingNone:             "processing",
	JobSubPrintingDataDownloading:    "printing-data-downloading",
	JobSubPrintingDataUploading:      "printing-data-uploading",
	JobSubPrintingDataCloudRendering: "printing-data-cloud-rendering",
	JobSubPrintingDataLocalRendering: "printing-data-local-rendering",
	JobSubPrinting:                   "printing",
	JobSubProcessingHeldNone:         "processing-held",
	JobSubPendingNone:                "pending",
	JobSubTerminatingNone:            "terminating",
	JobSubAbortedNone:                "aborted",
	JobSubCancelledNone:              "cancelled",
	JobSubCompletedNone:              "completed",
}

func (s JobSubState) String() string {
	return nameOf(jobSubStateNames, s)
}

func (s *JobSubState) UnmarshalJSON(data []byte) error {
	return unmarshalState(data, jobSubStateNames, s)
}

// PrinterState is the coarse state of the printer itself.
type PrinterState uint8

const (
	PrinterInitializing PrinterState = 10
	PrinterIdle         PrinterState = 20
	PrinterSleep        PrinterState = 30
	PrinterProcessing   PrinterState = 40
	PrinterOff          PrinterState = 50
	PrinterError        PrinterState = 60
)

var printerStateNames = map[PrinterState]string{
	PrinterInitializing: "initializing",
	PrinterIdle:         "idle",
	PrinterSleep:        "sleep",
	PrinterProcessing:   "processing",
	PrinterOff:          "off",
	PrinterError:        "error",
}

func (s PrinterState) String() string {
	return nameOf(printerStateNames, s)
}

func (s *PrinterState) UnmarshalJSON(data []byte) error {
	return unmarshalState(data, printerStateNames, s)
}

// PrinterSubState refines PrinterState.
type PrinterSubState uint16

const (
	PrinterSubInitNone             PrinterSubState = 1000
	PrinterSubIdleNone             PrinterSubState = 2000
	PrinterSubPrinting             PrinterSubState = 3001
	PrinterSubFileTransferring     PrinterSubState = 3002
	PrinterSubCancelling           PrinterSubState = 3006
	PrinterSubUpgrading            PrinterSubState = 3007
	PrinterSubCalibrating          PrinterSubState = 3008
	PrinterSubSemiAutoPrinting     PrinterSubState = 3009
	PrinterSubSemiAutoScanRequired PrinterSubState = 3010
	PrinterSubSemiAutoScanning     PrinterSubState = 3011
	PrinterSubScanWaiting          PrinterSubState = 3012
	PrinterSubCopyWaiting          PrinterSubState = 3013
	PrinterSubRendering            PrinterSubState = 3014
	PrinterSubInitializing         PrinterSubState = 3015
	PrinterSubDecoding             PrinterSubState = 3016
	PrinterSubLoadingPaper         PrinterSubState = 3017
	PrinterSubPrintingYellow       PrinterSubState = 3018
	PrinterSubPrintingMagenta      PrinterSubState = 3019
	PrinterSubPrintingCyan         PrinterSubState = 3020
	PrinterSubPrintingOC           PrinterSubState = 3021
	PrinterSubPreheating           PrinterSubState = 3022
	PrinterSubCooldown             PrinterSubState = 3023
	PrinterSubCleaning             PrinterSubState = 3024
	PrinterSubHomeFeed             PrinterSubState = 3025
	PrinterSubEjectingPaper        PrinterSubState = 3026
	PrinterSubSmartSheet           PrinterSubState = 3027
	PrinterSubCutPick              PrinterSubState = 3028
	PrinterSubCutHome              PrinterSubState = 3029
	PrinterSubCutting              PrinterSubState = 3030
	PrinterSubCutEject             PrinterSubState = 3031
	PrinterSubNormal               PrinterSubState = 4002
	PrinterSubNotRealOff           PrinterSubState = 5002
	PrinterSubErrorNone            PrinterSubState = 6000
)

var printerSubStateNames = map[PrinterSubState]string{
	PrinterSubInitNone:             "init",
	PrinterSubIdleNone:             "idle",
	PrinterSubPrinting:             "printing",
	PrinterSubFileTransferring:     "file-transferring",
	PrinterSubCancelling:           "cancelling",
	PrinterSubUpgrading:            "upgrading",
	PrinterSubCalibrating:          "calibrating",
	PrinterSubSemiAutoPrinting:     "semi-auto-printing",
	PrinterSubSemiAutoScanRequired: "semi-auto-scan-required",
	PrinterSubSemiAutoScanning:     "semi-auto-scanning",
	PrinterSubScanWaiting:          "scan-waiting",
	PrinterSubCopyWaiting:          "copy-waiting",
	PrinterSubRendering:            "rendering",
	PrinterSubInitializing:         "initializing",
	PrinterSubDecoding:             "decoding",
	PrinterSubLoadingPaper:         "loading-paper",
	PrinterSubPrintingYellow:       "printing-yellow",
	PrinterSubPrintingMagenta:      "printing-magenta",
	PrinterSubPrintingCyan:         "printing-cyan",
	PrinterSubPrintingOC:           "printing-oc",
	PrinterSubPreheating:           "preheating",
	PrinterSubCooldown:             "cooldown",
	PrinterSubCleaning:             "cleaning",
	PrinterSubHomeFeed:             "home-feed",
	PrinterSubEjectingPaper:        "ejecting-paper",
	PrinterSubSmartSheet:           "smart-sheet",
	PrinterSubCutPick:              "cut-pick",
	PrinterSubCutHome:              "cut-home",
	PrinterSubCutting:              "cutting",
	PrinterSubCutEject:             "cut-eject",
	PrinterSubNormal:               "normal",
	PrinterSubNotRealOff:           "not-real-off",
	PrinterSubErrorNone:            "error",
}

func (s PrinterSubState) String() string {
	return nameOf(printerSubStateNames, s)
}

func (s *PrinterSubState) UnmarshalJSON(data []byte) error {
	return unmarshalState(data, printerSubStateNames, s)
}

type state interface {
	~uint8 | ~uint16
}

func nameOf[T state](names map[T]string, v T) string {
	if name, ok := names[v]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint64(v))
}

// unmarshalState accepts a JSON number or a string holding a number, as the
// device reports both.
func unmarshalState[T state](data []byte, names map[T]string, out *T) error {
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}

	n, err := strconv.ParseUint(string(raw), 10, 16)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownState, data)
	}
	v := T(n)
	if uint64(v) != n {
		return fmt.Errorf("%w: %s", ErrUnknownState, data)
	}
	if _, ok := names[v]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownState, n)
	}
	*out = v
	return nil
}
