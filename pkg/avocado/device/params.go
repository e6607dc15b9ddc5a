package device

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	DocumentFormatJPEG = 9
	DocumentFormatPLT  = 18
	HashMethodSHA1     = 1
	// DefaultUserAccount is the anonymous account used by the vendor app.
	DefaultUserAccount = "000000.00000000000000000000000000000000.0000"
)

// PrintJobParams describes a photo print.
type PrintJobParams struct {
	MediaSize      uint16 `json:"media-size"`
	MediaType      uint16 `json:"media-type"`
	JobType        uint16 `json:"job-type"`
	Channel        uint16 `json:"channel"`
	FileSize       int    `json:"file-size"`
	DocumentFormat int    `json:"document-format"`
	DocumentName   string `json:"document-name"`
	HashMethod     int    `json:"hash-method"`
	HashValue      string `json:"hash-value"`
	UserAccount    string `json:"user-account"`
	JobSendTime    int64  `json:"job-send-time"`
	LinkType       uint16 `json:"link-type"`
	Copies         uint8  `json:"copies"`
}

// CutJobParams describes the cut that follows a print in a combo job.
type CutJobParams struct {
	Copies         uint8  `json:"copies"`
	MediaSize      uint16 `json:"media-size"`
	DocumentName   string `json:"document-name"`
	FileSize       int    `json:"file-size"`
	Channel        uint16 `json:"channel"`
	MediaType      uint16 `json:"media-type"`
	JobType        uint16 `json:"job-type"`
	DocumentFormat int    `json:"document-format"`
	JobSendTime    int64  `json:"job-send-time"`
}

// NewPrintJob builds the print descriptor for a JPEG photo. The document is
// named after the send time in milliseconds; job-send-time is in seconds.
func NewPrintJob(mode ModeType, canvas Canvas, photo []byte, copies uint8, now time.Time) PrintJobParams {
	hash := sha1.Sum(photo)
	ms := now.UnixMilli()

	return PrintJobParams{
		MediaSize:      canvas.MediaSize,
		MediaType:      canvas.MediaType,
		JobType:        mode.JobType(),
		Channel:        mode.Channel(),
		FileSize:       len(photo),
		DocumentFormat: DocumentFormatJPEG,
		DocumentName:   fmt.Sprintf("%d.jpeg", ms),
		HashMethod:     HashMethodSHA1,
		HashValue:      hex.EncodeToString(hash[:]),
		UserAccount:    DefaultUserAccount,
		JobSendTime:    ms / 1000,
		LinkType:       mode.LinkType(),
		Copies:         copies,
	}
}

// NewCutJob builds the cut descriptor for a PLT plot.
func NewCutJob(mode ModeType, canvas Canvas, plot []byte, copies uint8, now time.Time) CutJobParams {
	ms := now.UnixMilli()

	return CutJobParams{
		Copies:         copies,
		MediaSize:      canvas.MediaSize,
		DocumentName:   fmt.Sprintf("%d.plt", ms),
		FileSize:       len(plot),
		Channel:        mode.Channel(),
		MediaType:      canvas.MediaType,
		JobType:        mode.JobType(),
		DocumentFormat: DocumentFormatPLT,
		JobSendTime:    ms / 1000,
	}
}
