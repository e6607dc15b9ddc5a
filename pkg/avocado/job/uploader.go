package job

import (
	"context"
	"fmt"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/fragment"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/link"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
	"github.com/uptime-industries/pixcut-link/pkg/log"
	"go.uber.org/zap"
)

// DataSender transmits job data packages. *link.Link implements it.
type DataSender interface {
	SendData(ctx context.Context, jobID uint32, payload []byte, encoding proto.EncodingType, progress link.Progress) (uint32, error)
}

// Uploader streams job payloads to the device as data packages.
type Uploader struct {
	sender DataSender
}

func NewUploader(sender DataSender) *Uploader {
	return &Uploader{sender: sender}
}

// Upload sends payload as one data package whose chunks all carry jobID. It
// returns the message number of the package.
func (u *Uploader) Upload(ctx context.Context, jobID uint32, payload []byte, encoding proto.EncodingType, progress link.Progress) (uint32, error) {
	msg, err := u.sender.SendData(ctx, jobID, payload, encoding, progress)
	if err != nil {
		return msg, fmt.Errorf("upload data for job %d: %w", jobID, err)
	}

	uploadedBytes.Add(float64(len(payload)))
	log.FromContext(ctx).Debug("Uploaded job data",
		zap.Uint32("job_id", jobID),
		zap.Uint32("msg_number", msg),
		zap.Int("bytes", len(payload)),
	)
	return msg, nil
}

// UploadParts sends each part as its own package in order, all tagged with
// jobID. Progress counts packets across every part.
func (u *Uploader) UploadParts(ctx context.Context, jobID uint32, encoding proto.EncodingType, progress link.Progress, parts ...[]byte) error {
	total := 0
	for _, part := range parts {
		total += fragment.ChunkCount(len(part), fragment.MaxDataChunk)
	}

	offset := 0
	for _, part := range parts {
		var partProgress link.Progress
		if progress != nil {
			base := offset
			partProgress = func(sent, _ int) { progress(base+sent, total) }
		}
		if _, err := u.Upload(ctx, jobID, part, encoding, partProgress); err != nil {
			return err
		}
		offset += fragment.ChunkCount(len(part), fragment.MaxDataChunk)
	}
	return nil
}
