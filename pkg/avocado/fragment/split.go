package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
)

const (
	// JobIDSize is the length of the job ID prefix carried by every data chunk.
	JobIDSize = 4
	// MaxMessageChunk is the payload capacity of a message packet.
	MaxMessageChunk = proto.MaxPayloadSize
	// MaxDataChunk is the job data capacity of a data packet.
	MaxDataChunk = proto.MaxPayloadSize - JobIDSize
)

var ErrTooManyChunks = errors.New("payload needs more packages than a package total can express")

// Split cuts a message payload into packets of at most MaxMessageChunk bytes.
// Header fields are taken from template; the package total, index, multi
// package flag and payload are filled in.
func Split(template proto.Packet, payload []byte) ([]proto.Packet, error) {
	return split(template, nil, payload)
}

// SplitData cuts job data into data packets, each prefixed with jobID.
func SplitData(template proto.Packet, jobID uint32, payload []byte) ([]proto.Packet, error) {
	prefix := make([]byte, JobIDSize)
	binary.LittleEndian.PutUint32(prefix, jobID)

	template.Content = proto.ContentData
	return split(template, prefix, payload)
}

// ChunkCount returns the number of packets needed for n bytes when every
// chunk carries size bytes.
func ChunkCount(n, size int) int {
	if n == 0 {
		return 1
	}
	return (n + size - 1) / size
}

func split(template proto.Packet, prefix, payload []byte) ([]proto.Packet, error) {
	size := proto.MaxPayloadSize - len(prefix)
	total := ChunkCount(len(payload), size)
	if total > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes need %d packages", ErrTooManyChunks, len(payload), total)
	}

	packets := make([]proto.Packet, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := min(start+size, len(payload))

		chunk := make([]byte, 0, len(prefix)+end-start)
		chunk = append(chunk, prefix...)
		chunk = append(chunk, payload[start:end]...)

		p := template
		p.PackageTotal = uint16(total)
		p.PackageIndex = uint16(i + 1)
		p.MultiPackage = total > 1
		p.Payload = chunk
		packets = append(packets, p)
	}
	return packets, nil
}
