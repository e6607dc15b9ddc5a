package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/sequence"
	"github.com/uptime-industries/pixcut-link/pkg/util"
)

var ErrMissingJobID = errors.New("data package is shorter than its job id prefix")

// Key identifies a package in flight.
type Key struct {
	MessageNumber uint32
	Content       proto.ContentType
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Content, k.MessageNumber)
}

// Package is a fully reassembled logical message. For data packages the job ID
// prefix has been stripped from Payload and is exposed as JobID.
type Package struct {
	Key
	Interaction proto.InteractionType
	Encoding    proto.EncodingType
	TerminalID  uint32
	Encryption  proto.EncryptionMode
	Total       uint16
	JobID       uint32
	Payload     []byte
}

type group struct {
	header  proto.Packet
	jobID   uint32
	parts   map[uint16][]byte
	size    int
	updated time.Time
}

// Assembler collects the packets of multi package messages until every index
// has arrived exactly once. Payloads handed to Ingest must already be
// decrypted. It is safe for concurrent use.
type Assembler struct {
	mu     sync.Mutex
	clock  util.Clock
	groups map[Key]*group
}

func NewAssembler(clock util.Clock) *Assembler {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Assembler{
		clock:  clock,
		groups: make(map[Key]*group),
	}
}

// Ingest adds a packet. It returns the completed package once the last
// missing index arrives and nil while the package is still partial. Errors are
// local to the offending packet; a partial package survives them.
func (a *Assembler) Ingest(p proto.Packet) (*Package, error) {
	key := Key{MessageNumber: p.MessageNumber, Content: p.Content}

	if p.PackageIndex == 0 || p.PackageIndex > p.PackageTotal {
		return nil, anomaly(sequence.UnexpectedIndex, p)
	}

	chunk, jobID, err := stripJobID(p)
	if err != nil {
		return nil, err
	}

	if p.PackageTotal == 1 {
		return &Package{
			Key:         key,
			Interaction: p.Interaction,
			Encoding:    p.Encoding,
			TerminalID:  p.TerminalID,
			Encryption:  p.Encryption,
			Total:       1,
			JobID:       jobID,
			Payload:     chunk,
		}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[key]
	if !ok {
		g = &group{
			header: p,
			jobID:  jobID,
			parts:  make(map[uint16][]byte, p.PackageTotal),
		}
		a.groups[key] = g
	}

	if g.header.PackageTotal != p.PackageTotal ||
		g.header.Encoding != p.Encoding ||
		g.header.Interaction != p.Interaction ||
		g.jobID != jobID {
		return nil, anomaly(sequence.InconsistentPackage, p)
	}
	if _, dup := g.parts[p.PackageIndex]; dup {
		return nil, anomaly(sequence.DuplicateIndex, p)
	}

	g.parts[p.PackageIndex] = chunk
	g.size += len(chunk)
	g.updated = a.clock.Now()

	if len(g.parts) < int(g.header.PackageTotal) {
		return nil, nil
	}

	delete(a.groups, key)

	payload := make([]byte, 0, g.size)
	for i := uint16(1); i <= g.header.PackageTotal; i++ {
		payload = append(payload, g.parts[i]...)
	}

	return &Package{
		Key:         key,
		Interaction: g.header.Interaction,
		Encoding:    g.header.Encoding,
		TerminalID:  g.header.TerminalID,
		Encryption:  g.header.Encryption,
		Total:       g.header.PackageTotal,
		JobID:       g.jobID,
		Payload:     payload,
	}, nil
}

// Pending returns the number of partial packages held.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Missing returns the indices not yet received for key.
func (a *Assembler) Missing(key Key) []uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[key]
	if !ok {
		return nil
	}
	var missing []uint16
	for i := uint16(1); i <= g.header.PackageTotal; i++ {
		if _, ok := g.parts[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Evict drops a partial package and reports whether it existed.
func (a *Assembler) Evict(key Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.groups[key]
	delete(a.groups, key)
	return ok
}

// EvictOlderThan drops every partial package that has not seen a packet for
// at least d and returns their keys.
func (a *Assembler) EvictOlderThan(d time.Duration) []Key {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	var evicted []Key
	for key, g := range a.groups {
		if now.Sub(g.updated) >= d {
			delete(a.groups, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

func stripJobID(p proto.Packet) ([]byte, uint32, error) {
	if p.Content != proto.ContentData {
		return p.Payload, 0, nil
	}
	if len(p.Payload) < JobIDSize {
		return nil, 0, fmt.Errorf("%w: message %d package %d/%d carries %d bytes",
			ErrMissingJobID, p.MessageNumber, p.PackageIndex, p.PackageTotal, len(p.Payload))
	}
	return p.Payload[JobIDSize:], binary.LittleEndian.Uint32(p.Payload[:JobIDSize]), nil
}

func anomaly(kind sequence.AnomalyKind, p proto.Packet) error {
	return &sequence.Anomaly{
		Kind:          kind,
		Content:       p.Content,
		MessageNumber: p.MessageNumber,
		Index:         p.PackageIndex,
		Total:         p.PackageTotal,
	}
}
