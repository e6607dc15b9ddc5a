package sequence

import (
	"fmt"
	"math"
	"sync"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
)

// DefaultOrigin is the first message number handed out by a fresh Tracker.
const DefaultOrigin = 1

// AnomalyKind classifies a sequencing problem.
type AnomalyKind int

const (
	// Exhausted means the host counter reached its maximum and would wrap.
	Exhausted AnomalyKind = iota
	// OutOfOrder means an accessory originated message number went backwards.
	OutOfOrder
	// UnknownResponse means a response references a message number the host never issued.
	UnknownResponse
	// UnexpectedIndex means a package index outside of [1, total].
	UnexpectedIndex
	// DuplicateIndex means a package index was received twice.
	DuplicateIndex
	// InconsistentPackage means packets of one package disagree on their header.
	InconsistentPackage
)

func (k AnomalyKind) String() string {
	switch k {
	case Exhausted:
		return "exhausted"
	case OutOfOrder:
		return "out-of-order"
	case UnknownResponse:
		return "unknown-response"
	case UnexpectedIndex:
		return "unexpected-index"
	case DuplicateIndex:
		return "duplicate-index"
	case InconsistentPackage:
		return "inconsistent-package"
	default:
		return fmt.Sprintf("anomaly(%d)", int(k))
	}
}

// Anomaly reports a duplicate, out-of-order or otherwise unexpected packet.
// Anomalies are never fatal to the link.
type Anomaly struct {
	Kind          AnomalyKind
	Content       proto.ContentType
	MessageNumber uint32
	// Last is the previous message number for OutOfOrder and UnknownResponse.
	Last  uint32
	Index uint16
	Total uint16
}

func (a *Anomaly) Error() string {
	switch a.Kind {
	case Exhausted:
		return "sequence anomaly: message number space exhausted"
	case OutOfOrder, UnknownResponse:
		return fmt.Sprintf("sequence anomaly: %s %s message %d (last %d)", a.Kind, a.Content, a.MessageNumber, a.Last)
	default:
		return fmt.Sprintf("sequence anomaly: %s %s message %d package %d/%d", a.Kind, a.Content, a.MessageNumber, a.Index, a.Total)
	}
}

// Tracker owns the host originated message counter and validates the
// numbering of inbound traffic. It is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	next      uint32
	issued    bool
	exhausted bool
	// last accessory originated message number per content type
	inbound map[proto.ContentType]uint32
}

func New(origin uint32) *Tracker {
	return &Tracker{
		next:    origin,
		inbound: make(map[proto.ContentType]uint32),
	}
}

// Next returns a fresh host message number. Once the counter would wrap an
// Exhausted anomaly is returned on every further call.
func (t *Tracker) Next() (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exhausted {
		return 0, &Anomaly{Kind: Exhausted, MessageNumber: math.MaxUint32}
	}

	n := t.next
	t.issued = true
	if n == math.MaxUint32 {
		t.exhausted = true
	} else {
		t.next++
	}
	return n, nil
}

// Last returns the most recently issued host message number.
func (t *Tracker) Last() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.issued {
		return 0, false
	}
	if t.exhausted {
		return math.MaxUint32, true
	}
	return t.next - 1, true
}

// Observe validates an inbound packet. Accessory originated requests must not
// go backwards within a content type; repeated numbers belong to the same
// package. Responses echo host numbers and may arrive in any order, but must
// reference a number that was issued.
func (t *Tracker) Observe(p proto.Packet) error {
	if p.PackageIndex == 0 || p.PackageIndex > p.PackageTotal {
		return &Anomaly{
			Kind:          UnexpectedIndex,
			Content:       p.Content,
			MessageNumber: p.MessageNumber,
			Index:         p.PackageIndex,
			Total:         p.PackageTotal,
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if p.Interaction == proto.InteractionResponse {
		last := t.next - 1
		if t.exhausted {
			last = math.MaxUint32
		}
		if !t.issued || p.MessageNumber > last {
			return &Anomaly{Kind: UnknownResponse, Content: p.Content, MessageNumber: p.MessageNumber, Last: last}
		}
		return nil
	}

	last, seen := t.inbound[p.Content]
	if seen && p.MessageNumber < last {
		return &Anomaly{Kind: OutOfOrder, Content: p.Content, MessageNumber: p.MessageNumber, Last: last}
	}
	t.inbound[p.Content] = p.MessageNumber
	return nil
}

// LastInbound returns the highest accessory originated message number seen for content.
func (t *Tracker) LastInbound(content proto.ContentType) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.inbound[content]
	return n, ok
}
