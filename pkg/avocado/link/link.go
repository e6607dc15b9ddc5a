package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/cipher"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/fragment"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/sequence"
	"github.com/uptime-industries/pixcut-link/pkg/eventbus"
	"github.com/uptime-industries/pixcut-link/pkg/log"
	"github.com/uptime-industries/pixcut-link/pkg/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// TopicData receives every completed data package as *fragment.Package.
	TopicData = "link:data"
	// TopicAnomaly receives an Anomaly for every dropped or suspicious inbound packet.
	TopicAnomaly = "link:anomaly"
)

// Anomaly describes an inbound problem. Packet is nil when the frame could not
// be decoded.
type Anomaly struct {
	Err    error
	Raw    []byte
	Packet *proto.Packet
}

// Progress is called after each packet of a package has been written.
type Progress func(sent, total int)

// Message is an outbound logical message before fragmentation.
type Message struct {
	MessageNumber uint32
	Content       proto.ContentType
	Interaction   proto.InteractionType
	Encoding      proto.EncodingType
	Payload       []byte
}

type Option func(*Link)

// WithCipher sets the cipher used to decrypt inbound and encrypt outbound payloads.
func WithCipher(u *cipher.Unit) Option {
	return func(l *Link) { l.cipher = u }
}

// WithEncryption selects the encryption mode of outbound packets.
func WithEncryption(mode proto.EncryptionMode) Option {
	return func(l *Link) { l.encryption = mode }
}

func WithEventBus(eb eventbus.EventBus) Option {
	return func(l *Link) { l.bus = eb }
}

func WithClock(clock util.Clock) Option {
	return func(l *Link) { l.clock = clock }
}

// WithOrigin sets the first host message number.
func WithOrigin(origin uint32) Option {
	return func(l *Link) { l.tracker = sequence.New(origin) }
}

// WithTerminalID pins the terminal ID field. By default it mirrors the
// message number of each package.
func WithTerminalID(id uint32) Option {
	return func(l *Link) { l.terminalID = id }
}

// WithStaleAfter makes Run evict partial packages idle for longer than d.
func WithStaleAfter(d time.Duration) Option {
	return func(l *Link) { l.staleAfter = d }
}

// Link drives the Avocado protocol over a byte stream. Outbound packages are
// written contiguously under a write lock; inbound bytes are decoded, decrypted,
// sequenced, reassembled and routed in arrival order.
type Link struct {
	w       io.Writer
	writeMu sync.Mutex

	readMu  sync.Mutex
	scanner proto.Scanner

	handlerMu sync.RWMutex
	handler   MessageHandler

	cipher     *cipher.Unit
	encryption proto.EncryptionMode
	tracker    *sequence.Tracker
	assembler  *fragment.Assembler
	bus        eventbus.EventBus
	clock      util.Clock
	terminalID uint32
	staleAfter time.Duration
}

func New(w io.Writer, opts ...Option) *Link {
	l := &Link{
		w:          w,
		encryption: proto.EncryptionNone,
		tracker:    sequence.New(sequence.DefaultOrigin),
		clock:      util.RealClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cipher == nil {
		l.cipher, _ = cipher.New(nil)
	}
	if l.bus == nil {
		l.bus = eventbus.New()
	}
	l.assembler = fragment.NewAssembler(l.clock)
	return l
}

// EventBus returns the bus inbound data and anomalies are published on.
func (l *Link) EventBus() eventbus.EventBus {
	return l.bus
}

// SetHandler installs the receiver of JSON message packages.
func (l *Link) SetHandler(h MessageHandler) {
	l.handlerMu.Lock()
	defer l.handlerMu.Unlock()
	l.handler = h
}

// NextMessageNumber reserves a fresh host message number.
func (l *Link) NextMessageNumber() (uint32, error) {
	return l.tracker.Next()
}

// Send fragments, encrypts and writes a message. Nothing is written if any
// packet fails to encode. The whole package is written under the write lock so
// packages never interleave on the wire.
func (l *Link) Send(ctx context.Context, m Message, progress Progress) error {
	template := proto.Packet{
		Content:       m.Content,
		Interaction:   m.Interaction,
		Encoding:      m.Encoding,
		TerminalID:    l.terminalFor(m.MessageNumber),
		MessageNumber: m.MessageNumber,
		Encryption:    l.encryption,
	}
	packets, err := fragment.Split(template, m.Payload)
	if err != nil {
		return err
	}
	return l.write(ctx, packets, progress)
}

// SendData uploads job data as a data request package with a fresh message
// number, each chunk prefixed with jobID. It returns the message number used.
func (l *Link) SendData(ctx context.Context, jobID uint32, payload []byte, encoding proto.EncodingType, progress Progress) (uint32, error) {
	msg, err := l.tracker.Next()
	if err != nil {
		return 0, err
	}

	template := proto.Packet{
		Interaction:   proto.InteractionRequest,
		Encoding:      encoding,
		TerminalID:    l.terminalFor(msg),
		MessageNumber: msg,
		Encryption:    l.encryption,
	}
	packets, err := fragment.SplitData(template, jobID, payload)
	if err != nil {
		return msg, err
	}
	return msg, l.write(ctx, packets, progress)
}

func (l *Link) terminalFor(msg uint32) uint32 {
	if l.terminalID != 0 {
		return l.terminalID
	}
	return msg
}

func (l *Link) write(ctx context.Context, packets []proto.Packet, progress Progress) error {
	frames := make([][]byte, 0, len(packets))
	for _, p := range packets {
		payload, err := l.cipher.Transform(p.Payload, p.Encryption)
		if err != nil {
			return err
		}
		p.Payload = payload

		frame, err := proto.Encode(p)
		if err != nil {
			return err
		}
		frames = append(frames, frame)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("package %d interrupted after %d of %d packets: %w",
				packets[0].MessageNumber, i, len(frames), err)
		}
		if _, err := l.w.Write(frame); err != nil {
			return fmt.Errorf("write packet %d/%d of message %d: %w",
				i+1, len(frames), packets[0].MessageNumber, err)
		}
		packetsSent.WithLabelValues(packets[i].Content.String()).Inc()
		bytesSent.Add(float64(len(frame)))
		log.FromContext(ctx).Debug("Sent packet", zap.Stringer("packet", packets[i]))

		if progress != nil {
			progress(i+1, len(frames))
		}
	}
	return nil
}

// Receive processes bytes delivered by the transport. Malformed traffic is
// reported on TopicAnomaly and never stops processing of later packets.
func (l *Link) Receive(ctx context.Context, data []byte) {
	l.readMu.Lock()
	defer l.readMu.Unlock()

	for _, f := range l.scanner.Feed(data) {
		l.handleFrame(ctx, f)
	}
}

func (l *Link) handleFrame(ctx context.Context, f proto.Frame) {
	if f.Err != nil {
		framesDropped.WithLabelValues(dropReason(f.Err)).Inc()
		l.report(ctx, Anomaly{Err: f.Err, Raw: f.Raw})
		return
	}

	pkt := f.Packet
	packetsReceived.WithLabelValues(pkt.Content.String()).Inc()
	log.FromContext(ctx).Debug("Received packet", zap.Stringer("packet", pkt))

	payload, err := l.cipher.Transform(pkt.Payload, pkt.Encryption)
	if err != nil {
		framesDropped.WithLabelValues("encryption").Inc()
		l.report(ctx, Anomaly{Err: err, Raw: f.Raw, Packet: &pkt})
		return
	}
	pkt.Payload = payload

	// Sequencing anomalies are reported but the packet is still processed,
	// only an impossible package index is dropped.
	if err := l.tracker.Observe(pkt); err != nil {
		l.report(ctx, Anomaly{Err: err, Raw: f.Raw, Packet: &pkt})

		var anomaly *sequence.Anomaly
		if errors.As(err, &anomaly) && anomaly.Kind == sequence.UnexpectedIndex {
			framesDropped.WithLabelValues("index").Inc()
			return
		}
	}

	pkg, err := l.assembler.Ingest(pkt)
	partialPackages.Set(float64(l.assembler.Pending()))
	if err != nil {
		framesDropped.WithLabelValues("assembly").Inc()
		l.report(ctx, Anomaly{Err: err, Raw: f.Raw, Packet: &pkt})
		return
	}
	if pkg == nil {
		return
	}

	l.route(ctx, pkg)
}

func (l *Link) route(ctx context.Context, pkg *fragment.Package) {
	route, err := Classify(pkg)
	if err != nil {
		l.report(ctx, Anomaly{Err: err})
		return
	}

	if route == RouteData {
		l.bus.Publish(TopicData, pkg)
		return
	}

	l.handlerMu.RLock()
	h := l.handler
	l.handlerMu.RUnlock()
	if h == nil {
		log.FromContext(ctx).Warn("Dropping message without handler",
			zap.Stringer("package", pkg.Key), zap.Stringer("route", route))
		return
	}

	if route == RouteResponse {
		err = h.HandleResponse(pkg)
	} else {
		err = h.HandleRequest(pkg)
	}
	if err != nil {
		l.report(ctx, Anomaly{Err: err})
	}
}

func (l *Link) report(ctx context.Context, a Anomaly) {
	var anomaly *sequence.Anomaly
	if errors.As(a.Err, &anomaly) {
		sequenceAnomalies.WithLabelValues(anomaly.Kind.String()).Inc()
	}

	fields := []zap.Field{zap.Error(a.Err)}
	if a.Packet != nil {
		fields = append(fields, zap.Stringer("packet", a.Packet))
	}
	if proto.IsRetriable(a.Err) {
		fields = append(fields, zap.Bool("retriable", true))
	}
	log.FromContext(ctx).Warn("Inbound anomaly", fields...)

	l.bus.Publish(TopicAnomaly, a)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, proto.ErrChecksum):
		return "checksum"
	case errors.Is(err, proto.ErrPayloadTooLarge):
		return "too_large"
	default:
		return "framing"
	}
}

// PendingPackages returns the number of partially received packages.
func (l *Link) PendingPackages() int {
	return l.assembler.Pending()
}

// EvictStale abandons partial packages that saw no packet for d.
func (l *Link) EvictStale(ctx context.Context, d time.Duration) []fragment.Key {
	evicted := l.assembler.EvictOlderThan(d)
	for _, key := range evicted {
		packagesEvicted.Inc()
		log.FromContext(ctx).Warn("Evicted stale partial package", zap.Stringer("package", key))
	}
	partialPackages.Set(float64(l.assembler.Pending()))
	return evicted
}

// Run pumps r into the link until r is exhausted, fails or ctx is cancelled.
// With WithStaleAfter, idle partial packages are evicted periodically.
func (l *Link) Run(parentCtx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	wg := errgroup.Group{}

	// Start read loop
	wg.Go(func() error {
		defer cancel()

		buf := make([]byte, proto.MaxFrameSize)
		for {
			if ctx.Err() != nil {
				return nil
			}

			n, err := r.Read(buf)
			if n > 0 {
				l.Receive(ctx, buf[:n])
			}
			if errors.Is(err, io.EOF) {
				log.FromContext(ctx).Info("Device stream closed")
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read from device: %w", err)
			}
		}
	})

	if l.staleAfter > 0 {
		wg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-l.clock.After(l.staleAfter):
					l.EvictStale(ctx, l.staleAfter)
				}
			}
		})
	}

	return wg.Wait()
}
