package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/fragment"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/link"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
	"github.com/uptime-industries/pixcut-link/pkg/eventbus"
	"github.com/uptime-industries/pixcut-link/pkg/util"
)

var (
	ErrUnsolicitedResponse = errors.New("unsolicited response")
	ErrSessionClosed       = errors.New("session closed")
	ErrCancelled           = errors.New("call cancelled")
)

// EventPrefix namespaces device originated events on the event bus.
const EventPrefix = "event:"

// Known device events.
const (
	EventPrintJobFinish = "event.print-job-finish"
	EventComboJobFinish = "event.combo-job-finish"
)

// EventTopic returns the event bus topic for an event method.
func EventTopic(method string) string {
	return EventPrefix + method
}

// RemoteError is a device reported failure for a single call.
type RemoteError struct {
	ID     uint32
	Method string
	// Body is the full response envelope, since the error shape is not documented.
	Body json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error for %s (id %d): %s", e.Method, e.ID, e.Body)
}

// Request is the JSON envelope of a call.
type Request struct {
	ID     uint32 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type response struct {
	ID     *uint32         `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Event is a request issued by the device.
type Event struct {
	ID     uint32          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Sender is the outbound half of a link.
type Sender interface {
	NextMessageNumber() (uint32, error)
	Send(ctx context.Context, m link.Message, progress link.Progress) error
}

// Pending is an outstanding call. It resolves exactly once.
type Pending struct {
	ID          uint32
	Method      string
	SubmittedAt time.Time

	session *Session
	done    chan struct{}
	once    sync.Once
	result  json.RawMessage
	err     error
}

// Done is closed once the call resolved, failed or was cancelled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the call resolves. If ctx expires first the call is
// cancelled and a late response is treated as unsolicited.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		p.session.remove(p.ID)
		p.resolve(nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		<-p.done
		return p.result, p.err
	}
}

// Decode waits for the call and unmarshals its result into v.
func (p *Pending) Decode(ctx context.Context, v any) error {
	result, err := p.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(result, v); err != nil {
		return fmt.Errorf("decode %s result: %w", p.Method, err)
	}
	return nil
}

// Cancel abandons the call and removes it from the pending table.
func (p *Pending) Cancel() {
	p.session.remove(p.ID)
	p.resolve(nil, ErrCancelled)
}

func (p *Pending) resolve(result json.RawMessage, err error) {
	p.once.Do(func() {
		p.result, p.err = result, err
		close(p.done)
		callsPending.Dec()
		callDuration.WithLabelValues(p.Method, outcome(err)).Observe(time.Since(p.SubmittedAt).Seconds())
	})
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remote):
		return "remote_error"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// Session correlates JSON calls with their responses and fans device events
// out on the event bus. It implements link.MessageHandler.
type Session struct {
	sender Sender
	bus    eventbus.EventBus
	clock  util.Clock

	mu      sync.Mutex
	pending map[uint32]*Pending
	closed  bool
}

func NewSession(sender Sender, bus eventbus.EventBus, clock util.Clock) *Session {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Session{
		sender:  sender,
		bus:     bus,
		clock:   clock,
		pending: make(map[uint32]*Pending),
	}
}

// Attach creates a session on l and installs it as l's message handler.
func Attach(l *link.Link) *Session {
	s := NewSession(l, l.EventBus(), nil)
	l.SetHandler(s)
	return s
}

// Call issues a request and returns without waiting for the response. The id
// is the message number of the request package and therefore unique.
func (s *Session) Call(ctx context.Context, method string, params any) (*Pending, error) {
	if params == nil {
		params = []any{}
	}

	id, err := s.sender.NextMessageNumber()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	p := &Pending{
		ID:          id,
		Method:      method,
		SubmittedAt: s.clock.Now(),
		session:     s,
		done:        make(chan struct{}),
	}

	// Register before sending so a fast response can not be missed.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[id] = p
	s.mu.Unlock()
	callsPending.Inc()

	err = s.sender.Send(ctx, link.Message{
		MessageNumber: id,
		Content:       proto.ContentMessage,
		Interaction:   proto.InteractionRequest,
		Encoding:      proto.EncodingJSON,
		Payload:       payload,
	}, nil)
	if err != nil {
		s.remove(id)
		p.resolve(nil, err)
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	return p, nil
}

// Invoke calls method and decodes the result into result.
func (s *Session) Invoke(ctx context.Context, method string, params, result any) error {
	p, err := s.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return p.Decode(ctx, result)
}

// PendingCalls returns the number of outstanding calls.
func (s *Session) PendingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close fails every outstanding call with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[uint32]*Pending)
	s.closed = true
	s.mu.Unlock()

	for _, p := range pending {
		p.resolve(nil, ErrSessionClosed)
	}
}

func (s *Session) remove(id uint32) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return p
}

// HandleResponse resolves the pending call matching the response id. A
// response without a result fails the call with a RemoteError.
func (s *Session) HandleResponse(pkg *fragment.Package) error {
	var resp response
	if err := json.Unmarshal(pkg.Payload, &resp); err != nil {
		return fmt.Errorf("decode response %d: %w", pkg.MessageNumber, err)
	}
	if resp.ID == nil {
		return fmt.Errorf("%w: response %d carries no id", ErrUnsolicitedResponse, pkg.MessageNumber)
	}

	p := s.remove(*resp.ID)
	if p == nil {
		unsolicitedResponses.Inc()
		return fmt.Errorf("%w: id %d", ErrUnsolicitedResponse, *resp.ID)
	}

	if len(resp.Result) == 0 {
		p.resolve(nil, &RemoteError{ID: p.ID, Method: p.Method, Body: append(json.RawMessage(nil), pkg.Payload...)})
		return nil
	}
	p.resolve(resp.Result, nil)
	return nil
}

// HandleRequest publishes device originated requests. Methods in the event.
// namespace go to EventTopic(method); the device expects no reply.
func (s *Session) HandleRequest(pkg *fragment.Package) error {
	var ev Event
	if err := json.Unmarshal(pkg.Payload, &ev); err != nil {
		return fmt.Errorf("decode request %d: %w", pkg.MessageNumber, err)
	}
	if ev.Method == "" {
		return fmt.Errorf("request %d carries no method", pkg.MessageNumber)
	}

	eventsReceived.WithLabelValues(ev.Method).Inc()
	if !strings.HasPrefix(ev.Method, "event.") {
		return fmt.Errorf("unsupported device request %q", ev.Method)
	}
	s.bus.Publish(EventTopic(ev.Method), ev)
	return nil
}

// SubscribeEvent subscribes to a single event method.
func (s *Session) SubscribeEvent(method string, bufSize int) eventbus.Subscriber {
	return s.bus.Subscribe(EventTopic(method), bufSize, eventbus.MatchAll)
}

// SubscribeEvents subscribes to every event. Messages are eventbus.Envelope
// values wrapping an Event.
func (s *Session) SubscribeEvents(bufSize int) eventbus.Subscriber {
	return s.bus.SubscribePrefix(EventPrefix, bufSize, eventbus.MatchAll)
}
