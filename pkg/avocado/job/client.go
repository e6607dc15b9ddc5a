package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/device"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/link"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/rpc"
	"github.com/uptime-industries/pixcut-link/pkg/eventbus"
	"github.com/uptime-industries/pixcut-link/pkg/log"
	"github.com/uptime-industries/pixcut-link/pkg/util"
	"go.uber.org/zap"
)

const DefaultPollInterval = 2 * time.Second

var ErrEventsClosed = errors.New("event subscription closed")

type Kind uint8

const (
	KindPrint Kind = iota + 1
	KindCombo
)

func (k Kind) String() string {
	switch k {
	case KindPrint:
		return "print"
	case KindCombo:
		return "combo"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FinishEvent returns the device event announcing the end of a job of kind k.
func (k Kind) FinishEvent() string {
	if k == KindCombo {
		return rpc.EventComboJobFinish
	}
	return rpc.EventPrintJobFinish
}

// Handle identifies a job accepted by the device.
type Handle struct {
	JobID     uint32    `json:"job_id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Caller is the subset of the RPC session used to drive jobs.
type Caller interface {
	PrintJob(ctx context.Context, params device.PrintJobParams) (uint32, error)
	ComboJob(ctx context.Context, printJob device.PrintJobParams, cutJob device.CutJobParams) (uint32, error)
	GetJobInfo(ctx context.Context, jobID uint32) (*device.JobStatusInfo, error)
	SubscribeEvent(method string, bufSize int) eventbus.Subscriber
}

// Recorder persists job handles and observed job states.
type Recorder interface {
	RecordHandle(h Handle) error
	RecordStatus(info device.JobStatusInfo) error
}

type Option func(*Client)

func WithClock(clock util.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithPollInterval sets how often Wait asks get-job-info while no finish
// event has arrived. Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithEncoding sets the encoding byte of uploaded data packages.
func WithEncoding(e proto.EncodingType) Option {
	return func(c *Client) { c.encoding = e }
}

// Client submits print and combo jobs, uploads their data and follows them
// to completion.
type Client struct {
	caller       Caller
	uploader     *Uploader
	clock        util.Clock
	pollInterval time.Duration
	recorder     Recorder
	encoding     proto.EncodingType
}

func NewClient(caller Caller, sender DataSender, opts ...Option) *Client {
	c := &Client{
		caller:       caller,
		uploader:     NewUploader(sender),
		clock:        util.RealClock{},
		pollInterval: DefaultPollInterval,
		encoding:     proto.EncodingBinary,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PrintRequest describes a job to submit.
type PrintRequest struct {
	Device device.Device
	// Canvas names the media; empty selects the mode default.
	Canvas string
	Copies uint8
	Photo  []byte
	// Plot is the cut path. It is required for combo jobs and ignored otherwise.
	Plot []byte
}

// Job is a submitted job. Call Close when done with it.
type Job struct {
	Handle

	client *Client
	events eventbus.Subscriber
}

// Close stops listening for the finish event.
func (j *Job) Close() {
	j.events.Unsubscribe()
}

// Print submits a photo print and uploads the photo.
func (c *Client) Print(ctx context.Context, req PrintRequest, progress link.Progress) (*Job, error) {
	mode, canvas, err := resolve(req, device.ModePrint)
	if err != nil {
		return nil, err
	}
	params := device.NewPrintJob(mode.Type, canvas, req.Photo, req.Copies, c.clock.Now())

	return c.submit(ctx, KindPrint, func() (uint32, error) {
		return c.caller.PrintJob(ctx, params)
	}, progress, req.Photo)
}

// Combo submits a print and cut job. The plot is uploaded before the photo,
// each as its own package tagged with the same job ID.
func (c *Client) Combo(ctx context.Context, req PrintRequest, progress link.Progress) (*Job, error) {
	if len(req.Plot) == 0 {
		return nil, errors.New("combo job needs a plot")
	}
	mode, canvas, err := resolve(req, device.ModePrintAndCut)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	printParams := device.NewPrintJob(mode.Type, canvas, req.Photo, req.Copies, now)
	cutParams := device.NewCutJob(mode.Type, canvas, req.Plot, req.Copies, now)

	return c.submit(ctx, KindCombo, func() (uint32, error) {
		return c.caller.ComboJob(ctx, printParams, cutParams)
	}, progress, req.Plot, req.Photo)
}

func resolve(req PrintRequest, t device.ModeType) (device.Mode, device.Canvas, error) {
	if len(req.Photo) == 0 {
		return device.Mode{}, device.Canvas{}, errors.New("job needs a photo")
	}
	mode, err := req.Device.Mode(t)
	if err != nil {
		return device.Mode{}, device.Canvas{}, err
	}
	canvas, err := mode.Canvas(req.Canvas)
	if err != nil {
		return device.Mode{}, device.Canvas{}, err
	}
	return mode, canvas, nil
}

func (c *Client) submit(ctx context.Context, kind Kind, call func() (uint32, error), progress link.Progress, parts ...[]byte) (*Job, error) {
	// Subscribe before submitting so an early finish event is not lost.
	events := c.caller.SubscribeEvent(kind.FinishEvent(), 4)

	jobID, err := call()
	if err != nil {
		events.Unsubscribe()
		jobsSubmitted.WithLabelValues(kind.String(), "rejected").Inc()
		return nil, fmt.Errorf("submit %s job: %w", kind, err)
	}
	jobsSubmitted.WithLabelValues(kind.String(), "accepted").Inc()

	j := &Job{
		Handle: Handle{JobID: jobID, Kind: kind, CreatedAt: c.clock.Now()},
		client: c,
		events: events,
	}
	c.record(ctx, func(r Recorder) error { return r.RecordHandle(j.Handle) })
	log.FromContext(ctx).Info("Job accepted", zap.Uint32("job_id", jobID), zap.Stringer("kind", kind))

	if err := c.uploader.UploadParts(ctx, jobID, c.encoding, progress, parts...); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (c *Client) record(ctx context.Context, fn func(Recorder) error) {
	if c.recorder == nil {
		return
	}
	if err := fn(c.recorder); err != nil {
		log.FromContext(ctx).Warn("Failed to record job", zap.Error(err))
	}
}

// Wait blocks until the finish event for the job arrives or a get-job-info
// poll reports a terminal state. Failed polls are logged and retried.
func (j *Job) Wait(ctx context.Context) (*device.JobStatusInfo, error) {
	c := j.client
	logger := log.FromContext(ctx).With(zap.Uint32("job_id", j.JobID))

	for {
		var poll <-chan time.Time
		if c.pollInterval > 0 {
			poll = c.clock.After(c.pollInterval)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case msg, ok := <-j.events.C():
			if !ok {
				return nil, ErrEventsClosed
			}
			info, err := finishStatus(msg)
			if err != nil {
				logger.Warn("Ignoring malformed finish event", zap.Error(err))
				continue
			}
			if info.JobID != j.JobID {
				continue
			}
			c.record(ctx, func(r Recorder) error { return r.RecordStatus(*info) })
			logger.Info("Job finished", zap.Stringer("state", info.JobState))
			return info, nil

		case <-poll:
			info, err := c.caller.GetJobInfo(ctx, j.JobID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				logger.Warn("Failed to poll job", zap.Error(err))
				continue
			}
			c.record(ctx, func(r Recorder) error { return r.RecordStatus(*info) })
			logger.Debug("Polled job", zap.Stringer("state", info.JobState), zap.Stringer("sub_state", info.JobSubState))
			if info.JobState.Terminal() {
				return info, nil
			}
		}
	}
}

func finishStatus(msg any) (*device.JobStatusInfo, error) {
	ev, ok := msg.(rpc.Event)
	if !ok {
		return nil, fmt.Errorf("unexpected event type %T", msg)
	}
	var info device.JobStatusInfo
	if err := json.Unmarshal(ev.Params, &info); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", ev.Method, err)
	}
	return &info, nil
}
