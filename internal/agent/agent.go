package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uptime-industries/pixcut-link/internal/config"
	"github.com/uptime-industries/pixcut-link/internal/journal"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/cipher"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/device"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/job"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/link"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/rpc"
	"github.com/uptime-industries/pixcut-link/pkg/eventbus"
	"github.com/uptime-industries/pixcut-link/pkg/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// eventCounter counts device events handled by the agent
	eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixcut_agent",
		Name:      "events_count",
		Help:      "PixCut agent device event handler statistics (handled events)",
	}, []string{"method"})

	// anomalyCounter counts inbound anomalies observed by the agent
	anomalyCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixcut_agent",
		Name:      "anomalies_count",
		Help:      "PixCut agent inbound anomalies",
	})
)

type Option func(*Agent)

// WithJournal records every job and job state in j.
func WithJournal(j *journal.Journal) Option {
	return func(a *Agent) { a.journal = j }
}

// WithStatusPolling makes Run poll the printer state every d.
func WithStatusPolling(d time.Duration) Option {
	return func(a *Agent) { a.statusInterval = d }
}

// Agent owns one device connection: the link over the transport, the RPC
// session on top of it and the job client.
type Agent struct {
	cfg     *config.Config
	rwc     io.ReadWriteCloser
	device  device.Device
	link    *link.Link
	session *rpc.Session
	jobs    *job.Client
	journal *journal.Journal
	state   *printerState

	statusInterval time.Duration
}

// New wires an agent on top of rwc. The agent takes ownership of rwc.
func New(cfg *config.Config, rwc io.ReadWriteCloser, opts ...Option) (*Agent, error) {
	d, err := device.Lookup(cfg.Device.Model)
	if err != nil {
		return nil, err
	}

	key, err := cipher.ParseKey(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}
	unit, err := cipher.New(key)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:    cfg,
		rwc:    rwc,
		device: d,
		state:  newPrinterState(),
	}
	for _, opt := range opts {
		opt(a)
	}

	linkOpts := []link.Option{
		link.WithCipher(unit),
		link.WithOrigin(cfg.Origin),
		link.WithStaleAfter(cfg.StaleAfter),
	}
	if cfg.Encryption.Enabled {
		linkOpts = append(linkOpts, link.WithEncryption(proto.EncryptionRC4))
	}
	if cfg.TerminalID != 0 {
		linkOpts = append(linkOpts, link.WithTerminalID(cfg.TerminalID))
	}
	a.link = link.New(rwc, linkOpts...)
	a.session = rpc.Attach(a.link)

	jobOpts := []job.Option{job.WithPollInterval(cfg.PollInterval)}
	if a.journal != nil {
		jobOpts = append(jobOpts, job.WithRecorder(a.journal))
	}
	a.jobs = job.NewClient(a.session, a.link, jobOpts...)

	return a, nil
}

func (a *Agent) Device() device.Device {
	return a.device
}

func (a *Agent) Session() *rpc.Session {
	return a.session
}

func (a *Agent) Jobs() *job.Client {
	return a.jobs
}

func (a *Agent) Link() *link.Link {
	return a.link
}

// Status returns the last polled printer status.
func (a *Agent) Status() (device.Status, bool) {
	return a.state.Status()
}

// WaitForIdle blocks until a status poll reports an idle printer.
func (a *Agent) WaitForIdle(ctx context.Context) error {
	return a.state.WaitForIdle(ctx)
}

// CallContext bounds a single device call by the configured call timeout.
func (a *Agent) CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.CallTimeout)
}

// PrintRequest builds a job request for the configured device and media.
func (a *Agent) PrintRequest(photo, plot []byte) job.PrintRequest {
	return job.PrintRequest{
		Device: a.device,
		Canvas: a.cfg.Device.Canvas,
		Copies: a.cfg.Copies,
		Photo:  photo,
		Plot:   plot,
	}
}

// Run pumps the transport and dispatches device events until ctx is
// cancelled or the transport fails. The transport is closed on return.
func (a *Agent) Run(origCtx context.Context) error {
	ctx, cancel := context.WithCancel(origCtx)
	defer cancel()

	log.FromContext(ctx).Info("Starting PixCut agent",
		zap.String("device", a.device.Name),
		zap.Uint32("origin", a.cfg.Origin),
		zap.Bool("encryption", a.cfg.Encryption.Enabled),
	)

	events := a.session.SubscribeEvents(16)
	defer events.Unsubscribe()
	anomalies := a.link.EventBus().Subscribe(link.TopicAnomaly, 16, eventbus.MatchAll)
	defer anomalies.Unsubscribe()

	wg := errgroup.Group{}

	// Start link read loop
	wg.Go(func() error {
		defer cancel()
		return a.link.Run(ctx, a.rwc)
	})

	// Close the transport on shutdown so a blocked read returns
	wg.Go(func() error {
		<-ctx.Done()
		return a.rwc.Close()
	})

	// Start event handler
	wg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-events.C():
				if env, ok := msg.(eventbus.Envelope); ok {
					a.handleEvent(ctx, env.Message)
				}
			case <-anomalies.C():
				anomalyCounter.Inc()
			}
		}
	})

	if a.statusInterval > 0 {
		wg.Go(func() error {
			return a.pollStatus(ctx)
		})
	}

	err := wg.Wait()
	a.session.Close()
	// Reads fail once the transport is closed on shutdown
	if origCtx.Err() != nil || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (a *Agent) handleEvent(ctx context.Context, msg any) {
	ev, ok := msg.(rpc.Event)
	if !ok {
		return
	}
	eventCounter.WithLabelValues(ev.Method).Inc()
	log.FromContext(ctx).Info("Handling device event", zap.String("method", ev.Method), zap.Uint32("id", ev.ID))

	switch ev.Method {
	case rpc.EventPrintJobFinish, rpc.EventComboJobFinish:
		info, err := a.state.RegisterFinish(ev)
		if err != nil {
			log.FromContext(ctx).Warn("Malformed job finish event", zap.Error(err))
			return
		}
		if a.journal != nil {
			if err := a.journal.RecordStatus(info); err != nil {
				log.FromContext(ctx).Warn("Failed to record job state", zap.Error(err))
			}
		}
	}
}

func (a *Agent) pollStatus(ctx context.Context) error {
	ticker := time.NewTicker(a.statusInterval)
	defer ticker.Stop()

	for {
		callCtx, cancel := a.CallContext(ctx)
		status, err := a.session.GetDeviceStatus(callCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			log.FromContext(ctx).Warn("Failed to poll printer status", zap.Error(err))
		} else if err == nil {
			if a.state.RegisterStatus(status) {
				log.FromContext(ctx).Info("Printer state changed",
					zap.Stringer("state", status.State), zap.Stringer("sub_state", status.SubState))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close releases the transport and the journal.
func (a *Agent) Close() error {
	a.session.Close()
	var journalErr error
	if a.journal != nil {
		journalErr = a.journal.Close()
	}
	if err := a.rwc.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return errors.Join(fmt.Errorf("close transport: %w", err), journalErr)
	}
	return journalErr
}
