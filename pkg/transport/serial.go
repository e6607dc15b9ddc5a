package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/uptime-industries/pixcut-link/pkg/log"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 500 * time.Millisecond
)

var ErrNoPort = errors.New("no serial port configured")

// SerialOpts configures the RFCOMM tty (or COM port) the printer is bound to.
type SerialOpts struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// Port is an open serial connection to the device. Reads return (0, nil)
// when the read timeout elapses without data.
type Port struct {
	name string
	port serial.Port

	closeOnce sync.Once
	closeErr  error
}

// Open opens the serial port described by opts with 8N1 framing.
func Open(ctx context.Context, opts SerialOpts) (*Port, error) {
	if opts.Port == "" {
		return nil, ErrNoPort
	}
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	log.FromContext(ctx).Info("Opening serial port",
		zap.String("port", opts.Port), zap.Int("baud_rate", opts.BaudRate))

	port, err := serial.Open(opts.Port, &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open port %s: %w", opts.Port, err)
	}

	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		return nil, errors.Join(fmt.Errorf("set read timeout on %s: %w", opts.Port, err), port.Close())
	}

	return &Port{name: opts.Port, port: port}, nil
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the port once; pending reads are interrupted.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.port.Close()
	})
	return p.closeErr
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
