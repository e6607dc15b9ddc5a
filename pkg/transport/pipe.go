package transport

import (
	"errors"
	"io"
)

// End is one side of an in-memory connection.
type End struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (e *End) Read(b []byte) (int, error) {
	return e.r.Read(b)
}

func (e *End) Write(b []byte) (int, error) {
	return e.w.Write(b)
}

// Close closes both directions. The peer reads io.EOF.
func (e *End) Close() error {
	return errors.Join(e.w.Close(), e.r.Close())
}

// Pipe returns two connected ends, standing in for a serial link when no
// device is attached. Writes block until the peer reads.
func Pipe() (host, device *End) {
	hostR, deviceW := io.Pipe()
	deviceR, hostW := io.Pipe()
	return &End{r: hostR, w: hostW}, &End{r: deviceR, w: deviceW}
}
