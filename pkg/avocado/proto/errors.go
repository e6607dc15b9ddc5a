package proto

import "errors"

var (
	// ErrFraming covers a wrong prefix, suffix or version byte and truncated or
	// oversized buffers. The frame is dropped.
	ErrFraming = errors.New("framing error")
	// ErrChecksum is returned when the transmitted checksum does not match the
	// recomputed one. Usually transport corruption, so the exchange may be retried.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrPayloadTooLarge is returned when a declared or supplied payload exceeds
	// MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// IsRetriable reports whether err signals a transient integrity failure.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrChecksum)
}
