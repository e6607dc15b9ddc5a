package cipher

import (
	"crypto/rc4"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
)

var (
	ErrUnsupportedEncryptionMode = errors.New("unsupported encryption mode")
	ErrMissingKey                = errors.New("encryption requested but no key is configured")
)

// Unit applies the payload cipher selected by a packet's encryption mode.
// Every payload is transformed with a fresh keystream, so applying the same
// transform twice yields the input again.
type Unit struct {
	key []byte
}

// New returns a cipher unit for key. A nil key only supports EncryptionNone.
func New(key []byte) (*Unit, error) {
	if len(key) > 0 {
		if _, err := rc4.NewCipher(key); err != nil {
			return nil, fmt.Errorf("invalid rc4 key: %w", err)
		}
	}
	return &Unit{key: append([]byte(nil), key...)}, nil
}

// ParseKey decodes hex encoded key material. An empty string yields a nil key.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	return key, nil
}

// HasKey reports whether RC4 key material is available.
func (u *Unit) HasKey() bool {
	return len(u.key) > 0
}

// Transform returns payload encrypted or decrypted according to mode. The
// input slice is never modified.
func (u *Unit) Transform(payload []byte, mode proto.EncryptionMode) ([]byte, error) {
	switch mode {
	case proto.EncryptionNone:
		return payload, nil
	case proto.EncryptionRC4:
		if !u.HasKey() {
			return nil, ErrMissingKey
		}
		c, err := rc4.NewCipher(u.key)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(payload))
		c.XORKeyStream(out, payload)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncryptionMode, mode)
	}
}

// Transform is a convenience wrapper for a one off transform with key.
func Transform(payload []byte, mode proto.EncryptionMode, key []byte) ([]byte, error) {
	u, err := New(key)
	if err != nil {
		return nil, err
	}
	return u.Transform(payload, mode)
}
