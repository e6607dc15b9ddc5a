package proto

import "fmt"

// Avocado link protocol spoken by the PixCut photo printer/cutter over RFCOMM.
// Every packet is a 20 byte little-endian header, up to MaxPayloadSize bytes of
// payload, an 8-bit checksum and the closing wrapper byte:
//
//	7E | 64 | 00 | content | interaction | encoding | terminal(4) | msg number(4) |
//	package total(2) | package index(2) | flags(2) | payload(N) | checksum | 7E
//
// The payload is not escaped, so 0x7E may appear anywhere inside a frame.

const (
	Wrapper  = 0x7E // Prefix and suffix of every frame
	Version  = 0x64 // Protocol version, always 100
	Reserved = 0x00

	// HeaderSize is the number of bytes preceding the payload.
	HeaderSize = 20
	// Overhead is the framing cost of a packet: header, checksum and suffix.
	Overhead = HeaderSize + 2
	// MinFrameSize is the size of a frame with an empty payload.
	MinFrameSize = Overhead
	// MaxPayloadSize is the largest payload a single packet may carry.
	MaxPayloadSize = 896
	// MaxFrameSize is the size of a frame carrying MaxPayloadSize bytes.
	MaxFrameSize = Overhead + MaxPayloadSize
)

// Flag field bit layout.
const (
	flagLengthMask       = 0x03FF
	flagEncryptionShift  = 10
	flagEncryptionMask   = 0x07 << flagEncryptionShift
	flagMultiPackageMask = 1 << 13
)

// ContentType distinguishes JSON messages from bulk job data.
type ContentType uint8

const (
	ContentMessage ContentType = 0x01
	ContentData    ContentType = 0x02
)

func (c ContentType) String() string {
	switch c {
	case ContentMessage:
		return "message"
	case ContentData:
		return "data"
	default:
		return fmt.Sprintf("content(0x%02x)", uint8(c))
	}
}

// InteractionType marks a packet as request or response.
type InteractionType uint8

const (
	InteractionRequest  InteractionType = 0x06
	InteractionResponse InteractionType = 0x07
)

func (i InteractionType) String() string {
	switch i {
	case InteractionRequest:
		return "request"
	case InteractionResponse:
		return "response"
	default:
		return fmt.Sprintf("interaction(0x%02x)", uint8(i))
	}
}

// EncodingType describes how the payload is encoded.
type EncodingType uint8

const (
	EncodingBinary EncodingType = 0x02
	EncodingJSON   EncodingType = 0x03
)

func (e EncodingType) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	case EncodingJSON:
		return "json"
	default:
		return fmt.Sprintf("encoding(0x%02x)", uint8(e))
	}
}

// EncryptionMode is the 3-bit cipher selector carried in the flags.
type EncryptionMode uint8

const (
	EncryptionNone EncryptionMode = 0x00
	EncryptionRC4  EncryptionMode = 0x02
)

func (m EncryptionMode) String() string {
	switch m {
	case EncryptionNone:
		return "none"
	case EncryptionRC4:
		return "rc4"
	default:
		return fmt.Sprintf("encryption(0x%02x)", uint8(m))
	}
}

// Flags is the unpacked 16-bit flag field.
type Flags struct {
	Length       uint16
	MultiPackage bool
	Encryption   EncryptionMode
}

// Pack encodes the flags into their wire representation.
func (f Flags) Pack() uint16 {
	v := f.Length & flagLengthMask
	v |= (uint16(f.Encryption) << flagEncryptionShift) & flagEncryptionMask
	if f.MultiPackage {
		v |= flagMultiPackageMask
	}
	return v
}

// UnpackFlags decodes a wire flag field.
func UnpackFlags(v uint16) Flags {
	return Flags{
		Length:       v & flagLengthMask,
		MultiPackage: v&flagMultiPackageMask != 0,
		Encryption:   EncryptionMode((v & flagEncryptionMask) >> flagEncryptionShift),
	}
}

// Packet is a single decoded frame. Payload holds the bytes as they travel on
// the wire, i.e. still encrypted when Encryption is not EncryptionNone.
type Packet struct {
	Content       ContentType
	Interaction   InteractionType
	Encoding      EncodingType
	TerminalID    uint32
	MessageNumber uint32
	PackageTotal  uint16
	PackageIndex  uint16
	MultiPackage  bool
	Encryption    EncryptionMode
	Payload       []byte
}

// Flags returns the flag field describing this packet.
func (p *Packet) Flags() Flags {
	return Flags{
		Length:       uint16(len(p.Payload)),
		MultiPackage: p.MultiPackage,
		Encryption:   p.Encryption,
	}
}

func (p Packet) String() string {
	return fmt.Sprintf("%s/%s/%s terminal=%d msg=%d package=%d/%d multi=%t encryption=%s len=%d",
		p.Content, p.Interaction, p.Encoding, p.TerminalID, p.MessageNumber,
		p.PackageIndex, p.PackageTotal, p.MultiPackage, p.Encryption, len(p.Payload))
}
