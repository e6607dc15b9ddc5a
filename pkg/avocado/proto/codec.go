package proto

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// Checksum is the 8-bit wrapping sum of data.
func Checksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum
}

// Encode serialises a packet into a complete frame.
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, maximum is %d", ErrPayloadTooLarge, len(p.Payload), MaxPayloadSize)
	}

	buf := make([]byte, HeaderSize, len(p.Payload)+Overhead)
	buf[0] = Wrapper
	buf[1] = Version
	buf[2] = Reserved
	buf[3] = uint8(p.Content)
	buf[4] = uint8(p.Interaction)
	buf[5] = uint8(p.Encoding)
	binary.LittleEndian.PutUint32(buf[6:10], p.TerminalID)
	binary.LittleEndian.PutUint32(buf[10:14], p.MessageNumber)
	binary.LittleEndian.PutUint16(buf[14:16], p.PackageTotal)
	binary.LittleEndian.PutUint16(buf[16:18], p.PackageIndex)
	binary.LittleEndian.PutUint16(buf[18:20], p.Flags().Pack())
	buf = append(buf, p.Payload...)
	buf = append(buf, Checksum(buf[1:]), Wrapper)

	return buf, nil
}

// Decode parses exactly one frame. The returned packet does not alias frame.
func Decode(frame []byte) (Packet, error) {
	if len(frame) < MinFrameSize {
		return Packet{}, fmt.Errorf("%w: frame is %d bytes, minimum is %d", ErrFraming, len(frame), MinFrameSize)
	}
	if frame[0] != Wrapper {
		return Packet{}, fmt.Errorf("%w: invalid prefix 0x%02x", ErrFraming, frame[0])
	}
	if frame[1] != Version {
		return Packet{}, fmt.Errorf("%w: unsupported version 0x%02x", ErrFraming, frame[1])
	}

	flags := UnpackFlags(binary.LittleEndian.Uint16(frame[18:20]))
	if flags.Length > MaxPayloadSize {
		return Packet{}, fmt.Errorf("%w: declared length %d, maximum is %d", ErrPayloadTooLarge, flags.Length, MaxPayloadSize)
	}

	expected := Overhead + int(flags.Length)
	if len(frame) != expected {
		return Packet{}, fmt.Errorf("%w: frame is %d bytes, header declares %d", ErrFraming, len(frame), expected)
	}
	if frame[len(frame)-1] != Wrapper {
		return Packet{}, fmt.Errorf("%w: invalid suffix 0x%02x", ErrFraming, frame[len(frame)-1])
	}

	end := HeaderSize + int(flags.Length)
	if got, want := frame[end], Checksum(frame[1:end]); got != want {
		return Packet{}, fmt.Errorf("%w: got 0x%02x, computed 0x%02x", ErrChecksum, got, want)
	}

	payload := make([]byte, flags.Length)
	copy(payload, frame[HeaderSize:end])

	return Packet{
		Content:       ContentType(frame[3]),
		Interaction:   InteractionType(frame[4]),
		Encoding:      EncodingType(frame[5]),
		TerminalID:    binary.LittleEndian.Uint32(frame[6:10]),
		MessageNumber: binary.LittleEndian.Uint32(frame[10:14]),
		PackageTotal:  binary.LittleEndian.Uint16(frame[14:16]),
		PackageIndex:  binary.LittleEndian.Uint16(frame[16:18]),
		MultiPackage:  flags.MultiPackage,
		Encryption:    flags.Encryption,
		Payload:       payload,
	}, nil
}

// WritePacket encodes a packet and writes it with a single Write call so the
// frame is never split across writes.
func WritePacket(_ context.Context, w io.Writer, p Packet) error {
	frame, err := Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
