package proto

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerTypeAvocado lets captured RFCOMM traffic be dissected with gopacket.
var LayerTypeAvocado = gopacket.RegisterLayerType(
	2064,
	gopacket.LayerTypeMetadata{
		Name:    "Avocado",
		Decoder: gopacket.DecodeFunc(decodeAvocado),
	},
)

// Layer is the gopacket view of a single frame. Contents holds the framing
// bytes and LayerPayload the raw payload.
type Layer struct {
	layers.BaseLayer
	Packet Packet
}

func (l *Layer) LayerType() gopacket.LayerType {
	return LayerTypeAvocado
}

func (l *Layer) CanDecode() gopacket.LayerClass {
	return LayerTypeAvocado
}

func (l *Layer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

func (l *Layer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < MinFrameSize {
		df.SetTruncated()
		return fmt.Errorf("%w: %d bytes is too short for a frame", ErrFraming, len(data))
	}

	length := int(UnpackFlags(uint16(data[18]) | uint16(data[19])<<8).Length)
	size := Overhead + length
	if length <= MaxPayloadSize && len(data) > size {
		data = data[:size]
	}

	pkt, err := Decode(data)
	if err != nil {
		return err
	}

	l.Packet = pkt
	l.BaseLayer = layers.BaseLayer{
		Contents: data,
		Payload:  pkt.Payload,
	}
	return nil
}

// SerializeTo wraps the bytes already in b, which become the packet payload.
func (l *Layer) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	pkt := l.Packet
	pkt.Payload = b.Bytes()

	frame, err := Encode(pkt)
	if err != nil {
		return err
	}

	header, err := b.PrependBytes(HeaderSize)
	if err != nil {
		return err
	}
	copy(header, frame[:HeaderSize])

	trailer, err := b.AppendBytes(2)
	if err != nil {
		return err
	}
	copy(trailer, frame[len(frame)-2:])

	return nil
}

func decodeAvocado(data []byte, p gopacket.PacketBuilder) error {
	l := &Layer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	if len(l.Payload) == 0 {
		return nil
	}
	return p.NextDecoder(l.NextLayerType())
}
