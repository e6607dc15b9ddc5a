package proto_test

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
)

func TestLayerDecode(t *testing.T) {
	t.Parallel()

	packet := gopacket.NewPacket(getPropFrame(), proto.LayerTypeAvocado, gopacket.Default)
	require.Nil(t, packet.ErrorLayer())

	layer, ok := packet.Layer(proto.LayerTypeAvocado).(*proto.Layer)
	require.True(t, ok)
	assert.Equal(t, uint32(628), layer.Packet.MessageNumber)
	assert.Equal(t, proto.EncodingJSON, layer.Packet.Encoding)
	assert.Equal(t, getPropPayload, string(layer.LayerPayload()))

	app := packet.ApplicationLayer()
	require.NotNil(t, app)
	assert.Equal(t, getPropPayload, string(app.Payload()))
}

func TestLayerDecodeChecksumError(t *testing.T) {
	t.Parallel()

	frame := getPropFrame()
	frame[len(frame)-2] = 0x00

	packet := gopacket.NewPacket(frame, proto.LayerTypeAvocado, gopacket.Default)
	errLayer := packet.ErrorLayer()
	require.NotNil(t, errLayer)
	assert.ErrorIs(t, errLayer.Error(), proto.ErrChecksum)
}

func TestLayerSerialize(t *testing.T) {
	t.Parallel()

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		&proto.Layer{Packet: proto.Packet{
			Content:       proto.ContentMessage,
			Interaction:   proto.InteractionRequest,
			Encoding:      proto.EncodingJSON,
			TerminalID:    628,
			MessageNumber: 628,
			PackageTotal:  1,
			PackageIndex:  1,
		}},
		gopacket.Payload(getPropPayload),
	)
	require.NoError(t, err)
	assert.Equal(t, getPropFrame(), buf.Bytes())
}
