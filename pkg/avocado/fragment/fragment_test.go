package fragment_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/fragment"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/sequence"
	"github.com/uptime-industries/pixcut-link/pkg/util"
)

var dataTemplate = proto.Packet{
	Content:       proto.ContentData,
	Interaction:   proto.InteractionRequest,
	Encoding:      proto.EncodingBinary,
	TerminalID:    77,
	MessageNumber: 77,
}

func payloadOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func anomalyKind(t *testing.T, err error) sequence.AnomalyKind {
	t.Helper()
	var a *sequence.Anomaly
	require.True(t, errors.As(err, &a), "expected anomaly, got %v", err)
	return a.Kind
}

func fixedClock(now time.Time) *util.MockClock {
	clk := &util.MockClock{}
	clk.On("Now").Return(now)
	return clk
}

func TestSplitData(t *testing.T) {
	t.Parallel()

	payload := payloadOf(2000)
	packets, err := fragment.SplitData(dataTemplate, 42, payload)
	require.NoError(t, err)
	require.Len(t, packets, 3)

	sizes := []int{896, 896, 220}
	var rebuilt []byte
	for i, p := range packets {
		assert.Equal(t, uint16(3), p.PackageTotal)
		assert.Equal(t, uint16(i+1), p.PackageIndex)
		assert.Equal(t, uint32(77), p.MessageNumber)
		assert.True(t, p.MultiPackage)
		assert.Equal(t, proto.ContentData, p.Content)
		assert.Len(t, p.Payload, sizes[i])
		assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(p.Payload[:4]))
		rebuilt = append(rebuilt, p.Payload[4:]...)
	}
	assert.Equal(t, payload, rebuilt)
}

func TestSplit(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name   string
		size   int
		chunks int
	}{
		{name: "empty", size: 0, chunks: 1},
		{name: "single byte", size: 1, chunks: 1},
		{name: "exactly one chunk", size: fragment.MaxMessageChunk, chunks: 1},
		{name: "one byte over", size: fragment.MaxMessageChunk + 1, chunks: 2},
		{name: "many", size: 10 * fragment.MaxMessageChunk, chunks: 10},
	}

	for _, tcl := range testcases {
		tc := tcl
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			packets, err := fragment.Split(proto.Packet{Content: proto.ContentMessage}, payloadOf(tc.size))
			require.NoError(t, err)
			assert.Len(t, packets, tc.chunks)
			assert.Equal(t, tc.chunks > 1, packets[0].MultiPackage)
			for _, p := range packets {
				assert.LessOrEqual(t, len(p.Payload), proto.MaxPayloadSize)
			}
		})
	}
}

func TestSplitTooLarge(t *testing.T) {
	t.Parallel()

	_, err := fragment.Split(proto.Packet{}, make([]byte, 65536*fragment.MaxMessageChunk))
	assert.ErrorIs(t, err, fragment.ErrTooManyChunks)
}

func TestChunkCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, fragment.ChunkCount(0, fragment.MaxDataChunk))
	assert.Equal(t, 3, fragment.ChunkCount(2000, fragment.MaxDataChunk))
	assert.Equal(t, 1, fragment.ChunkCount(892, fragment.MaxDataChunk))
	assert.Equal(t, 2, fragment.ChunkCount(893, fragment.MaxDataChunk))
}

func TestAssembleOutOfOrder(t *testing.T) {
	t.Parallel()

	payload := payloadOf(2000)
	packets, err := fragment.SplitData(dataTemplate, 42, payload)
	require.NoError(t, err)

	a := fragment.NewAssembler(fixedClock(time.Unix(100, 0)))

	pkg, err := a.Ingest(packets[1])
	assert.NoError(t, err)
	assert.Nil(t, pkg)

	pkg, err = a.Ingest(packets[0])
	assert.NoError(t, err)
	assert.Nil(t, pkg)
	assert.Equal(t, 1, a.Pending())
	assert.Equal(t, []uint16{3}, a.Missing(fragment.Key{MessageNumber: 77, Content: proto.ContentData}))

	pkg, err = a.Ingest(packets[2])
	require.NoError(t, err)
	require.NotNil(t, pkg)
	assert.Equal(t, uint32(42), pkg.JobID)
	assert.Equal(t, uint16(3), pkg.Total)
	assert.True(t, bytes.Equal(payload, pkg.Payload))
	assert.Zero(t, a.Pending())
}

func TestAssembleSinglePackage(t *testing.T) {
	t.Parallel()

	a := fragment.NewAssembler(nil)
	pkg, err := a.Ingest(proto.Packet{
		Content:       proto.ContentMessage,
		Interaction:   proto.InteractionResponse,
		Encoding:      proto.EncodingJSON,
		MessageNumber: 5,
		PackageTotal:  1,
		PackageIndex:  1,
		Payload:       []byte(`{"id":5,"result":[]}`),
	})
	require.NoError(t, err)
	require.NotNil(t, pkg)
	assert.Equal(t, `{"id":5,"result":[]}`, string(pkg.Payload))
	assert.Zero(t, a.Pending())
}

func TestAssembleDuplicateIndex(t *testing.T) {
	t.Parallel()

	packets, err := fragment.SplitData(dataTemplate, 1, payloadOf(1000))
	require.NoError(t, err)

	a := fragment.NewAssembler(fixedClock(time.Unix(0, 0)))
	_, err = a.Ingest(packets[0])
	require.NoError(t, err)

	_, err = a.Ingest(packets[0])
	assert.Equal(t, sequence.DuplicateIndex, anomalyKind(t, err))

	// The partial package survives the duplicate
	pkg, err := a.Ingest(packets[1])
	require.NoError(t, err)
	require.NotNil(t, pkg)
	assert.Len(t, pkg.Payload, 1000)
}

func TestAssembleErrors(t *testing.T) {
	t.Parallel()

	packets, err := fragment.SplitData(dataTemplate, 9, payloadOf(1000))
	require.NoError(t, err)

	testcases := []struct {
		name   string
		mutate func(p proto.Packet) proto.Packet
		kind   *sequence.AnomalyKind
		err    error
	}{
		{
			name:   "index zero",
			mutate: func(p proto.Packet) proto.Packet { p.PackageIndex = 0; return p },
			kind:   ptr(sequence.UnexpectedIndex),
		},
		{
			name:   "index beyond total",
			mutate: func(p proto.Packet) proto.Packet { p.PackageIndex = 3; return p },
			kind:   ptr(sequence.UnexpectedIndex),
		},
		{
			name:   "different total",
			mutate: func(p proto.Packet) proto.Packet { p.PackageTotal = 5; return p },
			kind:   ptr(sequence.InconsistentPackage),
		},
		{
			name: "different job id",
			mutate: func(p proto.Packet) proto.Packet {
				p.Payload = append([]byte{0x01, 0x00, 0x00, 0x00}, p.Payload[4:]...)
				return p
			},
			kind: ptr(sequence.InconsistentPackage),
		},
		{
			name:   "short data chunk",
			mutate: func(p proto.Packet) proto.Packet { p.Payload = []byte{0x01}; return p },
			err:    fragment.ErrMissingJobID,
		},
	}

	for _, tcl := range testcases {
		tc := tcl
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := fragment.NewAssembler(fixedClock(time.Unix(0, 0)))
			_, err := a.Ingest(packets[0])
			require.NoError(t, err)

			pkg, err := a.Ingest(tc.mutate(packets[1]))
			assert.Nil(t, pkg)
			if tc.kind != nil {
				assert.Equal(t, *tc.kind, anomalyKind(t, err))
			} else {
				assert.ErrorIs(t, err, tc.err)
			}
			assert.Equal(t, 1, a.Pending())
		})
	}
}

func TestAssembleIndependentGroups(t *testing.T) {
	t.Parallel()

	first, err := fragment.SplitData(dataTemplate, 1, payloadOf(1000))
	require.NoError(t, err)

	tmpl := dataTemplate
	tmpl.MessageNumber = 78
	second, err := fragment.SplitData(tmpl, 2, payloadOf(1000))
	require.NoError(t, err)

	msg := dataTemplate
	msg.Content = proto.ContentMessage
	third, err := fragment.Split(msg, payloadOf(1000))
	require.NoError(t, err)

	a := fragment.NewAssembler(fixedClock(time.Unix(0, 0)))
	for _, p := range []proto.Packet{first[0], second[0], third[0]} {
		pkg, err := a.Ingest(p)
		require.NoError(t, err)
		assert.Nil(t, pkg)
	}
	assert.Equal(t, 3, a.Pending(), "same message number with other content type is a separate group")

	pkg, err := a.Ingest(second[1])
	require.NoError(t, err)
	require.NotNil(t, pkg)
	assert.Equal(t, uint32(2), pkg.JobID)
	assert.Equal(t, 2, a.Pending())
}

func TestEvict(t *testing.T) {
	t.Parallel()

	packets, err := fragment.SplitData(dataTemplate, 1, payloadOf(1000))
	require.NoError(t, err)

	a := fragment.NewAssembler(fixedClock(time.Unix(0, 0)))
	_, err = a.Ingest(packets[0])
	require.NoError(t, err)

	key := fragment.Key{MessageNumber: 77, Content: proto.ContentData}
	assert.True(t, a.Evict(key))
	assert.False(t, a.Evict(key))
	assert.Zero(t, a.Pending())

	// A late packet starts a fresh group instead of completing the evicted one
	pkg, err := a.Ingest(packets[1])
	assert.NoError(t, err)
	assert.Nil(t, pkg)
}

func TestEvictOlderThan(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	clk := &util.MockClock{}
	clk.On("Now").Return(start).Once()
	clk.On("Now").Return(start.Add(20 * time.Second)).Once()
	clk.On("Now").Return(start.Add(30 * time.Second)).Once()

	old, err := fragment.SplitData(dataTemplate, 1, payloadOf(1000))
	require.NoError(t, err)
	tmpl := dataTemplate
	tmpl.MessageNumber = 90
	fresh, err := fragment.SplitData(tmpl, 2, payloadOf(1000))
	require.NoError(t, err)

	a := fragment.NewAssembler(clk)
	_, err = a.Ingest(old[0])
	require.NoError(t, err)
	_, err = a.Ingest(fresh[0])
	require.NoError(t, err)

	evicted := a.EvictOlderThan(15 * time.Second)
	assert.Equal(t, []fragment.Key{{MessageNumber: 77, Content: proto.ContentData}}, evicted)
	assert.Equal(t, 1, a.Pending())
	clk.AssertExpectations(t)
}

func ptr[T any](v T) *T {
	return &v
}
