package link_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/cipher"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/fragment"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/link"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/sequence"
	"github.com/uptime-industries/pixcut-link/pkg/eventbus"
	"github.com/uptime-industries/pixcut-link/pkg/util"
)

type recordingHandler struct {
	mu        sync.Mutex
	responses []*fragment.Package
	requests  []*fragment.Package
	err       error
}

func (h *recordingHandler) HandleResponse(pkg *fragment.Package) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, pkg)
	return h.err
}

func (h *recordingHandler) HandleRequest(pkg *fragment.Package) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, pkg)
	return h.err
}

// frameWriter records every Write call as one frame.
type frameWriter struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (w *frameWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	w.frames = append(w.frames, append([]byte(nil), p...))
	return len(p), nil
}

func (w *frameWriter) packets(t *testing.T) []proto.Packet {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []proto.Packet
	for _, f := range w.frames {
		p, err := proto.Decode(f)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func encode(t *testing.T, p proto.Packet) []byte {
	t.Helper()
	frame, err := proto.Encode(p)
	require.NoError(t, err)
	return frame
}

func jsonPacket(interaction proto.InteractionType, msg uint32, payload string) proto.Packet {
	return proto.Packet{
		Content:       proto.ContentMessage,
		Interaction:   interaction,
		Encoding:      proto.EncodingJSON,
		TerminalID:    msg,
		MessageNumber: msg,
		PackageTotal:  1,
		PackageIndex:  1,
		Payload:       []byte(payload),
	}
}

func drainAnomalies(sub eventbus.Subscriber) []link.Anomaly {
	var out []link.Anomaly
	for {
		select {
		case msg := <-sub.C():
			out = append(out, msg.(link.Anomaly))
		default:
			return out
		}
	}
}

func TestSendSingle(t *testing.T) {
	t.Parallel()

	w := &frameWriter{}
	l := link.New(w)

	msg, err := l.NextMessageNumber()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), msg)

	err = l.Send(context.TODO(), link.Message{
		MessageNumber: msg,
		Content:       proto.ContentMessage,
		Interaction:   proto.InteractionRequest,
		Encoding:      proto.EncodingJSON,
		Payload:       []byte(`{"id":1,"method":"get-prop","params":["model"]}`),
	}, nil)
	require.NoError(t, err)

	packets := w.packets(t)
	require.Len(t, packets, 1)
	assert.Equal(t, uint32(1), packets[0].TerminalID)
	assert.Equal(t, uint32(1), packets[0].MessageNumber)
	assert.False(t, packets[0].MultiPackage)
}

func TestSendDataProgress(t *testing.T) {
	t.Parallel()

	w := &frameWriter{}
	l := link.New(w, link.WithOrigin(649), link.WithTerminalID(7))

	var calls [][2]int
	msg, err := l.SendData(context.TODO(), 42, make([]byte, 2000), proto.EncodingBinary, func(sent, total int) {
		calls = append(calls, [2]int{sent, total})
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(649), msg)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, calls)

	packets := w.packets(t)
	require.Len(t, packets, 3)
	for i, p := range packets {
		assert.Equal(t, proto.ContentData, p.Content)
		assert.Equal(t, uint32(7), p.TerminalID)
		assert.Equal(t, uint32(649), p.MessageNumber)
		assert.Equal(t, uint16(i+1), p.PackageIndex)
		assert.Equal(t, []byte{42, 0, 0, 0}, p.Payload[:4])
	}
}

func TestSendWriteError(t *testing.T) {
	t.Parallel()

	w := &frameWriter{err: errors.New("port closed")}
	l := link.New(w)
	_, err := l.SendData(context.TODO(), 1, []byte{1}, proto.EncodingBinary, nil)
	assert.ErrorContains(t, err, "port closed")
}

func TestSendCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &frameWriter{}
	l := link.New(w)
	_, err := l.SendData(ctx, 1, make([]byte, 2000), proto.EncodingBinary, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.frames)
}

func TestSendRC4WithoutKey(t *testing.T) {
	t.Parallel()

	w := &frameWriter{}
	l := link.New(w, link.WithEncryption(proto.EncryptionRC4))
	_, err := l.SendData(context.TODO(), 1, []byte{1}, proto.EncodingBinary, nil)
	assert.ErrorIs(t, err, cipher.ErrMissingKey)
	assert.Empty(t, w.frames)
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	t.Parallel()

	w := &frameWriter{}
	l := link.New(w)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(job uint32) {
			defer wg.Done()
			_, err := l.SendData(context.TODO(), job, make([]byte, 3000), proto.EncodingBinary, nil)
			assert.NoError(t, err)
		}(uint32(i))
	}
	wg.Wait()

	packets := w.packets(t)
	require.Len(t, packets, 8*4)
	for i := 0; i < len(packets); i += 4 {
		for j := 0; j < 4; j++ {
			assert.Equal(t, packets[i].MessageNumber, packets[i+j].MessageNumber)
			assert.Equal(t, uint16(j+1), packets[i+j].PackageIndex)
		}
	}
}

func TestReceiveRoutes(t *testing.T) {
	t.Parallel()

	l := link.New(io.Discard)
	h := &recordingHandler{}
	l.SetHandler(h)
	data := l.EventBus().Subscribe(link.TopicData, 4, eventbus.MatchAll)
	defer data.Unsubscribe()

	msg, err := l.NextMessageNumber()
	require.NoError(t, err)

	var stream []byte
	stream = append(stream, encode(t, jsonPacket(proto.InteractionResponse, msg, `{"id":1,"result":{}}`))...)
	stream = append(stream, encode(t, jsonPacket(proto.InteractionRequest, 500, `{"id":500,"method":"event.print-job-finish","params":{}}`))...)
	stream = append(stream, encode(t, proto.Packet{
		Content:       proto.ContentData,
		Interaction:   proto.InteractionResponse,
		Encoding:      proto.EncodingJSON,
		MessageNumber: msg,
		PackageTotal:  1,
		PackageIndex:  1,
		Payload:       []byte{9, 0, 0, 0, 0xAB},
	})...)

	l.Receive(context.TODO(), stream)

	require.Len(t, h.responses, 1)
	assert.Equal(t, `{"id":1,"result":{}}`, string(h.responses[0].Payload))
	require.Len(t, h.requests, 1)
	assert.Equal(t, uint32(500), h.requests[0].MessageNumber)

	require.Len(t, data.C(), 1)
	pkg := (<-data.C()).(*fragment.Package)
	assert.Equal(t, uint32(9), pkg.JobID)
	assert.Equal(t, []byte{0xAB}, pkg.Payload)
}

func TestReceiveMultiPackage(t *testing.T) {
	t.Parallel()

	l := link.New(io.Discard)
	h := &recordingHandler{}
	l.SetHandler(h)

	payload := bytes.Repeat([]byte("x"), 1500)
	packets, err := fragment.Split(proto.Packet{
		Content:       proto.ContentMessage,
		Interaction:   proto.InteractionRequest,
		Encoding:      proto.EncodingJSON,
		MessageNumber: 3,
	}, payload)
	require.NoError(t, err)
	require.Len(t, packets, 2)

	l.Receive(context.TODO(), encode(t, packets[1]))
	assert.Empty(t, h.requests)
	assert.Equal(t, 1, l.PendingPackages())

	l.Receive(context.TODO(), encode(t, packets[0]))
	require.Len(t, h.requests, 1)
	assert.Equal(t, payload, h.requests[0].Payload)
	assert.Zero(t, l.PendingPackages())
}

func TestReceiveEncrypted(t *testing.T) {
	t.Parallel()

	key := []byte("pixcut")
	unit, err := cipher.New(key)
	require.NoError(t, err)

	w := &frameWriter{}
	sender := link.New(w, link.WithCipher(unit), link.WithEncryption(proto.EncryptionRC4), link.WithOrigin(20))
	_, err = sender.SendData(context.TODO(), 5, []byte("photo bytes"), proto.EncodingBinary, nil)
	require.NoError(t, err)

	raw := w.packets(t)
	require.Len(t, raw, 1)
	assert.Equal(t, proto.EncryptionRC4, raw[0].Encryption)
	assert.NotContains(t, string(raw[0].Payload), "photo bytes")

	receiver := link.New(io.Discard, link.WithCipher(unit))
	data := receiver.EventBus().Subscribe(link.TopicData, 1, eventbus.MatchAll)
	defer data.Unsubscribe()

	receiver.Receive(context.TODO(), w.frames[0])
	require.Len(t, data.C(), 1)
	pkg := (<-data.C()).(*fragment.Package)
	assert.Equal(t, uint32(5), pkg.JobID)
	assert.Equal(t, "photo bytes", string(pkg.Payload))
}

func TestReceiveAnomalies(t *testing.T) {
	t.Parallel()

	corrupt := encode(t, jsonPacket(proto.InteractionRequest, 10, `{"id":10}`))
	corrupt[proto.HeaderSize] ^= 0x01

	binaryMessage := jsonPacket(proto.InteractionRequest, 11, `{}`)
	binaryMessage.Encoding = proto.EncodingBinary

	unknownCipher := jsonPacket(proto.InteractionRequest, 12, `{}`)
	unknownCipher.Encryption = proto.EncryptionMode(0x05)

	badIndex := jsonPacket(proto.InteractionRequest, 13, `{}`)
	badIndex.PackageIndex = 4

	testcases := []struct {
		name     string
		input    []byte
		check    func(t *testing.T, err error)
		requests int
	}{
		{
			name:  "checksum",
			input: corrupt,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, proto.ErrChecksum) },
		},
		{
			name:  "binary message",
			input: encode(t, binaryMessage),
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, link.ErrUnexpectedContent) },
		},
		{
			name:  "unsupported encryption",
			input: encode(t, unknownCipher),
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, cipher.ErrUnsupportedEncryptionMode) },
		},
		{
			name:  "unexpected index",
			input: encode(t, badIndex),
			check: func(t *testing.T, err error) {
				var a *sequence.Anomaly
				require.True(t, errors.As(err, &a))
				assert.Equal(t, sequence.UnexpectedIndex, a.Kind)
			},
		},
	}

	for _, tcl := range testcases {
		tc := tcl
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			l := link.New(io.Discard)
			h := &recordingHandler{}
			l.SetHandler(h)
			sub := l.EventBus().Subscribe(link.TopicAnomaly, 8, eventbus.MatchAll)
			defer sub.Unsubscribe()

			// A valid packet afterwards must still be processed
			valid := encode(t, jsonPacket(proto.InteractionRequest, 20, `{"id":20}`))
			l.Receive(context.TODO(), append(append([]byte(nil), tc.input...), valid...))

			anomalies := drainAnomalies(sub)
			require.Len(t, anomalies, 1)
			tc.check(t, anomalies[0].Err)

			require.Len(t, h.requests, 1)
			assert.Equal(t, uint32(20), h.requests[0].MessageNumber)
		})
	}
}

func TestReceiveHandlerError(t *testing.T) {
	t.Parallel()

	l := link.New(io.Discard)
	l.SetHandler(&recordingHandler{err: errors.New("unsolicited")})
	sub := l.EventBus().Subscribe(link.TopicAnomaly, 8, eventbus.MatchAll)
	defer sub.Unsubscribe()

	msg, err := l.NextMessageNumber()
	require.NoError(t, err)
	l.Receive(context.TODO(), encode(t, jsonPacket(proto.InteractionResponse, msg, `{"id":1,"result":1}`)))

	anomalies := drainAnomalies(sub)
	require.Len(t, anomalies, 1)
	assert.ErrorContains(t, anomalies[0].Err, "unsolicited")
}

func TestEvictStale(t *testing.T) {
	t.Parallel()

	start := time.Unix(0, 0)
	clk := &util.MockClock{}
	clk.On("Now").Return(start).Once()
	clk.On("Now").Return(start.Add(time.Minute))

	l := link.New(io.Discard, link.WithClock(clk))
	packets, err := fragment.SplitData(proto.Packet{
		Interaction:   proto.InteractionResponse,
		Encoding:      proto.EncodingBinary,
		MessageNumber: 4,
	}, 1, make([]byte, 1000))
	require.NoError(t, err)

	l.Receive(context.TODO(), encode(t, packets[0]))
	assert.Equal(t, 1, l.PendingPackages())

	evicted := l.EvictStale(context.TODO(), 30*time.Second)
	assert.Equal(t, []fragment.Key{{MessageNumber: 4, Content: proto.ContentData}}, evicted)
	assert.Zero(t, l.PendingPackages())
}

func TestRun(t *testing.T) {
	t.Parallel()

	l := link.New(io.Discard)
	h := &recordingHandler{}
	l.SetHandler(h)

	var stream bytes.Buffer
	for i := uint32(1); i <= 3; i++ {
		stream.Write(encode(t, jsonPacket(proto.InteractionRequest, i, `{}`)))
	}

	assert.NoError(t, l.Run(context.TODO(), &stream))
	assert.Len(t, h.requests, 3)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("device gone")
}

func TestRunReadError(t *testing.T) {
	t.Parallel()

	l := link.New(io.Discard)
	err := l.Run(context.TODO(), failingReader{})
	assert.ErrorContains(t, err, "device gone")
}

func TestRunEvictsStale(t *testing.T) {
	t.Parallel()

	tick := make(chan time.Time, 1)
	clk := &util.MockClock{}
	clk.On("Now").Return(time.Unix(0, 0)).Once()
	clk.On("Now").Return(time.Unix(100, 0))
	clk.On("After", 10*time.Second).Return(tick)

	l := link.New(io.Discard, link.WithClock(clk), link.WithStaleAfter(10*time.Second))
	packets, err := fragment.SplitData(proto.Packet{
		Interaction:   proto.InteractionResponse,
		Encoding:      proto.EncodingBinary,
		MessageNumber: 4,
	}, 1, make([]byte, 1000))
	require.NoError(t, err)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- l.Run(context.TODO(), pr) }()

	_, err = pw.Write(encode(t, packets[0]))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return l.PendingPackages() == 1 }, time.Second, time.Millisecond)

	tick <- time.Unix(100, 0)
	assert.Eventually(t, func() bool { return l.PendingPackages() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, pw.Close())
	assert.NoError(t, <-done)
}
