package worker

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/trakrf/platform-sub018/internal/cs108"
)

func encode(t testing.TB, module cs108.Module, code uint16, data []byte) []byte {
	t.Helper()
	raw, err := cs108.DefaultLayout().Encode(module, code, data)
	require.NoError(t, err)
	return raw
}

func batteryFrame(t testing.TB, mv uint16) []byte {
	return encode(t, cs108.ModuleNotification, cs108.EventBatteryVoltage, binary.BigEndian.AppendUint16(nil, mv))
}

func inventoryFrame(t testing.TB) []byte {
	epc := []byte{0x30, 0x08, 0x33, 0xB2, 0xDD, 0xD9, 0x01, 0x40, 0x00, 0x00, 0x00, 0x01}
	body := make([]byte, 12, 12+len(epc))
	binary.LittleEndian.PutUint32(body[0:4], 42)
	body[5] = 0x60
	binary.LittleEndian.PutUint16(body[8:10], 1)
	binary.BigEndian.PutUint16(body[10:12], uint16(len(epc)/2)<<11)
	body = append(body, epc...)

	pkt := []byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	binary.LittleEndian.PutUint16(pkt[2:4], cs108.RFIDPacketInventory)
	binary.LittleEndian.PutUint16(pkt[4:6], uint16(len(body)))
	return encode(t, cs108.ModuleRFID, cs108.EventRFIDData, append(pkt, body...))
}

func barcodeFrame(t testing.TB, seq, idx byte, header []byte, data string) []byte {
	payload := append([]byte{seq, idx}, header...)
	return encode(t, cs108.ModuleBarcode, cs108.EventBarcodeData, append(payload, data...))
}

func barcodeHeader(value string) []byte {
	h := binary.BigEndian.AppendUint16(nil, uint16(len(value)))
	return binary.BigEndian.AppendUint16(h, cs108.CRC16Kermit([]byte(value)))
}

func kinds(events []cs108.Event) []cs108.Kind {
	out := make([]cs108.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

type WorkerTestSuite struct {
	suite.Suite
	events *collector
	clock  atomic.Int64
}

func (s *WorkerTestSuite) SetupTest() {
	s.events = &collector{}
	s.clock.Store(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).UnixNano())
}

func (s *WorkerTestSuite) now() time.Time {
	return time.Unix(0, s.clock.Load()).UTC()
}

func (s *WorkerTestSuite) newWorker(opts Options) *Worker {
	e, err := NewEmitter(DeliverEvery, 0, 256, s.events.handle, quietLogger())
	s.Require().NoError(err)
	opts.Clock = s.now
	return New(opts, e, quietLogger())
}

func (s *WorkerTestSuite) runAsync(ctx context.Context, w *Worker) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	return errc
}

func (s *WorkerTestSuite) waitRun(errc <-chan error) error {
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		s.FailNow("worker did not stop")
		return nil
	}
}

func (s *WorkerTestSuite) TestDecodesChunkedStreamInOrder() {
	const value = "]E05012345678900"
	t := s.T()
	stream := append([]byte{0x00, 0x13, 0x37}, batteryFrame(t, 4001)...)
	stream = append(stream, barcodeFrame(t, 1, 0, barcodeHeader(value), value[:9])...)
	stream = append(stream, inventoryFrame(t)...)
	stream = append(stream, barcodeFrame(t, 1, 1, nil, value[9:])...)
	stream = append(stream, encode(t, cs108.ModuleNotification, cs108.EventTriggerPushed, nil)...)

	w := s.newWorker(Options{Pipeline: cs108.PipelineOptions{Mode: cs108.ModeInventory}})
	for rest := stream; len(rest) > 0; {
		n := min(5, len(rest))
		s.Require().True(w.Submit(rest[:n]))
		rest = rest[n:]
	}
	w.Close()

	s.Require().NoError(s.waitRun(s.runAsync(context.Background(), w)))

	got := s.events.events()
	s.Equal([]cs108.Kind{cs108.KindBattery, cs108.KindInventory, cs108.KindBarcode, cs108.KindTrigger}, kinds(got))
	s.Equal(cs108.BarcodeScan{Value: "5012345678900", AIMPrefix: "]E0"}, got[2])

	m := w.Metrics()
	s.Equal(int64(4), m.Events)
	s.Equal(int64(4), m.Emitter.Delivered)
	s.Equal(uint64(5), m.Pipeline.Reassembler.Frames)
	s.Zero(m.ChunksDropped)
}

func (s *WorkerTestSuite) TestSubmitDropsWhenQueueFull() {
	w := s.newWorker(Options{QueueSize: 2})

	s.True(w.Submit([]byte{0x01}))
	s.True(w.Submit([]byte{0x02}))
	s.False(w.Submit([]byte{0x03}))

	m := w.Metrics()
	s.Equal(int64(2), m.ChunksIn)
	s.Equal(int64(1), m.ChunksDropped)
}

func (s *WorkerTestSuite) TestSubmitCopiesChunk() {
	w := s.newWorker(Options{})
	frame := batteryFrame(s.T(), 3700)

	s.Require().True(w.Submit(frame))
	frame[len(frame)-1] ^= 0xFF
	w.Close()

	s.Require().NoError(s.waitRun(s.runAsync(context.Background(), w)))
	s.Equal([]cs108.Event{cs108.BatteryStatus{Millivolts: 3700, Percent: 35}}, s.events.events())
}

func (s *WorkerTestSuite) TestSubmitAfterClose() {
	w := s.newWorker(Options{})
	w.Close()
	w.Close()
	s.False(w.Submit(batteryFrame(s.T(), 3700)))
}

func (s *WorkerTestSuite) TestSetModeSwitchesToLocate() {
	w := s.newWorker(Options{Pipeline: cs108.PipelineOptions{Mode: cs108.ModeInventory}})
	errc := s.runAsync(context.Background(), w)

	w.SetMode(cs108.ModeLocate)
	s.Require().Eventually(func() bool { return w.Mode() == cs108.ModeLocate }, time.Second, 5*time.Millisecond)

	s.Require().True(w.Submit(inventoryFrame(s.T())))
	w.Close()
	s.Require().NoError(s.waitRun(errc))

	got := s.events.events()
	s.Require().Len(got, 1)
	s.Require().IsType(cs108.LocateUpdate{}, got[0])
	s.Equal("300833B2DDD9014000000001", got[0].(cs108.LocateUpdate).EPC)
	s.Equal(s.now(), got[0].(cs108.LocateUpdate).Timestamp)
}

func (s *WorkerTestSuite) TestCancelDrainsQueuedChunks() {
	w := s.newWorker(Options{})
	for mv := uint16(3600); mv < 3650; mv += 10 {
		s.Require().True(w.Submit(batteryFrame(s.T(), mv)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.waitRun(s.runAsync(ctx, w))

	s.ErrorIs(err, context.Canceled)
	s.Len(s.events.events(), 5)
}

func (s *WorkerTestSuite) TestExpiresStaleBarcodeOnTick() {
	const value = "]E05012345678900"
	w := s.newWorker(Options{
		ExpireInterval: 5 * time.Millisecond,
		Pipeline:       cs108.PipelineOptions{BarcodeTimeout: time.Second},
	})
	errc := s.runAsync(context.Background(), w)

	s.Require().True(w.Submit(barcodeFrame(s.T(), 3, 0, barcodeHeader(value), value[:8])))
	s.Require().Eventually(func() bool {
		return w.Metrics().Pipeline.Reassembler.Frames == 1
	}, time.Second, 5*time.Millisecond)
	s.clock.Add(int64(2 * time.Second))

	s.Require().Eventually(func() bool {
		return w.Metrics().Pipeline.Barcode.Expired == 1
	}, time.Second, 5*time.Millisecond)

	w.Close()
	s.Require().NoError(s.waitRun(errc))
	s.Empty(s.events.events())
}

func (s *WorkerTestSuite) TestSubmitWaitAppliesBackpressure() {
	w := s.newWorker(Options{QueueSize: 1})
	errc := s.runAsync(context.Background(), w)

	ctx := context.Background()
	for mv := uint16(3600); mv < 3700; mv += 10 {
		s.Require().NoError(w.SubmitWait(ctx, batteryFrame(s.T(), mv)))
	}
	w.Close()
	s.Require().NoError(s.waitRun(errc))

	s.Len(s.events.events(), 10)
	s.Zero(w.Metrics().ChunksDropped)
	s.ErrorIs(w.SubmitWait(ctx, []byte{0x01}), ErrClosed)
}

func (s *WorkerTestSuite) TestSubmitWaitHonoursContext() {
	w := s.newWorker(Options{QueueSize: 1})
	s.Require().True(w.Submit([]byte{0x01}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s.ErrorIs(w.SubmitWait(ctx, []byte{0x02}), context.DeadlineExceeded)
}

func TestWorkerTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerTestSuite))
}

func TestNew_Defaults(t *testing.T) {
	e, err := NewEmitter(DeliverEvery, 0, 8, func([]cs108.Event) {}, nil)
	require.NoError(t, err)

	w := New(Options{}, e, nil)
	assert.Equal(t, DefaultQueueSize, w.inbox.Cap())
	assert.Equal(t, DefaultExpireInterval, w.expireEvery)
	assert.Equal(t, cs108.ModeIdle, w.Mode())
}
