package cs108

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReassembler() *Reassembler {
	return NewReassembler(DefaultLayout(), 0, quietLogger())
}

// noise returns n random bytes that never contain a sync prefix byte.
func noise(rng *rand.Rand, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		b := byte(rng.Intn(256))
		for b == PrefixByte {
			b = byte(rng.Intn(256))
		}
		out[i] = b
	}
	return out
}

func feedAll(r *Reassembler, chunks ...[]byte) []Frame {
	var frames []Frame
	for _, c := range chunks {
		frames = append(frames, r.ProcessIncomingData(c)...)
	}
	return frames
}

func eventCodes(frames []Frame) []uint16 {
	codes := make([]uint16, len(frames))
	for i, f := range frames {
		codes[i] = f.EventCode
	}
	return codes
}

func TestReassembler_Scenarios(t *testing.T) {
	second := batteryFrame(t, 3700)
	corrupt := append([]byte(nil), scenarioAFrame...)
	corrupt[10] ^= 0x40

	tests := []struct {
		name   string
		chunks [][]byte
		want   [][]byte
	}{
		{
			name:   "single frame",
			chunks: [][]byte{scenarioAFrame},
			want:   [][]byte{scenarioAFrame},
		},
		{
			name:   "two frames in one chunk",
			chunks: [][]byte{concat(scenarioAFrame, second)},
			want:   [][]byte{scenarioAFrame, second},
		},
		{
			name:   "leading noise",
			chunks: [][]byte{concat([]byte{0x00, 0x01, 0x00, 0x22, 0x3E, 0xBD}, scenarioAFrame)},
			want:   [][]byte{scenarioAFrame},
		},
		{
			name:   "corrupted frame followed by valid frame",
			chunks: [][]byte{concat(corrupt, second)},
			want:   [][]byte{second},
		},
		{
			name:   "frame split across chunks",
			chunks: [][]byte{scenarioAFrame[:5], scenarioAFrame[5:]},
			want:   [][]byte{scenarioAFrame},
		},
		{
			name:   "marker split across chunks",
			chunks: [][]byte{{0x55, PrefixByte}, scenarioAFrame[1:]},
			want:   [][]byte{scenarioAFrame},
		},
		{
			name:   "declared length above maximum",
			chunks: [][]byte{concat([]byte{PrefixByte, ConnBLE, 0xFF, 0x00}, scenarioAFrame)},
			want:   [][]byte{scenarioAFrame},
		},
		{
			name:   "prefix byte inside noise",
			chunks: [][]byte{concat([]byte{PrefixByte, PrefixByte, 0x00}, scenarioAFrame)},
			want:   [][]byte{scenarioAFrame},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReassembler()
			frames := feedAll(r, tt.chunks...)

			require.Len(t, frames, len(tt.want))
			for i, want := range tt.want {
				assert.Equal(t, want, frames[i].Raw)
			}
			assert.Zero(t, r.Buffered())
		})
	}
}

func TestReassembler_ByteAtATime(t *testing.T) {
	r := newTestReassembler()

	for i, b := range scenarioAFrame[:len(scenarioAFrame)-1] {
		frames := r.ProcessIncomingData([]byte{b})
		assert.Empty(t, frames, "frame emitted early at byte %d", i)
		assert.Equal(t, i+1, r.Buffered())
	}

	frames := r.ProcessIncomingData(scenarioAFrame[len(scenarioAFrame)-1:])
	require.Len(t, frames, 1)
	assert.Equal(t, EventBatteryVoltage, frames[0].EventCode)
	assert.Zero(t, r.Buffered())
}

func TestReassembler_ChunkBoundaryInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(108))
	stream := concat(
		noise(rng, 9),
		scenarioAFrame,
		inventoryFrame(t, 0x60, 1, testEPC),
		noise(rng, 3),
		batteryFrame(t, 3900),
		barcodeFrames(t, 1, "]E0590123412345", 20)[0],
		scenarioAFrame,
	)

	want := feedAll(newTestReassembler(), stream)
	require.Len(t, want, 5)

	t.Run("every two-way split", func(t *testing.T) {
		for k := 0; k <= len(stream); k++ {
			got := feedAll(newTestReassembler(), stream[:k], stream[k:])
			require.Equal(t, want, got, "split at %d", k)
		}
	})

	t.Run("random multi-way splits", func(t *testing.T) {
		for round := 0; round < 200; round++ {
			var chunks [][]byte
			for rest := stream; len(rest) > 0; {
				n := 1 + rng.Intn(min(len(rest), 40))
				chunks = append(chunks, rest[:n])
				rest = rest[n:]
			}
			got := feedAll(newTestReassembler(), chunks...)
			require.Equal(t, want, got, "round %d", round)
		}
	})
}

func TestReassembler_ResyncCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	// Spurious markers carry a short declared length or one above the
	// maximum, so each is rejected before a real frame is reached.
	spurious := [][]byte{
		{PrefixByte, ConnBLE, 0x03, 0x11, 0x22},
		{PrefixByte, ConnBLE, 0xF0},
		{PrefixByte, ConnBLE, 0x02, 0xD9, ReservedByte, DirectionUp, 0x00, 0x00, 0xA0, 0x00},
	}

	var stream []byte
	var wantMV []int
	for i := 0; i < 60; i++ {
		mv := 3400 + i*10
		wantMV = append(wantMV, mv)
		stream = append(stream, noise(rng, rng.Intn(12))...)
		if rng.Intn(3) == 0 {
			stream = append(stream, spurious[rng.Intn(len(spurious))]...)
			stream = append(stream, noise(rng, rng.Intn(4))...)
		}
		stream = append(stream, batteryFrame(t, uint16(mv))...)
	}

	frames := feedAll(newTestReassembler(), stream)
	require.Len(t, frames, len(wantMV))

	d := NewDecoder()
	for i, f := range frames {
		ev, err := d.DecodeAt(f, fixedNow)
		require.NoError(t, err)
		require.IsType(t, BatteryStatus{}, ev)
		assert.Equal(t, wantMV[i], ev.(BatteryStatus).Millivolts)
	}
}

func TestReassembler_ChecksumLocality(t *testing.T) {
	follower := batteryFrame(t, 3600)

	for i := HeaderSize; i < len(scenarioAFrame); i++ {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), scenarioAFrame...)
			flipped[i] ^= 1 << bit

			r := newTestReassembler()
			frames := r.ProcessIncomingData(concat(flipped, follower))

			require.Len(t, frames, 1, "byte %d bit %d", i, bit)
			assert.Equal(t, follower, frames[0].Raw)
			assert.Equal(t, uint64(1), r.Stats().ChecksumRejects)
		}
	}
}

func TestReassembler_OverflowBound(t *testing.T) {
	r := newTestReassembler()
	limit := DefaultOverflowFactor * DefaultLayout().MaxFrameSize()

	junk := make([]byte, 100)
	for i := 0; i < 20; i++ {
		assert.Empty(t, r.ProcessIncomingData(junk))
		assert.LessOrEqual(t, r.Buffered(), limit)
	}
	assert.NotZero(t, r.Stats().Overflows)

	frames := r.ProcessIncomingData(scenarioAFrame)
	require.Len(t, frames, 1)
	assert.Equal(t, scenarioAFrame, frames[0].Raw)
}

func TestReassembler_OverflowKeepsMarkerPrefix(t *testing.T) {
	r := newTestReassembler()
	limit := DefaultOverflowFactor * DefaultLayout().MaxFrameSize()

	first := append(make([]byte, limit+50), scenarioAFrame[0])
	assert.Empty(t, r.ProcessIncomingData(first))
	assert.Equal(t, len(DefaultLayout().Marker), r.Buffered())

	frames := r.ProcessIncomingData(scenarioAFrame[1:])
	require.Len(t, frames, 1)
	assert.Equal(t, scenarioAFrame, frames[0].Raw)
}

func TestReassembler_ResetAndStats(t *testing.T) {
	r := newTestReassembler()
	r.ProcessIncomingData(concat([]byte{0x01, 0x02}, scenarioAFrame, scenarioAFrame[:4]))

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, uint64(2), stats.DiscardedBytes)
	assert.Equal(t, 4, r.Buffered())

	r.Reset()
	assert.Zero(t, r.Buffered())
	assert.Equal(t, uint64(6), r.Stats().DiscardedBytes)
	assert.Len(t, r.ProcessIncomingData(scenarioAFrame), 1)
}

func TestReassembler_SpuriousMarkerDelaysButKeepsFrames(t *testing.T) {
	r := newTestReassembler()
	// Declares 0x20 payload bytes, so it cannot be rejected before 40 bytes arrive.
	fake := []byte{0xA7, 0xB3, 0x20, 0x11}

	frames := r.ProcessIncomingData(concat(fake, batteryFrame(t, 3600)))
	assert.Empty(t, frames, "real frame is held behind the unresolved marker")
	assert.Equal(t, 16, r.Buffered())

	frames = r.ProcessIncomingData(concat(batteryFrame(t, 3700), batteryFrame(t, 3800)))
	require.Len(t, frames, 3)
	assert.Equal(t, []uint16{EventBatteryVoltage, EventBatteryVoltage, EventBatteryVoltage}, eventCodes(frames))

	frames = r.ProcessIncomingData(batteryFrame(t, 3900))
	require.Len(t, frames, 1)
	assert.Zero(t, r.Buffered())
	assert.Equal(t, uint64(1), r.Stats().ChecksumRejects)
}
