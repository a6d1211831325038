package transport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func collect(t *testing.T, src Source) ([][]byte, error) {
	t.Helper()
	var chunks [][]byte
	err := src.Stream(context.Background(), func(chunk []byte) {
		chunks = append(chunks, bytes.Clone(chunk))
	})
	return chunks, err
}

func sequence(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i * 7)
	}
	return out
}

func TestReplaySource_FragmentsByMTU(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		mtu       int
		wantSizes []int
	}{
		{name: "exact multiple", size: 100, mtu: 20, wantSizes: []int{20, 20, 20, 20, 20}},
		{name: "short tail", size: 50, mtu: 7, wantSizes: []int{7, 7, 7, 7, 7, 7, 7, 1}},
		{name: "smaller than mtu", size: 3, mtu: 20, wantSizes: []int{3}},
		{name: "empty", size: 0, mtu: 20, wantSizes: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := sequence(tt.size)
			src := NewReplaySource(bytes.NewReader(input), ReplayOptions{MTU: tt.mtu}, quietLogger())

			chunks, err := collect(t, src)
			require.NoError(t, err)

			var sizes []int
			for _, c := range chunks {
				sizes = append(sizes, len(c))
			}
			assert.Equal(t, tt.wantSizes, sizes)
			assert.Equal(t, input, bytes.Join(chunks, nil))
			assert.Equal(t, ReplayStats{Chunks: int64(len(chunks)), Bytes: int64(tt.size)}, src.Stats())
		})
	}
}

func TestReplaySource_SlowReader(t *testing.T) {
	input := sequence(45)
	src := NewReplaySource(iotest.OneByteReader(bytes.NewReader(input)), ReplayOptions{MTU: 10, BufferSize: 16}, quietLogger())

	chunks, err := collect(t, src)
	require.NoError(t, err)
	assert.Equal(t, input, bytes.Join(chunks, nil))
	for _, c := range chunks[:len(chunks)-1] {
		assert.Len(t, c, 10)
	}
}

func TestReplaySource_HexCapture(t *testing.T) {
	capture := `# battery report
A7 B3 04 D9 82 9E B4 D1   # header
0xA0,0x00:0f a1
`
	src := NewReplaySource(strings.NewReader(capture), ReplayOptions{MTU: 5, Hex: true}, quietLogger())

	chunks, err := collect(t, src)
	require.NoError(t, err)
	assert.Equal(t,
		[]byte{0xA7, 0xB3, 0x04, 0xD9, 0x82, 0x9E, 0xB4, 0xD1, 0xA0, 0x00, 0x0F, 0xA1},
		bytes.Join(chunks, nil))
	assert.Len(t, chunks, 3)
}

func TestReplaySource_Errors(t *testing.T) {
	t.Run("bad hex", func(t *testing.T) {
		src := NewReplaySource(strings.NewReader("A7 B3 ZZ"), ReplayOptions{Hex: true}, quietLogger())
		_, err := collect(t, src)
		assert.ErrorIs(t, err, ErrInvalidCapture)
	})

	t.Run("read failure", func(t *testing.T) {
		boom := errors.New("boom")
		src := NewReplaySource(iotest.ErrReader(boom), ReplayOptions{}, quietLogger())
		_, err := collect(t, src)
		assert.ErrorIs(t, err, boom)
	})
}

func TestReplaySource_CancelWhilePacing(t *testing.T) {
	src := NewReplaySource(bytes.NewReader(sequence(100)), ReplayOptions{MTU: 10, Pace: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := src.Stream(ctx, func([]byte) {
		calls++
		cancel()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{name: "spaced", in: "a7 b3 01", want: []byte{0xA7, 0xB3, 0x01}},
		{name: "packed", in: "A7B301", want: []byte{0xA7, 0xB3, 0x01}},
		{name: "prefixed", in: "0xA7, 0XB3", want: []byte{0xA7, 0xB3}},
		{name: "crlf lines", in: "A7\r\nB3\r\n", want: []byte{0xA7, 0xB3}},
		{name: "comment only", in: "# nothing\n", want: nil},
		{name: "odd digits", in: "A7B", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHex(strings.NewReader(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCapture)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
