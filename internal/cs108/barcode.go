package cs108

import (
	"bytes"
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	DefaultBarcodeTimeout    = 2 * time.Second
	DefaultBarcodeMaxPending = 8

	// MaxBarcodeLength caps the total length a first chunk may announce.
	MaxBarcodeLength = 1024

	aimPrefixLen = 3
)

// BarcodeStats counts assembler outcomes.
type BarcodeStats struct {
	Completed  uint64
	Failed     uint64
	Expired    uint64
	Superseded uint64
}

type barcodeAssembly struct {
	segments  [][]byte
	received  int
	total     int
	wantCRC   uint16
	crc       uint16
	nextIndex byte
	deadline  time.Time
}

// BarcodeAssembler joins barcode fragments that share a sequence id. Pending
// assemblies are kept in least-recently-touched order so that expiry and
// overflow eviction both start from the oldest entry.
type BarcodeAssembler struct {
	pending    *orderedmap.OrderedMap[byte, *barcodeAssembly]
	timeout    time.Duration
	maxPending int
	stats      BarcodeStats
}

// NewBarcodeAssembler creates an assembler. Non-positive arguments select the defaults.
func NewBarcodeAssembler(timeout time.Duration, maxPending int) *BarcodeAssembler {
	if timeout <= 0 {
		timeout = DefaultBarcodeTimeout
	}
	if maxPending <= 0 {
		maxPending = DefaultBarcodeMaxPending
	}
	return &BarcodeAssembler{
		pending:    orderedmap.New[byte, *barcodeAssembly](),
		timeout:    timeout,
		maxPending: maxPending,
	}
}

// Accept adds one fragment. It returns the completed scan when the fragment
// completes the announced length with a matching CRC, (nil, nil) while more
// fragments are expected, and an ErrBarcodeAssembly error when the assembly
// had to be discarded.
func (a *BarcodeAssembler) Accept(chunk BarcodeChunk, now time.Time) (*BarcodeScan, error) {
	seq := chunk.Sequence

	var st *barcodeAssembly
	if chunk.Index == 0 {
		if _, ok := a.pending.Delete(seq); ok {
			a.stats.Superseded++
		}
		if chunk.Total <= 0 || chunk.Total > MaxBarcodeLength {
			return nil, a.fail(seq, fmt.Sprintf("announced length %d out of range", chunk.Total))
		}
		for a.pending.Len() >= a.maxPending {
			oldest := a.pending.Oldest()
			a.pending.Delete(oldest.Key)
			a.stats.Expired++
		}
		st = &barcodeAssembly{total: chunk.Total, wantCRC: chunk.CRC}
		a.pending.Set(seq, st)
	} else {
		var ok bool
		st, ok = a.pending.Get(seq)
		if !ok {
			return nil, a.fail(seq, fmt.Sprintf("chunk %d without a first chunk", chunk.Index))
		}
		if chunk.Index != st.nextIndex {
			a.pending.Delete(seq)
			return nil, a.fail(seq, fmt.Sprintf("expected chunk %d, got %d", st.nextIndex, chunk.Index))
		}
		_ = a.pending.MoveToBack(seq)
	}

	st.received += len(chunk.Data)
	if st.received > st.total {
		a.pending.Delete(seq)
		return nil, a.fail(seq, fmt.Sprintf("received %d bytes, announced %d", st.received, st.total))
	}
	st.segments = append(st.segments, chunk.Data)
	st.crc = crc16KermitUpdate(st.crc, chunk.Data)
	st.nextIndex = chunk.Index + 1
	st.deadline = now.Add(a.timeout)

	if st.received < st.total {
		return nil, nil
	}

	a.pending.Delete(seq)
	if st.crc != st.wantCRC {
		return nil, a.fail(seq, fmt.Sprintf("crc 0x%04X, announced 0x%04X", st.crc, st.wantCRC))
	}

	a.stats.Completed++
	scan := SplitAIMPrefix(bytes.Join(st.segments, nil))
	return &scan, nil
}

func (a *BarcodeAssembler) fail(seq byte, reason string) error {
	a.stats.Failed++
	return &BarcodeError{Sequence: seq, Reason: reason}
}

// Expire drops assemblies whose deadline is not after now and returns how
// many were dropped.
func (a *BarcodeAssembler) Expire(now time.Time) int {
	n := 0
	for pair := a.pending.Oldest(); pair != nil; {
		if now.Before(pair.Value.deadline) {
			break
		}
		next := pair.Next()
		a.pending.Delete(pair.Key)
		n++
		pair = next
	}
	a.stats.Expired += uint64(n)
	return n
}

// Pending reports the number of in-progress assemblies.
func (a *BarcodeAssembler) Pending() int {
	return a.pending.Len()
}

func (a *BarcodeAssembler) Stats() BarcodeStats {
	return a.stats
}

// Reset drops every in-progress assembly.
func (a *BarcodeAssembler) Reset() {
	a.pending = orderedmap.New[byte, *barcodeAssembly]()
}

// SplitAIMPrefix separates a leading AIM symbology identifier ("]" followed by
// a code character and a modifier) from the barcode value.
func SplitAIMPrefix(raw []byte) BarcodeScan {
	if len(raw) >= aimPrefixLen && raw[0] == ']' {
		return BarcodeScan{
			Value:     string(raw[aimPrefixLen:]),
			AIMPrefix: string(raw[:aimPrefixLen]),
		}
	}
	return BarcodeScan{Value: string(raw)}
}
