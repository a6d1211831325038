package cs108

import (
	"errors"
	"fmt"
)

var (
	// ErrShortFrame means fewer bytes than a header were handed to the validator.
	ErrShortFrame = errors.New("frame shorter than header")

	// ErrBadMarker means the candidate does not start with the sync marker.
	ErrBadMarker = errors.New("frame does not start with sync marker")

	// ErrChecksumMismatch matches any FrameError of kind ChecksumMismatch.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrLengthMismatch matches any FrameError of kind LengthMismatch.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrTruncatedEvent means a recognized event carries fewer bytes than its layout needs.
	ErrTruncatedEvent = errors.New("event data truncated")

	// ErrPayloadTooLarge means Encode was given more data than one frame carries.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrBarcodeAssembly covers every reason a multi-chunk barcode is discarded.
	ErrBarcodeAssembly = errors.New("barcode assembly failed")
)

// FrameErrorKind classifies a rejected candidate frame.
type FrameErrorKind int

const (
	ChecksumMismatch FrameErrorKind = iota
	LengthMismatch
)

func (k FrameErrorKind) String() string {
	switch k {
	case ChecksumMismatch:
		return "checksum mismatch"
	case LengthMismatch:
		return "length mismatch"
	default:
		return fmt.Sprintf("frame error %d", int(k))
	}
}

// FrameError reports why a fully buffered candidate frame was rejected.
// Declared and Actual hold lengths for LengthMismatch and checksums for
// ChecksumMismatch.
type FrameError struct {
	Kind     FrameErrorKind
	Declared int
	Actual   int
}

func (e *FrameError) Error() string {
	if e.Kind == ChecksumMismatch {
		return fmt.Sprintf("%s: declared 0x%04X, computed 0x%04X", e.Kind, e.Declared, e.Actual)
	}
	return fmt.Sprintf("%s: declared %d, present %d", e.Kind, e.Declared, e.Actual)
}

// Is lets errors.Is match the kind sentinels.
func (e *FrameError) Is(target error) bool {
	switch target {
	case ErrChecksumMismatch:
		return e.Kind == ChecksumMismatch
	case ErrLengthMismatch:
		return e.Kind == LengthMismatch
	}
	return false
}

// BarcodeError describes a discarded barcode assembly.
type BarcodeError struct {
	Sequence byte
	Reason   string
}

func (e *BarcodeError) Error() string {
	return fmt.Sprintf("%s: sequence %d: %s", ErrBarcodeAssembly, e.Sequence, e.Reason)
}

func (e *BarcodeError) Unwrap() error {
	return ErrBarcodeAssembly
}
