// Package transport delivers raw reader bytes to a callback. Sources know
// nothing about frames: they hand over notification payloads exactly as the
// link fragments them.
package transport

import "context"

// DataFunc receives one chunk. The slice is only valid during the call.
type DataFunc func(chunk []byte)

// Source is a reader byte stream.
type Source interface {
	// Stream delivers chunks to onData until the stream ends, ctx is done,
	// or the link fails. It returns nil on a clean end of stream.
	Stream(ctx context.Context, onData DataFunc) error
}
