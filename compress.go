// Optional transparent value compression.
//
// When the database was created with Compress enabled, every stored
// value is framed with a one-byte tag: 0 for raw, 1 for zstd. The tag
// lets small or incompressible values fall back to raw storage without
// a size penalty beyond the tag itself. The record wire format is
// unchanged — valuesize is simply the framed length.
package quire

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Value framing tags.
const (
	frameRaw  = 0
	frameZstd = 1
)

// Shared encoder/decoder — both are documented as safe for concurrent
// use. Allocated once because construction builds internal state tables
// that would dominate the cost of compressing small values.
//
// SpeedFastest is deliberate: compression runs on every Set (hot path)
// while decompression runs on Get, and the ratio gain of higher levels
// is marginal for typical value sizes.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// packValue frames value for storage. Falls back to a raw frame when
// compression does not shrink the payload.
func packValue(value []byte) []byte {
	compressed := zstdEncoder.EncodeAll(value, make([]byte, 1, len(value)/2+1))
	if len(compressed)-1 >= len(value) {
		out := make([]byte, len(value)+1)
		out[0] = frameRaw
		copy(out[1:], value)
		return out
	}
	compressed[0] = frameZstd
	return compressed
}

// unpackValue reverses packValue.
func unpackValue(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecompress)
	}
	switch stored[0] {
	case frameRaw:
		return stored[1:], nil
	case frameZstd:
		out, err := zstdDecoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrDecompress, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame tag %d", ErrDecompress, stored[0])
	}
}
