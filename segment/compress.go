package segment

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec tags which compressor produced a frame's on-disk bytes. Frame
// compression is pluggable behind the frame boundary (spec §9 open
// question): the wire format only needs to agree on this one byte.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
)

// Compressor turns a frame's uncompressed page bytes into its on-disk
// representation and back. Implementations must be safe for concurrent use.
type Compressor interface {
	Codec() Codec
	Compress(dst []byte, src []byte) []byte
	Decompress(src []byte) ([]byte, error)
}

type noneCompressor struct{}

func (noneCompressor) Codec() Codec                        { return CodecNone }
func (noneCompressor) Compress(dst, src []byte) []byte      { return append(dst, src...) }
func (noneCompressor) Decompress(src []byte) ([]byte, error) { return src, nil }

// NoneCompressor disables frame compression entirely.
var NoneCompressor Compressor = noneCompressor{}

// zstdCompressor wraps klauspost/compress/zstd, the library named in the
// spec's own frame-compression comment (spec §9). Encoders/decoders are
// expensive to construct, so one of each is kept and reused.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor builds the default, production frame compressor.
func NewZstdCompressor() (Compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("segment: init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("segment: init zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Codec() Codec { return CodecZstd }

func (z *zstdCompressor) Compress(dst, src []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

func (z *zstdCompressor) Decompress(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

func codecFor(c Codec) (Compressor, error) {
	switch c {
	case CodecNone:
		return NoneCompressor, nil
	case CodecZstd:
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("segment: unknown frame codec %d", c)
	}
}
