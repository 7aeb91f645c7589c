package index

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Codec identifies how interned content is stored. Persisted; never renumber.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
	CodecLZ4  Codec = 2
)

// String returns the configuration name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCodec maps a configuration name to a Codec. "" means zstd.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	}
	return CodecNone, fmt.Errorf("unknown compression %q", name)
}

// compress returns the stored form of content and the codec actually used.
// Content at or below the threshold, or that does not shrink, is stored raw.
func (s *Store) compress(content []byte) ([]byte, Codec, error) {
	if s.codec == CodecNone || len(content) <= s.threshold {
		return content, CodecNone, nil
	}

	var out []byte
	switch s.codec {
	case CodecZstd:
		out = s.zenc.EncodeAll(content, make([]byte, 0, len(content)/2))
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(content)))
		n, err := lz4.CompressBlock(content, buf, nil)
		if err != nil {
			return nil, CodecNone, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			// incompressible
			return content, CodecNone, nil
		}
		out = buf[:n]
	}

	if len(out) >= len(content) {
		return content, CodecNone, nil
	}
	return out, s.codec, nil
}

// decompress reverses compress. size is the original content length.
func (s *Store) decompress(stored []byte, codec Codec, size int) ([]byte, error) {
	switch codec {
	case CodecNone:
		return stored, nil
	case CodecZstd:
		out, err := s.zdec.DecodeAll(stored, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CodecLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out[:n], nil
	}
	return nil, fmt.Errorf("unknown codec %d", codec)
}
