package chunkstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a chunk is encoded on disk. Values are persisted in
// meta.json; changing them breaks existing stores.
type Codec uint8

const (
	// CodecNone stores the chunk as written.
	CodecNone Codec = 0

	// CodecLZ4 stores an LZ4 block. Fast, modest ratio.
	CodecLZ4 Codec = 1

	// CodecZstd stores a zstd frame at the default level.
	CodecZstd Codec = 2

	// CodecAuto is only valid as a store option: each chunk is probed and
	// stored with whichever of the codecs above pays off.
	CodecAuto Codec = 255
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	case CodecAuto:
		return "auto"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCodec parses the name produced by Codec.String.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none", "":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	case "auto":
		return CodecAuto, nil
	default:
		return 0, fmt.Errorf("unknown chunk codec: %q", name)
	}
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("chunkstore: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("chunkstore: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned when the encoded form is not smaller than
// the input. Callers fall back to CodecNone.
var errIncompressible = errors.New("data is incompressible")

// encodeChunk encodes data with codec. CodecAuto resolves to a concrete
// codec; the returned codec is the one to persist.
func encodeChunk(data []byte, codec Codec, contentType string) ([]byte, Codec, error) {
	if codec == CodecAuto {
		codec = selectCodec(data, contentType)
	}

	var (
		encoded []byte
		err     error
	)
	switch codec {
	case CodecNone:
		return data, CodecNone, nil
	case CodecLZ4:
		encoded, err = compressLZ4(data)
	case CodecZstd:
		encoded, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("unsupported chunk codec: %s", codec)
	}

	if errors.Is(err, errIncompressible) {
		return data, CodecNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return encoded, codec, nil
}

// decodeChunk reverses encodeChunk. size is the decoded length recorded at
// write time and is verified.
func decodeChunk(stored []byte, codec Codec, size int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(stored) != size {
			return nil, fmt.Errorf("raw chunk: size %d does not match expected %d", len(stored), size)
		}
		return stored, nil

	case CodecLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil

	case CodecZstd:
		result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported chunk codec: %s", codec)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

// selectCodec probes a chunk: text-like content types go straight to zstd,
// otherwise the zstd ratio decides between zstd (>= 1.5x), lz4 (>= 1.1x) and
// no compression.
func selectCodec(data []byte, contentType string) Codec {
	switch contentType {
	case "text/plain; charset=utf-8", "text/html; charset=utf-8", "text/xml; charset=utf-8",
		"application/json", "application/xml":
		return CodecZstd
	case "application/zip", "application/x-gzip", "image/png", "image/jpeg", "image/gif",
		"image/webp", "video/mp4", "video/webm", "audio/mpeg":
		return CodecNone
	}

	if len(data) == 0 {
		return CodecNone
	}

	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))

	switch {
	case ratio >= 1.5:
		return CodecZstd
	case ratio >= 1.1:
		return CodecLZ4
	default:
		return CodecNone
	}
}
