package core

import (
	"context"
	"image"
	"io"
)

// Codec is the opaque WebP codec the wrapper delegates to.  Implementations
// live in adapters/codec/ and adapters/vips/.  A single failed call is a
// single wrapper failure; codecs must not retry internally.
type Codec interface {
	// Name identifies the codec in the registry and in logs.
	Name() string
	// Probe reports the dimensions of data without a full decode.
	Probe(data []byte) (Info, error)
	// DecodeInto decodes data into dst using stride bytes per row.  layout
	// is LayoutRGBA or LayoutBGRA; dst holds at least stride*height bytes.
	DecodeInto(data []byte, dst []byte, stride int, layout ColorLayout) error
	// Encode compresses 8-bit 4-channel pixels.  quality is 0-100.
	Encode(pix []byte, width, height, stride int, quality float32, layout ColorLayout) (EncodedBuffer, error)
}

// EncodedBuffer is codec-owned output memory.  Callers copy Bytes() out and
// must call Free exactly once; the memory may be reused afterwards.
type EncodedBuffer interface {
	Bytes() []byte
	Free()
}

// ImageWrapper is the fixed host image-container contract.  One instance
// represents one image and is not safe for concurrent mutation.
type ImageWrapper interface {
	// SetCompressed replaces the current image with compressed bytes.
	SetCompressed(data []byte) error
	// SetRaw replaces the current image with raw pixels.  bytesPerRow 0
	// means tightly packed.
	SetRaw(data []byte, width, height int, layout ColorLayout, bitDepth, bytesPerRow int) error
	// GetRaw returns a copy of the pixels in exactly the requested format.
	GetRaw(layout ColorLayout, bitDepth int) ([]byte, error)
	// GetRawImage is the rich-container overload of GetRaw.
	GetRawImage(layout ColorLayout, bitDepth int) (*MipMapImage, error)
	// GetCompressed encodes the current raw pixels.  quality is 0-100.
	GetCompressed(quality int) ([]byte, error)

	Width() int
	Height() int
	BitDepth() int
	Format() ColorLayout

	CanSetRawFormat(layout ColorLayout, bitDepth int) bool
	SupportedRawFormat(requested RawFormat) RawFormat
}

// WrapperFactory creates a fresh, empty ImageWrapper.
type WrapperFactory func() ImageWrapper

// Decoder converts a non-WebP container into pixels the wrapper can accept
// through SetRaw.  Implementations live in adapters/decoder/.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader) (image.Image, error)
	// CanDecode reports whether this decoder handles the given format hint.
	CanDecode(format Format) bool
}

// Encoder serialises raw pixels to a non-WebP container.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality  int  // 1-100; 0 = use encoder default
	Lossless bool // PNG best compression
}

// StorageAdapter persists processed images and retrieves them later.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps names and formats to codecs and foreign-container adapters.
type Registry interface {
	CodecFor(name string) (Codec, bool)
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterCodec(c Codec)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
	Codecs() []string
}
