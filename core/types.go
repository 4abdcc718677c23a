package core

import (
	"context"
	"io"
	"time"
)

// Format identifies an image container.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// ColorLayout is the channel order of a raw pixel buffer.
type ColorLayout string

const (
	LayoutInvalid ColorLayout = "invalid"
	LayoutRGBA    ColorLayout = "rgba"
	LayoutBGRA    ColorLayout = "bgra"
	LayoutGray    ColorLayout = "gray"
	LayoutRGBAF   ColorLayout = "rgbaf" // 32-bit float RGBA
)

// RawFormat enumerates the host's raw image formats.  Several of them have no
// ColorLayout counterpart; the bridge maps those to RawInvalid.
type RawFormat string

const (
	RawInvalid RawFormat = "invalid"
	RawG8      RawFormat = "G8"
	RawBGRA8   RawFormat = "BGRA8"
	RawBGRE8   RawFormat = "BGRE8"
	RawRGBA16  RawFormat = "RGBA16"
	RawRGBA16F RawFormat = "RGBA16F"
	RawRGBA32F RawFormat = "RGBA32F"
	RawG16     RawFormat = "G16"
	RawR16F    RawFormat = "R16F"
	RawR32F    RawFormat = "R32F"
)

// GammaSpace describes how pixel values in a MipMapImage are encoded.
type GammaSpace string

const (
	GammaLinear GammaSpace = "linear"
	GammaSRGB   GammaSpace = "srgb"
)

// Info is what a codec reports about compressed data without decoding it.
type Info struct {
	Width    int
	Height   int
	HasAlpha bool
}

// MipInfo locates one mip level inside MipMapImage.RawData.
type MipInfo struct {
	Width  int
	Height int
	Offset int
	Size   int
}

// MipMapImage is the rich raw-image container: a single buffer holding one or
// more mip levels plus the metadata needed to address them.
type MipMapImage struct {
	Width     int
	Height    int
	Format    RawFormat
	Gamma     GammaSpace
	RawData   []byte
	SubImages []MipInfo
}

// NumMips returns the number of mip levels stored in the image.
func (m *MipMapImage) NumMips() int { return len(m.SubImages) }

// Mip returns the pixel bytes of level i.
func (m *MipMapImage) Mip(i int) []byte {
	if i < 0 || i >= len(m.SubImages) {
		return nil
	}
	mi := m.SubImages[i]
	return m.RawData[mi.Offset : mi.Offset+mi.Size]
}

// Metadata holds image information gathered while a pipeline runs.
type Metadata struct {
	Width     int
	Height    int
	Format    Format
	Layout    ColorLayout
	BitDepth  int
	HasAlpha  bool
	SizeBytes int64
}

// ImageData is the per-image state passed through a pipeline.  Wrapper is
// exclusively owned by the job that created it; steps must not hand it to
// another goroutine.
type ImageData struct {
	Name string

	// Input bytes and the container they were sniffed as.
	Input  []byte
	Format Format

	// Wrapper holds the current image (compressed or raw).
	Wrapper ImageWrapper

	// Encoded output, populated by encode steps.
	Output       []byte
	OutputFormat Format
	Quality      int // 0 = encoder default

	Meta Metadata

	// Size of the original raw input for adaptive compression decisions.
	OriginalSize int64
}

// ProcessingResult is returned to the caller after the full pipeline completes.
type ProcessingResult struct {
	Primary  *ImageData
	Variants map[string]*ImageData // keyed by variant name

	// Observability.
	ProcessingTime time.Duration
	StepTimings    map[string]time.Duration
}

// Source abstracts where raw bytes come from (reader, file path, URL, etc.).
type Source struct {
	Reader      io.Reader
	ContentType string // optional hint
	Name        string // optional logical name / filename
	Size        int64  // -1 if unknown
}

// Job encapsulates a single unit of work for the worker pool.
type Job struct {
	ID      string
	Ctx     context.Context //nolint:containedctx // intentional for async jobs
	Source  Source
	Steps   []Step
	Options JobOptions
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobOptions controls per-job behaviour.
type JobOptions struct {
	VariantDefs []VariantDefinition
}

// VariantDefinition instructs the processor to produce a named output variant.
type VariantDefinition struct {
	Name  string
	Steps []Step
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID  string
	Result *ProcessingResult
	Err    error
}

// Step is the fundamental pipeline building block.  Steps may mutate
// img.Wrapper; a Step value itself must be safe for concurrent use across
// goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}

// StorageKey uniquely identifies a stored image.
type StorageKey struct {
	Bucket string
	Path   string
}
