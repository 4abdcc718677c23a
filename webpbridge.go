// Package webpbridge exposes WebP images through a fixed image-wrapper
// contract and wires the wrappers, codecs and pipeline steps into a
// ready-to-use Processor.
package webpbridge

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/Skryldev/webpbridge/adapters/codec"
	"github.com/Skryldev/webpbridge/adapters/decoder"
	"github.com/Skryldev/webpbridge/adapters/encoder"
	"github.com/Skryldev/webpbridge/config"
	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/pipeline"
	"github.com/Skryldev/webpbridge/wrapper"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// startVips registers the libvips codec and decoders with reg and returns
// its shutdown func.  It is nil unless built with -tags vips.
var startVips func(cfg config.VipsConfig, reg core.Registry) func()

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Processor is the primary entry point.
type Processor struct {
	inner    *core.Processor
	reg      *core.DefaultRegistry
	codec    core.Codec
	shutdown func()
	cfg      config.Config
	load     core.Step

	stopOnce sync.Once
}

// New validates cfg and creates a fully wired Processor: every WebP codec is
// registered, cfg.Codec backs the wrappers, and JPEG/PNG adapters are
// registered for conversions.
func New(cfg config.Config) (*Processor, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "webpbridge.new", err)
	}

	reg := core.NewRegistry()
	reg.RegisterCodec(codec.NewLibWebP())
	reg.RegisterCodec(codec.NewNative())
	reg.RegisterCodec(codec.NewWASM())
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())

	var shutdown func()
	if cfg.Codec == config.CodecVips {
		if startVips == nil {
			return nil, apperrors.Fail(apperrors.CategoryConfig, "webpbridge.new", apperrors.ErrUnknownCodec,
				fmt.Errorf("codec %q needs a build with -tags vips", cfg.Codec))
		}
		shutdown = startVips(cfg.Vips, reg)
	}

	c, ok := reg.CodecFor(cfg.Codec)
	if !ok {
		return nil, apperrors.Fail(apperrors.CategoryConfig, "webpbridge.new", apperrors.ErrUnknownCodec,
			fmt.Errorf("codec %q", cfg.Codec))
	}
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP(c))
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.DefaultQuality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(c, cfg.DefaultQuality))

	return &Processor{
		inner:    core.New(cfg, reg, wrapper.Factory(c)),
		reg:      reg,
		codec:    c,
		shutdown: shutdown,
		cfg:      cfg,
		load:     &pipeline.LoadStep{Registry: reg},
	}, nil
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l core.Logger) { p.inner.SetLogger(l) }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m core.MetricsCollector) { p.inner.SetMetrics(m) }

// AddHook registers an observer for pipeline step events.
func (p *Processor) AddHook(h core.Hook) { p.inner.AddHook(h) }

// RegisterDecoder registers a custom decoder for the given format.
func (p *Processor) RegisterDecoder(f core.Format, d core.Decoder) { p.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (p *Processor) RegisterEncoder(f core.Format, e core.Encoder) { p.reg.RegisterEncoder(f, e) }

// Registry returns the processor's registry.
func (p *Processor) Registry() core.Registry { return p.reg }

// Codec returns the WebP codec backing this processor's wrappers.
func (p *Processor) Codec() core.Codec { return p.codec }

// NewWrapper returns a fresh, empty wrapper bound to the processor's codec.
func (p *Processor) NewWrapper() core.ImageWrapper { return p.inner.NewWrapper() }

// Start starts the background worker pool.
func (p *Processor) Start() { p.inner.Start() }

// Stop shuts down the worker pool and releases libvips when it was started.
// The Processor cannot be restarted afterwards.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.inner.Stop()
		if p.shutdown != nil {
			p.shutdown()
		}
	})
}

// Process loads src into a fresh wrapper, executes steps synchronously and
// returns the result.
func (p *Processor) Process(ctx context.Context, src core.Source, steps ...core.Step) (*core.ProcessingResult, error) {
	return p.inner.Process(ctx, src, p.withLoad(steps)...)
}

// Batch runs the same steps on multiple sources concurrently.
func (p *Processor) Batch(ctx context.Context, sources []core.Source, steps ...core.Step) ([]*core.ProcessingResult, []error) {
	return p.inner.Batch(ctx, sources, p.withLoad(steps)...)
}

// ProcessVariants runs base steps and then produces named variants in parallel.
func (p *Processor) ProcessVariants(
	ctx context.Context,
	src core.Source,
	baseSteps []core.Step,
	variants []core.VariantDefinition,
) (*core.ProcessingResult, error) {
	return p.inner.ProcessVariants(ctx, src, p.withLoad(baseSteps), variants)
}

// Submit enqueues an async job for the worker pool and returns its ID.
func (p *Processor) Submit(job core.Job) (string, error) {
	job.Steps = p.withLoad(job.Steps)
	return p.inner.Submit(job)
}

func (p *Processor) withLoad(steps []core.Step) []core.Step {
	return append([]core.Step{p.load}, steps...)
}

// NewPipeline creates a reusable, standalone pipeline.  The caller supplies
// ImageData with a wrapper (see NewImage).
func (p *Processor) NewPipeline(steps ...core.Step) *pipeline.Pipeline {
	pl := pipeline.New()
	pl.Use(steps...)
	pl.WithRetry(p.cfg.MaxRetries, p.cfg.RetryDelay)
	return pl
}

// NewImage returns ImageData for data with a fresh wrapper, ready for a
// standalone pipeline that starts with Load().
func (p *Processor) NewImage(name string, data []byte) *core.ImageData {
	return &core.ImageData{
		Name:         name,
		Input:        data,
		Wrapper:      p.NewWrapper(),
		OriginalSize: int64(len(data)),
	}
}

// Probe validates WebP data and reports its dimensions without decoding it.
func (p *Processor) Probe(data []byte) (core.Info, error) {
	w := p.NewWrapper()
	if err := w.SetCompressed(data); err != nil {
		return core.Info{}, err
	}
	info := core.Info{Width: w.Width(), Height: w.Height()}
	if a, ok := w.(interface{ HasAlpha() bool }); ok {
		info.HasAlpha = a.HasAlpha()
	}
	return info, nil
}

// Stats returns lightweight processing statistics.
func (p *Processor) Stats() (processed, errors int64) {
	return p.inner.ProcessedCount(), p.inner.ErrorCount()
}

// Load returns the step that hands the input bytes to the wrapper.  Process,
// Batch, ProcessVariants and Submit prepend it automatically.
func (p *Processor) Load() core.Step { return p.load }

// Encode returns the processor's encode step: adaptive compression when it is
// enabled in the config, a plain encode otherwise.
func (p *Processor) Encode() core.Step {
	ac := p.cfg.AdaptiveCompression
	def := core.ParseFormat(p.cfg.DefaultFormat)
	if ac.Enabled {
		return &pipeline.AdaptiveCompressStep{
			Registry:        p.reg,
			DefaultFormat:   def,
			TargetSizeBytes: ac.TargetSizeBytes,
			MinQuality:      ac.MinQuality,
			MaxQuality:      ac.MaxQuality,
			StepSize:        ac.StepSize,
		}
	}
	return &pipeline.EncodeStep{
		Registry:      p.reg,
		BaseOptions:   core.EncodeOptions{Quality: p.cfg.DefaultQuality},
		DefaultFormat: def,
	}
}

// ── Source constructors ────────────────────────────────────────────────────────

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromReaderWithMeta creates a Source with known size and content-type hints.
func FromReaderWithMeta(r io.Reader, size int64, contentType, name string) core.Source {
	return core.Source{Reader: r, Size: size, ContentType: contentType, Name: name}
}

// ── Step constructors ─────────────────────────────────────────────────────────

// Decode returns a step that forces the wrapper to decode to 8-bit RGBA.
func Decode() core.Step { return &pipeline.DecodeStep{} }

// DecodeAs returns a step that decodes to the given layout at 8 bits.
func DecodeAs(layout core.ColorLayout) core.Step { return &pipeline.DecodeStep{Layout: layout} }

// Resize returns a resize step.  Pass 0 for one axis to preserve aspect ratio.
func Resize(width, height int) core.Step { return &pipeline.ResizeStep{Width: width, Height: height} }

// Crop returns a crop step.
func Crop(x, y, width, height int) core.Step {
	return &pipeline.CropStep{X: x, Y: y, Width: width, Height: height}
}

// Thumbnail returns a square thumbnail step.
func Thumbnail(size int) core.Step { return &pipeline.ThumbnailStep{Size: size} }

// Quality stores the desired encode quality (0-100) for the next Encode step.
func Quality(q int) core.Step { return &pipeline.QualityStep{Quality: q} }

// ConvertFormat instructs subsequent steps to use the given output format.
func ConvertFormat(f core.Format) core.Step { return &pipeline.FormatStep{Format: f} }

// Grayscale returns a step that desaturates the image.
func Grayscale() core.Step { return &pipeline.GrayscaleStep{} }

// Watermark returns a step that composites mark at (x, y).
func Watermark(mark image.Image, x, y int) core.Step {
	return &pipeline.WatermarkStep{Watermark: mark, OffsetX: x, OffsetY: y}
}

// EncodeWith returns an encode step bound to the given registry and options.
func EncodeWith(reg core.Registry, opts core.EncodeOptions) core.Step {
	return &pipeline.EncodeStep{Registry: reg, BaseOptions: opts}
}

// AdaptiveCompress returns a step that iteratively reduces quality to hit a
// target size in bytes.
func AdaptiveCompress(reg core.Registry, targetBytes int64, minQ, maxQ int) core.Step {
	return &pipeline.AdaptiveCompressStep{
		Registry:        reg,
		TargetSizeBytes: targetBytes,
		MinQuality:      minQ,
		MaxQuality:      maxQ,
		StepSize:        5,
	}
}
