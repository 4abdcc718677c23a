package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/utils"
)

// DefaultQuality is used by encode steps when neither the image nor the step
// asks for a quality.
const DefaultQuality = 85

// ── Load ──────────────────────────────────────────────────────────────────────

// LoadStep hands img.Input to the wrapper.  WebP input goes in compressed and
// is only probed; PNG and JPEG are decoded through the registry and set as
// raw RGBA pixels.
type LoadStep struct {
	Registry core.Registry
}

func (s *LoadStep) Name() string { return "load" }

func (s *LoadStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Wrapper == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), fmt.Errorf("no image wrapper"))
	}
	if len(img.Input) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(), apperrors.ErrEmptyInput)
	}

	format := img.Format
	if format == "" || format == core.FormatUnknown {
		format = core.Format(utils.DetectFormat(img.Input))
	}

	out := *img
	out.Format = format
	switch format {
	case core.FormatWebP:
		if err := img.Wrapper.SetCompressed(img.Input); err != nil {
			return nil, err
		}
	default:
		var (
			dec core.Decoder
			ok  bool
		)
		if s.Registry != nil {
			dec, ok = s.Registry.DecoderFor(format)
		}
		if !ok {
			return nil, apperrors.Fail(apperrors.CategoryFormat, s.Name(), apperrors.ErrUnsupportedFormat,
				fmt.Errorf("input format %s", format))
		}
		m, err := dec.Decode(ctx, bytes.NewReader(img.Input))
		if err != nil {
			return nil, err
		}
		if err := store(img.Wrapper, m); err != nil {
			return nil, err
		}
		out.Meta.HasAlpha = hasAlpha(m)
	}

	out.Meta.Format = format
	out.Meta.SizeBytes = int64(len(img.Input))
	if out.OriginalSize == 0 {
		out.OriginalSize = int64(len(img.Input))
	}
	syncMeta(&out)
	return &out, nil
}

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep forces the wrapper's lazy decode.  Layout defaults to RGBA; a
// wrapper that already holds raw pixels is left alone unless Layout is set.
type DecodeStep struct {
	Layout core.ColorLayout
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Wrapper == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	layout := s.Layout
	if layout == "" {
		if img.Wrapper.Format() != core.LayoutInvalid {
			return img, nil
		}
		layout = core.LayoutRGBA
	}
	if _, err := img.Wrapper.GetRaw(layout, 8); err != nil {
		return nil, err
	}

	out := *img
	syncMeta(&out)
	return &out, nil
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep resizes the image to the given dimensions, preserving aspect ratio
// when one axis is 0.
type ResizeStep struct {
	Width, Height int
	// Resampler controls quality vs speed.  Defaults to draw.BiLinear.
	Resampler xdraw.Interpolator
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Wrapper == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if s.Width < 0 || s.Height < 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	srcW, srcH := img.Wrapper.Width(), img.Wrapper.Height()
	dstW, dstH := utils.ScaleDimensions(srcW, srcH, s.Width, s.Height)
	if dstW == srcW && dstH == srcH {
		return img, nil // nothing to do
	}
	if dstW <= 0 || dstH <= 0 || dstW > core.MaxDimension || dstH > core.MaxDimension {
		return nil, apperrors.Fail(apperrors.CategoryInput, s.Name(), apperrors.ErrInvalidDimensions,
			fmt.Errorf("%dx%d outside 1..%d", dstW, dstH, core.MaxDimension))
	}

	src, err := pixels(img.Wrapper)
	if err != nil {
		return nil, err
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.BiLinear
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	if err := store(img.Wrapper, dst); err != nil {
		return nil, err
	}
	out := *img
	syncMeta(&out)
	return &out, nil
}

// ── Crop ──────────────────────────────────────────────────────────────────────

// CropStep crops a rectangle from the image.
type CropStep struct {
	X, Y, Width, Height int
}

func (s *CropStep) Name() string { return "crop" }

func (s *CropStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Wrapper == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if s.Width <= 0 || s.Height <= 0 || s.Width > core.MaxDimension || s.Height > core.MaxDimension {
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(), apperrors.ErrInvalidDimensions)
	}

	rect := image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
	bounds := image.Rect(0, 0, img.Wrapper.Width(), img.Wrapper.Height())
	if !rect.In(bounds) {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("crop rect %v exceeds image bounds %v", rect, bounds))
	}

	src, err := pixels(img.Wrapper)
	if err != nil {
		return nil, err
	}
	dst := image.NewNRGBA(image.Rect(0, 0, s.Width, s.Height))
	xdraw.Draw(dst, dst.Bounds(), src, rect.Min, xdraw.Src)

	if err := store(img.Wrapper, dst); err != nil {
		return nil, err
	}
	out := *img
	syncMeta(&out)
	return &out, nil
}

// ── Thumbnail ────────────────────────────────────────────────────────────────

// ThumbnailStep is a convenience step that combines Resize with square cropping.
type ThumbnailStep struct {
	Size int // square size in pixels
}

func (s *ThumbnailStep) Name() string { return "thumbnail" }

func (s *ThumbnailStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Wrapper == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if s.Size <= 0 || s.Size > core.MaxDimension {
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(), apperrors.ErrInvalidDimensions)
	}

	// Step 1: resize so smallest dimension == s.Size.
	w, h := img.Wrapper.Width(), img.Wrapper.Height()
	if w == 0 || h == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	scale := float64(s.Size) / float64(min(w, h))
	rw := max(s.Size, int(math.Round(float64(w)*scale)))
	rh := max(s.Size, int(math.Round(float64(h)*scale)))

	resized, err := (&ResizeStep{Width: rw, Height: rh, Resampler: xdraw.CatmullRom}).Execute(ctx, img)
	if err != nil {
		return nil, err
	}

	// Step 2: centre-crop to square.
	ox := (resized.Wrapper.Width() - s.Size) / 2
	oy := (resized.Wrapper.Height() - s.Size) / 2
	return (&CropStep{X: ox, Y: oy, Width: s.Size, Height: s.Size}).Execute(ctx, resized)
}

// ── Grayscale ─────────────────────────────────────────────────────────────────

// GrayscaleStep desaturates the image.  The result stays 8-bit RGBA with
// equal colour channels and the original alpha, so it can still be encoded
// as WebP.
type GrayscaleStep struct{}

func (s *GrayscaleStep) Name() string { return "grayscale" }

func (s *GrayscaleStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Wrapper == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	src, err := pixels(img.Wrapper)
	if err != nil {
		return nil, err
	}
	// pixels hands out a copy, so it is safe to edit in place.
	dst := toNRGBA(src)
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		p := dst.Pix[i : i+4 : i+4]
		y := color.GrayModel.Convert(color.RGBA{R: p[0], G: p[1], B: p[2], A: 0xFF}).(color.Gray).Y
		p[0], p[1], p[2] = y, y, y
	}

	if err := store(img.Wrapper, dst); err != nil {
		return nil, err
	}
	out := *img
	syncMeta(&out)
	return &out, nil
}

// ── Watermark ─────────────────────────────────────────────────────────────────

// WatermarkStep composites a watermark image at the given offset.
type WatermarkStep struct {
	Watermark image.Image
	OffsetX   int
	OffsetY   int
}

func (s *WatermarkStep) Name() string { return "watermark" }

func (s *WatermarkStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Wrapper == nil || s.Watermark == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	src, err := pixels(img.Wrapper)
	if err != nil {
		return nil, err
	}
	dst := image.NewNRGBA(src.Bounds())
	xdraw.Draw(dst, dst.Bounds(), src, image.Point{}, xdraw.Src)
	offset := image.Point{X: s.OffsetX, Y: s.OffsetY}
	xdraw.Draw(dst, s.Watermark.Bounds().Sub(s.Watermark.Bounds().Min).Add(offset),
		s.Watermark, s.Watermark.Bounds().Min, xdraw.Over)

	if err := store(img.Wrapper, dst); err != nil {
		return nil, err
	}
	out := *img
	syncMeta(&out)
	return &out, nil
}

// ── Format / Quality ──────────────────────────────────────────────────────────

// FormatStep selects the output container for the subsequent encode step.
type FormatStep struct {
	Format core.Format
}

func (s *FormatStep) Name() string { return "format" }

func (s *FormatStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.OutputFormat = s.Format
	return &out, nil
}

// QualityStep records the desired encode quality.  The actual quality is
// consumed by EncodeStep.
type QualityStep struct {
	Quality int
}

func (s *QualityStep) Name() string { return "quality" }

func (s *QualityStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if s.Quality < 0 || s.Quality > 100 {
		return nil, apperrors.Fail(apperrors.CategoryInput, s.Name(), apperrors.ErrInvalidArguments,
			fmt.Errorf("quality %d outside 0-100", s.Quality))
	}
	out := *img
	out.Quality = s.Quality
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the wrapper's image.  WebP output goes through the
// wrapper's own GetCompressed; PNG and JPEG use the registry encoders.
type EncodeStep struct {
	Registry    core.Registry
	BaseOptions core.EncodeOptions
	// DefaultFormat applies when no earlier step chose a format.  WebP when
	// unset.
	DefaultFormat core.Format
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Wrapper == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(), apperrors.ErrEmptyInput)
	}

	target := outputFormat(img, s.DefaultFormat)
	opts := s.BaseOptions
	if img.Quality > 0 {
		opts.Quality = img.Quality
	}
	if opts.Quality <= 0 {
		opts.Quality = DefaultQuality
	}

	data, err := encodeAs(ctx, s.Registry, img.Wrapper, target, opts)
	if err != nil {
		return nil, err
	}

	out := *img
	out.Output = data
	out.OutputFormat = target
	out.Meta.SizeBytes = int64(len(data))
	syncMeta(&out)
	return &out, nil
}

func encodeAs(ctx context.Context, reg core.Registry, w core.ImageWrapper, target core.Format, opts core.EncodeOptions) ([]byte, error) {
	if target == core.FormatWebP {
		if err := ensureRaw(w); err != nil {
			return nil, err
		}
		return w.GetCompressed(opts.Quality)
	}

	var (
		enc core.Encoder
		ok  bool
	)
	if reg != nil {
		enc, ok = reg.EncoderFor(target)
	}
	if !ok {
		return nil, apperrors.Fail(apperrors.CategoryEncode, "encode", apperrors.ErrUnsupportedFormat,
			fmt.Errorf("output format %s", target))
	}
	m, err := pixels(w)
	if err != nil {
		return nil, err
	}
	return enc.Encode(ctx, m, opts)
}

func outputFormat(img *core.ImageData, fallback core.Format) core.Format {
	for _, f := range []core.Format{img.OutputFormat, fallback} {
		if f != "" && f != core.FormatUnknown {
			return f
		}
	}
	return core.FormatWebP
}

// ── AdaptiveCompress ──────────────────────────────────────────────────────────

// AdaptiveCompressStep iteratively lowers WebP/JPEG quality to hit a target
// file size.  PNG output is left to EncodeStep.
type AdaptiveCompressStep struct {
	Registry        core.Registry
	TargetSizeBytes int64
	MinQuality      int
	MaxQuality      int
	StepSize        int
	DefaultFormat   core.Format
}

func (s *AdaptiveCompressStep) Name() string { return "adaptive_compress" }

func (s *AdaptiveCompressStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if s.TargetSizeBytes <= 0 || img.Wrapper == nil {
		return img, nil
	}
	target := outputFormat(img, s.DefaultFormat)
	if target == core.FormatPNG {
		return img, nil // lossless; quality has no effect
	}

	quality := s.MaxQuality
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	minQ := s.MinQuality
	if minQ <= 0 || minQ > quality {
		minQ = quality
	}
	step := s.StepSize
	if step <= 0 {
		step = 5
	}

	var (
		best  []byte
		bestQ int
	)
	for ; quality >= minQ; quality -= step {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
		}
		data, err := encodeAs(ctx, s.Registry, img.Wrapper, target, core.EncodeOptions{Quality: quality})
		if err != nil {
			return nil, err
		}
		best, bestQ = data, quality
		if int64(len(data)) <= s.TargetSizeBytes {
			break
		}
	}

	out := *img
	out.Output = best
	out.OutputFormat = target
	out.Quality = bestQ
	out.Meta.SizeBytes = int64(len(best))
	syncMeta(&out)
	return &out, nil
}

// compile-time interface checks
var (
	_ core.Step = (*LoadStep)(nil)
	_ core.Step = (*DecodeStep)(nil)
	_ core.Step = (*ResizeStep)(nil)
	_ core.Step = (*CropStep)(nil)
	_ core.Step = (*ThumbnailStep)(nil)
	_ core.Step = (*GrayscaleStep)(nil)
	_ core.Step = (*WatermarkStep)(nil)
	_ core.Step = (*FormatStep)(nil)
	_ core.Step = (*QualityStep)(nil)
	_ core.Step = (*EncodeStep)(nil)
	_ core.Step = (*AdaptiveCompressStep)(nil)
)
