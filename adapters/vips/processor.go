package vips

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"
	pkgerrors "github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/utils"
)

// Name is the registry name of the libvips codec.
const Name = "vips"

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize    int
	MaxWorkers      int
	ReportLeaks     bool
	Lossless        bool
	ReductionEffort int // 0-6
}

// Backend is a libvips-powered WebP codec and PNG/JPEG decoder.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Codec ────────────────────────────────────────────────────────────────────

func (b *Backend) Name() string { return Name }

func (b *Backend) Probe(data []byte) (core.Info, error) {
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return core.Info{}, pkgerrors.Wrap(err, "vips: load")
	}
	defer ref.Close()
	if ref.Format() != govips.ImageTypeWEBP {
		return core.Info{}, fmt.Errorf("vips: loaded as image type %d, not webp", ref.Format())
	}
	return core.Info{Width: ref.Width(), Height: ref.Height(), HasAlpha: ref.HasAlpha()}, nil
}

func (b *Backend) DecodeInto(data []byte, dst []byte, stride int, layout core.ColorLayout) error {
	m, err := b.toImage(data)
	if err != nil {
		return err
	}
	return drawInto(dst, stride, m, layout)
}

func (b *Backend) Encode(pix []byte, width, height, stride int, quality float32, layout core.ColorLayout) (core.EncodedBuffer, error) {
	src, err := nrgba(pix, width, height, stride, layout)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "vips: encode")
	}

	// libvips only loads containers, so the pixels travel as a fast PNG.
	staging := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(staging)
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(staging, src); err != nil {
		return nil, pkgerrors.Wrap(err, "vips: stage png")
	}

	ref, err := govips.NewImageFromBuffer(staging.Bytes())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "vips: load staged png")
	}

	ep := govips.NewWebpExportParams()
	ep.Quality = int(quality)
	ep.Lossless = b.cfg.Lossless
	ep.StripMetadata = true
	if b.cfg.ReductionEffort > 0 {
		ep.ReductionEffort = b.cfg.ReductionEffort
	}
	out, _, err := ref.ExportWebp(ep)
	if err != nil {
		ref.Close()
		return nil, pkgerrors.Wrap(err, "vips: export webp")
	}
	return &exportBuffer{data: out, ref: ref}, nil
}

// exportBuffer keeps the source image alive until the caller is done with
// the exported bytes.
type exportBuffer struct {
	data []byte
	ref  *govips.ImageRef
}

func (e *exportBuffer) Bytes() []byte { return e.data }

func (e *exportBuffer) Free() {
	if e.ref != nil {
		e.ref.Close()
		e.ref = nil
	}
	e.data = nil
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG:
		return true
	}
	return false
}

// Decode loads a PNG or JPEG through libvips for the wrapper's SetRaw path.
func (b *Backend) Decode(ctx context.Context, r io.Reader) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}

	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.drain", err)
	}
	defer utils.ReleaseBuffer(buf)

	m, err := b.toImage(buf.Bytes())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	return m, nil
}

// toImage loads any container libvips understands and hands it back as a Go
// image through a PNG export.
func (b *Backend) toImage(data []byte) (image.Image, error) {
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "vips: load")
	}
	defer ref.Close()

	out, _, err := ref.ExportPng(govips.NewPngExportParams())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "vips: export png")
	}
	m, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "vips: read png")
	}
	return m, nil
}

// ─── VipsThumbnailStep ────────────────────────────────────────────────────────

// VipsThumbnailStep generates a square WebP thumbnail using vips_thumbnail().
// Operates directly on the input bytes and replaces the wrapper's image with
// the compressed thumbnail, so no separate decode step is required.
type VipsThumbnailStep struct {
	Size    int
	Quality int
}

func (s *VipsThumbnailStep) Name() string { return "vips.thumbnail" }

func (s *VipsThumbnailStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if len(img.Input) == 0 || img.Wrapper == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	ref, err := govips.NewThumbnailFromBuffer(img.Input, s.Size, s.Size, govips.InterestingCentre)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	defer ref.Close()

	ep := govips.NewWebpExportParams()
	if s.Quality > 0 {
		ep.Quality = s.Quality
	}
	thumb, _, err := ref.ExportWebp(ep)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if err := img.Wrapper.SetCompressed(thumb); err != nil {
		return nil, err
	}

	out := *img
	out.Format = core.FormatWebP
	out.Meta.Width = img.Wrapper.Width()
	out.Meta.Height = img.Wrapper.Height()
	out.Meta.Format = core.FormatWebP
	out.Meta.Layout = img.Wrapper.Format()
	out.Meta.BitDepth = img.Wrapper.BitDepth()
	return &out, nil
}

// ─── RegisterVipsBackend ──────────────────────────────────────────────────────

// RegisterVipsBackend adds the libvips codec and replaces the Go stdlib
// PNG/JPEG decoders with libvips.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	reg.RegisterCodec(b)
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG} {
		reg.RegisterDecoder(f, b)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func drawInto(dst []byte, stride int, src image.Image, layout core.ColorLayout) error {
	if layout != core.LayoutRGBA && layout != core.LayoutBGRA {
		return fmt.Errorf("vips: layout %s", layout)
	}
	r := src.Bounds()
	w, h := r.Dx(), r.Dy()
	if stride < w*4 || len(dst) < stride*(h-1)+w*4 {
		return fmt.Errorf("vips: destination too small for %dx%d", w, h)
	}
	view := &image.NRGBA{Pix: dst, Stride: stride, Rect: image.Rect(0, 0, w, h)}
	xdraw.Draw(view, view.Bounds(), src, r.Min, xdraw.Src)
	if layout == core.LayoutBGRA {
		utils.SwapRB(dst, w*4, stride, h)
	}
	return nil
}

func nrgba(pix []byte, w, h, stride int, layout core.ColorLayout) (*image.NRGBA, error) {
	if layout != core.LayoutRGBA && layout != core.LayoutBGRA {
		return nil, fmt.Errorf("layout %s", layout)
	}
	if w <= 0 || h <= 0 || stride < w*4 || len(pix) < stride*(h-1)+w*4 {
		return nil, fmt.Errorf("invalid buffer for %dx%d stride %d", w, h, stride)
	}
	if layout == core.LayoutBGRA {
		pix = utils.CloneBytes(pix)
		utils.SwapRB(pix, w*4, stride, h)
	}
	return &image.NRGBA{Pix: pix, Stride: stride, Rect: image.Rect(0, 0, w, h)}, nil
}

// compile-time interface checks
var _ core.Codec = (*Backend)(nil)
var _ core.Decoder = (*Backend)(nil)
var _ core.Step = (*VipsThumbnailStep)(nil)
