package encoder

import (
	"context"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/wrapper"
)

// WebP encodes an image.Image to WebP through a throwaway wrapper.  Pipelines
// encode through the job's own wrapper; this is for callers holding a plain
// Go image.
type WebP struct {
	Codec          core.Codec
	DefaultQuality int
}

func NewWebP(codec core.Codec, defaultQuality int) *WebP {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &WebP{Codec: codec, DefaultQuality: defaultQuality}
}

func (w *WebP) CanEncode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Encode(ctx context.Context, img image.Image, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "webp.encode", err)
	}
	if img == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "webp.encode", apperrors.ErrEmptyInput)
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = w.DefaultQuality
	}

	n, ok := img.(*image.NRGBA)
	if !ok || n.Rect.Min != (image.Point{}) {
		b := img.Bounds()
		n = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(n, n.Bounds(), img, b.Min, xdraw.Src)
	}

	wr := wrapper.New(w.Codec)
	if err := wr.SetRaw(n.Pix, n.Rect.Dx(), n.Rect.Dy(), core.LayoutRGBA, 8, n.Stride); err != nil {
		return nil, err
	}
	return wr.GetCompressed(quality)
}

var _ core.Encoder = (*WebP)(nil)
