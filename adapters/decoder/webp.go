package decoder

import (
	"context"
	"image"
	"io"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/utils"
	"github.com/Skryldev/webpbridge/wrapper"
)

// WebP decodes WebP into an image.Image through a throwaway wrapper, for
// callers that want a Go image rather than the wrapper itself (watermarks,
// previews).
type WebP struct {
	Codec core.Codec
}

func NewWebP(codec core.Codec) *WebP { return &WebP{Codec: codec} }

func (w *WebP) CanDecode(format core.Format) bool {
	return format == core.FormatWebP
}

func (w *WebP) Decode(ctx context.Context, r io.Reader) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}

	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.drain", err)
	}
	defer utils.ReleaseBuffer(buf)

	wr := wrapper.New(w.Codec)
	if err := wr.SetCompressed(buf.Bytes()); err != nil {
		return nil, err
	}
	pix, err := wr.GetRaw(core.LayoutRGBA, 8)
	if err != nil {
		return nil, err
	}
	return &image.NRGBA{
		Pix:    pix,
		Stride: wr.Width() * 4,
		Rect:   image.Rect(0, 0, wr.Width(), wr.Height()),
	}, nil
}

var _ core.Decoder = (*WebP)(nil)
