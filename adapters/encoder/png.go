package encoder

import (
	"bytes"
	"context"
	"image"
	"image/png"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
)

// PNG encodes images to PNG format.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Encode(ctx context.Context, img image.Image, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	if img == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "png.encode", apperrors.ErrEmptyInput)
	}

	enc := &png.Encoder{CompressionLevel: png.DefaultCompression}
	if opts.Lossless {
		enc.CompressionLevel = png.BestCompression
	}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	return buf.Bytes(), nil
}

var _ core.Encoder = (*PNG)(nil)
