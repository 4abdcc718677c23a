// Package decoder provides format-specific image decoders that feed the
// wrapper's raw-pixel path.
package decoder

import (
	"context"
	"image"
	"image/jpeg"
	"io"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
)

// JPEG decodes JPEG images using the standard library.
type JPEG struct{}

// NewJPEG returns an initialised JPEG decoder.
func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanDecode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Decode(ctx context.Context, r io.Reader) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}

	img, err := jpeg.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	return img, nil
}

var _ core.Decoder = (*JPEG)(nil)
