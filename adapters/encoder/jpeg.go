// Package encoder provides format-specific image encoders.
package encoder

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
)

// JPEG encodes images to JPEG format.  Alpha is dropped.
type JPEG struct {
	DefaultQuality int // used when EncodeOptions.Quality == 0
}

func NewJPEG(defaultQuality int) *JPEG {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &JPEG{DefaultQuality: defaultQuality}
}

func (j *JPEG) CanEncode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Encode(ctx context.Context, img image.Image, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	if img == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "jpeg.encode", apperrors.ErrEmptyInput)
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = j.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	return buf.Bytes(), nil
}

var _ core.Encoder = (*JPEG)(nil)
