package wrapper

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
)

// GenerateMips appends downscaled levels to a single-mip image returned by
// GetRawImage, halving each axis per level until 1x1 or until the image holds
// levels mips.  levels <= 0 builds the full chain.
func GenerateMips(img *core.MipMapImage, levels int) error {
	const op = "webp.generate_mips"
	if img == nil || img.NumMips() != 1 {
		return apperrors.Fail(apperrors.CategoryInput, op, apperrors.ErrInvalidArguments,
			fmt.Errorf("need exactly one base mip"))
	}
	if img.Format != core.RawBGRA8 && img.Format != core.RawG8 {
		return apperrors.Fail(apperrors.CategoryFormat, op, apperrors.ErrUnsupportedSource,
			fmt.Errorf("raw format %s", img.Format))
	}

	base := mipImage(img.Format, img.Mip(0), img.Width, img.Height)
	w, h := img.Width, img.Height
	for img.NumMips() != levels && (w > 1 || h > 1) {
		w, h = max(w/2, 1), max(h/2, 1)
		scaled := resize.Resize(uint(w), uint(h), base, resize.Lanczos3)

		level := mipImage(img.Format, nil, w, h)
		xdraw.Draw(level, level.Bounds(), scaled, scaled.Bounds().Min, xdraw.Src)
		pix := mipPix(level)

		img.SubImages = append(img.SubImages, core.MipInfo{
			Width:  w,
			Height: h,
			Offset: len(img.RawData),
			Size:   len(pix),
		})
		img.RawData = append(img.RawData, pix...)
	}
	return nil
}

// mipImage views pix as an image so it can be resampled.  BGRA bytes are
// carried in an RGBA image; every channel is filtered independently so the
// order does not matter.  A nil pix allocates a fresh image.
func mipImage(format core.RawFormat, pix []byte, w, h int) xdraw.Image {
	rect := image.Rect(0, 0, w, h)
	if format == core.RawG8 {
		if pix == nil {
			return image.NewGray(rect)
		}
		return &image.Gray{Pix: pix, Stride: w, Rect: rect}
	}
	if pix == nil {
		return image.NewRGBA(rect)
	}
	return &image.RGBA{Pix: pix, Stride: w * 4, Rect: rect}
}

func mipPix(img xdraw.Image) []byte {
	switch m := img.(type) {
	case *image.Gray:
		return m.Pix
	case *image.RGBA:
		return m.Pix
	}
	return nil
}
