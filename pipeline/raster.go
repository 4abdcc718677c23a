package pipeline

import (
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/webpbridge/core"
	"github.com/Skryldev/webpbridge/utils"
)

// Steps that need to resample or composite pull the wrapper's pixels out as
// an image.Image, work on that, and push the result back with SetRaw.  The
// wrapper stays the single owner of the current image between steps.

// pixels returns the wrapper's current image as a straight-alpha NRGBA (or
// Gray for 8-bit grayscale raw input), decoding it first when needed.
func pixels(w core.ImageWrapper) (image.Image, error) {
	width, height := w.Width(), w.Height()
	rect := image.Rect(0, 0, width, height)

	switch w.Format() {
	case core.LayoutGray:
		pix, err := w.GetRaw(core.LayoutGray, 8)
		if err != nil {
			return nil, err
		}
		return &image.Gray{Pix: pix, Stride: width, Rect: rect}, nil
	case core.LayoutBGRA:
		pix, err := w.GetRaw(core.LayoutBGRA, 8)
		if err != nil {
			return nil, err
		}
		utils.SwapRB(pix, width*4, width*4, height)
		return &image.NRGBA{Pix: pix, Stride: width * 4, Rect: rect}, nil
	}

	pix, err := w.GetRaw(core.LayoutRGBA, 8)
	if err != nil {
		return nil, err
	}
	return &image.NRGBA{Pix: pix, Stride: width * 4, Rect: rect}, nil
}

// store replaces the wrapper's image with m as 8-bit RGBA.
func store(w core.ImageWrapper, m image.Image) error {
	n := toNRGBA(m)
	return w.SetRaw(n.Pix, n.Rect.Dx(), n.Rect.Dy(), core.LayoutRGBA, 8, n.Stride)
}

// toNRGBA returns m as an NRGBA anchored at the origin, copying only when m
// is some other image type or offset.
func toNRGBA(m image.Image) *image.NRGBA {
	if n, ok := m.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := m.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(n, n.Bounds(), m, b.Min, xdraw.Src)
	return n
}

// ensureRaw makes sure the wrapper holds decoded pixels that GetCompressed
// can encode.
func ensureRaw(w core.ImageWrapper) error {
	switch w.Format() {
	case core.LayoutRGBA, core.LayoutBGRA:
		return nil
	case core.LayoutGray:
		m, err := pixels(w)
		if err != nil {
			return err
		}
		return store(w, m)
	}
	_, err := w.GetRaw(core.LayoutRGBA, 8)
	return err
}

// syncMeta copies the wrapper's view of the image into img.Meta.
func syncMeta(img *core.ImageData) {
	if img.Wrapper == nil {
		return
	}
	img.Meta.Width = img.Wrapper.Width()
	img.Meta.Height = img.Wrapper.Height()
	img.Meta.Layout = img.Wrapper.Format()
	img.Meta.BitDepth = img.Wrapper.BitDepth()
}

func hasAlpha(m image.Image) bool {
	if o, ok := m.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
