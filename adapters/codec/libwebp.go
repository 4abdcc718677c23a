package codec

import (
	"image"

	"github.com/chai2010/webp"
	pkgerrors "github.com/pkg/errors"

	"github.com/Skryldev/webpbridge/core"
	"github.com/Skryldev/webpbridge/utils"
)

// LibWebP is the libwebp codec, linked through cgo by github.com/chai2010/webp.
// It supports lossy and lossless input and lossy output.
type LibWebP struct {
	// Lossless switches Encode to libwebp's lossless mode; quality is then
	// ignored.
	Lossless bool
}

// NewLibWebP returns a lossy libwebp codec.
func NewLibWebP() *LibWebP { return &LibWebP{} }

func (c *LibWebP) Name() string { return NameLibWebP }

func (c *LibWebP) Probe(data []byte) (core.Info, error) {
	w, h, hasAlpha, err := webp.GetInfo(data)
	if err != nil {
		return core.Info{}, pkgerrors.Wrap(err, "libwebp: get info")
	}
	return core.Info{Width: w, Height: h, HasAlpha: hasAlpha}, nil
}

func (c *LibWebP) DecodeInto(data []byte, dst []byte, stride int, layout core.ColorLayout) error {
	m, err := webp.DecodeRGBA(data)
	if err != nil {
		return pkgerrors.Wrap(err, "libwebp: decode rgba")
	}
	return copyInto(dst, stride, m.Pix, m.Stride, m.Rect.Dx(), m.Rect.Dy(), layout)
}

func (c *LibWebP) Encode(pix []byte, width, height, stride int, quality float32, layout core.ColorLayout) (core.EncodedBuffer, error) {
	rgba, err := rgbaSource(pix, width, height, stride, layout)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "libwebp: encode")
	}
	// libwebp reads Pix verbatim, so the straight-alpha bytes go through an
	// RGBA view without premultiplication.
	src := &image.RGBA{Pix: rgba, Stride: stride, Rect: image.Rect(0, 0, width, height)}

	buf := utils.AcquireBuffer()
	opts := &webp.Options{Lossless: c.Lossless, Quality: quality}
	if err := webp.Encode(buf, src, opts); err != nil {
		utils.ReleaseBuffer(buf)
		return nil, pkgerrors.Wrap(err, "libwebp: encode")
	}
	return NewPooledBuffer(buf), nil
}

var _ core.Codec = (*LibWebP)(nil)
