package codec

import (
	"bytes"
	"image/color"

	"github.com/HugoSmits86/nativewebp"
	pkgerrors "github.com/pkg/errors"
	xwebp "golang.org/x/image/webp"

	"github.com/Skryldev/webpbridge/core"
	"github.com/Skryldev/webpbridge/utils"
)

// Native is a CGO-free codec: golang.org/x/image/webp decodes and
// github.com/HugoSmits86/nativewebp encodes.  The encoder is lossless only,
// so quality has no effect.
type Native struct{}

// NewNative returns the pure-Go codec.
func NewNative() *Native { return &Native{} }

func (c *Native) Name() string { return NameNative }

func (c *Native) Probe(data []byte) (core.Info, error) {
	cfg, err := xwebp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return core.Info{}, pkgerrors.Wrap(err, "native: decode config")
	}
	return core.Info{
		Width:    cfg.Width,
		Height:   cfg.Height,
		HasAlpha: cfg.ColorModel != color.YCbCrModel,
	}, nil
}

func (c *Native) DecodeInto(data []byte, dst []byte, stride int, layout core.ColorLayout) error {
	m, err := xwebp.Decode(bytes.NewReader(data))
	if err != nil {
		return pkgerrors.Wrap(err, "native: decode")
	}
	return drawInto(dst, stride, m, layout)
}

func (c *Native) Encode(pix []byte, width, height, stride int, _ float32, layout core.ColorLayout) (core.EncodedBuffer, error) {
	src, err := nrgbaSource(pix, width, height, stride, layout)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "native: encode")
	}
	buf := utils.AcquireBuffer()
	if err := nativewebp.Encode(buf, src, nil); err != nil {
		utils.ReleaseBuffer(buf)
		return nil, pkgerrors.Wrap(err, "native: encode")
	}
	return NewPooledBuffer(buf), nil
}

var _ core.Codec = (*Native)(nil)
