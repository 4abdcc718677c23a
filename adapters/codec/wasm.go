package codec

import (
	"bytes"
	"image/color"

	"github.com/gen2brain/webp"
	pkgerrors "github.com/pkg/errors"

	"github.com/Skryldev/webpbridge/core"
	"github.com/Skryldev/webpbridge/utils"
)

// WASM runs libwebp compiled to WebAssembly via github.com/gen2brain/webp.
// It needs neither cgo nor a system library, and uses a system libwebp
// through purego when one is available.
type WASM struct {
	Lossless bool
	Method   int // 0 (fast) - 6 (slower, smaller)
}

// NewWASM returns a lossy WASM codec with the default method.
func NewWASM() *WASM { return &WASM{Method: 4} }

func (c *WASM) Name() string { return NameWASM }

func (c *WASM) Probe(data []byte) (core.Info, error) {
	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return core.Info{}, pkgerrors.Wrap(err, "wasm: decode config")
	}
	return core.Info{
		Width:    cfg.Width,
		Height:   cfg.Height,
		HasAlpha: cfg.ColorModel != color.YCbCrModel,
	}, nil
}

func (c *WASM) DecodeInto(data []byte, dst []byte, stride int, layout core.ColorLayout) error {
	m, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return pkgerrors.Wrap(err, "wasm: decode")
	}
	return drawInto(dst, stride, m, layout)
}

func (c *WASM) Encode(pix []byte, width, height, stride int, quality float32, layout core.ColorLayout) (core.EncodedBuffer, error) {
	src, err := nrgbaSource(pix, width, height, stride, layout)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "wasm: encode")
	}
	buf := utils.AcquireBuffer()
	opts := webp.Options{
		Quality:  int(quality),
		Lossless: c.Lossless,
		Method:   c.Method,
	}
	if err := webp.Encode(buf, src, opts); err != nil {
		utils.ReleaseBuffer(buf)
		return nil, pkgerrors.Wrap(err, "wasm: encode")
	}
	return NewPooledBuffer(buf), nil
}

var _ core.Codec = (*WASM)(nil)
