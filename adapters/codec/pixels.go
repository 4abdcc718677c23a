// Package codec provides core.Codec implementations for WebP.
package codec

import (
	"bytes"
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/webpbridge/core"
	"github.com/Skryldev/webpbridge/utils"
)

// Registered codec names.
const (
	NameLibWebP = "libwebp"
	NameNative  = "native"
	NameWASM    = "wasm"
)

// PooledBuffer is an EncodedBuffer backed by the shared utils buffer pool.
// Free hands the memory back to the pool, so Bytes must be copied first.
type PooledBuffer struct {
	buf *bytes.Buffer
}

// NewPooledBuffer takes ownership of buf.
func NewPooledBuffer(buf *bytes.Buffer) *PooledBuffer { return &PooledBuffer{buf: buf} }

func (p *PooledBuffer) Bytes() []byte {
	if p.buf == nil {
		return nil
	}
	return p.buf.Bytes()
}

func (p *PooledBuffer) Free() {
	if p.buf == nil {
		return
	}
	utils.ReleaseBuffer(p.buf)
	p.buf = nil
}

func checkLayout(layout core.ColorLayout) error {
	if layout != core.LayoutRGBA && layout != core.LayoutBGRA {
		return fmt.Errorf("layout %s is not a 4-channel 8-bit layout", layout)
	}
	return nil
}

// checkDst verifies that dst can hold h rows of w pixels at stride.
func checkDst(dst []byte, stride, w, h int) error {
	if stride < w*4 {
		return fmt.Errorf("stride %d shorter than %d pixels", stride, w)
	}
	if need := stride*(h-1) + w*4; len(dst) < need {
		return fmt.Errorf("destination holds %d bytes, need %d", len(dst), need)
	}
	return nil
}

// drawInto renders src into dst as straight-alpha RGBA or BGRA.
func drawInto(dst []byte, stride int, src image.Image, layout core.ColorLayout) error {
	if err := checkLayout(layout); err != nil {
		return err
	}
	b := src.Bounds()
	if err := checkDst(dst, stride, b.Dx(), b.Dy()); err != nil {
		return err
	}
	view := &image.NRGBA{Pix: dst, Stride: stride, Rect: image.Rect(0, 0, b.Dx(), b.Dy())}
	xdraw.Draw(view, view.Bounds(), src, b.Min, xdraw.Src)
	if layout == core.LayoutBGRA {
		utils.SwapRB(dst, b.Dx()*4, stride, b.Dy())
	}
	return nil
}

// copyInto copies straight-alpha RGBA rows into dst, swapping R and B for
// BGRA targets.
func copyInto(dst []byte, stride int, pix []byte, srcStride, w, h int, layout core.ColorLayout) error {
	if err := checkLayout(layout); err != nil {
		return err
	}
	if err := checkDst(dst, stride, w, h); err != nil {
		return err
	}
	row := w * 4
	for y := 0; y < h; y++ {
		copy(dst[y*stride:y*stride+row], pix[y*srcStride:y*srcStride+row])
	}
	if layout == core.LayoutBGRA {
		utils.SwapRB(dst, row, stride, h)
	}
	return nil
}

// rgbaSource presents caller pixels as RGBA ordered bytes.  RGBA input is
// wrapped without copying; BGRA input is copied and swizzled.
func rgbaSource(pix []byte, w, h, stride int, layout core.ColorLayout) ([]byte, error) {
	if err := checkLayout(layout); err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	if err := checkDst(pix, stride, w, h); err != nil {
		return nil, err
	}
	if layout == core.LayoutRGBA {
		return pix, nil
	}
	out := utils.CloneBytes(pix)
	utils.SwapRB(out, w*4, stride, h)
	return out, nil
}

// nrgbaSource is rgbaSource wrapped as a straight-alpha image.
func nrgbaSource(pix []byte, w, h, stride int, layout core.ColorLayout) (*image.NRGBA, error) {
	rgba, err := rgbaSource(pix, w, h, stride, layout)
	if err != nil {
		return nil, err
	}
	return &image.NRGBA{Pix: rgba, Stride: stride, Rect: image.Rect(0, 0, w, h)}, nil
}
