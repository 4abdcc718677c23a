// Package wrapper implements core.ImageWrapper for WebP on top of a
// pluggable core.Codec.
//
// A WebP holds at most one "current image", either as compressed bytes
// (SetCompressed) or as raw pixels (SetRaw).  Compressed input is probed
// eagerly and decoded lazily on the first GetRaw; the decoded pixels are
// cached until the image is replaced.  A WebP is not safe for concurrent use.
package wrapper

import (
	"fmt"
	"math"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/utils"
)

// PreferredRawFormat is the raw format SupportedRawFormat steers callers to.
const PreferredRawFormat = core.RawBGRA8

// WebP is the WebP image wrapper.
type WebP struct {
	codec core.Codec

	width    int
	height   int
	hasAlpha bool

	compressed []byte

	raw         []byte
	rawLayout   core.ColorLayout
	rawBitDepth int
}

// New returns an empty wrapper backed by codec.
func New(codec core.Codec) *WebP {
	return &WebP{codec: codec, rawLayout: core.LayoutInvalid}
}

// Factory returns a core.WrapperFactory producing wrappers backed by codec.
func Factory(codec core.Codec) core.WrapperFactory {
	return func() core.ImageWrapper { return New(codec) }
}

// Codec returns the codec the wrapper delegates to.
func (w *WebP) Codec() core.Codec { return w.codec }

// ── Setters ───────────────────────────────────────────────────────────────────

// SetCompressed replaces the current image with WebP bytes.  data is copied.
// The instance is untouched when the signature is wrong and left empty when
// the codec cannot read the dimensions.
func (w *WebP) SetCompressed(data []byte) error {
	const op = "webp.set_compressed"
	if !utils.IsWebP(data) {
		return apperrors.Fail(apperrors.CategoryInput, op, apperrors.ErrInvalidSignature,
			fmt.Errorf("%d bytes without RIFF/WEBP header", len(data)))
	}

	w.reset()
	info, err := w.probe(data)
	if err != nil {
		return apperrors.Fail(apperrors.CategoryDecode, op, apperrors.ErrProbeFailed, err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return apperrors.Fail(apperrors.CategoryDecode, op, apperrors.ErrProbeFailed,
			fmt.Errorf("codec reported %dx%d", info.Width, info.Height))
	}

	w.compressed = utils.CloneBytes(data)
	w.width = info.Width
	w.height = info.Height
	w.hasAlpha = info.HasAlpha
	return nil
}

// SetRaw replaces the current image with raw pixels.  bytesPerRow is the
// source pitch; 0 means rows are tightly packed.  Pixels are copied into a
// tightly packed buffer and any per-row padding is dropped.
func (w *WebP) SetRaw(data []byte, width, height int, layout core.ColorLayout, bitDepth, bytesPerRow int) error {
	const op = "webp.set_raw"
	if len(data) == 0 || width <= 0 || height <= 0 || bytesPerRow < 0 {
		return apperrors.Fail(apperrors.CategoryInput, op, apperrors.ErrInvalidArguments,
			fmt.Errorf("%d bytes, %dx%d, stride %d", len(data), width, height, bytesPerRow))
	}
	if !w.CanSetRawFormat(layout, bitDepth) {
		return apperrors.Fail(apperrors.CategoryFormat, op, apperrors.ErrUnsupportedFormat,
			fmt.Errorf("%s/%d", layout, bitDepth))
	}

	bytesPerPixel := core.ChannelCount(layout) * core.BytesPerChannel(bitDepth)
	// No slice can hold more than MaxInt bytes, so a product past it can
	// never be satisfied by data.
	if width > math.MaxInt/bytesPerPixel/height {
		w.reset()
		return apperrors.Fail(apperrors.CategoryInput, op, apperrors.ErrBufferTooSmall,
			fmt.Errorf("%dx%d at %d bytes per pixel overflows", width, height, bytesPerPixel))
	}
	dstStride := width * bytesPerPixel
	srcStride := dstStride
	if bytesPerRow > 0 {
		srcStride = bytesPerRow
	}
	if srcStride < dstStride {
		return apperrors.Fail(apperrors.CategoryInput, op, apperrors.ErrInvalidArguments,
			fmt.Errorf("stride %d shorter than row of %d bytes", srcStride, dstStride))
	}

	expected := dstStride * height
	if len(data) < expected {
		w.reset()
		return apperrors.Fail(apperrors.CategoryInput, op, apperrors.ErrBufferTooSmall,
			fmt.Errorf("have %d bytes, need %d", len(data), expected))
	}

	pix, err := copyRows(data, width*bytesPerPixel, srcStride, height)
	if err != nil {
		w.reset()
		return apperrors.Fail(apperrors.CategoryInput, op, apperrors.ErrBufferTooSmall, err)
	}

	w.compressed = nil
	w.hasAlpha = false
	w.raw = pix
	w.rawLayout = layout
	w.rawBitDepth = bitDepth
	w.width = width
	w.height = height
	return nil
}

// ── Getters ───────────────────────────────────────────────────────────────────

// GetRaw returns a copy of the image pixels in exactly layout/bitDepth,
// decoding the compressed image first when needed.
func (w *WebP) GetRaw(layout core.ColorLayout, bitDepth int) ([]byte, error) {
	const op = "webp.get_raw"
	if w.rawMatches(layout, bitDepth) {
		return utils.CloneBytes(w.raw), nil
	}

	hadRaw := len(w.raw) > 0
	if err := w.decode(layout, bitDepth); err != nil {
		if hadRaw && len(w.compressed) == 0 {
			return nil, apperrors.Fail(apperrors.CategoryFormat, op, apperrors.ErrFormatMismatch,
				fmt.Errorf("have %s/%d, want %s/%d", w.rawLayout, w.rawBitDepth, layout, bitDepth))
		}
		return nil, err
	}
	if !w.rawMatches(layout, bitDepth) {
		return nil, apperrors.Fail(apperrors.CategoryFormat, op, apperrors.ErrFormatMismatch,
			fmt.Errorf("have %s/%d, want %s/%d", w.rawLayout, w.rawBitDepth, layout, bitDepth))
	}
	return utils.CloneBytes(w.raw), nil
}

// GetRawImage returns the pixels as a single-mip MipMapImage in sRGB gamma.
func (w *WebP) GetRawImage(layout core.ColorLayout, bitDepth int) (*core.MipMapImage, error) {
	const op = "webp.get_raw_image"
	target := core.ToRawFormat(layout, bitDepth)
	if target == core.RawInvalid {
		return nil, apperrors.Fail(apperrors.CategoryFormat, op, apperrors.ErrUnsupportedTarget,
			fmt.Errorf("%s/%d has no raw format", layout, bitDepth))
	}

	pix, err := w.GetRaw(layout, bitDepth)
	if err != nil {
		return nil, err
	}
	return &core.MipMapImage{
		Width:   w.width,
		Height:  w.height,
		Format:  target,
		Gamma:   core.GammaSRGB,
		RawData: pix,
		SubImages: []core.MipInfo{
			{Width: w.width, Height: w.height, Offset: 0, Size: len(pix)},
		},
	}, nil
}

// GetCompressed encodes the current raw pixels at quality (0-100).  The
// compressed image is not retained.
func (w *WebP) GetCompressed(quality int) ([]byte, error) {
	const op = "webp.get_compressed"
	if quality < 0 || quality > 100 {
		return nil, apperrors.Fail(apperrors.CategoryInput, op, apperrors.ErrInvalidArguments,
			fmt.Errorf("quality %d outside 0-100", quality))
	}
	if len(w.raw) == 0 {
		return nil, apperrors.New(apperrors.CategoryEncode, op, apperrors.ErrNoRawData)
	}
	if w.rawBitDepth != 8 || (w.rawLayout != core.LayoutRGBA && w.rawLayout != core.LayoutBGRA) {
		return nil, apperrors.Fail(apperrors.CategoryEncode, op, apperrors.ErrUnsupportedSource,
			fmt.Errorf("%s/%d", w.rawLayout, w.rawBitDepth))
	}

	buf, err := w.encode(quality)
	if buf != nil {
		defer buf.Free()
	}
	if err != nil {
		return nil, apperrors.Fail(apperrors.CategoryEncode, op, apperrors.ErrEncodeFailed, err)
	}
	if buf == nil {
		return nil, apperrors.Fail(apperrors.CategoryEncode, op, apperrors.ErrEncodeFailed,
			fmt.Errorf("codec %s returned no buffer", w.codec.Name()))
	}

	out := buf.Bytes()
	if len(out) == 0 {
		return nil, apperrors.Fail(apperrors.CategoryEncode, op, apperrors.ErrEncodeFailed,
			fmt.Errorf("codec %s returned 0 bytes", w.codec.Name()))
	}
	return utils.CloneBytes(out), nil
}

func (w *WebP) Width() int  { return w.width }
func (w *WebP) Height() int { return w.height }

// BitDepth returns the bit depth of the decoded pixels, 0 when none.
func (w *WebP) BitDepth() int { return w.rawBitDepth }

// Format returns the layout of the decoded pixels, LayoutInvalid when none.
func (w *WebP) Format() core.ColorLayout { return w.rawLayout }

// HasAlpha reports whether the codec found an alpha channel when the
// compressed image was probed.  It is false for raw images.
func (w *WebP) HasAlpha() bool { return w.hasAlpha }

// CompressedSize returns the length of the stored compressed image.
func (w *WebP) CompressedSize() int { return len(w.compressed) }

// CanSetRawFormat reports whether SetRaw accepts layout/bitDepth.  Only 8-bit
// RGBA, BGRA and grayscale are accepted.
func (w *WebP) CanSetRawFormat(layout core.ColorLayout, bitDepth int) bool {
	if bitDepth != 8 {
		return false
	}
	switch layout {
	case core.LayoutRGBA, core.LayoutBGRA, core.LayoutGray:
		return true
	}
	return false
}

// SupportedRawFormat returns the raw format callers should request.  The
// wrapper always suggests BGRA8 when it can produce it, whatever was asked.
func (w *WebP) SupportedRawFormat(requested core.RawFormat) core.RawFormat {
	if w.CanSetRawFormat(core.LayoutBGRA, 8) {
		return PreferredRawFormat
	}
	return core.RawInvalid
}

// ── internals ─────────────────────────────────────────────────────────────────

// decode fills the raw buffer from the compressed image.  A cached decode in
// the requested format is reused; any other cached layout is discarded and
// the codec is called again.
func (w *WebP) decode(layout core.ColorLayout, bitDepth int) error {
	const op = "webp.decode"
	if w.rawMatches(layout, bitDepth) {
		return nil
	}
	if len(w.compressed) == 0 || w.width == 0 || w.height == 0 {
		return apperrors.New(apperrors.CategoryDecode, op, apperrors.ErrNoSourceData)
	}
	if bitDepth != 8 || (layout != core.LayoutRGBA && layout != core.LayoutBGRA) {
		return apperrors.Fail(apperrors.CategoryDecode, op, apperrors.ErrUnsupportedTarget,
			fmt.Errorf("%s/%d", layout, bitDepth))
	}

	stride := w.width * 4
	dst := make([]byte, stride*w.height)
	if err := w.decodeInto(dst, stride, layout); err != nil {
		w.clearRaw()
		return apperrors.Fail(apperrors.CategoryDecode, op, apperrors.ErrDecodeFailed, err)
	}

	w.raw = dst
	w.rawLayout = layout
	w.rawBitDepth = bitDepth
	return nil
}

func (w *WebP) rawMatches(layout core.ColorLayout, bitDepth int) bool {
	return len(w.raw) > 0 && w.rawLayout == layout && w.rawBitDepth == bitDepth
}

func (w *WebP) clearRaw() {
	w.raw = nil
	w.rawLayout = core.LayoutInvalid
	w.rawBitDepth = 0
}

func (w *WebP) reset() {
	w.clearRaw()
	w.compressed = nil
	w.width = 0
	w.height = 0
	w.hasAlpha = false
}

// The codec calls below turn panics from corrupt input into errors so that
// adversarial files surface as ProbeFailed/DecodeFailed.

func (w *WebP) probe(data []byte) (info core.Info, err error) {
	defer recoverCodec(w.codec, &err)
	return w.codec.Probe(data)
}

func (w *WebP) decodeInto(dst []byte, stride int, layout core.ColorLayout) (err error) {
	defer recoverCodec(w.codec, &err)
	return w.codec.DecodeInto(w.compressed, dst, stride, layout)
}

func (w *WebP) encode(quality int) (buf core.EncodedBuffer, err error) {
	defer recoverCodec(w.codec, &err)
	return w.codec.Encode(w.raw, w.width, w.height, w.width*4, float32(quality), w.rawLayout)
}

func recoverCodec(c core.Codec, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("codec %s panicked: %v", c.Name(), r)
	}
}

// compile-time interface check
var _ core.ImageWrapper = (*WebP)(nil)
