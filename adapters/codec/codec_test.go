package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/webpbridge/adapters/codec"
	"github.com/Skryldev/webpbridge/core"
)

func gradient(w, h int) []byte {
	pix := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			pix[i] = uint8(x * 255 / w)
			pix[i+1] = uint8(y * 255 / h)
			pix[i+2] = 128
			pix[i+3] = 255
		}
	}
	return pix
}

func allCodecs() []core.Codec {
	return []core.Codec{codec.NewLibWebP(), codec.NewNative(), codec.NewWASM()}
}

func encode(t *testing.T, c core.Codec, pix []byte, w, h int, layout core.ColorLayout) []byte {
	t.Helper()
	buf, err := c.Encode(pix, w, h, w*4, 90, layout)
	require.NoError(t, err)
	require.NotNil(t, buf)
	out := append([]byte(nil), buf.Bytes()...)
	buf.Free()
	return out
}

func TestCodecs_ProbeAfterEncode(t *testing.T) {
	for _, c := range allCodecs() {
		t.Run(c.Name(), func(t *testing.T) {
			data := encode(t, c, gradient(24, 10), 24, 10, core.LayoutRGBA)

			info, err := c.Probe(data)
			require.NoError(t, err)
			assert.Equal(t, 24, info.Width)
			assert.Equal(t, 10, info.Height)
		})
	}
}

func TestCodecs_DecodeIntoPaddedStride(t *testing.T) {
	for _, c := range allCodecs() {
		t.Run(c.Name(), func(t *testing.T) {
			const w, h, stride = 5, 3, 5*4 + 8
			solid := make([]byte, w*h*4)
			for i := 0; i < len(solid); i += 4 {
				copy(solid[i:], []byte{0, 0, 255, 255})
			}
			data := encode(t, c, solid, w, h, core.LayoutRGBA)

			dst := make([]byte, stride*h)
			for i := range dst {
				dst[i] = 0x7F
			}
			require.NoError(t, c.DecodeInto(data, dst, stride, core.LayoutBGRA))

			// Blue lands in byte 0 for BGRA; padding is untouched.
			assert.InDelta(t, 255, int(dst[0]), 8)
			assert.InDelta(t, 0, int(dst[2]), 8)
			assert.Equal(t, byte(0x7F), dst[w*4])
			assert.Equal(t, byte(0x7F), dst[stride-1])
		})
	}
}

func TestCodecs_Failures(t *testing.T) {
	for _, c := range allCodecs() {
		t.Run(c.Name(), func(t *testing.T) {
			bogus := []byte("RIFF\x10\x00\x00\x00WEBPVP8 \x00\x00\x00\x00")
			_, err := c.Probe(bogus)
			assert.Error(t, err)

			assert.Error(t, c.DecodeInto(bogus, make([]byte, 64), 16, core.LayoutRGBA))

			_, err = c.Encode(make([]byte, 16), 2, 2, 8, 80, core.LayoutGray)
			assert.Error(t, err, "gray is not encodable")

			_, err = c.Encode(make([]byte, 8), 2, 2, 8, 80, core.LayoutRGBA)
			assert.Error(t, err, "short buffer")
		})
	}
}

func TestCodecs_DecodeIntoTooSmall(t *testing.T) {
	c := codec.NewNative()
	data := encode(t, c, gradient(8, 8), 8, 8, core.LayoutRGBA)
	assert.Error(t, c.DecodeInto(data, make([]byte, 8*8*4-1), 32, core.LayoutRGBA))
}

func TestPooledBuffer_FreeTwice(t *testing.T) {
	c := codec.NewLibWebP()
	buf, err := c.Encode(gradient(4, 4), 4, 4, 16, 50, core.LayoutRGBA)
	require.NoError(t, err)
	assert.NotEmpty(t, buf.Bytes())
	buf.Free()
	assert.NotPanics(t, buf.Free)
	assert.Nil(t, buf.Bytes())
}

func TestEncode_BGRADoesNotMutateInput(t *testing.T) {
	pix := gradient(4, 4)
	orig := append([]byte(nil), pix...)
	for _, c := range allCodecs() {
		buf, err := c.Encode(pix, 4, 4, 16, 80, core.LayoutBGRA)
		require.NoError(t, err, c.Name())
		buf.Free()
		assert.Equal(t, orig, pix, c.Name())
	}
}
