package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Skryldev/webpbridge/core"
)

func TestToRawFormat(t *testing.T) {
	tests := []struct {
		layout   core.ColorLayout
		bitDepth int
		want     core.RawFormat
	}{
		{core.LayoutRGBA, 8, core.RawBGRA8},
		{core.LayoutBGRA, 8, core.RawBGRA8},
		{core.LayoutGray, 8, core.RawG8},
		{core.LayoutRGBAF, 32, core.RawRGBA32F},
		{core.LayoutRGBA, 16, core.RawInvalid},
		{core.LayoutGray, 16, core.RawInvalid},
		{core.LayoutBGRA, 32, core.RawInvalid},
		{core.LayoutRGBAF, 8, core.RawInvalid},
		{core.LayoutInvalid, 8, core.RawInvalid},
	}
	for _, tc := range tests {
		got := core.ToRawFormat(tc.layout, tc.bitDepth)
		assert.Equal(t, tc.want, got, "ToRawFormat(%s, %d)", tc.layout, tc.bitDepth)
	}
}

func TestChannelsAndDepth(t *testing.T) {
	assert.Equal(t, 4, core.ChannelCount(core.LayoutRGBA))
	assert.Equal(t, 4, core.ChannelCount(core.LayoutBGRA))
	assert.Equal(t, 1, core.ChannelCount(core.LayoutGray))
	assert.Equal(t, 0, core.ChannelCount(core.LayoutInvalid))

	assert.Equal(t, 1, core.BytesPerChannel(8))
	assert.Equal(t, 2, core.BytesPerChannel(16))
	assert.Equal(t, 4, core.BytesPerChannel(32))
	assert.Equal(t, 0, core.BytesPerChannel(12))
}

func TestParse(t *testing.T) {
	assert.Equal(t, core.LayoutBGRA, core.ParseLayout("bgra"))
	assert.Equal(t, core.LayoutInvalid, core.ParseLayout("argb"))
	assert.Equal(t, core.FormatJPEG, core.ParseFormat(".jpg"))
	assert.Equal(t, core.FormatWebP, core.ParseFormat("webp"))
	assert.Equal(t, core.FormatUnknown, core.ParseFormat("gif"))
	assert.Equal(t, "image/webp", core.FormatWebP.ContentType())
	assert.Equal(t, ".png", core.FormatPNG.Extension())
}

func TestMipMapImage_Mip(t *testing.T) {
	m := &core.MipMapImage{
		RawData: []byte{1, 2, 3, 4, 5},
		SubImages: []core.MipInfo{
			{Width: 2, Height: 2, Offset: 0, Size: 4},
			{Width: 1, Height: 1, Offset: 4, Size: 1},
		},
	}
	assert.Equal(t, 2, m.NumMips())
	assert.Equal(t, []byte{1, 2, 3, 4}, m.Mip(0))
	assert.Equal(t, []byte{5}, m.Mip(1))
	assert.Nil(t, m.Mip(2))
}
