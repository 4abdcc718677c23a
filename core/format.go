package core

// MaxDimension is the largest width or height a WebP bitstream can carry.
const MaxDimension = 16383

// ToRawFormat maps a (layout, bit depth) descriptor onto the host raw-format
// enum.  RGBA and BGRA both land on RawBGRA8; the R/B order is handled by
// whoever fills the buffer.  Unsupported combinations, including every
// 16-bit input, map to RawInvalid.
func ToRawFormat(layout ColorLayout, bitDepth int) RawFormat {
	switch bitDepth {
	case 8:
		switch layout {
		case LayoutRGBA, LayoutBGRA:
			return RawBGRA8
		case LayoutGray:
			return RawG8
		}
	case 32:
		if layout == LayoutRGBAF {
			return RawRGBA32F
		}
	}
	return RawInvalid
}

// ChannelCount returns the number of channels in layout, or 0 when layout has
// no fixed channel count.
func ChannelCount(layout ColorLayout) int {
	switch layout {
	case LayoutRGBA, LayoutBGRA, LayoutRGBAF:
		return 4
	case LayoutGray:
		return 1
	}
	return 0
}

// BytesPerChannel returns bitDepth/8 for the depths the bridge knows about.
func BytesPerChannel(bitDepth int) int {
	switch bitDepth {
	case 8, 16, 32:
		return bitDepth / 8
	}
	return 0
}

// ParseLayout converts a user-facing name into a ColorLayout.
func ParseLayout(s string) ColorLayout {
	switch ColorLayout(s) {
	case LayoutRGBA, LayoutBGRA, LayoutGray, LayoutRGBAF:
		return ColorLayout(s)
	}
	return LayoutInvalid
}

// ParseFormat converts a file extension or name into a Format.
func ParseFormat(s string) Format {
	switch s {
	case "jpeg", "jpg", ".jpeg", ".jpg":
		return FormatJPEG
	case "png", ".png":
		return FormatPNG
	case "webp", ".webp":
		return FormatWebP
	}
	return FormatUnknown
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Extension returns the canonical file extension of f, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	}
	return ".bin"
}
