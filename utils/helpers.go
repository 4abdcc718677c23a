package utils

import (
	"github.com/gabriel-vasile/mimetype"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatWebP    = "webp"
	formatUnknown = "unknown"
)

// WebPHeaderSize is the length of the RIFF header every WebP file starts with.
const WebPHeaderSize = 12

// IsWebP reports whether data starts with "RIFF", four size bytes and "WEBP".
// The size field is not checked.
func IsWebP(data []byte) bool {
	return len(data) >= WebPHeaderSize &&
		data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P'
}

// DetectFormat sniffs the leading bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	if IsWebP(data) {
		return formatWebP
	}
	// Fallback to content sniffing.
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/jpeg"):
		return formatJPEG
	case mt.Is("image/png"):
		return formatPNG
	case mt.Is("image/webp"):
		return formatWebP
	}
	return formatUnknown
}

// ScaleDimensions computes output (w, h) preserving aspect ratio.
// Pass 0 for either axis to calculate it from the other.
func ScaleDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	if targetW == 0 && targetH == 0 {
		return srcW, srcH
	}
	if targetW == 0 {
		ratio := float64(targetH) / float64(srcH)
		return int(float64(srcW) * ratio), targetH
	}
	if targetH == 0 {
		ratio := float64(targetW) / float64(srcW)
		return targetW, int(float64(srcH) * ratio)
	}
	return targetW, targetH
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// SwapRB exchanges the first and third byte of every 4-byte pixel in pix,
// converting RGBA to BGRA and back.  rowBytes pixels are processed per row;
// bytes between rowBytes and stride are left untouched.
func SwapRB(pix []byte, rowBytes, stride, height int) {
	for y := 0; y < height; y++ {
		row := pix[y*stride : y*stride+rowBytes]
		for i := 0; i+3 < len(row); i += 4 {
			row[i], row[i+2] = row[i+2], row[i]
		}
	}
}
