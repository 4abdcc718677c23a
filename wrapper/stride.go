package wrapper

import (
	"fmt"
	"math"
)

// copyRows copies height rows of rowBytes each out of src, whose rows start
// srcStride bytes apart, into a new tightly packed buffer.  The last row only
// needs rowBytes, so a sub-image sliced out of a larger buffer is accepted.
func copyRows(src []byte, rowBytes, srcStride, height int) ([]byte, error) {
	packed := rowBytes * height
	if srcStride == rowBytes {
		if len(src) < packed {
			return nil, fmt.Errorf("have %d bytes, need %d", len(src), packed)
		}
		dst := make([]byte, packed)
		copy(dst, src[:packed])
		return dst, nil
	}

	if height > 1 && srcStride > (math.MaxInt-rowBytes)/(height-1) {
		return nil, fmt.Errorf("%d rows at stride %d overflow", height, srcStride)
	}
	need := srcStride*(height-1) + rowBytes
	if len(src) < need {
		return nil, fmt.Errorf("have %d bytes, need %d for %d rows at stride %d",
			len(src), need, height, srcStride)
	}
	dst := make([]byte, packed)
	for y := 0; y < height; y++ {
		copy(dst[y*rowBytes:(y+1)*rowBytes], src[y*srcStride:y*srcStride+rowBytes])
	}
	return dst, nil
}
