package imaging

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"

	"github.com/lookalike/backend/internal/domain"
)

// maxSamples bounds the number of pixels visited per image
const maxSamples = 512 * 512

const encodedHistogramSize = 3 * domain.HistogramBins * 8

// Compute builds the alpha-weighted RGB histogram of img with each channel
// normalized to sum to 1. Fully transparent images yield an all-zero histogram.
func Compute(img image.Image) *domain.Histogram {
	var h domain.Histogram
	bounds := img.Bounds()
	if bounds.Empty() {
		return &h
	}

	stride := 1
	for (bounds.Dx()/stride)*(bounds.Dy()/stride) > maxSamples {
		stride++
	}

	var total float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			w := float64(a) / 0xffff
			// RGBA is alpha-premultiplied
			h[0][unpremultiply(r, a)] += w
			h[1][unpremultiply(g, a)] += w
			h[2][unpremultiply(b, a)] += w
			total += w
		}
	}

	if total == 0 {
		return &h
	}
	for ch := 0; ch < 3; ch++ {
		for i := range h[ch] {
			h[ch][i] /= total
		}
	}
	return &h
}

func unpremultiply(c, a uint32) uint8 {
	if a == 0xffff {
		return uint8(c >> 8)
	}
	v := c * 0xffff / a
	if v > 0xffff {
		v = 0xffff
	}
	return uint8(v >> 8)
}

// Similarity compares two decoded images by histogram intersection
func Similarity(a, b image.Image) float64 {
	return Compute(a).Intersection(Compute(b))
}

func encodeHistogram(h *domain.Histogram) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(encodedHistogramSize)
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeHistogram(data []byte) (*domain.Histogram, error) {
	if len(data) != encodedHistogramSize {
		return nil, fmt.Errorf("histogram payload has %d bytes, want %d", len(data), encodedHistogramSize)
	}
	var h domain.Histogram
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
