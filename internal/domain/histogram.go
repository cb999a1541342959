package domain

// HistogramBins is the number of bins per colour channel
const HistogramBins = 256

// Histogram holds per-channel (R, G, B) colour distributions of an image.
// Each channel sums to 1 for an image with any visible pixel.
type Histogram [3][HistogramBins]float64

// Intersection returns the histogram intersection of h and o averaged over
// the three channels. The result is in [0,1] and is 1 for identical histograms.
func (h *Histogram) Intersection(o *Histogram) float64 {
	if h == nil || o == nil {
		return 0
	}
	var total float64
	for ch := 0; ch < 3; ch++ {
		var sum float64
		for i := 0; i < HistogramBins; i++ {
			a, b := h[ch][i], o[ch][i]
			if a < b {
				sum += a
			} else {
				sum += b
			}
		}
		total += sum
	}
	score := total / 3
	if score > 1 {
		return 1
	}
	return score
}
