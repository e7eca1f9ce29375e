package sam2

import (
	"image"
	"math"
)

// normalizeAndPad converts src into a CHW float tensor of targetW x targetH,
// zero padded on the right and bottom.
func normalizeAndPad(src image.Image, targetW, targetH int) []float32 {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := targetW * targetH
	data := make([]float32, 3*plane)

	for y := 0; y < h && y < targetH; y++ {
		for x := 0; x < w && x < targetW; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*targetW + x
			data[idx] = (float32(r)/65535 - meanR) / stdR
			data[plane+idx] = (float32(g)/65535 - meanG) / stdG
			data[2*plane+idx] = (float32(b)/65535 - meanB) / stdB
		}
	}
	return data
}

// upscaleProbabilities resamples the valid region of the mask logits to
// dstW x dstH with nearest-neighbour sampling and applies a sigmoid.
func upscaleProbabilities(logits []float32, dim, validW, validH, dstW, dstH int) []float32 {
	out := make([]float32, dstW*dstH)
	if validW <= 0 || validH <= 0 {
		return out
	}
	xRatio := float32(validW) / float32(dstW)
	yRatio := float32(validH) / float32(dstH)

	for y := 0; y < dstH; y++ {
		srcY := min(int(float32(y)*yRatio), validH-1)
		for x := 0; x < dstW; x++ {
			srcX := min(int(float32(x)*xRatio), validW-1)
			out[y*dstW+x] = sigmoid(logits[srcY*dim+srcX])
		}
	}
	return out
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// centroid returns the mean position of pixels above threshold.
func centroid(values []float32, width int, threshold float32) (float32, float32, bool) {
	if width <= 0 {
		return 0, 0, false
	}
	var sx, sy float64
	var n int
	for i, v := range values {
		if v > threshold {
			sx += float64(i % width)
			sy += float64(i / width)
			n++
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return float32(sx / float64(n)), float32(sy / float64(n)), true
}
